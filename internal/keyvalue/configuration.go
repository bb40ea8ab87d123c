// Package keyvalue holds the dotted key/value configuration that the
// supercomponent distributes to connected modules.
package keyvalue

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Configuration maps dotted, lower-cased keys to string values.
// A Configuration is never mutated after construction; subset operations
// return new values, so one instance can be shared between goroutines.
type Configuration struct {
	values map[string]string
}

// New builds a Configuration from a map. Keys are normalised.
func New(values map[string]string) Configuration {
	c := Configuration{values: make(map[string]string, len(values))}
	for k, v := range values {
		c.values[normalizeKey(k)] = v
	}
	return c
}

// Parse reads "key = value" lines. Blank lines and lines starting with '#'
// are skipped; trailing "# comment" parts are stripped.
func Parse(r io.Reader) (Configuration, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Configuration{}, fmt.Errorf("line %d: expected key=value, got %q", lineNo, line)
		}
		key = normalizeKey(key)
		if key == "" {
			return Configuration{}, fmt.Errorf("line %d: empty key", lineNo)
		}
		values[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return Configuration{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	return Configuration{values: values}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (Configuration, error) {
	return Parse(strings.NewReader(s))
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return Configuration{}, fmt.Errorf("failed to open configuration %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// Value returns the value for key.
func (c Configuration) Value(key string) (string, bool) {
	v, ok := c.values[normalizeKey(key)]
	return v, ok
}

// ValueOr returns the value for key or def when absent.
func (c Configuration) ValueOr(key, def string) string {
	if v, ok := c.Value(key); ok {
		return v
	}
	return def
}

// Int returns the value for key parsed as an integer.
func (c Configuration) Int(key string) (int, error) {
	v, ok := c.Value(key)
	if !ok {
		return 0, fmt.Errorf("key %q not found", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %v", key, err)
	}
	return n, nil
}

// Len returns the number of keys.
func (c Configuration) Len() int {
	return len(c.values)
}

// Keys returns all keys in sorted order.
func (c Configuration) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the underlying values.
func (c Configuration) Map() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// SubsetFor returns every entry whose key starts with prefix, keys unchanged.
func (c Configuration) SubsetFor(prefix string) Configuration {
	return c.subset(prefix, false)
}

// SubsetForStripped returns every entry whose key starts with prefix, with the
// prefix removed from the resulting keys.
func (c Configuration) SubsetForStripped(prefix string) Configuration {
	return c.subset(prefix, true)
}

func (c Configuration) subset(prefix string, strip bool) Configuration {
	prefix = normalizeKey(prefix)
	out := Configuration{values: make(map[string]string)}
	for k, v := range c.values {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if strip {
			k = strings.TrimPrefix(k, prefix)
			if k == "" {
				continue
			}
		}
		out.values[k] = v
	}
	return out
}

// Merge returns a new Configuration holding c's entries overlaid by other's.
func (c Configuration) Merge(other Configuration) Configuration {
	out := Configuration{values: c.Map()}
	for k, v := range other.values {
		out.values[k] = v
	}
	return out
}

// String renders the configuration in the format Parse accepts.
func (c Configuration) String() string {
	var b strings.Builder
	for _, k := range c.Keys() {
		fmt.Fprintf(&b, "%s=%s\n", k, c.values[k])
	}
	return b.String()
}
