package wire

import (
	"fmt"
	"sort"
	"sync"

	"opendavinci/internal/shared"
)

// PayloadFactory creates an empty payload to decode into.
type PayloadFactory func() Payload

type registration struct {
	name    string
	factory PayloadFactory
}

// Registry maps data types to payload factories so that containers can be
// decoded without the receiver knowing the type in advance.
type Registry struct {
	mu    sync.RWMutex
	types map[DataType]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[DataType]registration)}
}

// Register adds a payload type. Registering the same type twice is an error.
func (r *Registry) Register(dt DataType, name string, factory PayloadFactory) error {
	if factory == nil {
		return fmt.Errorf("nil factory for payload type %d", dt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[dt]; ok {
		return fmt.Errorf("payload type %d already registered as %s", dt, existing.name)
	}
	r.types[dt] = registration{name: name, factory: factory}
	return nil
}

// Name returns the registered name for dt.
func (r *Registry) Name(dt DataType) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.types[dt]
	return reg.name, ok
}

// Types lists registered data types in ascending order.
func (r *Registry) Types() []DataType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DataType, 0, len(r.types))
	for dt := range r.types {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Decode returns the typed payload of c.
func (r *Registry) Decode(c Container) (Payload, error) {
	r.mu.RLock()
	reg, ok := r.types[c.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("type %d: %w", c.Type, shared.ErrUnknownType)
	}
	p := reg.factory()
	if err := c.DecodeInto(p); err != nil {
		return nil, err
	}
	return p, nil
}
