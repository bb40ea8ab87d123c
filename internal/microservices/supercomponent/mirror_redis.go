package supercomponent

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"opendavinci/internal/data"
)

// defaultMirrorTTL expires mirrored modules a supercomponent never cleaned up
const defaultMirrorTTL = 24 * time.Hour

// RedisMirror writes every module as a module:<key> hash so that tools
// outside the process can watch the registry. A nil mirror or a mirror
// without a client does nothing.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror connects to redisURL (redis://host:port/db) and verifies the
// connection.
func NewRedisMirror(redisURL string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisMirrorWithClient(rdb), nil
}

// NewRedisMirrorWithClient wraps an existing client.
func NewRedisMirrorWithClient(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client, ttl: defaultMirrorTTL}
}

func mirrorKey(key string) string {
	return "module:" + key
}

// Save upserts the hash for info.
func (m *RedisMirror) Save(ctx context.Context, info ModuleInfo) error {
	if m == nil || m.client == nil {
		return nil
	}
	key := mirrorKey(info.Key)
	fields := mirrorFields(info)

	if err := m.client.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return m.client.Expire(ctx, key, m.ttl).Err()
}

func mirrorFields(info ModuleInfo) map[string]any {
	fields := map[string]any{
		"name":          info.Name,
		"identifier":    info.Identifier,
		"version":       info.Version,
		"state":         info.State.String(),
		"has_exit_code": strconv.FormatBool(info.HasExitCode),
		"connected_at":  info.ConnectedAt.Format(time.RFC3339Nano),
		"updated_at":    info.UpdatedAt.Format(time.RFC3339Nano),
	}
	if info.ExitCode != nil {
		fields["exit_code"] = int(*info.ExitCode)
	}
	return fields
}

// Load reads back a mirrored module. A missing key returns nil, nil.
func (m *RedisMirror) Load(ctx context.Context, key string) (*ModuleInfo, error) {
	if m == nil || m.client == nil {
		return nil, nil
	}
	fields, err := m.client.HGetAll(ctx, mirrorKey(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseMirrorFields(key, fields)
}

func parseMirrorFields(key string, fields map[string]string) (*ModuleInfo, error) {
	state, err := data.ParseModuleState(fields["state"])
	if err != nil {
		return nil, fmt.Errorf("invalid state in redis for %s: %w", key, err)
	}
	info := &ModuleInfo{
		Key:        key,
		Name:       fields["name"],
		Identifier: fields["identifier"],
		Version:    fields["version"],
		State:      state,
	}
	info.HasExitCode, _ = strconv.ParseBool(fields["has_exit_code"])
	if ec, ok := fields["exit_code"]; ok {
		if n, err := strconv.Atoi(ec); err == nil {
			code := data.ExitCode(n)
			info.ExitCode = &code
		}
	}
	if ts, ok := fields["connected_at"]; ok {
		info.ConnectedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if ts, ok := fields["updated_at"]; ok {
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return info, nil
}

// Remove deletes the hash for key.
func (m *RedisMirror) Remove(ctx context.Context, key string) error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Del(ctx, mirrorKey(key)).Err()
}

// Close releases the client.
func (m *RedisMirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}
