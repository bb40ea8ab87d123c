package supercomponent

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opendavinci/internal/data"
)

func TestRedisMirror_NilIsNoOp(t *testing.T) {
	var m *RedisMirror
	ctx := context.Background()

	assert.NoError(t, m.Save(ctx, ModuleInfo{Key: "x"}))
	assert.NoError(t, m.Remove(ctx, "x"))
	info, err := m.Load(ctx, "x")
	assert.NoError(t, err)
	assert.Nil(t, info)
	assert.NoError(t, m.Close())

	empty := &RedisMirror{}
	assert.NoError(t, empty.Save(ctx, ModuleInfo{Key: "x"}))
}

func TestNewRedisMirror_InvalidURL(t *testing.T) {
	_, err := NewRedisMirror("not-a-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis url")
}

func TestNewRedisMirror_Unreachable(t *testing.T) {
	_, err := NewRedisMirror("redis://127.0.0.1:1/0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestMirrorFields_RoundTrip(t *testing.T) {
	code := data.ExitConnectionLost
	info := ModuleInfo{
		Key:         "cam:rear",
		Name:        "cam",
		Identifier:  "rear",
		Version:     "2.1",
		State:       data.StateExiting,
		HasExitCode: true,
		ExitCode:    &code,
		ConnectedAt: time.Date(2026, 2, 3, 4, 5, 6, 7, time.UTC),
		UpdatedAt:   time.Date(2026, 2, 3, 4, 6, 0, 0, time.UTC),
	}

	// HGETALL returns every field as a string
	raw := make(map[string]string)
	for k, v := range mirrorFields(info) {
		switch val := v.(type) {
		case string:
			raw[k] = val
		case int:
			raw[k] = strconv.Itoa(val)
		}
	}

	parsed, err := parseMirrorFields("cam:rear", raw)
	require.NoError(t, err)
	assert.Equal(t, info, *parsed)
}

func TestParseMirrorFields_BadState(t *testing.T) {
	_, err := parseMirrorFields("x", map[string]string{"state": "FLYING"})
	assert.Error(t, err)
}
