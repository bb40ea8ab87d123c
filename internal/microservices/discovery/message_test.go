package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opendavinci/internal/shared"
)

func TestParseDiscoverMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"discover", `{"type":"DISCOVER","module":"a","reply_port":1234}`, false},
		{"response", `{"type":"RESPONSE","module":"a","server":{"ip":"10.0.0.1","port":19866}}`, false},
		{"response without server", `{"type":"RESPONSE","module":"a"}`, true},
		{"unknown type", `{"type":"HELLO","module":"a"}`, true},
		{"missing module", `{"type":"DISCOVER"}`, true},
		{"garbage", `{{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseDiscoverMessage([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, shared.IsProtocolError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", msg.Module)
		})
	}
}

func TestIdentityTable(t *testing.T) {
	table := NewIdentityTable()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	now := time.Unix(100, 0)

	a := table.Assign("cam", "", addr, now)
	b := table.Assign("cam", "", addr, now.Add(time.Second))
	c := table.Assign("cam", "rear", addr, now)

	assert.Equal(t, "cam-1", a.Identifier)
	assert.Equal(t, a.Identifier, b.Identifier)
	assert.Equal(t, "rear", c.Identifier)
	assert.Equal(t, 2, table.Count())

	assert.Equal(t, 1, table.Forget(now.Add(500*time.Millisecond)))
	assert.Equal(t, 1, table.Count())
	assert.Equal(t, "cam", table.All()[0].Module)
}

func TestIdentityTable_DistinctRequesters(t *testing.T) {
	table := NewIdentityTable()
	now := time.Unix(100, 0)
	first := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40001}
	second := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40002}

	a := table.Assign("cam", "", first, now)
	b := table.Assign("cam", "", second, now)
	again := table.Assign("cam", "", first, now.Add(time.Second))

	assert.Equal(t, "cam-1", a.Identifier)
	assert.Equal(t, "cam-2", b.Identifier)
	assert.Equal(t, a.Identifier, again.Identifier)
	assert.Equal(t, 2, table.Count())

	// a declared identifier is shared by every requester
	d1 := table.Assign("cam", "rear", first, now)
	d2 := table.Assign("cam", "rear", second, now)
	assert.Equal(t, "rear", d1.Identifier)
	assert.Equal(t, d1.Identifier, d2.Identifier)
	assert.Equal(t, second, d2.Addr)
	assert.Equal(t, 3, table.Count())
}
