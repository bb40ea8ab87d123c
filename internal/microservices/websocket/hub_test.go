package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opendavinci/internal/data"
	"opendavinci/internal/microservices/supercomponent"
	"opendavinci/internal/timesource"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

var testStart = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func newFeed(t *testing.T) (*supercomponent.Registry, *Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(timesource.NewFakeClock(testStart), nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	reg := supercomponent.NewRegistry(nil, supercomponent.WithObserver(hub))

	r := gin.New()
	r.GET("/ws", WSHandler(hub, reg))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return reg, hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := EventFromJSON(b)
	require.NoError(t, err)
	return ev
}

func TestFeed_SnapshotFirst(t *testing.T) {
	reg, _, url := newFeed(t)
	require.NoError(t, reg.Add(supercomponent.NewConnectedModule(data.ModuleDescriptor{Name: "lidar"}, nopCloser{}, testStart)))

	conn := dial(t, url)
	ev := readEvent(t, conn)
	assert.Equal(t, TypeSnapshot, ev.Type)
	require.Len(t, ev.Modules, 1)
	assert.Equal(t, "lidar", ev.Modules[0].Key)
	assert.True(t, testStart.Equal(ev.Timestamp), "timestamp %v", ev.Timestamp)
}

func TestFeed_RegistryChanges(t *testing.T) {
	reg, _, url := newFeed(t)
	conn := dial(t, url)

	snapshot := readEvent(t, conn)
	assert.Equal(t, TypeSnapshot, snapshot.Type)
	assert.Empty(t, snapshot.Modules)

	require.NoError(t, reg.Add(supercomponent.NewConnectedModule(data.ModuleDescriptor{Name: "cam", Identifier: "rear"}, nopCloser{}, testStart)))
	require.NoError(t, reg.UpdateState("cam:rear", data.StateRunning))
	require.NoError(t, reg.Remove("cam:rear"))

	want := []struct {
		kind  supercomponent.EventKind
		state data.ModuleState
	}{
		{supercomponent.EventRegistered, data.StateNotYetRunning},
		{supercomponent.EventState, data.StateRunning},
		{supercomponent.EventRemoved, data.StateRunning},
	}
	for _, w := range want {
		ev := readEvent(t, conn)
		assert.Equal(t, TypeModule, ev.Type)
		assert.Equal(t, w.kind, ev.Kind)
		require.NotNil(t, ev.Module)
		assert.Equal(t, "cam:rear", ev.Module.Key)
		assert.Equal(t, w.state, ev.Module.State)
	}
}

func TestFeed_MultipleClients(t *testing.T) {
	reg, hub, url := newFeed(t)
	a := dial(t, url)
	b := dial(t, url)
	readEvent(t, a)
	readEvent(t, b)
	assert.Equal(t, 2, hub.ClientCount())

	require.NoError(t, reg.Add(supercomponent.NewConnectedModule(data.ModuleDescriptor{Name: "gps"}, nopCloser{}, testStart)))

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, supercomponent.EventRegistered, ev.Kind)
		assert.Equal(t, "gps", ev.Module.Name)
	}
}

func TestFeed_ClientDisconnectUnregisters(t *testing.T) {
	_, hub, url := newFeed(t)
	conn := dial(t, url)
	readEvent(t, conn)
	require.Equal(t, 1, hub.ClientCount())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFeed_StopClosesClients(t *testing.T) {
	_, hub, url := newFeed(t)
	conn := dial(t, url)
	readEvent(t, conn)

	hub.Stop()
	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure), "got %v", err)
}

func TestHub_RegisterAfterStop(t *testing.T) {
	hub := NewHub(nil, nil)
	hub.Stop()
	assert.False(t, hub.Register(&Client{ID: "late", send: make(chan []byte, 1)}, nil))
	hub.Unregister(&Client{ID: "late"})
}

func TestEventFromJSON_UnknownType(t *testing.T) {
	_, err := EventFromJSON([]byte(`{"type":"chat"}`))
	assert.ErrorContains(t, err, "unknown event type")

	_, err = EventFromJSON([]byte(`{`))
	assert.Error(t, err)
}
