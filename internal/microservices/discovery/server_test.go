package discovery

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opendavinci/internal/metric"
	"opendavinci/internal/shared"
)

var announced = shared.ServerInformation{IP: "127.0.0.1", Port: 19866}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Group == "" {
		cfg.Group = "127.0.0.1"
	}
	s := NewServer(cfg, announced, nil)
	require.NoError(t, s.StartResponding())
	t.Cleanup(s.StopResponding)
	return s
}

// request sends one raw DISCOVER and returns the socket the reply arrives on
func request(t *testing.T, s *Server, module string) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	payload, err := (&DiscoverMessage{Type: MessageDiscover, Module: module}).ToJSON()
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	return conn
}

func readReply(conn *net.UDPConn, wait time.Duration) (*DiscoverMessage, error) {
	buf := make([]byte, 4096)
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return ParseDiscoverMessage(buf[:n])
}

func TestServer_AnswersExactlyOnce(t *testing.T) {
	s := startServer(t, Config{})

	conn := request(t, s, "lidar")

	reply, err := readReply(conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageResponse, reply.Type)
	assert.Equal(t, "lidar", reply.Module)
	assert.Equal(t, "lidar-1", reply.Identifier)
	require.NotNil(t, reply.Server)
	assert.Equal(t, announced, *reply.Server)
	assert.NotZero(t, reply.Server.Port)

	_, err = readReply(conn, 200*time.Millisecond)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestServer_IgnoreListGetsNoReply(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := startServer(t, Config{
		IgnoreList: []string{"recorder", " player "},
		Metrics:    metric.NewDiscoveryMetrics(reg),
	})
	assert.True(t, s.IsIgnored("player"))

	conn := request(t, s, "recorder")

	_, err := readReply(conn, 300*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))
	assert.Empty(t, s.Assignments())
}

func TestServer_StableIdentity(t *testing.T) {
	s := startServer(t, Config{})

	conn := request(t, s, "camera")
	first, err := readReply(conn, 2*time.Second)
	require.NoError(t, err)

	payload, err := (&DiscoverMessage{Type: MessageDiscover, Module: "camera"}).ToJSON()
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	second, err := readReply(conn, 2*time.Second)
	require.NoError(t, err)

	other, err := readReply(request(t, s, "radar"), 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "camera-1", first.Identifier)
	assert.Equal(t, first.Identifier, second.Identifier)
	assert.Equal(t, "radar-1", other.Identifier)
	assert.Len(t, s.Assignments(), 2)
}

func TestServer_SameNameDifferentInstances(t *testing.T) {
	s := startServer(t, Config{})

	first, err := readReply(request(t, s, "camera"), 2*time.Second)
	require.NoError(t, err)
	second, err := readReply(request(t, s, "camera"), 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "camera-1", first.Identifier)
	assert.Equal(t, "camera-2", second.Identifier)
	assert.Len(t, s.Assignments(), 2)
}

func TestServer_IgnoresMalformedDatagrams(t *testing.T) {
	s := startServer(t, Config{})

	conn, err := net.DialUDP("udp4", nil, s.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"type":"DISCOVER"}`))
	require.NoError(t, err)
	payload, _ := (&DiscoverMessage{Type: MessageDiscover, Module: "gps"}).ToJSON()
	_, err = conn.Write(payload)
	require.NoError(t, err)

	reply, err := readReply(conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "gps", reply.Module)
}

func TestServer_StartStopIdempotent(t *testing.T) {
	s := NewServer(Config{Group: "127.0.0.1"}, announced, nil)

	s.StopResponding()
	assert.False(t, s.IsResponding())
	assert.Nil(t, s.Addr())

	require.NoError(t, s.StartResponding())
	addr := s.Addr()
	require.NoError(t, s.StartResponding())
	assert.Equal(t, addr, s.Addr())

	s.StopResponding()
	s.StopResponding()
	assert.False(t, s.IsResponding())

	require.NoError(t, s.StartResponding())
	assert.True(t, s.IsResponding())
	s.StopResponding()
}

func TestServer_BindFailureIsSetupError(t *testing.T) {
	busy, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer busy.Close()

	s := NewServer(Config{Group: "127.0.0.1", Port: busy.LocalAddr().(*net.UDPAddr).Port}, announced, nil)
	err = s.StartResponding()
	require.Error(t, err)
	assert.True(t, shared.IsSetupError(err))
}

func TestClient_Discover(t *testing.T) {
	s := startServer(t, Config{})

	c := NewClient("127.0.0.1", s.Addr().Port, nil)
	c.RetryInterval = 50 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	msg, err := c.Discover(ctx, "planner")
	require.NoError(t, err)
	assert.Equal(t, "planner-1", msg.Identifier)
	assert.Equal(t, announced.Port, msg.Server.Port)

	declared, err := c.DiscoverAs(ctx, "planner", "front")
	require.NoError(t, err)
	assert.Equal(t, "front", declared.Identifier)
}

func TestClient_DiscoverRetriesUntilServerAppears(t *testing.T) {
	// reserve a port, release it, and start the server on it later
	reserved, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := reserved.LocalAddr().(*net.UDPAddr).Port
	reserved.Close()

	c := NewClient("127.0.0.1", port, nil)
	c.RetryInterval = 50 * time.Millisecond

	go func() {
		time.Sleep(200 * time.Millisecond)
		s := NewServer(Config{Group: "127.0.0.1", Port: port}, announced, nil)
		if s.StartResponding() == nil {
			t.Cleanup(s.StopResponding)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, err := c.Discover(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, "late", msg.Module)
}

func TestClient_DiscoverIgnoredTimesOut(t *testing.T) {
	s := startServer(t, Config{IgnoreList: []string{"silent"}})

	c := NewClient("127.0.0.1", s.Addr().Port, nil)
	c.RetryInterval = 50 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := c.Discover(ctx, "silent")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
