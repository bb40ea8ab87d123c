package supercomponent

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"opendavinci/internal/data"
	"opendavinci/internal/keyvalue"
	"opendavinci/internal/microservices/tcp"
	"opendavinci/internal/shared"
	"opendavinci/internal/wire"
)

var testServerInfo = shared.ServerInformation{IP: "127.0.0.1"}

type LifecycleTestSuite struct {
	suite.Suite
	registry *Registry
	server   *tcp.Server
}

func (s *LifecycleTestSuite) SetupTest() {
	cfg, err := keyvalue.ParseString("global.buffer=64\nlidar.range=120\nlidar:front.range=80\ncamera.fps=30\n")
	s.Require().NoError(err)
	provider := NewConfigProvider(cfg)

	s.registry = NewRegistry(nil)
	server, err := tcp.NewServer(testServerInfo, provider, nil)
	s.Require().NoError(err)
	server.SetConnectionHandler(NewLifecycleHandler(s.registry, provider, time.Second, nil))
	s.server = server
}

func (s *LifecycleTestSuite) TearDownTest() {
	s.server.Close()
	s.registry.CloseAll()
}

// moduleClient is the module side of one connection
type moduleClient struct {
	conn     *tcp.ModuleConnection
	received chan wire.Container
}

func (s *LifecycleTestSuite) dial() *moduleClient {
	info := s.server.Information()
	conn, err := tcp.Dial(info.IP, info.Port)
	s.Require().NoError(err)
	c := &moduleClient{conn: conn, received: make(chan wire.Container, 8)}
	conn.SetContainerListener(wire.ContainerListenerFunc(func(ct wire.Container) { c.received <- ct }))
	conn.Start()
	s.T().Cleanup(func() { conn.Close() })
	return c
}

func (c *moduleClient) configuration(t *testing.T) map[string]string {
	t.Helper()
	select {
	case ct := <-c.received:
		var msg data.ConfigurationMessage
		require.NoError(t, ct.DecodeInto(&msg))
		return msg.Values
	case <-time.After(2 * time.Second):
		t.Fatal("no configuration received")
		return nil
	}
}

func (s *LifecycleTestSuite) waitState(key string, state data.ModuleState) {
	s.Require().Eventually(func() bool {
		info, ok := s.registry.Get(key)
		return ok && info.State == state
	}, 2*time.Second, 10*time.Millisecond, "module %s never reached %s", key, state)
}

func (s *LifecycleTestSuite) waitGone(key string) {
	s.Require().Eventually(func() bool {
		_, ok := s.registry.Get(key)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "module %s still registered", key)
}

func (s *LifecycleTestSuite) TestRegistrationAndConfiguration() {
	c := s.dial()
	s.Require().NoError(c.conn.SendPayload(&data.ModuleDescriptor{Name: "lidar", Identifier: "front", Version: "1.0"}))

	values := c.configuration(s.T())
	s.Equal("64", values["global.buffer"])
	s.Equal("120", values["lidar.range"])
	s.Equal("80", values["lidar:front.range"])
	s.NotContains(values, "camera.fps")

	s.waitState("lidar:front", data.StateNotYetRunning)
}

func (s *LifecycleTestSuite) TestStateMessagesDriveLifecycle() {
	c := s.dial()
	s.Require().NoError(c.conn.SendPayload(&data.ModuleDescriptor{Name: "camera"}))
	c.configuration(s.T())

	s.Require().NoError(c.conn.SendPayload(&data.ModuleStateMessage{State: data.StateRunning}))
	s.waitState("camera", data.StateRunning)

	s.Require().NoError(c.conn.SendPayload(&data.ModuleStateMessage{
		State: data.StateExiting, ExitCode: data.ExitOkay, HasExitCode: true,
	}))
	s.waitState("camera", data.StateExiting)
	info, _ := s.registry.Get("camera")
	s.True(info.HasExitCode)

	// a regression is refused and the module stays exiting
	s.Require().NoError(c.conn.SendPayload(&data.ModuleStateMessage{State: data.StateRunning}))
	s.Require().NoError(c.conn.SendPayload(&data.RuntimeStatistic{Name: "camera", SliceConsumption: 0.5}))
	s.Eventually(func() bool {
		info, ok := s.registry.Get("camera")
		return ok && info.SliceConsumption != nil
	}, 2*time.Second, 10*time.Millisecond)
	info, _ = s.registry.Get("camera")
	s.Equal(data.StateExiting, info.State)

	s.Require().NoError(c.conn.SendPayload(&data.ModuleStateMessage{State: data.StateExited}))
	s.waitGone("camera")
	select {
	case <-c.conn.Done():
	case <-time.After(2 * time.Second):
		s.Fail("supercomponent did not close the connection of an exited module")
	}
}

func (s *LifecycleTestSuite) TestDisconnectForcesExitedAndRemoval() {
	c := s.dial()
	s.Require().NoError(c.conn.SendPayload(&data.ModuleDescriptor{Name: "radar"}))
	c.configuration(s.T())
	s.Require().NoError(c.conn.SendPayload(&data.ModuleStateMessage{State: data.StateRunning}))
	s.waitState("radar", data.StateRunning)

	c.conn.Close()

	s.waitGone("radar")
	s.ErrorIs(s.registry.UpdateState("radar", data.StateRunning), shared.ErrModuleNotFound)
}

func (s *LifecycleTestSuite) TestFirstContainerMustBeDescriptor() {
	c := s.dial()
	s.Require().NoError(c.conn.SendPayload(&data.ModuleStateMessage{State: data.StateRunning}))

	select {
	case <-c.conn.Done():
	case <-time.After(2 * time.Second):
		s.Fail("connection without descriptor was not closed")
	}
	s.Equal(0, s.registry.Len())
}

func (s *LifecycleTestSuite) TestDuplicateModuleRejected() {
	first := s.dial()
	s.Require().NoError(first.conn.SendPayload(&data.ModuleDescriptor{Name: "gps"}))
	first.configuration(s.T())

	second := s.dial()
	s.Require().NoError(second.conn.SendPayload(&data.ModuleDescriptor{Name: "gps"}))
	select {
	case <-second.conn.Done():
	case <-time.After(2 * time.Second):
		s.Fail("duplicate registration was not closed")
	}
	s.Equal(1, s.registry.Len())
}

func (s *LifecycleTestSuite) TestRegistrationTimeout() {
	c := s.dial()

	select {
	case <-c.conn.Done():
	case <-time.After(3 * time.Second):
		s.Fail("silent connection was not timed out")
	}
	s.Equal(0, s.registry.Len())
}

func (s *LifecycleTestSuite) TestConcurrentRegistrations() {
	const n = 50
	var wg sync.WaitGroup
	clients := make([]*moduleClient, n)
	for i := 0; i < n; i++ {
		clients[i] = s.dial()
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = clients[i].conn.SendPayload(&data.ModuleDescriptor{Name: fmt.Sprintf("worker-%02d", i)})
		}(i)
	}
	wg.Wait()

	s.Require().Eventually(func() bool { return s.registry.Len() == n }, 5*time.Second, 20*time.Millisecond)
	snapshot := s.registry.Snapshot()
	s.Len(snapshot, n)
	for i, info := range snapshot {
		s.Equal(fmt.Sprintf("worker-%02d", i), info.Key)
		s.Equal(data.StateNotYetRunning, info.State)
	}
}

func TestLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(LifecycleTestSuite))
}

func TestConfigProvider_Selection(t *testing.T) {
	cfg := keyvalue.New(map[string]string{
		"global.x":      "1",
		"cam.fps":       "30",
		"cam:rear.fps":  "15",
		"cammy.fps":     "99",
		"other.setting": "z",
	})
	p := NewConfigProvider(cfg)

	plain := p.ConfigurationFor(data.ModuleDescriptor{Name: "cam"})
	assert.Equal(t, []string{"cam.fps", "global.x"}, plain.Keys())

	rear := p.ConfigurationFor(data.ModuleDescriptor{Name: "cam", Identifier: "rear"})
	assert.Equal(t, []string{"cam.fps", "cam:rear.fps", "global.x"}, rear.Keys())

	p.Replace(keyvalue.New(map[string]string{"global.y": "2"}))
	assert.Equal(t, []string{"global.y"}, p.ConfigurationFor(data.ModuleDescriptor{Name: "cam"}).Keys())
	// the earlier snapshot is unaffected
	assert.Equal(t, 2, plain.Len())
}
