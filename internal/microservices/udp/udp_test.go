package udp

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opendavinci/internal/shared"
	"opendavinci/internal/wire"
)

func TestSenderReceiver_Loopback(t *testing.T) {
	receiver, err := NewReceiver("127.0.0.1", 0, nil)
	require.NoError(t, err)
	defer receiver.Stop()

	got := make(chan string, 4)
	receiver.SetListener(PacketListenerFunc(func(data []byte, from *net.UDPAddr) {
		got <- string(data)
	}))
	require.NoError(t, receiver.Start())
	require.NoError(t, receiver.Start(), "second start is a no-op")
	assert.True(t, receiver.IsRunning())

	sender, err := NewSender("127.0.0.1", receiver.LocalAddr().Port)
	require.NoError(t, err)
	defer sender.Close()

	require.NoError(t, sender.SendString("Hello World"))

	select {
	case s := <-got:
		assert.Equal(t, "Hello World", s)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not received")
	}
}

func TestReceiver_StopUnblocksLoop(t *testing.T) {
	receiver, err := NewReceiver("127.0.0.1", 0, nil)
	require.NoError(t, err)
	require.NoError(t, receiver.Start())

	done := make(chan struct{})
	go func() {
		receiver.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, receiver.IsRunning())
	receiver.Stop()
	assert.ErrorIs(t, receiver.Start(), shared.ErrClosed)
}

func TestReceiver_StopFromListener(t *testing.T) {
	receiver, err := NewReceiver("127.0.0.1", 0, nil)
	require.NoError(t, err)

	stopped := make(chan struct{})
	receiver.SetListener(PacketListenerFunc(func(data []byte, from *net.UDPAddr) {
		receiver.Stop()
		close(stopped)
	}))
	require.NoError(t, receiver.Start())

	sender, err := NewSender("127.0.0.1", receiver.LocalAddr().Port)
	require.NoError(t, err)
	defer sender.Close()
	require.NoError(t, sender.SendString("stop"))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from the listener did not return")
	}

	assert.Eventually(t, func() bool { return !receiver.IsRunning() }, 2*time.Second, 10*time.Millisecond)
	receiver.Stop()
	assert.ErrorIs(t, receiver.Start(), shared.ErrClosed)
}

func TestSender_Oversized(t *testing.T) {
	sender, err := NewSender("127.0.0.1", 9)
	require.NoError(t, err)
	defer sender.Close()

	err = sender.Send([]byte(strings.Repeat("x", wire.MaxDatagramSize+1)))
	assert.ErrorIs(t, err, shared.ErrPayloadTooLarge)

	require.NoError(t, sender.Close())
	assert.ErrorIs(t, sender.Send([]byte("x")), shared.ErrClosed)
}

func TestNewReceiver_BadAddress(t *testing.T) {
	_, err := NewReceiver("not a host name at all", 1, nil)
	require.Error(t, err)
	assert.True(t, shared.IsSetupError(err))
}
