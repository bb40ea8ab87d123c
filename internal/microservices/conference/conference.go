// Package conference implements the container conference: a UDP multicast
// bus on which every module publishes containers and receives everyone
// else's. Each datagram carries one or more length-prefixed serialized
// containers.
package conference

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"sync"
	"sync/atomic"

	"opendavinci/internal/metric"
	"opendavinci/internal/microservices/udp"
	"opendavinci/internal/shared"
	"opendavinci/internal/timesource"
	"opendavinci/internal/wire"
)

// DefaultGroup is the multicast group of conference 111.
const DefaultGroup = "225.0.0.111"

// DefaultPort is the conference UDP port.
const DefaultPort = 12175

// Conference joins one multicast group for sending and receiving containers.
type Conference struct {
	clock    timesource.Clock
	logger   *slog.Logger
	metrics  *metric.ConferenceMetrics
	framer   wire.LengthPrefixed
	decoder  wire.Decoder // used only by the receive loop
	sender   *udp.Sender
	receiver *udp.Receiver

	mu        sync.RWMutex // guards listeners
	listeners []wire.ContainerListener

	closed    atomic.Bool
	closeOnce sync.Once
}

// Option configures a Conference.
type Option func(*Conference)

// WithMetrics counts traffic on m.
func WithMetrics(m *metric.ConferenceMetrics) Option {
	return func(c *Conference) { c.metrics = m }
}

// New joins group:port and starts receiving. With a unicast group and port 0
// the conference binds a free port and sends to itself, which is what tests
// use when multicast is unavailable.
func New(group string, port int, clock timesource.Clock, logger *slog.Logger, opts ...Option) (*Conference, error) {
	if clock == nil {
		clock = timesource.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conference{
		clock:  clock,
		logger: logger.With("component", "conference", "group", group),
		framer: wire.LengthPrefixed{Max: wire.MaxDatagramSize},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.decoder = c.framer.NewDecoder(c)

	receiver, err := udp.NewReceiver(group, port, c.logger)
	if err != nil {
		return nil, shared.NewSetupError("conference", "receiver", err)
	}
	if port == 0 {
		port = receiver.LocalAddr().Port
	}
	sender, err := udp.NewSender(group, port)
	if err != nil {
		receiver.Stop()
		return nil, shared.NewSetupError("conference", "sender", err)
	}
	c.sender = sender
	c.receiver = receiver

	receiver.SetListener(c)
	if err := receiver.Start(); err != nil {
		receiver.Stop()
		sender.Close()
		return nil, shared.NewSetupError("conference", "start", err)
	}
	c.logger.Info("conference_joined", "addr", receiver.LocalAddr().String(), "port", port)
	return c, nil
}

// LocalAddr returns the address the conference receives on.
func (c *Conference) LocalAddr() *net.UDPAddr {
	return c.receiver.LocalAddr()
}

// Send stamps Sent on c, serializes it and publishes it as one datagram.
func (c *Conference) Send(container wire.Container) error {
	if c.closed.Load() {
		return shared.ErrClosed
	}
	container.Sent = c.clock.Now()
	frame, err := c.framer.Frame(wire.Serialize(container))
	if err != nil {
		c.metrics.Dropped("too_large")
		return fmt.Errorf("conference send type %d: %w", container.Type, err)
	}
	if err := c.sender.Send(frame); err != nil {
		return fmt.Errorf("conference send type %d: %w", container.Type, err)
	}
	c.metrics.Sent()
	return nil
}

// SendPayload wraps p in a container and sends it.
func (c *Conference) SendPayload(p wire.Payload) error {
	container, err := wire.NewContainer(p)
	if err != nil {
		return err
	}
	return c.Send(container)
}

// NextPacket decodes the frames of one datagram. A frame cut off at the end of
// a datagram is discarded; it never continues in the next one.
func (c *Conference) NextPacket(data []byte, from *net.UDPAddr) {
	if err := c.decoder.Feed(data); err != nil {
		c.metrics.Dropped("framing")
		c.logger.Debug("frame_dropped", "from", from.String(), "error", err)
	}
	if c.decoder.Buffered() > 0 {
		c.metrics.Dropped("truncated")
		c.logger.Debug("frame_dropped", "from", from.String(), "reason", "truncated", "bytes", c.decoder.Buffered())
	}
	c.decoder.Reset()
}

// NextString deserializes one frame, stamps Received and hands the container
// to every listener in registration order. Without listeners the container is
// consumed and dropped.
func (c *Conference) NextString(frame string) {
	container, err := wire.Deserialize([]byte(frame))
	if err != nil {
		c.metrics.Dropped("decode")
		c.logger.Debug("frame_dropped", "reason", "decode", "error", err)
		return
	}
	container.Received = c.clock.Now()
	c.metrics.Received()

	c.mu.RLock()
	listeners := make([]wire.ContainerListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		l.NextContainer(container)
	}
}

// AddContainerListener registers l for every received container.
func (c *Conference) AddContainerListener(l wire.ContainerListener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// RemoveContainerListener unregisters l. Listeners of non-comparable types
// (such as a bare ContainerListenerFunc) cannot be removed individually.
func (c *Conference) RemoveContainerListener(l wire.ContainerListener) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.listeners {
		if sameListener(existing, l) {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerCount returns the number of registered listeners
func (c *Conference) ListenerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners)
}

// Close stops receiving, detaches all listeners and releases both sockets.
func (c *Conference) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.receiver.Stop()

		c.mu.Lock()
		c.listeners = nil
		c.mu.Unlock()

		if cerr := c.sender.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		c.logger.Info("conference_left")
	})
	return err
}

func sameListener(a, b wire.ContainerListener) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
