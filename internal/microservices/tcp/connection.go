package tcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"opendavinci/internal/data"
	"opendavinci/internal/shared"
	"opendavinci/internal/wire"
)

// containers on the control channel are small: descriptors, state changes and
// configuration snapshots. The limiter only protects against a misbehaving
// module flooding the supercomponent; lifecycle containers are never limited.
const (
	DefaultRateLimit = 200 // containers per second
	DefaultRateBurst = 400
	readChunkSize    = 4096
	dialTimeout      = 5 * time.Second
)

// ConnectionErrorListener is told once when the peer goes away or the stream
// breaks. It is not called when the connection is closed locally.
type ConnectionErrorListener interface {
	HandleConnectionError(c *ModuleConnection, err error)
}

// ConnectionErrorFunc adapts a function to ConnectionErrorListener.
type ConnectionErrorFunc func(c *ModuleConnection, err error)

func (f ConnectionErrorFunc) HandleConnectionError(c *ModuleConnection, err error) { f(c, err) }

// Option customizes a ModuleConnection.
type Option func(*ModuleConnection)

// WithRateLimit sets the inbound container rate limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *ModuleConnection) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithIdleTimeout closes the connection when nothing was read for d.
// Zero disables the deadline.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *ModuleConnection) {
		c.idleTimeout = d
	}
}

// WithLogger sets the connection logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *ModuleConnection) {
		if l != nil {
			c.logger = l
		}
	}
}

// ModuleConnection is one long-lived control session between a module and the
// supercomponent. Containers travel serialized inside netstrings.
type ModuleConnection struct {
	ID          string // unique identifier of this session
	conn        net.Conn
	writeMu     sync.Mutex
	writer      *bufio.Writer
	framer      wire.Netstring
	limiter     *rate.Limiter
	idleTimeout time.Duration
	logger      *slog.Logger

	mu                sync.Mutex // guards the two listeners
	containerListener wire.ContainerListener
	errorListener     ConnectionErrorListener

	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// constructor for ModuleConnection, the read loop starts with Start
func NewModuleConnection(conn net.Conn, opts ...Option) *ModuleConnection {
	c := &ModuleConnection{
		ID:      uuid.NewString(),
		conn:    conn,
		writer:  bufio.NewWriter(conn),
		framer:  wire.Netstring{Max: wire.MaxStreamFrameSize},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateBurst),
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("connection_id", c.ID, "remote_addr", conn.RemoteAddr().String())
	return c
}

// Dial opens a control connection to ip:port (createTCPConnectionTo).
func Dial(ip string, port uint16, opts ...Option) (*ModuleConnection, error) {
	addr := net.JoinHostPort(ip, fmt.Sprint(port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, shared.NewSetupError("tcp-connection", "dial "+addr, err)
	}
	return NewModuleConnection(conn, opts...), nil
}

// RemoteAddr returns the peer address.
func (c *ModuleConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetContainerListener replaces the receiver of inbound containers.
func (c *ModuleConnection) SetContainerListener(l wire.ContainerListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containerListener = l
}

// SetErrorListener replaces the connection-loss listener.
func (c *ModuleConnection) SetErrorListener(l ConnectionErrorListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorListener = l
}

func (c *ModuleConnection) listeners() (wire.ContainerListener, ConnectionErrorListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.containerListener, c.errorListener
}

// Start launches the read loop. Subsequent calls are no-ops.
func (c *ModuleConnection) Start() {
	if c.closed.Load() || !c.running.CompareAndSwap(false, true) {
		return
	}
	go c.listen()
}

// Done is closed when the read loop has exited.
func (c *ModuleConnection) Done() <-chan struct{} {
	return c.done
}

// IsClosed reports whether Close was called or the peer went away.
func (c *ModuleConnection) IsClosed() bool {
	return c.closed.Load()
}

// method to listen for incoming data
func (c *ModuleConnection) listen() {
	defer close(c.done)

	decoder := wire.NewNetstringDecoder(wire.StringListenerFunc(c.nextString), c.framer.Max)
	reader := bufio.NewReaderSize(c.conn, readChunkSize)
	chunk := make([]byte, readChunkSize)

	c.logger.Debug("connection_started_listening")
	c.resetDeadline()

	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			c.resetDeadline()
			if ferr := decoder.Feed(chunk[:n]); ferr != nil {
				c.logger.Warn("frame_dropped", "error", ferr)
			}
		}
		if err == nil {
			continue
		}
		if c.closed.Load() {
			return // closed locally
		}
		c.lost(classifyReadError(err))
		return
	}
}

func (c *ModuleConnection) resetDeadline() {
	if c.idleTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	}
}

// nextString turns one netstring into a container and hands it on
func (c *ModuleConnection) nextString(s string) {
	container, err := wire.Deserialize([]byte(s))
	if err != nil {
		c.logger.Warn("invalid_container_received", "error", err)
		return
	}
	if !isLifecycle(container.Type) && !c.limiter.Allow() {
		c.logger.Warn("rate_limit_exceeded", "data_type", container.Type)
		return
	}
	if l, _ := c.listeners(); l != nil {
		l.NextContainer(container)
	}
}

// isLifecycle reports whether t drives registration or state changes
func isLifecycle(t wire.DataType) bool {
	switch t {
	case data.ModuleDescriptorType, data.ModuleStateMessageType, data.ConfigurationMessageType:
		return true
	}
	return false
}

func classifyReadError(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("peer closed connection: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("read timeout: %w", err)
	}
	// Windows reports resets as "forcibly closed"/"connection was aborted"
	msg := err.Error()
	if strings.Contains(msg, "forcibly closed") || strings.Contains(msg, "connection was aborted") ||
		strings.Contains(msg, "connection reset") {
		return fmt.Errorf("connection reset: %w", err)
	}
	return err
}

// lost marks the connection dead and tells the error listener once
func (c *ModuleConnection) lost(err error) {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.closed.Store(true)
		c.conn.Close()
	})
	if !first {
		return
	}
	c.logger.Info("connection_lost", "reason", err.Error())
	if _, l := c.listeners(); l != nil {
		l.HandleConnectionError(c, err)
	}
}

// Send serializes container and writes it as one netstring.
func (c *ModuleConnection) Send(container wire.Container) error {
	if c.closed.Load() {
		return shared.ErrClosed
	}
	frame, err := c.framer.Frame(wire.Serialize(container))
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write container: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// SendPayload wraps p in a container and sends it.
func (c *ModuleConnection) SendPayload(p wire.Payload) error {
	container, err := wire.NewContainer(p)
	if err != nil {
		return err
	}
	return c.Send(container)
}

// Close shuts the socket, which also ends the read loop. It does not wait
// for the loop so it may be called from a listener callback; use Done to wait.
func (c *ModuleConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
		c.logger.Debug("connection_closed")
	})
	if !c.running.Load() {
		// loop never started, nothing else will close done
		c.closeDoneIfIdle()
	}
	return err
}

func (c *ModuleConnection) closeDoneIfIdle() {
	if c.running.CompareAndSwap(false, true) {
		close(c.done)
	}
}
