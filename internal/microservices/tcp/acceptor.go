package tcp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"opendavinci/internal/shared"
)

// ConnectionListener is notified of every accepted session.
type ConnectionListener interface {
	OnNewConnection(c *ModuleConnection)
}

// Acceptor owns a TCP listener and wraps each accepted socket in a
// ModuleConnection.
type Acceptor struct {
	listener net.Listener
	logger   *slog.Logger
	opts     []Option

	mu           sync.Mutex // guards connListener
	connListener ConnectionListener

	running     atomic.Bool
	closed      atomic.Bool
	dispatching atomic.Bool // set while the loop is inside a listener call
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewAcceptor binds port on all interfaces (createTCPAcceptor). Port 0 picks
// a free port. Options are applied to every accepted connection.
func NewAcceptor(port int, logger *slog.Logger, opts ...Option) (*Acceptor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, shared.NewSetupError("tcp-acceptor", fmt.Sprintf("listen on port %d", port), err)
	}
	return &Acceptor{
		listener: listener,
		logger:   logger.With("component", "tcp-acceptor", "addr", listener.Addr().String()),
		opts:     append([]Option{WithLogger(logger)}, opts...),
	}, nil
}

// Port returns the bound port.
func (a *Acceptor) Port() int {
	return a.listener.Addr().(*net.TCPAddr).Port
}

// SetListener replaces the connection listener.
func (a *Acceptor) SetListener(l ConnectionListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connListener = l
}

func (a *Acceptor) currentListener() ConnectionListener {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connListener
}

// Start launches the accept loop.
func (a *Acceptor) Start() error {
	if a.closed.Load() {
		return shared.ErrClosed
	}
	if !a.running.CompareAndSwap(false, true) {
		return nil
	}
	a.wg.Add(1)
	go a.acceptLoop()
	a.logger.Info("tcp_acceptor_started")
	return nil
}

func (a *Acceptor) acceptLoop() {
	defer a.wg.Done()
	defer a.running.Store(false)

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			a.logger.Warn("failed_to_accept_connection", "error", err)
			time.Sleep(5 * time.Millisecond) // avoid spinning on persistent accept errors
			continue
		}

		mc := NewModuleConnection(conn, a.opts...)
		l := a.currentListener()
		if l == nil {
			a.logger.Warn("connection_without_listener", "remote_addr", conn.RemoteAddr().String())
			mc.Close()
			continue
		}
		a.dispatching.Store(true)
		l.OnNewConnection(mc)
		a.dispatching.Store(false)
	}
}

// Stop closes the listener and waits for the accept loop to exit. Safe to
// call more than once. Called from inside OnNewConnection it returns without
// waiting and the loop exits once that call returns.
func (a *Acceptor) Stop() {
	a.stopOnce.Do(func() {
		a.closed.Store(true)
		a.listener.Close()
		a.logger.Info("tcp_acceptor_stopped")
	})
	if a.dispatching.Load() {
		return
	}
	a.wg.Wait()
}
