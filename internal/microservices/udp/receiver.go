package udp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"opendavinci/internal/shared"
	"opendavinci/internal/wire"
)

// largest datagram we ever read, one read = one datagram
const readBufferSize = 64 * 1024

// PacketListener receives every datagram read by a Receiver.
// data is only valid for the duration of the call.
type PacketListener interface {
	NextPacket(data []byte, from *net.UDPAddr)
}

// PacketListenerFunc adapts a function to PacketListener.
type PacketListenerFunc func(data []byte, from *net.UDPAddr)

func (f PacketListenerFunc) NextPacket(data []byte, from *net.UDPAddr) { f(data, from) }

// Receiver runs a receive loop on a UDP socket. If the configured address is a
// multicast group the socket joins it; otherwise it binds the address directly.
type Receiver struct {
	conn        *net.UDPConn
	logger      *slog.Logger
	mu          sync.Mutex // guards listener
	listener    PacketListener
	running     atomic.Bool
	closed      atomic.Bool
	dispatching atomic.Bool // set while the loop is inside a listener call
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewReceiver binds group:port. Port 0 picks a free port (unicast only).
func NewReceiver(group string, port int, logger *slog.Logger) (*Receiver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(group, fmt.Sprint(port)))
	if err != nil {
		return nil, shared.NewSetupError("udp-receiver", "resolve", err)
	}

	var conn *net.UDPConn
	if addr.IP != nil && addr.IP.IsMulticast() {
		conn, err = net.ListenMulticastUDP("udp4", nil, addr)
	} else {
		conn, err = net.ListenUDP("udp4", addr)
	}
	if err != nil {
		return nil, shared.NewSetupError("udp-receiver", "listen", err)
	}
	_ = conn.SetReadBuffer(4 * readBufferSize)

	return &Receiver{
		conn:   conn,
		logger: logger.With("component", "udp-receiver", "addr", conn.LocalAddr().String()),
	}, nil
}

// LocalAddr returns the bound address.
func (r *Receiver) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// SetListener replaces the packet listener; nil discards packets.
func (r *Receiver) SetListener(l PacketListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

func (r *Receiver) currentListener() PacketListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listener
}

// Start launches the receive loop. Calling Start on a running receiver is a no-op.
func (r *Receiver) Start() error {
	if r.closed.Load() {
		return shared.ErrClosed
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}
	r.wg.Add(1)
	go r.loop()
	return nil
}

// IsRunning reports whether the loop is active.
func (r *Receiver) IsRunning() bool {
	return r.running.Load()
}

func (r *Receiver) loop() {
	defer r.wg.Done()
	defer r.running.Store(false)

	buffer := make([]byte, readBufferSize)
	for {
		n, addr, err := r.conn.ReadFromUDP(buffer)
		if err != nil {
			if r.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Warn("udp_read_error", "error", err)
			continue
		}
		if l := r.currentListener(); l != nil {
			r.dispatching.Store(true)
			l.NextPacket(buffer[:n], addr)
			r.dispatching.Store(false)
		}
	}
}

// WriteTo sends data from the receiver's socket, used for unicast replies.
func (r *Receiver) WriteTo(data []byte, addr *net.UDPAddr) error {
	if len(data) > wire.MaxDatagramSize {
		return fmt.Errorf("datagram of %d bytes: %w", len(data), shared.ErrPayloadTooLarge)
	}
	if _, err := r.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("failed to write to %s: %w", addr, err)
	}
	return nil
}

// Stop closes the socket, which unblocks the loop, and waits for it to exit.
// Safe to call more than once. Called while a listener is running, which
// includes from inside the listener itself, Stop does not wait: the loop
// exits as soon as that listener returns.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() {
		r.closed.Store(true)
		if err := r.conn.Close(); err != nil {
			r.logger.Debug("udp_close_error", "error", err)
		}
	})
	if r.dispatching.Load() {
		return
	}
	r.wg.Wait()
}
