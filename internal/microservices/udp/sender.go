package udp

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"opendavinci/internal/shared"
	"opendavinci/internal/wire"
)

// DefaultMulticastTTL keeps conference traffic on the local segment.
const DefaultMulticastTTL = 1

// Sender writes datagrams to a fixed destination.
type Sender struct {
	mu   sync.Mutex
	conn *net.UDPConn
	dest *net.UDPAddr
}

// NewSender connects a UDP socket to address:port. For multicast
// destinations loopback is enabled so that modules on the same host receive
// each other's traffic.
func NewSender(address string, port int) (*Sender, error) {
	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(address, fmt.Sprint(port)))
	if err != nil {
		return nil, shared.NewSetupError("udp-sender", "resolve", err)
	}
	conn, err := net.DialUDP("udp4", nil, dest)
	if err != nil {
		return nil, shared.NewSetupError("udp-sender", "dial", err)
	}
	if dest.IP.IsMulticast() {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastTTL(DefaultMulticastTTL); err != nil {
			conn.Close()
			return nil, shared.NewSetupError("udp-sender", "multicast ttl", err)
		}
		if err := pc.SetMulticastLoopback(true); err != nil {
			conn.Close()
			return nil, shared.NewSetupError("udp-sender", "multicast loopback", err)
		}
	}
	return &Sender{conn: conn, dest: dest}, nil
}

// Destination returns the address datagrams are sent to.
func (s *Sender) Destination() *net.UDPAddr {
	return s.dest
}

// Send transmits data as a single datagram.
func (s *Sender) Send(data []byte) error {
	if len(data) > wire.MaxDatagramSize {
		return fmt.Errorf("datagram of %d bytes: %w", len(data), shared.ErrPayloadTooLarge)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return shared.ErrClosed
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send to %s: %w", s.dest, err)
	}
	return nil
}

// SendString implements wire.StringSender.
func (s *Sender) SendString(str string) error {
	return s.Send([]byte(str))
}

// Close releases the socket.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
