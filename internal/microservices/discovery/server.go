package discovery

import (
	"log/slog"
	"net"
	"strings"
	"sync"

	"opendavinci/internal/metric"
	"opendavinci/internal/microservices/udp"
	"opendavinci/internal/shared"
	"opendavinci/internal/timesource"
)

// Config configures the discovery server.
type Config struct {
	// Group is the multicast group (or unicast address) to listen on.
	Group string
	Port  int
	// IgnoreList holds module names that never get an answer.
	IgnoreList []string
	Clock      timesource.Clock
	Metrics    *metric.DiscoveryMetrics
}

// Server answers DISCOVER requests with the connection server's address.
type Server struct {
	cfg      Config
	info     shared.ServerInformation
	ignore   map[string]struct{}
	table    *IdentityTable
	logger   *slog.Logger
	mu       sync.Mutex // guards receiver
	receiver *udp.Receiver
}

// NewServer creates a discovery server announcing info. Nothing is bound until
// StartResponding.
func NewServer(cfg Config, info shared.ServerInformation, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = timesource.Default()
	}
	ignore := make(map[string]struct{}, len(cfg.IgnoreList))
	for _, name := range cfg.IgnoreList {
		if name = strings.TrimSpace(name); name != "" {
			ignore[name] = struct{}{}
		}
	}
	return &Server{
		cfg:    cfg,
		info:   info,
		ignore: ignore,
		table:  NewIdentityTable(),
		logger: logger.With("component", "discovery"),
	}
}

// StartResponding binds the discovery socket and starts answering. Calling it
// while already responding is a no-op.
func (s *Server) StartResponding() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.receiver != nil {
		return nil
	}
	r, err := udp.NewReceiver(s.cfg.Group, s.cfg.Port, s.logger)
	if err != nil {
		return shared.NewSetupError("discovery", "listen", err)
	}
	r.SetListener(s)
	if err := r.Start(); err != nil {
		r.Stop()
		return shared.NewSetupError("discovery", "start", err)
	}
	s.receiver = r
	s.logger.Info("discovery_started", "addr", r.LocalAddr().String(), "server", s.info.String())
	return nil
}

// StopResponding stops answering and releases the socket. Safe to call when
// not responding.
func (s *Server) StopResponding() {
	s.mu.Lock()
	r := s.receiver
	s.receiver = nil
	s.mu.Unlock()

	if r == nil {
		return
	}
	r.Stop()
	s.logger.Info("discovery_stopped")
}

// IsResponding reports whether the server is answering requests
func (s *Server) IsResponding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiver != nil
}

// Addr returns the bound address, or nil when not responding.
func (s *Server) Addr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiver == nil {
		return nil
	}
	return s.receiver.LocalAddr()
}

// Assignments returns the identities handed out so far.
func (s *Server) Assignments() []Assignment {
	return s.table.All()
}

// IsIgnored reports whether module is on the ignore list
func (s *Server) IsIgnored(module string) bool {
	_, ok := s.ignore[module]
	return ok
}

// NextPacket handles one datagram from the receive loop.
func (s *Server) NextPacket(data []byte, from *net.UDPAddr) {
	msg, err := ParseDiscoverMessage(data)
	if err != nil {
		s.logger.Debug("discovery_bad_datagram", "from", from.String(), "error", err)
		return
	}
	if msg.Type != MessageDiscover {
		return
	}
	s.cfg.Metrics.Request()

	if s.IsIgnored(msg.Module) {
		s.cfg.Metrics.Ignored()
		s.logger.Debug("discovery_ignored", "module", msg.Module, "from", from.String())
		return
	}

	to := &net.UDPAddr{IP: from.IP, Port: from.Port}
	if msg.ReplyPort > 0 {
		to.Port = msg.ReplyPort
	}

	a := s.table.Assign(msg.Module, msg.Identifier, to, s.cfg.Clock.Now().Time())
	info := s.info
	reply := &DiscoverMessage{
		Type:       MessageResponse,
		Module:     msg.Module,
		Identifier: a.Identifier,
		Server:     &info,
	}
	payload, err := reply.ToJSON()
	if err != nil {
		s.logger.Error("discovery_encode_failed", "error", err)
		return
	}

	s.mu.Lock()
	r := s.receiver
	s.mu.Unlock()
	if r == nil {
		return
	}
	if err := r.WriteTo(payload, to); err != nil {
		s.logger.Warn("discovery_reply_failed", "module", msg.Module, "to", to.String(), "error", err)
		return
	}
	s.cfg.Metrics.Response()
	s.logger.Info("discovery_answered", "module", msg.Module, "identifier", a.Identifier, "to", to.String())
}
