package tcp

import (
	"log/slog"
	"sync"

	"opendavinci/internal/data"
	"opendavinci/internal/keyvalue"
	"opendavinci/internal/shared"
)

// ConnectionHandler takes ownership of new module sessions.
type ConnectionHandler interface {
	OnNewConnection(c *ModuleConnection)
}

// ConnectionHandlerFunc adapts a function to ConnectionHandler.
type ConnectionHandlerFunc func(c *ModuleConnection)

func (f ConnectionHandlerFunc) OnNewConnection(c *ModuleConnection) { f(c) }

// ConfigProvider hands out the configuration snapshot for a module.
type ConfigProvider interface {
	ConfigurationFor(d data.ModuleDescriptor) keyvalue.Configuration
}

// Server accepts module sessions and forwards them to the active handler.
type Server struct {
	info     shared.ServerInformation
	acceptor *Acceptor
	logger   *slog.Logger

	mu        sync.Mutex // guards handler, config and unhandled
	handler   ConnectionHandler
	config    ConfigProvider
	unhandled map[string]*ModuleConnection
}

// NewServer binds info.Port and immediately starts accepting. Bind failures
// are returned as a SetupError from the acceptor and are not retried.
func NewServer(info shared.ServerInformation, config ConfigProvider, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	acceptor, err := NewAcceptor(int(info.Port), logger, opts...)
	if err != nil {
		return nil, err
	}
	info.Port = uint16(acceptor.Port())
	s := &Server{
		info:      info,
		acceptor:  acceptor,
		logger:    logger.With("component", "connection-server"),
		config:    config,
		unhandled: make(map[string]*ModuleConnection),
	}
	acceptor.SetListener(s)
	if err := acceptor.Start(); err != nil {
		acceptor.Stop()
		return nil, err
	}
	s.logger.Info("connection_server_started", "addr", info.Address())
	return s, nil
}

// Information returns the server's address with the bound port.
func (s *Server) Information() shared.ServerInformation {
	return s.info
}

// SetConnectionHandler replaces the handler. With nil, new sessions stay open
// but unhandled until the peer leaves or the server closes. Sessions accepted
// earlier are not handed to a later handler.
func (s *Server) SetConnectionHandler(h ConnectionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// SetConfigProvider replaces the configuration provider.
func (s *Server) SetConfigProvider(p ConfigProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = p
}

// ConfigProvider returns the current configuration provider.
func (s *Server) ConfigProvider() ConfigProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// OnNewConnection is called by the acceptor once per session. The handler is
// read under the lock but invoked outside of it, so a handler may call back
// into the server.
func (s *Server) OnNewConnection(c *ModuleConnection) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()

	if h == nil {
		s.logger.Warn("connection_unhandled",
			"connection_id", c.ID,
			"remote_addr", c.RemoteAddr().String(),
		)
		s.park(c)
		return
	}
	s.logger.Info("connection_accepted",
		"connection_id", c.ID,
		"remote_addr", c.RemoteAddr().String(),
	)
	h.OnNewConnection(c)
}

// park keeps c open without a handler. Its containers are discarded and it
// is forgotten once the peer goes away.
func (s *Server) park(c *ModuleConnection) {
	s.mu.Lock()
	s.unhandled[c.ID] = c
	s.mu.Unlock()

	c.SetErrorListener(ConnectionErrorFunc(func(c *ModuleConnection, err error) {
		s.mu.Lock()
		delete(s.unhandled, c.ID)
		s.mu.Unlock()
		s.logger.Debug("unhandled_connection_lost", "connection_id", c.ID, "error", err)
	}))
	c.Start()
}

// UnhandledCount returns the number of open sessions no handler took
func (s *Server) UnhandledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unhandled)
}

// Close stops accepting and closes the unhandled sessions. Sessions given to
// a handler belong to it.
func (s *Server) Close() {
	s.acceptor.Stop()

	s.mu.Lock()
	parked := s.unhandled
	s.unhandled = make(map[string]*ModuleConnection)
	s.mu.Unlock()
	for _, c := range parked {
		c.Close()
	}
	s.logger.Info("connection_server_stopped")
}
