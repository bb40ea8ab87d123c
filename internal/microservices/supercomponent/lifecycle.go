package supercomponent

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"opendavinci/internal/data"
	"opendavinci/internal/microservices/tcp"
	"opendavinci/internal/shared"
	"opendavinci/internal/wire"
)

// DefaultRegistrationTimeout is how long a new connection may take to send its
// ModuleDescriptor.
const DefaultRegistrationTimeout = 5 * time.Second

// LifecycleHandler drives modules through registration and their state
// changes. It implements tcp.ConnectionHandler.
type LifecycleHandler struct {
	registry *Registry
	provider tcp.ConfigProvider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewLifecycleHandler creates a handler registering into registry and
// configuring modules from provider.
func NewLifecycleHandler(registry *Registry, provider tcp.ConfigProvider, timeout time.Duration, logger *slog.Logger) *LifecycleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultRegistrationTimeout
	}
	return &LifecycleHandler{
		registry: registry,
		provider: provider,
		timeout:  timeout,
		logger:   logger.With("component", "lifecycle"),
	}
}

// OnNewConnection starts a session for c and waits for its descriptor.
func (h *LifecycleHandler) OnNewConnection(c *tcp.ModuleConnection) {
	s := &session{handler: h, conn: c}
	c.SetContainerListener(s)
	c.SetErrorListener(s)
	s.timer = time.AfterFunc(h.timeout, s.registrationTimedOut)
	c.Start()
	h.logger.Debug("connection_accepted", "connection_id", c.ID, "remote", c.RemoteAddr().String())
}

// session is the state of one connection
type session struct {
	handler *LifecycleHandler
	conn    *tcp.ModuleConnection
	timer   *time.Timer

	mu  sync.Mutex
	key string // set once registered
}

func (s *session) registeredKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *session) registrationTimedOut() {
	if s.registeredKey() != "" {
		return
	}
	s.handler.logger.Warn("registration_timeout",
		"connection_id", s.conn.ID,
		"remote", s.conn.RemoteAddr().String(),
		"timeout", s.handler.timeout,
	)
	s.conn.Close()
}

// NextContainer runs on the connection's read goroutine.
func (s *session) NextContainer(c wire.Container) {
	key := s.registeredKey()
	if key == "" {
		s.register(c)
		return
	}

	switch c.Type {
	case data.ModuleStateMessageType:
		var msg data.ModuleStateMessage
		if err := c.DecodeInto(&msg); err != nil {
			s.handler.logger.Warn("invalid_state_message", "module", key, "error", err)
			return
		}
		s.applyState(key, msg)

	case data.RuntimeStatisticType:
		var stat data.RuntimeStatistic
		if err := c.DecodeInto(&stat); err != nil {
			s.handler.logger.Warn("invalid_statistic", "module", key, "error", err)
			return
		}
		_ = s.handler.registry.RecordStatistic(key, stat)

	default:
		s.handler.logger.Debug("unexpected_container", "module", key, "type", uint32(c.Type))
	}
}

func (s *session) register(c wire.Container) {
	log := s.handler.logger.With("connection_id", s.conn.ID)

	if c.Type != data.ModuleDescriptorType {
		log.Warn("registration_rejected", "reason", "first container is not a descriptor", "type", uint32(c.Type))
		s.reject()
		return
	}
	var desc data.ModuleDescriptor
	if err := c.DecodeInto(&desc); err != nil || desc.Name == "" {
		log.Warn("registration_rejected", "reason", "invalid descriptor", "error", err)
		s.reject()
		return
	}

	module := NewConnectedModule(desc, s.conn, s.handler.registry.now())
	if err := s.handler.registry.Add(module); err != nil {
		log.Warn("registration_rejected", "module", desc.Key(), "error", err)
		s.reject()
		return
	}
	s.mu.Lock()
	s.key = desc.Key()
	s.mu.Unlock()
	s.timer.Stop()

	cfg := s.handler.provider.ConfigurationFor(desc)
	if err := s.conn.SendPayload(&data.ConfigurationMessage{Values: cfg.Map()}); err != nil {
		log.Warn("configuration_send_failed", "module", desc.Key(), "error", err)
		s.handler.registry.MarkLost(desc.Key())
		return
	}
	log.Info("module_configured", "module", desc.Key(), "keys", cfg.Len())
}

func (s *session) reject() {
	s.timer.Stop()
	s.conn.Close()
}

func (s *session) applyState(key string, msg data.ModuleStateMessage) {
	if msg.HasExitCode {
		_ = s.handler.registry.SetExitCode(key, msg.ExitCode)
	}
	err := s.handler.registry.UpdateState(key, msg.State)
	switch {
	case errors.Is(err, shared.ErrInvalidTransition):
		s.handler.logger.Warn("state_transition_refused", "module", key, "state", msg.State.String(), "error", err)
		return
	case err != nil:
		s.handler.logger.Debug("state_update_failed", "module", key, "error", err)
		return
	}
	if msg.State == data.StateExited {
		_ = s.handler.registry.Remove(key)
	}
}

// HandleConnectionError runs once when the connection is lost.
func (s *session) HandleConnectionError(c *tcp.ModuleConnection, err error) {
	s.timer.Stop()
	key := s.registeredKey()
	if key == "" {
		s.handler.logger.Debug("connection_lost_before_registration", "connection_id", c.ID, "error", err)
		return
	}
	if _, lerr := s.handler.registry.MarkLost(key); lerr != nil {
		s.handler.logger.Debug("connection_lost_after_removal", "module", key)
	}
}
