// Package module is the client side of the supercomponent protocol: a module
// discovers the supercomponent, registers over TCP, receives its
// configuration and then publishes on the conference.
package module

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"opendavinci/internal/data"
	"opendavinci/internal/keyvalue"
	"opendavinci/internal/microservices/conference"
	"opendavinci/internal/microservices/discovery"
	"opendavinci/internal/microservices/tcp"
	"opendavinci/internal/shared"
	"opendavinci/internal/timesource"
	"opendavinci/internal/wire"
)

// Options describe the module and where to find the supercomponent.
type Options struct {
	Name       string
	Identifier string
	Version    string
	Frequency  float64

	Group         string
	DiscoveryPort int
	// ReplyPort is where discovery answers are received; 0 picks a free port.
	ReplyPort      int
	ConferencePort int
	// DisableConference registers without joining the conference.
	DisableConference bool
	RetryInterval     time.Duration
	Clock             timesource.Clock
}

// Runtime is one registered module.
type Runtime struct {
	opts       Options
	logger     *slog.Logger
	conn       *tcp.ModuleConnection
	conference *conference.Conference
	config     keyvalue.Configuration
	identity   string

	mu    sync.Mutex
	state data.ModuleState

	lost     chan struct{}
	lostOnce sync.Once
	stopOnce sync.Once
	stopErr  error
}

// Start discovers the supercomponent, registers, waits for the configuration
// and reports RUNNING. ctx bounds discovery and registration.
func Start(ctx context.Context, opts Options, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("module name required: %w", shared.ErrRegistrationFailed)
	}
	if opts.Clock == nil {
		opts.Clock = timesource.Default()
	}
	desc := data.ModuleDescriptor{
		Name:       opts.Name,
		Identifier: opts.Identifier,
		Version:    opts.Version,
		Frequency:  opts.Frequency,
	}
	r := &Runtime{
		opts:   opts,
		logger: logger.With("component", "module", "module", desc.Key()),
		state:  data.StateNotYetRunning,
		lost:   make(chan struct{}),
	}

	client := discovery.NewClient(opts.Group, opts.DiscoveryPort, logger)
	client.ReplyPort = opts.ReplyPort
	if opts.RetryInterval > 0 {
		client.RetryInterval = opts.RetryInterval
	}
	reply, err := client.DiscoverAs(ctx, opts.Name, opts.Identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrRegistrationFailed, err)
	}
	if desc.Identifier == "" {
		desc.Identifier = reply.Identifier
		r.logger = logger.With("component", "module", "module", desc.Key())
	}
	r.identity = desc.Identifier

	conn, err := tcp.Dial(reply.Server.IP, reply.Server.Port, tcp.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrRegistrationFailed, err)
	}
	r.conn = conn

	configs := make(chan data.ConfigurationMessage, 1)
	conn.SetContainerListener(wire.ContainerListenerFunc(func(c wire.Container) {
		if c.Type != data.ConfigurationMessageType {
			r.logger.Debug("unexpected_container", "type", uint32(c.Type))
			return
		}
		var msg data.ConfigurationMessage
		if err := c.DecodeInto(&msg); err != nil {
			r.logger.Warn("invalid_configuration", "error", err)
			return
		}
		select {
		case configs <- msg:
		default:
		}
	}))
	conn.SetErrorListener(tcp.ConnectionErrorFunc(func(_ *tcp.ModuleConnection, err error) {
		r.logger.Warn("supercomponent_connection_lost", "error", err)
		r.markLost()
	}))
	conn.Start()

	if err := conn.SendPayload(&desc); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", shared.ErrRegistrationFailed, err)
	}

	select {
	case msg := <-configs:
		r.config = keyvalue.New(msg.Values)
	case <-conn.Done():
		return nil, fmt.Errorf("%w: supercomponent closed the connection", shared.ErrRegistrationFailed)
	case <-ctx.Done():
		conn.Close()
		return nil, fmt.Errorf("%w: waiting for configuration: %w", shared.ErrRegistrationFailed, ctx.Err())
	}

	if err := r.SetState(data.StateRunning); err != nil {
		conn.Close()
		return nil, err
	}

	if !opts.DisableConference {
		conf, err := conference.New(opts.Group, opts.ConferencePort, opts.Clock, logger)
		if err != nil {
			r.Stop(data.ExitSeriousError)
			return nil, err
		}
		r.conference = conf
	}

	r.logger.Info("module_running", "identity", r.identity, "config_keys", r.config.Len())
	return r, nil
}

func (r *Runtime) markLost() {
	r.lostOnce.Do(func() { close(r.lost) })
}

// Configuration returns the snapshot received at registration.
func (r *Runtime) Configuration() keyvalue.Configuration { return r.config }

// Identity returns the identifier the module registered under: the declared
// one, or the one assigned by discovery.
func (r *Runtime) Identity() string { return r.identity }

// Conference returns the joined conference, or nil when disabled.
func (r *Runtime) Conference() *conference.Conference { return r.conference }

// Lost is closed when the supercomponent connection goes away.
func (r *Runtime) Lost() <-chan struct{} { return r.lost }

// State returns the last state reported to the supercomponent
func (r *Runtime) State() data.ModuleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetState reports a new lifecycle state.
func (r *Runtime) SetState(state data.ModuleState) error {
	return r.report(data.ModuleStateMessage{State: state})
}

func (r *Runtime) report(msg data.ModuleStateMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.State < r.state {
		return fmt.Errorf("%s -> %s: %w", r.state, msg.State, shared.ErrInvalidTransition)
	}
	if err := r.conn.SendPayload(&msg); err != nil {
		return fmt.Errorf("failed to report state %s: %w", msg.State, err)
	}
	r.state = msg.State
	return nil
}

// Send publishes p on the conference.
func (r *Runtime) Send(p wire.Payload) error {
	if r.conference == nil {
		return fmt.Errorf("conference disabled: %w", shared.ErrClosed)
	}
	return r.conference.SendPayload(p)
}

// ReportStatistic sends the share of the time slice the last cycle used.
func (r *Runtime) ReportStatistic(sliceConsumption float64) error {
	return r.conn.SendPayload(&data.RuntimeStatistic{
		Name:             r.opts.Name,
		Identifier:       r.identity,
		SliceConsumption: sliceConsumption,
	})
}

// Stop reports EXITING with code, then EXITED, and releases the connection
// and the conference. Only the first call does anything.
func (r *Runtime) Stop(code data.ExitCode) error {
	r.stopOnce.Do(func() {
		if r.conference != nil {
			r.conference.Close()
		}
		if err := r.report(data.ModuleStateMessage{State: data.StateExiting, ExitCode: code, HasExitCode: true}); err != nil {
			r.stopErr = err
		} else if err := r.report(data.ModuleStateMessage{State: data.StateExited}); err != nil {
			r.stopErr = err
		}
		r.conn.Close()
		r.logger.Info("module_stopped", "exit_code", code.String())
	})
	return r.stopErr
}
