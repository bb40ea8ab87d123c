package supercomponent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"opendavinci/internal/data"
	"opendavinci/internal/keyvalue"
	"opendavinci/internal/metric"
	"opendavinci/internal/microservices/conference"
	"opendavinci/internal/microservices/discovery"
	"opendavinci/internal/microservices/tcp"
	"opendavinci/internal/shared"
	"opendavinci/internal/timesource"
	"opendavinci/internal/wire"
)

// Options configures a Supercomponent.
type Options struct {
	// Group is the multicast group used for discovery and the conference.
	Group          string
	DiscoveryPort  int
	ConnectionPort int
	ConferencePort int
	// DisableConference skips joining the conference.
	DisableConference bool
	// AdvertiseIP is the address modules are told to connect to.
	AdvertiseIP         string
	IgnoreModules       []string
	RegistrationTimeout time.Duration
	Configuration       keyvalue.Configuration
	// PulseInterval sends a Pulse on the conference; zero disables it.
	PulseInterval time.Duration
	Mirror        Mirror
	Metrics       prometheus.Registerer
	Clock         timesource.Clock
}

// Supercomponent wires the discovery server, connection server, registry
// and conference into one unit.
type Supercomponent struct {
	opts       Options
	logger     *slog.Logger
	registry   *Registry
	provider   *ConfigProvider
	server     *tcp.Server
	discovery  *discovery.Server
	conference *conference.Conference

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
}

// New binds the connection server and, unless disabled, joins the conference.
// Discovery is not answered until Start.
func New(opts Options, logger *slog.Logger) (*Supercomponent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = timesource.Default()
	}
	if opts.AdvertiseIP == "" {
		opts.AdvertiseIP = "127.0.0.1"
	}

	sc := &Supercomponent{
		opts:     opts,
		logger:   logger.With("component", "supercomponent"),
		provider: NewConfigProvider(opts.Configuration),
		done:     make(chan struct{}),
	}
	regOpts := []RegistryOption{
		WithClock(opts.Clock),
		WithRegistryMetrics(metric.NewRegistryMetrics(opts.Metrics)),
	}
	if opts.Mirror != nil {
		regOpts = append(regOpts, WithMirror(opts.Mirror))
	}
	sc.registry = NewRegistry(logger, regOpts...)

	info := shared.ServerInformation{IP: opts.AdvertiseIP, Port: uint16(opts.ConnectionPort)}
	server, err := tcp.NewServer(info, sc.provider, logger)
	if err != nil {
		return nil, err
	}
	server.SetConnectionHandler(NewLifecycleHandler(sc.registry, sc.provider, opts.RegistrationTimeout, logger))
	sc.server = server

	sc.discovery = discovery.NewServer(discovery.Config{
		Group:      opts.Group,
		Port:       opts.DiscoveryPort,
		IgnoreList: opts.IgnoreModules,
		Clock:      opts.Clock,
		Metrics:    metric.NewDiscoveryMetrics(opts.Metrics),
	}, server.Information(), logger)

	if !opts.DisableConference {
		conf, err := conference.New(opts.Group, opts.ConferencePort, opts.Clock, logger,
			conference.WithMetrics(metric.NewConferenceMetrics(opts.Metrics)))
		if err != nil {
			server.Close()
			return nil, err
		}
		conf.AddContainerListener(wire.ContainerListenerFunc(sc.observe))
		sc.conference = conf
	}
	return sc, nil
}

// Registry returns the module registry.
func (sc *Supercomponent) Registry() *Registry { return sc.registry }

// ConfigProvider returns the configuration provider.
func (sc *Supercomponent) ConfigProvider() *ConfigProvider { return sc.provider }

// Information returns the address modules connect to.
func (sc *Supercomponent) Information() shared.ServerInformation {
	return sc.server.Information()
}

// Discovery returns the discovery server.
func (sc *Supercomponent) Discovery() *discovery.Server { return sc.discovery }

// Conference returns the joined conference, or nil when disabled.
func (sc *Supercomponent) Conference() *conference.Conference { return sc.conference }

// Start answers discovery and starts the pulse.
func (sc *Supercomponent) Start() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.started {
		return nil
	}
	if err := sc.discovery.StartResponding(); err != nil {
		return err
	}
	if sc.conference != nil && sc.opts.PulseInterval > 0 {
		sc.wg.Add(1)
		go sc.pulse(sc.opts.PulseInterval)
	}
	sc.started = true
	sc.logger.Info("supercomponent_started",
		"server", sc.server.Information().String(),
		"group", sc.opts.Group,
		"discovery_port", sc.opts.DiscoveryPort,
	)
	return nil
}

// observe records statistics modules publish on the conference
func (sc *Supercomponent) observe(c wire.Container) {
	if c.Type != data.RuntimeStatisticType {
		return
	}
	var stat data.RuntimeStatistic
	if err := c.DecodeInto(&stat); err != nil {
		sc.logger.Debug("invalid_statistic", "error", err)
		return
	}
	key := data.ModuleDescriptor{Name: stat.Name, Identifier: stat.Identifier}.Key()
	_ = sc.registry.RecordStatistic(key, stat)
}

func (sc *Supercomponent) pulse(interval time.Duration) {
	defer sc.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-sc.done:
			return
		case <-ticker.C:
			seq++
			p := &data.Pulse{Sequence: seq, Nominal: interval.Microseconds()}
			if err := sc.conference.SendPayload(p); err != nil {
				sc.logger.Warn("pulse_send_failed", "sequence", seq, "error", err)
			}
		}
	}
}

// Stop shuts everything down in reverse order. Safe to call more than once.
func (sc *Supercomponent) Stop() {
	sc.stopOnce.Do(func() {
		close(sc.done)
		sc.wg.Wait()

		sc.discovery.StopResponding()
		sc.server.Close()
		sc.registry.CloseAll()
		if sc.conference != nil {
			if err := sc.conference.Close(); err != nil {
				sc.logger.Warn("conference_close_error", "error", err)
			}
		}
		sc.logger.Info("supercomponent_stopped")
	})
}
