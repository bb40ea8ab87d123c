// Package metric holds the prometheus collectors of the runtime. Every
// constructor accepts a nil registerer and then returns nil metrics, and every
// method is safe on a nil receiver, so components do not need to check.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "opendavinci"

// NewRegistry returns a private registry with the Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ConferenceMetrics counts container traffic on one conference.
type ConferenceMetrics struct {
	sent     prometheus.Counter
	received prometheus.Counter
	dropped  *prometheus.CounterVec
}

// NewConferenceMetrics registers conference counters on reg.
func NewConferenceMetrics(reg prometheus.Registerer) *ConferenceMetrics {
	if reg == nil {
		return nil
	}
	m := &ConferenceMetrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conference",
			Name:      "containers_sent_total",
			Help:      "Containers sent to the conference",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conference",
			Name:      "containers_received_total",
			Help:      "Containers received and dispatched",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conference",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped, by reason",
		}, []string{"reason"}),
	}
	registerOrReuse(reg, &m.sent, &m.received)
	if err := reg.Register(m.dropped); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.dropped = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return m
}

func (m *ConferenceMetrics) Sent() {
	if m != nil {
		m.sent.Inc()
	}
}

func (m *ConferenceMetrics) Received() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *ConferenceMetrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

// DiscoveryMetrics counts discovery requests.
type DiscoveryMetrics struct {
	requests  prometheus.Counter
	ignored   prometheus.Counter
	responses prometheus.Counter
}

// NewDiscoveryMetrics registers discovery counters on reg.
func NewDiscoveryMetrics(reg prometheus.Registerer) *DiscoveryMetrics {
	if reg == nil {
		return nil
	}
	m := &DiscoveryMetrics{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "requests_total",
			Help:      "Discovery requests received",
		}),
		ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "ignored_total",
			Help:      "Requests from ignored modules",
		}),
		responses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "responses_total",
			Help:      "Responses sent",
		}),
	}
	registerOrReuse(reg, &m.requests, &m.ignored, &m.responses)
	return m
}

func (m *DiscoveryMetrics) Request() {
	if m != nil {
		m.requests.Inc()
	}
}

func (m *DiscoveryMetrics) Ignored() {
	if m != nil {
		m.ignored.Inc()
	}
}

func (m *DiscoveryMetrics) Response() {
	if m != nil {
		m.responses.Inc()
	}
}

// RegistryMetrics tracks the module registry.
type RegistryMetrics struct {
	modules     *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

// NewRegistryMetrics registers registry collectors on reg.
func NewRegistryMetrics(reg prometheus.Registerer) *RegistryMetrics {
	if reg == nil {
		return nil
	}
	m := &RegistryMetrics{
		modules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "modules",
			Help:      "Registered modules by lifecycle state",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions applied",
		}, []string{"to"}),
	}
	if err := reg.Register(m.modules); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.modules = are.ExistingCollector.(*prometheus.GaugeVec)
		}
	}
	if err := reg.Register(m.transitions); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.transitions = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return m
}

// Transition moves one module from one state gauge to another. from may be
// empty for a new module and to may be empty for a removed one.
func (m *RegistryMetrics) Transition(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.modules.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.modules.WithLabelValues(to).Inc()
		m.transitions.WithLabelValues(to).Inc()
	}
}

// registerOrReuse registers counters, swapping in the existing collector when
// the same metric was registered by an earlier instance
func registerOrReuse(reg prometheus.Registerer, counters ...*prometheus.Counter) {
	for _, c := range counters {
		if err := reg.Register(*c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				*c = are.ExistingCollector.(prometheus.Counter)
			}
		}
	}
}
