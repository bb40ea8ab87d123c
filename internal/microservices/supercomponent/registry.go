package supercomponent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"opendavinci/internal/data"
	"opendavinci/internal/metric"
	"opendavinci/internal/shared"
	"opendavinci/internal/timesource"
)

// Mirror receives a copy of every registry change. Implementations must not
// call back into the registry.
type Mirror interface {
	Save(ctx context.Context, info ModuleInfo) error
	Remove(ctx context.Context, key string) error
}

// EventKind names a registry change.
type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventState      EventKind = "state"
	EventExitCode   EventKind = "exit_code"
	EventRemoved    EventKind = "removed"
)

// ModuleEvent is one registry change.
type ModuleEvent struct {
	Kind EventKind  `json:"kind"`
	Info ModuleInfo `json:"module"`
}

// Observer is told about every registry change, outside the registry lock.
type Observer interface {
	ModuleChanged(ev ModuleEvent)
}

// mirrorTimeout bounds each mirror write
const mirrorTimeout = 2 * time.Second

// Registry holds every live module keyed by module identifier. All
// insertions, updates and removals serialize on one lock.
type Registry struct {
	mu      sync.Mutex
	modules map[string]*ConnectedModule

	clock   timesource.Clock
	logger  *slog.Logger
	metrics *metric.RegistryMetrics
	mirror  Mirror

	observerMu sync.RWMutex
	observers  []Observer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMirror copies every change to m.
func WithMirror(m Mirror) RegistryOption {
	return func(r *Registry) { r.mirror = m }
}

// WithObserver registers o for every change.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

// WithRegistryMetrics tracks module counts on m.
func WithRegistryMetrics(m *metric.RegistryMetrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithClock sets the clock used for update timestamps.
func WithClock(c timesource.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		modules: make(map[string]*ConnectedModule),
		clock:   timesource.Default(),
		logger:  logger.With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddObserver registers o for every later change.
func (r *Registry) AddObserver(o Observer) {
	r.observerMu.Lock()
	defer r.observerMu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) notify(kind EventKind, info ModuleInfo) {
	r.observerMu.RLock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.observerMu.RUnlock()

	for _, o := range observers {
		o.ModuleChanged(ModuleEvent{Kind: kind, Info: info})
	}
}

func (r *Registry) now() time.Time {
	return r.clock.Now().Time()
}

// Add registers m. A live module with the same key makes Add fail.
func (r *Registry) Add(m *ConnectedModule) error {
	key := m.Key()

	r.mu.Lock()
	if _, exists := r.modules[key]; exists {
		r.mu.Unlock()
		return fmt.Errorf("module %s: %w", key, shared.ErrDuplicateModule)
	}
	r.modules[key] = m
	count := len(r.modules)
	r.mu.Unlock()

	info := m.Info()
	r.metrics.Transition("", info.State.String())
	r.mirrorSave(info)
	r.notify(EventRegistered, info)
	r.logger.Info("module_registered",
		"module", key,
		"version", m.Descriptor.Version,
		"modules", count,
	)
	return nil
}

// UpdateState moves the module key to state. Unknown keys return
// ErrModuleNotFound; regressions return ErrInvalidTransition.
func (r *Registry) UpdateState(key string, state data.ModuleState) error {
	r.mu.Lock()
	m, ok := r.modules[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("module %s: %w", key, shared.ErrModuleNotFound)
	}
	prev, err := m.transition(state, r.now())
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if prev == state {
		return nil
	}

	info := m.Info()
	r.metrics.Transition(prev.String(), state.String())
	r.mirrorSave(info)
	r.notify(EventState, info)
	r.logger.Info("module_state_changed", "module", key, "from", prev.String(), "to", state.String())
	return nil
}

// SetExitCode records the exit code of module key.
func (r *Registry) SetExitCode(key string, code data.ExitCode) error {
	r.mu.Lock()
	m, ok := r.modules[key]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("module %s: %w", key, shared.ErrModuleNotFound)
	}
	if m.SetExitCode(code) {
		info := m.Info()
		r.mirrorSave(info)
		r.notify(EventExitCode, info)
		r.logger.Info("module_exit_code", "module", key, "exit_code", code.String())
	}
	return nil
}

// RecordStatistic stores the latest runtime statistic for module key.
func (r *Registry) RecordStatistic(key string, s data.RuntimeStatistic) error {
	r.mu.Lock()
	m, ok := r.modules[key]
	if ok {
		m.recordStatistic(s, r.now())
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("module %s: %w", key, shared.ErrModuleNotFound)
	}
	return nil
}

// Remove unregisters module key and closes its connection.
func (r *Registry) Remove(key string) error {
	m, err := r.detach(key)
	if err != nil {
		return err
	}
	r.metrics.Transition(m.State().String(), "")
	r.release(m, "module_removed")
	return nil
}

// MarkLost forces module key to EXITED, removes it and closes its connection.
// It is the path taken when a connection disappears.
func (r *Registry) MarkLost(key string) (ModuleInfo, error) {
	r.mu.Lock()
	m, ok := r.modules[key]
	if !ok {
		r.mu.Unlock()
		return ModuleInfo{}, fmt.Errorf("module %s: %w", key, shared.ErrModuleNotFound)
	}
	prev, _ := m.transition(data.StateExited, r.now())
	delete(r.modules, key)
	r.mu.Unlock()

	r.metrics.Transition(prev.String(), "")
	info := m.Info()
	r.logger.Warn("module_lost", "module", key, "last_state", prev.String())
	r.release(m, "module_removed")
	return info, nil
}

func (r *Registry) detach(key string) (*ConnectedModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[key]
	if !ok {
		return nil, fmt.Errorf("module %s: %w", key, shared.ErrModuleNotFound)
	}
	delete(r.modules, key)
	return m, nil
}

func (r *Registry) release(m *ConnectedModule, event string) {
	if err := m.Close(); err != nil {
		r.logger.Debug("module_close_error", "module", m.Key(), "error", err)
	}
	r.mirrorRemove(m.Key())
	r.notify(EventRemoved, m.Info())
	r.logger.Info(event, "module", m.Key(), "state", m.State().String())
}

// Get returns a snapshot of module key.
func (r *Registry) Get(key string) (ModuleInfo, bool) {
	r.mu.Lock()
	m, ok := r.modules[key]
	r.mu.Unlock()
	if !ok {
		return ModuleInfo{}, false
	}
	return m.Info(), true
}

// Snapshot returns a copy of every module sorted by key.
func (r *Registry) Snapshot() []ModuleInfo {
	r.mu.Lock()
	modules := make([]*ConnectedModule, 0, len(r.modules))
	for _, m := range r.modules {
		modules = append(modules, m)
	}
	r.mu.Unlock()

	out := make([]ModuleInfo, 0, len(modules))
	for _, m := range modules {
		out = append(out, m.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of live modules
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modules)
}

// CloseAll removes every module and closes its connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	modules := r.modules
	r.modules = make(map[string]*ConnectedModule)
	r.mu.Unlock()

	for _, m := range modules {
		r.metrics.Transition(m.State().String(), "")
		r.release(m, "module_connection_closed")
	}
}

func (r *Registry) mirrorSave(info ModuleInfo) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := r.mirror.Save(ctx, info); err != nil {
		r.logger.Warn("mirror_save_failed", "module", info.Key, "error", err)
	}
}

func (r *Registry) mirrorRemove(key string) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := r.mirror.Remove(ctx, key); err != nil {
		r.logger.Warn("mirror_remove_failed", "module", key, "error", err)
	}
}
