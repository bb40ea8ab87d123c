// Package supercomponent is the central coordinator. It answers discovery,
// accepts module connections, tracks every module through its lifecycle and
// hands each one its configuration.
package supercomponent

import (
	"fmt"
	"io"
	"sync"
	"time"

	"opendavinci/internal/data"
	"opendavinci/internal/shared"
)

// ConnectedModule is one live module session. It owns the connection: closing
// the module closes the connection, exactly once.
type ConnectedModule struct {
	Descriptor  data.ModuleDescriptor
	ConnectedAt time.Time

	conn      io.Closer
	closeOnce sync.Once
	closeErr  error

	mu          sync.Mutex
	state       data.ModuleState
	exitCode    data.ExitCode
	hasExitCode bool
	updatedAt   time.Time
	statistic   *data.RuntimeStatistic
}

// NewConnectedModule creates a module in NOT_YET_RUNNING that owns conn.
func NewConnectedModule(desc data.ModuleDescriptor, conn io.Closer, now time.Time) *ConnectedModule {
	return &ConnectedModule{
		Descriptor:  desc,
		ConnectedAt: now,
		conn:        conn,
		state:       data.StateNotYetRunning,
		updatedAt:   now,
	}
}

// Key is the registry key of the module.
func (m *ConnectedModule) Key() string {
	return m.Descriptor.Key()
}

func (m *ConnectedModule) State() data.ModuleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HasExitCode reports whether the module has communicated an exit code. Once
// true it stays true.
func (m *ConnectedModule) HasExitCode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasExitCode
}

func (m *ConnectedModule) ExitCode() data.ExitCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode
}

// SetExitCode records code. The first recorded code wins; later calls return
// false and change nothing.
func (m *ConnectedModule) SetExitCode(code data.ExitCode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasExitCode {
		return false
	}
	m.exitCode = code
	m.hasExitCode = true
	return true
}

// transition moves the module forward to next. Equal states are a no-op;
// moving backwards, including anything out of EXITED, fails.
func (m *ConnectedModule) transition(next data.ModuleState, now time.Time) (data.ModuleState, error) {
	if !next.Valid() {
		return 0, fmt.Errorf("state %d: %w", int(next), shared.ErrInvalidTransition)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	if next < prev {
		return prev, fmt.Errorf("%s: %s -> %s: %w", m.Key(), prev, next, shared.ErrInvalidTransition)
	}
	m.state = next
	m.updatedAt = now
	return prev, nil
}

func (m *ConnectedModule) recordStatistic(s data.RuntimeStatistic, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statistic = &s
	m.updatedAt = now
}

// Close closes the owned connection. Only the first call reaches it.
func (m *ConnectedModule) Close() error {
	m.closeOnce.Do(func() {
		if m.conn != nil {
			m.closeErr = m.conn.Close()
		}
	})
	return m.closeErr
}

// ModuleInfo is a point-in-time copy of a ConnectedModule.
type ModuleInfo struct {
	Key              string           `json:"key"`
	Name             string           `json:"name"`
	Identifier       string           `json:"identifier,omitempty"`
	Version          string           `json:"version,omitempty"`
	State            data.ModuleState `json:"state"`
	HasExitCode      bool             `json:"has_exit_code"`
	ExitCode         *data.ExitCode   `json:"exit_code,omitempty"`
	ConnectedAt      time.Time        `json:"connected_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	SliceConsumption *float64         `json:"slice_consumption,omitempty"`
}

// Info returns a snapshot of the module.
func (m *ConnectedModule) Info() ModuleInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := ModuleInfo{
		Key:         m.Descriptor.Key(),
		Name:        m.Descriptor.Name,
		Identifier:  m.Descriptor.Identifier,
		Version:     m.Descriptor.Version,
		State:       m.state,
		HasExitCode: m.hasExitCode,
		ConnectedAt: m.ConnectedAt,
		UpdatedAt:   m.updatedAt,
	}
	if m.hasExitCode {
		code := m.exitCode
		info.ExitCode = &code
	}
	if m.statistic != nil {
		sc := m.statistic.SliceConsumption
		info.SliceConsumption = &sc
	}
	return info
}
