// Package data defines the typed payloads exchanged between modules and the
// supercomponent.
package data

import (
	"fmt"
	"strings"

	"opendavinci/internal/wire"
)

// Data types of the core payloads. Application payloads start at 1000.
const (
	ModuleDescriptorType     wire.DataType = 1
	ModuleStateMessageType   wire.DataType = 2
	ConfigurationMessageType wire.DataType = 3
	RuntimeStatisticType     wire.DataType = 4
	PulseType                wire.DataType = 5
)

// ModuleState is the lifecycle phase of a connected module. States are
// ordered; a module only ever moves forward.
type ModuleState int

const (
	StateNotYetRunning ModuleState = iota
	StateRunning
	StateExiting
	StateExited
)

var stateNames = map[ModuleState]string{
	StateNotYetRunning: "NOT_YET_RUNNING",
	StateRunning:       "RUNNING",
	StateExiting:       "EXITING",
	StateExited:        "EXITED",
}

func (s ModuleState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ModuleState(%d)", int(s))
}

// Valid reports whether s is one of the defined states.
func (s ModuleState) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s ModuleState) Terminal() bool {
	return s == StateExited
}

func (s ModuleState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid module state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *ModuleState) UnmarshalText(b []byte) error {
	parsed, err := ParseModuleState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseModuleState parses the name produced by String.
func ParseModuleState(name string) (ModuleState, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown module state %q", name)
}

// ExitCode is what a module reports when it terminates.
type ExitCode int

const (
	ExitOkay ExitCode = iota
	ExitExceptionCaught
	ExitSeriousError
	ExitConnectionLost
	ExitNoSupercomponent
)

func (c ExitCode) String() string {
	switch c {
	case ExitOkay:
		return "OKAY"
	case ExitExceptionCaught:
		return "EXCEPTION_CAUGHT"
	case ExitSeriousError:
		return "SERIOUS_ERROR"
	case ExitConnectionLost:
		return "CONNECTION_LOST"
	case ExitNoSupercomponent:
		return "NO_SUPERCOMPONENT"
	default:
		return fmt.Sprintf("ExitCode(%d)", int(c))
	}
}

// ModuleDescriptor is the first container a module sends on its connection.
type ModuleDescriptor struct {
	Name       string  `json:"name"`
	Identifier string  `json:"identifier,omitempty"`
	Version    string  `json:"version,omitempty"`
	Frequency  float64 `json:"frequency,omitempty"`
}

func (ModuleDescriptor) DataType() wire.DataType { return ModuleDescriptorType }

// Key returns "name" or "name:identifier", the registry key of the module.
func (d ModuleDescriptor) Key() string {
	if d.Identifier == "" {
		return d.Name
	}
	return d.Name + ":" + d.Identifier
}

// ModuleStateMessage reports a lifecycle change, optionally with an exit code.
type ModuleStateMessage struct {
	State       ModuleState `json:"state"`
	ExitCode    ExitCode    `json:"exit_code,omitempty"`
	HasExitCode bool        `json:"has_exit_code,omitempty"`
}

func (ModuleStateMessage) DataType() wire.DataType { return ModuleStateMessageType }

// ConfigurationMessage carries the configuration snapshot for one module.
type ConfigurationMessage struct {
	Values map[string]string `json:"values"`
}

func (ConfigurationMessage) DataType() wire.DataType { return ConfigurationMessageType }

// RuntimeStatistic is published on the conference by running modules.
type RuntimeStatistic struct {
	Name             string  `json:"name"`
	Identifier       string  `json:"identifier,omitempty"`
	SliceConsumption float64 `json:"slice_consumption"`
}

func (RuntimeStatistic) DataType() wire.DataType { return RuntimeStatisticType }

// Pulse is the supercomponent's periodic heartbeat on the conference.
type Pulse struct {
	Sequence uint64 `json:"sequence"`
	Nominal  int64  `json:"nominal_us"`
}

func (Pulse) DataType() wire.DataType { return PulseType }

// NewRegistry returns a payload registry with every core type registered.
func NewRegistry() *wire.Registry {
	reg := wire.NewRegistry()
	must(reg.Register(ModuleDescriptorType, "core.ModuleDescriptor", func() wire.Payload { return &ModuleDescriptor{} }))
	must(reg.Register(ModuleStateMessageType, "core.ModuleStateMessage", func() wire.Payload { return &ModuleStateMessage{} }))
	must(reg.Register(ConfigurationMessageType, "core.ConfigurationMessage", func() wire.Payload { return &ConfigurationMessage{} }))
	must(reg.Register(RuntimeStatisticType, "core.RuntimeStatistic", func() wire.Payload { return &RuntimeStatistic{} }))
	must(reg.Register(PulseType, "core.Pulse", func() wire.Payload { return &Pulse{} }))
	return reg
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
