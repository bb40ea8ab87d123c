package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"opendavinci/internal/microservices/supercomponent"
)

// Event protocol pushed to status clients

type EventType string

const (
	TypeSnapshot EventType = "snapshot" // full module list, sent once on connect
	TypeModule   EventType = "module"   // one registry change
)

// Event is one message on the module feed.
type Event struct {
	Type      EventType                   `json:"type"`
	Kind      supercomponent.EventKind    `json:"kind,omitempty"`
	Module    *supercomponent.ModuleInfo  `json:"module,omitempty"`
	Modules   []supercomponent.ModuleInfo `json:"modules,omitempty"`
	Timestamp time.Time                   `json:"timestamp"`
}

// NewSnapshotEvent wraps the current module list.
func NewSnapshotEvent(modules []supercomponent.ModuleInfo, now time.Time) *Event {
	if modules == nil {
		modules = []supercomponent.ModuleInfo{}
	}
	return &Event{Type: TypeSnapshot, Modules: modules, Timestamp: now.UTC()}
}

// NewModuleEvent wraps one registry change.
func NewModuleEvent(ev supercomponent.ModuleEvent, now time.Time) *Event {
	info := ev.Info
	return &Event{Type: TypeModule, Kind: ev.Kind, Module: &info, Timestamp: now.UTC()}
}

func (e *Event) ToJSON() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return b, nil
}

// EventFromJSON parses one feed message.
func EventFromJSON(b []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	switch ev.Type {
	case TypeSnapshot, TypeModule:
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return &ev, nil
}
