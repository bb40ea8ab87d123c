// Package discovery lets modules find the supercomponent. Modules multicast a
// DISCOVER datagram; the supercomponent answers with the address of its
// connection server and the identity the module should use.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"

	"opendavinci/internal/shared"
)

// MessageType tags a discovery datagram
type MessageType string

const (
	MessageDiscover MessageType = "DISCOVER"
	MessageResponse MessageType = "RESPONSE"
)

// DiscoverMessage is the JSON body of every discovery datagram.
type DiscoverMessage struct {
	Type       MessageType               `json:"type"`
	Module     string                    `json:"module"`
	Identifier string                    `json:"identifier,omitempty"`
	ReplyPort  int                       `json:"reply_port,omitempty"`
	Server     *shared.ServerInformation `json:"server,omitempty"`
}

// ToJSON converts the message to JSON bytes
func (m *DiscoverMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ParseDiscoverMessage parses and validates a datagram.
func ParseDiscoverMessage(data []byte) (*DiscoverMessage, error) {
	var msg DiscoverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, shared.NewProtocolError("discovery", err, "invalid json")
	}
	switch msg.Type {
	case MessageDiscover:
	case MessageResponse:
		if msg.Server == nil || msg.Server.Port == 0 {
			return nil, shared.NewProtocolError("discovery", errors.New("response without server"), "")
		}
	default:
		return nil, shared.NewProtocolError("discovery", fmt.Errorf("unknown message type %q", msg.Type), "")
	}
	if msg.Module == "" {
		return nil, shared.NewProtocolError("discovery", errors.New("module name required"), "")
	}
	return &msg, nil
}
