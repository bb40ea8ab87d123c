package shared

import "fmt"

// shared types across the runtime
// ServerInformation is handed out by discovery and names the connection server
// that a module dials after it has been discovered

type ServerInformation struct {
	IP   string `json:"ip"`   // address of the supercomponent's connection server
	Port uint16 `json:"port"` // TCP port of the connection server
}

// Address returns host:port for dialing.
func (s ServerInformation) Address() string {
	return fmt.Sprintf("%s:%d", s.IP, s.Port)
}

func (s ServerInformation) String() string {
	return s.Address()
}
