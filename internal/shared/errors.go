package shared

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the runtime packages
var (
	ErrPayloadTooLarge    = errors.New("payload exceeds maximum transport size")
	ErrMalformedLength    = errors.New("malformed length prefix")
	ErrMissingTerminator  = errors.New("missing netstring terminator")
	ErrUnknownType        = errors.New("unknown payload type")
	ErrInvalidTransition  = errors.New("invalid lifecycle transition")
	ErrDuplicateModule    = errors.New("module already registered")
	ErrModuleNotFound     = errors.New("module not found")
	ErrClosed             = errors.New("use of closed component")
	ErrRegistrationFailed = errors.New("module registration failed")
	ErrBadMagic           = errors.New("bad container magic")
	ErrTruncated          = errors.New("truncated container")
)

// SetupError reports that a component could not be constructed, e.g. a socket
// could not be bound. It is never retried by the component itself.
type SetupError struct {
	Component string // e.g. "tcp-acceptor", "conference", "discovery"
	Op        string
	Err       error
}

func (e *SetupError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: setup failed: %v", e.Component, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Op, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// NewSetupError wraps err as a SetupError for component.
func NewSetupError(component, op string, err error) error {
	return &SetupError{Component: component, Op: op, Err: err}
}

// ProtocolError reports a framing or decoding failure detected on the wire.
type ProtocolError struct {
	Component string
	Err       error
	Detail    string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: protocol error: %v", e.Component, e.Err)
	}
	return fmt.Sprintf("%s: protocol error: %v (%s)", e.Component, e.Err, e.Detail)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError wraps err as a ProtocolError.
func NewProtocolError(component string, err error, detail string) error {
	return &ProtocolError{Component: component, Err: err, Detail: detail}
}

// IsSetupError reports whether err (or anything it wraps) is a SetupError.
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}

// IsProtocolError reports whether err (or anything it wraps) is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
