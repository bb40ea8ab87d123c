package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupError_Unwrap(t *testing.T) {
	base := errors.New("address already in use")
	err := fmt.Errorf("start: %w", NewSetupError("tcp-acceptor", "listen", base))

	assert.True(t, IsSetupError(err))
	assert.False(t, IsProtocolError(err))
	assert.ErrorIs(t, err, base)

	var se *SetupError
	if assert.ErrorAs(t, err, &se) {
		assert.Equal(t, "tcp-acceptor", se.Component)
		assert.Contains(t, se.Error(), "listen")
	}
}

func TestProtocolError_Sentinel(t *testing.T) {
	err := NewProtocolError("netstring", ErrMalformedLength, `"ab:"`)

	assert.True(t, IsProtocolError(err))
	assert.ErrorIs(t, err, ErrMalformedLength)
	assert.Contains(t, err.Error(), "ab:")
}

func TestServerInformation_Address(t *testing.T) {
	s := ServerInformation{IP: "10.0.0.1", Port: 19866}
	assert.Equal(t, "10.0.0.1:19866", s.Address())
}
