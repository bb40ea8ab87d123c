package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opendavinci/internal/shared"
	"opendavinci/internal/timesource"
)

type heartbeat struct {
	Seq  int    `json:"seq"`
	Name string `json:"name"`
}

func (heartbeat) DataType() DataType { return 900 }

func TestContainer_SerializeRoundTrip(t *testing.T) {
	c := Container{
		Type:     17,
		Payload:  []byte("payload bytes"),
		Sent:     timesource.TimeStamp(1_700_000_000_000_001),
		Received: timesource.TimeStamp(1_700_000_000_000_999),
	}

	b := Serialize(c)
	assert.Equal(t, c.Size(), len(b))

	back, err := Deserialize(b)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestContainer_DeserializeErrors(t *testing.T) {
	b := Serialize(Container{Type: 1, Payload: []byte("abc")})

	_, err := Deserialize(b[:10])
	assert.ErrorIs(t, err, shared.ErrTruncated)

	_, err = Deserialize(b[:len(b)-1])
	assert.ErrorIs(t, err, shared.ErrTruncated)

	bad := append([]byte{}, b...)
	bad[0] = 0x00
	_, err = Deserialize(bad)
	assert.ErrorIs(t, err, shared.ErrBadMagic)
	assert.True(t, shared.IsProtocolError(err))
}

func TestRegistry_Decode(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(900, "test.Heartbeat", func() Payload { return &heartbeat{} }))
	assert.Error(t, reg.Register(900, "dup", func() Payload { return &heartbeat{} }))

	c, err := NewContainer(heartbeat{Seq: 3, Name: "hb"})
	require.NoError(t, err)
	assert.Equal(t, DataType(900), c.Type)

	back, err := Deserialize(Serialize(c))
	require.NoError(t, err)

	p, err := reg.Decode(back)
	require.NoError(t, err)
	assert.Equal(t, &heartbeat{Seq: 3, Name: "hb"}, p)

	name, ok := reg.Name(900)
	assert.True(t, ok)
	assert.Equal(t, "test.Heartbeat", name)
	assert.Equal(t, []DataType{900}, reg.Types())

	_, err = reg.Decode(Container{Type: 5})
	assert.ErrorIs(t, err, shared.ErrUnknownType)
}

func TestContainer_DecodeIntoTypeMismatch(t *testing.T) {
	var hb heartbeat
	err := Container{Type: 1, Payload: []byte(`{}`)}.DecodeInto(&hb)
	assert.Error(t, err)

	err = Container{Type: 900, Payload: []byte(`{not json`)}.DecodeInto(&hb)
	assert.True(t, shared.IsProtocolError(err))
}
