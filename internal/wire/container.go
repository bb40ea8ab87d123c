package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"opendavinci/internal/shared"
	"opendavinci/internal/timesource"
)

// DataType identifies the schema of a container payload.
type DataType uint32

const (
	magic0 = 0xA4
	magic1 = 0x0D

	// headerSize is magic + type + sent + received + payload length
	headerSize = 2 + 4 + 8 + 8 + 4
)

// Container is the unit of inter-module exchange. The transport stamps Sent
// immediately before transmission and Received after successful
// deserialization; producers leave both at zero.
type Container struct {
	Type     DataType
	Payload  []byte
	Sent     timesource.TimeStamp
	Received timesource.TimeStamp
}

// Payload is implemented by every typed container payload.
type Payload interface {
	DataType() DataType
}

// NewContainer encodes p as JSON into a fresh container tagged with p's type.
func NewContainer(p Payload) (Container, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Container{}, fmt.Errorf("failed to encode payload type %d: %w", p.DataType(), err)
	}
	return Container{Type: p.DataType(), Payload: data}, nil
}

// DecodeInto decodes c's payload into p after checking the type tag.
func (c Container) DecodeInto(p Payload) error {
	if c.Type != p.DataType() {
		return fmt.Errorf("container type %d does not match payload type %d", c.Type, p.DataType())
	}
	if err := json.Unmarshal(c.Payload, p); err != nil {
		return shared.NewProtocolError("container", err, fmt.Sprintf("type %d", c.Type))
	}
	return nil
}

// Size returns the serialized length of c.
func (c Container) Size() int {
	return headerSize + len(c.Payload)
}

// Serialize returns the binary form of c.
func Serialize(c Container) []byte {
	buf := make([]byte, c.Size())
	buf[0], buf[1] = magic0, magic1
	binary.BigEndian.PutUint32(buf[2:6], uint32(c.Type))
	binary.BigEndian.PutUint64(buf[6:14], uint64(c.Sent))
	binary.BigEndian.PutUint64(buf[14:22], uint64(c.Received))
	binary.BigEndian.PutUint32(buf[22:26], uint32(len(c.Payload)))
	copy(buf[headerSize:], c.Payload)
	return buf
}

// Deserialize parses the binary form produced by Serialize. Trailing bytes
// beyond the declared payload length are rejected.
func Deserialize(b []byte) (Container, error) {
	if len(b) < headerSize {
		return Container{}, shared.NewProtocolError("container", shared.ErrTruncated,
			fmt.Sprintf("%d bytes, need at least %d", len(b), headerSize))
	}
	if b[0] != magic0 || b[1] != magic1 {
		return Container{}, shared.NewProtocolError("container", shared.ErrBadMagic,
			fmt.Sprintf("got %#02x %#02x", b[0], b[1]))
	}
	n := int(binary.BigEndian.Uint32(b[22:26]))
	if len(b)-headerSize != n {
		return Container{}, shared.NewProtocolError("container", shared.ErrTruncated,
			fmt.Sprintf("declared %d payload bytes, have %d", n, len(b)-headerSize))
	}
	c := Container{
		Type:     DataType(binary.BigEndian.Uint32(b[2:6])),
		Sent:     timesource.TimeStamp(int64(binary.BigEndian.Uint64(b[6:14]))),
		Received: timesource.TimeStamp(int64(binary.BigEndian.Uint64(b[14:22]))),
		Payload:  make([]byte, n),
	}
	copy(c.Payload, b[headerSize:])
	return c, nil
}
