package wire

import (
	"encoding/binary"
	"fmt"

	"opendavinci/internal/shared"
)

const (
	// LengthHeaderSize is the width of the length-prefix header.
	LengthHeaderSize = 4

	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507

	// MaxStreamFrameSize bounds frames on stream transports.
	MaxStreamFrameSize = 16 * 1024 * 1024
)

// LengthPrefixed frames payloads as a 4-byte big-endian length followed by
// the payload bytes. Max bounds the whole frame; zero means MaxDatagramSize.
type LengthPrefixed struct {
	Max int
}

func (f LengthPrefixed) max() int {
	if f.Max <= 0 {
		return MaxDatagramSize
	}
	return f.Max
}

// Frame prefixes payload with its length.
func (f LengthPrefixed) Frame(payload []byte) ([]byte, error) {
	if len(payload)+LengthHeaderSize > f.max() {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d: %w",
			len(payload)+LengthHeaderSize, f.max(), shared.ErrPayloadTooLarge)
	}
	out := make([]byte, LengthHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[LengthHeaderSize:], payload)
	return out, nil
}

func (f LengthPrefixed) NewDecoder(l StringListener) Decoder {
	return NewLengthPrefixDecoder(l, f.max())
}

// LengthPrefixDecoder reassembles length-prefixed frames from a byte stream.
type LengthPrefixDecoder struct {
	listener StringListener
	max      int
	buf      []byte
	skip     int // bytes of an oversized frame still to discard
}

// NewLengthPrefixDecoder creates a decoder delivering to l. Frames whose
// declared length exceeds max are discarded.
func NewLengthPrefixDecoder(l StringListener, max int) *LengthPrefixDecoder {
	if max <= 0 {
		max = MaxDatagramSize
	}
	return &LengthPrefixDecoder{listener: l, max: max}
}

// Feed appends chunk and delivers every complete frame. An oversized frame is
// reported once and skipped; the frames after it are still delivered.
func (d *LengthPrefixDecoder) Feed(chunk []byte) error {
	if d.skip > 0 {
		n := min(d.skip, len(chunk))
		d.skip -= n
		chunk = chunk[n:]
	}
	d.buf = append(d.buf, chunk...)

	var firstErr error
	consumed := 0
	for {
		rest := d.buf[consumed:]
		if len(rest) < LengthHeaderSize {
			break
		}
		n := int(binary.BigEndian.Uint32(rest[:LengthHeaderSize]))
		if n+LengthHeaderSize > d.max {
			if firstErr == nil {
				firstErr = shared.NewProtocolError("length-prefix", shared.ErrPayloadTooLarge,
					fmt.Sprintf("declared %d bytes, max %d", n, d.max-LengthHeaderSize))
			}
			avail := len(rest) - LengthHeaderSize
			if avail >= n {
				consumed += LengthHeaderSize + n
				continue
			}
			d.skip = n - avail
			consumed = len(d.buf)
			break
		}
		if len(rest) < LengthHeaderSize+n {
			break
		}
		frame := string(rest[LengthHeaderSize : LengthHeaderSize+n])
		consumed += LengthHeaderSize + n
		if d.listener != nil {
			d.listener.NextString(frame)
		}
	}
	d.compact(consumed)
	return firstErr
}

func (d *LengthPrefixDecoder) compact(consumed int) {
	if consumed == 0 {
		return
	}
	remaining := copy(d.buf, d.buf[consumed:])
	d.buf = d.buf[:remaining]
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *LengthPrefixDecoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any buffered bytes.
func (d *LengthPrefixDecoder) Reset() {
	d.buf = d.buf[:0]
	d.skip = 0
}
