package wire

import (
	"bytes"
	"fmt"
	"strconv"

	"opendavinci/internal/shared"
)

// maxLengthDigits bounds how long we wait for ':' before calling the prefix
// malformed.
const maxLengthDigits = 10

// Netstring frames payloads as "<decimal length>:<payload>,". Max bounds the
// payload; zero means MaxStreamFrameSize.
type Netstring struct {
	Max int
}

func (f Netstring) max() int {
	if f.Max <= 0 {
		return MaxStreamFrameSize
	}
	return f.Max
}

// Frame encodes payload as a netstring.
func (f Netstring) Frame(payload []byte) ([]byte, error) {
	if len(payload) > f.max() {
		return nil, fmt.Errorf("netstring payload of %d bytes exceeds %d: %w",
			len(payload), f.max(), shared.ErrPayloadTooLarge)
	}
	return EncodeNetstring(payload), nil
}

func (f Netstring) NewDecoder(l StringListener) Decoder {
	return NewNetstringDecoder(l, f.max())
}

// EncodeNetstring returns "<len>:<payload>,".
func EncodeNetstring(payload []byte) []byte {
	header := strconv.Itoa(len(payload))
	out := make([]byte, 0, len(header)+len(payload)+2)
	out = append(out, header...)
	out = append(out, ':')
	out = append(out, payload...)
	return append(out, ',')
}

// NetstringDecoder is a streaming netstring parser.
type NetstringDecoder struct {
	listener StringListener
	max      int
	buf      []byte
	skip     int
}

// NewNetstringDecoder creates a parser delivering complete strings to l.
func NewNetstringDecoder(l StringListener, max int) *NetstringDecoder {
	if max <= 0 {
		max = MaxStreamFrameSize
	}
	return &NetstringDecoder{listener: l, max: max}
}

// Feed appends chunk and delivers every complete netstring in order.
//
// Incomplete trailing frames stay buffered for the next call. A frame with a
// parseable length but a wrong terminator is dropped and parsing resumes
// right after it. A non-numeric length cannot be resynchronised, so the
// buffer is cleared.
func (d *NetstringDecoder) Feed(chunk []byte) error {
	if d.skip > 0 {
		n := min(d.skip, len(chunk))
		d.skip -= n
		chunk = chunk[n:]
	}
	d.buf = append(d.buf, chunk...)

	var firstErr error
	consumed := 0
	for consumed < len(d.buf) {
		rest := d.buf[consumed:]
		colon := bytes.IndexByte(rest, ':')
		if colon < 0 {
			if len(rest) > maxLengthDigits || !allDigits(rest) {
				err := shared.NewProtocolError("netstring", shared.ErrMalformedLength, quote(rest))
				d.Reset()
				return firstOf(firstErr, err)
			}
			break
		}
		if colon == 0 || colon > maxLengthDigits || !allDigits(rest[:colon]) {
			err := shared.NewProtocolError("netstring", shared.ErrMalformedLength, quote(rest[:colon+1]))
			d.Reset()
			return firstOf(firstErr, err)
		}
		n, err := strconv.Atoi(string(rest[:colon]))
		if err != nil {
			d.Reset()
			return firstOf(firstErr, shared.NewProtocolError("netstring", shared.ErrMalformedLength, err.Error()))
		}
		total := colon + 1 + n + 1
		if n > d.max {
			firstErr = firstOf(firstErr, shared.NewProtocolError("netstring", shared.ErrPayloadTooLarge,
				fmt.Sprintf("declared %d bytes, max %d", n, d.max)))
			if len(rest) >= total {
				consumed += total
				continue
			}
			d.skip = total - len(rest)
			consumed = len(d.buf)
			break
		}
		if len(rest) < total {
			break
		}
		if rest[total-1] != ',' {
			firstErr = firstOf(firstErr, shared.NewProtocolError("netstring", shared.ErrMissingTerminator,
				fmt.Sprintf("got %q after %d bytes", rest[total-1], n)))
			consumed += total
			continue
		}
		frame := string(rest[colon+1 : colon+1+n])
		consumed += total
		if d.listener != nil {
			d.listener.NextString(frame)
		}
	}
	d.compact(consumed)
	return firstErr
}

func (d *NetstringDecoder) compact(consumed int) {
	if consumed == 0 {
		return
	}
	remaining := copy(d.buf, d.buf[consumed:])
	d.buf = d.buf[:remaining]
}

// Buffered returns the number of bytes held for incomplete frames.
func (d *NetstringDecoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any buffered bytes.
func (d *NetstringDecoder) Reset() {
	d.buf = d.buf[:0]
	d.skip = 0
}

func allDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func quote(b []byte) string {
	if len(b) > 16 {
		b = b[:16]
	}
	return strconv.Quote(string(b))
}

func firstOf(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
