package protocol

import "errors"

var (
	ErrInvalidVLQ = errors.New("invalid VLQ encoding")
	ErrTruncated  = errors.New("truncated VLQ data")
)

// vlqMaxBytes is the longest encoding of a 32-bit value
const vlqMaxBytes = 5

// AppendVLQ appends the Klipper VLQ encoding of v to dst.
// Values in [-32, 96) take one byte; each extra byte adds seven bits of range.
func AppendVLQ(dst []byte, v int32) []byte {
	for shift := 28; shift > 0; shift -= 7 {
		lo := int32(-1) << (shift - 2)
		hi := int32(3) << (shift - 2)
		if v < lo || v >= hi {
			dst = append(dst, byte(v>>shift)&0x7F|0x80)
		}
	}
	return append(dst, byte(v)&0x7F)
}

// DecodeVLQInt decodes a signed VLQ value and advances data past it
func DecodeVLQInt(data *[]byte) (int32, error) {
	buf := *data
	if len(buf) == 0 {
		return 0, ErrTruncated
	}

	c := buf[0]
	v := uint32(c & 0x7F)
	if c&0x60 == 0x60 {
		// Leading byte carries a negative sign
		v |= ^uint32(0x1F)
	}

	n := 1
	for c&0x80 != 0 {
		if n >= vlqMaxBytes {
			return 0, ErrInvalidVLQ
		}
		if n >= len(buf) {
			return 0, ErrTruncated
		}
		c = buf[n]
		n++
		v = v<<7 | uint32(c&0x7F)
	}

	*data = buf[n:]
	return int32(v), nil
}

// DecodeVLQUint decodes an unsigned VLQ value and advances data past it
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// DecodeVLQBytes decodes a length-prefixed byte string
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	n, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(*data)) < n {
		return nil, ErrTruncated
	}
	b := (*data)[:n]
	*data = (*data)[n:]
	return b, nil
}

// DecodeVLQString decodes a length-prefixed string
func DecodeVLQString(data *[]byte) (string, error) {
	b, err := DecodeVLQBytes(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Writer accumulates a VLQ-encoded message payload
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with room for capacity bytes
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Int appends a signed value
func (w *Writer) Int(v int32) *Writer {
	w.buf = AppendVLQ(w.buf, v)
	return w
}

// Uint appends an unsigned value
func (w *Writer) Uint(v uint32) *Writer {
	w.buf = AppendVLQ(w.buf, int32(v))
	return w
}

// Bytes appends a length-prefixed byte string
func (w *Writer) Bytes(b []byte) *Writer {
	w.buf = AppendVLQ(w.buf, int32(len(b)))
	w.buf = append(w.buf, b...)
	return w
}

// String appends a length-prefixed string
func (w *Writer) String(s string) *Writer {
	w.buf = AppendVLQ(w.buf, int32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// Len returns the number of bytes written
func (w *Writer) Len() int {
	return len(w.buf)
}

// Result returns the encoded payload. The slice is reused after Reset.
func (w *Writer) Result() []byte {
	return w.buf
}

// Reset empties the writer, keeping its storage
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}
