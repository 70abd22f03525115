package protocol

import "errors"

var ErrPayloadTooLarge = errors.New("payload exceeds message size")

// Frame is one decoded message block
type Frame struct {
	Seq     uint8
	Payload []byte
}

// AppendFrame appends a complete message block carrying payload to dst
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MessagePayloadMax {
		return dst, ErrPayloadTooLarge
	}

	start := len(dst)
	dst = append(dst, byte(len(payload)+MessageMin), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), MessageSync), nil
}

// Framer splits a byte stream into frames. Bytes that cannot start a valid
// frame are discarded up to the next sync byte.
type Framer struct {
	buf     []byte
	synced  bool
	dropped uint32
}

// NewFramer returns a framer that expects the stream to start on a frame
func NewFramer() *Framer {
	return &Framer{
		buf:    make([]byte, 0, 2*MessageMax),
		synced: true,
	}
}

// Write buffers received bytes. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Dropped returns how many times the framer lost synchronisation
func (f *Framer) Dropped() uint32 {
	return f.dropped
}

// Buffered returns the number of bytes waiting for a complete frame
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset discards buffered bytes
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.synced = true
}

func (f *Framer) consume(n int) {
	f.buf = append(f.buf[:0], f.buf[n:]...)
}

func (f *Framer) desync() {
	f.synced = false
	f.dropped++
}

// Next returns the next complete frame. The payload is a copy and stays valid
// after further writes.
func (f *Framer) Next() (Frame, bool) {
	for {
		if !f.synced {
			i := 0
			for i < len(f.buf) && f.buf[i] != MessageSync {
				i++
			}
			if i == len(f.buf) {
				f.buf = f.buf[:0]
				return Frame{}, false
			}
			f.consume(i + 1)
			f.synced = true
		}

		// Leading sync bytes are padding
		skip := 0
		for skip < len(f.buf) && f.buf[skip] == MessageSync {
			skip++
		}
		if skip > 0 {
			f.consume(skip)
		}

		if len(f.buf) < MessageMin {
			return Frame{}, false
		}

		n := int(f.buf[0])
		if n < MessageMin || n > MessageMax {
			f.desync()
			continue
		}
		if len(f.buf) < n {
			return Frame{}, false
		}
		if f.buf[n-1] != MessageSync {
			f.desync()
			continue
		}
		crc := uint16(f.buf[n-3])<<8 | uint16(f.buf[n-2])
		if crc != CRC16(f.buf[:n-MessageTrailerSize]) {
			f.desync()
			continue
		}

		frame := Frame{
			Seq:     f.buf[1],
			Payload: append([]byte(nil), f.buf[MessageHeaderSize:n-MessageTrailerSize]...),
		}
		f.consume(n)
		return frame, true
	}
}
