package protocol

import (
	"errors"
	"io"
)

var ErrSequence = errors.New("frame sequence out of order")

// Handler is called for each command decoded from a received frame. It
// decodes its own arguments from data.
type Handler func(cmdID uint16, data *[]byte) error

// Link is the MCU side of the protocol: it decodes host frames, dispatches
// their commands, acknowledges every frame and frames outgoing responses.
// Sequence numbers only order frames. A frame out of sequence is not run and
// is answered with the sequence the link expects, which the host adopts; a
// host restart is signalled at the command level, not by the sequence.
type Link struct {
	framer  *Framer
	handler Handler
	nextSeq uint8

	out      []byte
	deferred [][]byte
	handling bool

	errors    uint32
	lastError error
}

// NewLink creates a link that dispatches commands to handler
func NewLink(handler Handler) *Link {
	return &Link{
		framer:  NewFramer(),
		handler: handler,
		nextSeq: MessageDest,
		out:     make([]byte, 0, 4*MessageMax),
	}
}

// Receive feeds received bytes and processes every complete frame
func (l *Link) Receive(p []byte) {
	l.framer.Write(p)
	for {
		frame, ok := l.framer.Next()
		if !ok {
			return
		}
		l.handleFrame(frame)
	}
}

func (l *Link) handleFrame(frame Frame) {
	if frame.Seq&^MessageSeqMask != MessageDest {
		l.fail(ErrSequence)
		l.ack()
		return
	}

	if frame.Seq == l.nextSeq {
		l.nextSeq = NextSeq(frame.Seq)
		l.handling = true
		l.dispatch(frame.Payload)
		l.handling = false
	}

	// Acknowledge before any response so the host sees the sequence advance
	// first. A mismatched sequence makes this a NAK naming the expected one.
	l.ack()
	for _, msg := range l.deferred {
		l.out = append(l.out, msg...)
	}
	l.deferred = l.deferred[:0]
}

func (l *Link) dispatch(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			l.fail(errors.New("command handler panicked"))
		}
	}()

	for len(payload) > 0 {
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			l.fail(err)
			return
		}
		if l.handler == nil {
			return
		}
		if err := l.handler(uint16(id), &payload); err != nil {
			l.fail(err)
			return
		}
	}
}

func (l *Link) ack() {
	l.out, _ = AppendFrame(l.out, l.nextSeq, nil)
}

func (l *Link) fail(err error) {
	l.errors++
	l.lastError = err
}

// Send frames a response payload. Responses produced while a command is being
// handled are held until that frame has been acknowledged.
func (l *Link) Send(payload []byte) error {
	msg, err := AppendFrame(nil, l.nextSeq, payload)
	if err != nil {
		l.fail(err)
		return err
	}
	if l.handling {
		l.deferred = append(l.deferred, msg)
		return nil
	}
	l.out = append(l.out, msg...)
	return nil
}

// Output returns bytes waiting to be written to the host
func (l *Link) Output() []byte {
	return l.out
}

// Drain writes pending output to w. Unwritten bytes stay queued.
func (l *Link) Drain(w io.Writer) error {
	for len(l.out) > 0 {
		n, err := w.Write(l.out)
		l.out = append(l.out[:0], l.out[n:]...)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// Reset drops buffered input and output and expects the first sequence
func (l *Link) Reset() {
	l.framer.Reset()
	l.out = l.out[:0]
	l.deferred = l.deferred[:0]
	l.nextSeq = MessageDest
}

// Errors returns the number of protocol and handler errors seen
func (l *Link) Errors() uint32 {
	return l.errors
}

// LastError returns the most recent protocol or handler error
func (l *Link) LastError() error {
	return l.lastError
}

// Dropped returns how many times input synchronisation was lost
func (l *Link) Dropped() uint32 {
	return l.framer.Dropped()
}
