// Package mcu is the host side client for a timer board: it fetches the
// dictionary, frames commands and routes responses.
package mcu

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"prectimer/host/serial"
	"prectimer/protocol"
)

// bootstrapDictionary is what every firmware serves before identify completes
const bootstrapDictionary = "version bootstrap\n" +
	"resp 0 identify_response offset=%u data=%*s\n" +
	"cmd 1 identify offset=%u count=%c\n"

// identifyChunk is the dictionary slice requested per identify round trip
const identifyChunk = 40

var (
	ErrNotConnected = errors.New("not connected to MCU")
	ErrTimeout      = errors.New("timed out waiting for MCU")
)

// TimerError is a timer_error response
type TimerError struct {
	OID  uint32
	Code string
}

func (e *TimerError) Error() string {
	return fmt.Sprintf("oid %d: %s", e.OID, e.Code)
}

type waiter struct {
	names []string
	ch    chan Message
}

// MCU represents a connection to a timer board
type MCU struct {
	port   serial.Port
	framer *protocol.Framer

	// Command exchanges are serialised; mu guards the fields below it
	exchange sync.Mutex
	mu       sync.Mutex
	seq      uint8
	dict     *Dictionary
	raw      string
	waiters  []*waiter
	handler  func(Message)
	acks     chan uint8

	done      chan struct{}
	closeOnce sync.Once
	readErr   error
	dropped   uint32

	// Timeout bounds every wait for the board
	Timeout time.Duration

	// Retransmit is how long a command waits for its ack before it is sent
	// again
	Retransmit time.Duration

	// Settle is how long Exec waits after the ack for a timer_error
	Settle time.Duration

	// Logf receives protocol traces when set
	Logf func(format string, args ...interface{})
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{
		Timeout:    time.Second,
		Retransmit: 100 * time.Millisecond,
		Settle:     20 * time.Millisecond,
	}
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return fmt.Errorf("failed to flush serial port: %w", err)
	}
	return m.Attach(port)
}

// Attach starts talking to the board over an already open port
func (m *MCU) Attach(port serial.Port) error {
	dict, err := ParseDictionary(bootstrapDictionary)
	if err != nil {
		return err
	}

	m.port = port
	m.framer = protocol.NewFramer()
	m.seq = protocol.MessageDest
	m.dict = dict
	m.acks = make(chan uint8, 16)
	m.done = make(chan struct{})
	m.closeOnce = sync.Once{}

	go m.readLoop()
	return nil
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	if m.port == nil {
		return nil
	}
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		err = m.port.Close()
	})
	return err
}

// IsConnected returns whether the reader is still running
func (m *MCU) IsConnected() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// SetHandler sets the function receiving messages nobody is waiting for,
// such as timer_fired
func (m *MCU) SetHandler(fn func(Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Dictionary returns the current dictionary
func (m *MCU) Dictionary() *Dictionary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dict
}

// DictionaryRaw returns the dictionary text as served by the board
func (m *MCU) DictionaryRaw() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

// Err returns the error that stopped the reader, if any
func (m *MCU) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readErr
}

// Dropped returns how many unsolicited messages were discarded
func (m *MCU) Dropped() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *MCU) logf(format string, args ...interface{}) {
	if m.Logf != nil {
		m.Logf(format, args...)
	}
}

func (m *MCU) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := m.port.Read(buf)
		if n > 0 {
			m.framer.Write(buf[:n])
			m.processFrames()
		}
		if err != nil {
			select {
			case <-m.done:
				return
			default:
			}
			if err == io.EOF {
				// tarm/serial reports a read timeout as EOF
				continue
			}
			m.mu.Lock()
			m.readErr = err
			m.mu.Unlock()
			m.closeOnce.Do(func() { close(m.done) })
			return
		}
	}
}

func (m *MCU) processFrames() {
	for {
		frame, ok := m.framer.Next()
		if !ok {
			return
		}
		if len(frame.Payload) == 0 {
			select {
			case m.acks <- frame.Seq:
			default:
			}
			continue
		}

		payload := frame.Payload
		dict := m.Dictionary()
		for len(payload) > 0 {
			msg, err := dict.Decode(&payload)
			if err != nil {
				m.logf("decode error: %v", err)
				break
			}
			m.logf("<- %s", dict.Format(msg))
			m.deliver(msg)
		}
	}
}

func (m *MCU) deliver(msg Message) {
	m.mu.Lock()
	for i, w := range m.waiters {
		for _, name := range w.names {
			if name == msg.Name {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				m.mu.Unlock()
				w.ch <- msg
				return
			}
		}
	}
	handler := m.handler
	if handler == nil {
		m.dropped++
	}
	m.mu.Unlock()

	if handler != nil {
		handler(msg)
	}
}

func (m *MCU) addWaiter(names ...string) *waiter {
	w := &waiter{names: names, ch: make(chan Message, 1)}
	m.mu.Lock()
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()
	return w
}

func (m *MCU) removeWaiter(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.waiters {
		if x == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

func (m *MCU) drainAcks() {
	for {
		select {
		case <-m.acks:
		default:
			return
		}
	}
}

func (m *MCU) retransmitInterval() time.Duration {
	if m.Retransmit <= 0 || m.Retransmit > m.Timeout {
		return m.Timeout
	}
	return m.Retransmit
}

// transmit frames one command and resends it until the board acknowledges
// it. An ack naming any other sequence is a NAK: the host adopts the board's
// expected sequence and sends again. The board never runs a sequence twice.
func (m *MCU) transmit(name string, args ...interface{}) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}

	m.mu.Lock()
	payload, err := m.dict.Encode(name, args...)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.drainAcks()
	m.logf("-> %s %v", name, args)

	deadline := time.NewTimer(m.Timeout)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		seq := m.seq
		m.mu.Unlock()

		frame, err := protocol.AppendFrame(nil, seq, payload)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, err := m.port.Write(frame); err != nil {
			return fmt.Errorf("failed to send %s: %w", name, err)
		}

		retry := time.NewTimer(m.retransmitInterval())
		select {
		case got := <-m.acks:
			retry.Stop()
			if got&^protocol.MessageSeqMask != protocol.MessageDest {
				continue
			}
			m.mu.Lock()
			m.seq = got
			m.mu.Unlock()
			if got == protocol.NextSeq(seq) {
				return nil
			}
			m.logf("nak for %s: board expects seq 0x%02x", name, got)
		case <-retry.C:
			m.logf("retransmit %s seq 0x%02x", name, seq)
		case <-deadline.C:
			retry.Stop()
			return fmt.Errorf("%s: %w", name, ErrTimeout)
		case <-m.done:
			retry.Stop()
			return ErrNotConnected
		}
	}
}

// Exec sends a command that has no reply. A timer_error sent back for it is
// returned as a *TimerError.
func (m *MCU) Exec(name string, args ...interface{}) error {
	m.exchange.Lock()
	defer m.exchange.Unlock()

	w := m.addWaiter("timer_error")
	defer m.removeWaiter(w)

	if err := m.transmit(name, args...); err != nil {
		return err
	}

	select {
	case msg := <-w.ch:
		return &TimerError{OID: msg.Uint("oid"), Code: msg.String("code")}
	case <-time.After(m.Settle):
		return nil
	}
}

// Query sends a command and waits for the named response. A timer_error in
// its place is returned as a *TimerError.
func (m *MCU) Query(name, response string, args ...interface{}) (Message, error) {
	m.exchange.Lock()
	defer m.exchange.Unlock()

	w := m.addWaiter(response, "timer_error")
	defer m.removeWaiter(w)

	if err := m.transmit(name, args...); err != nil {
		return Message{}, err
	}

	select {
	case msg := <-w.ch:
		if msg.Name == "timer_error" && response != "timer_error" {
			return msg, &TimerError{OID: msg.Uint("oid"), Code: msg.String("code")}
		}
		return msg, nil
	case <-time.After(m.Timeout):
		return Message{}, fmt.Errorf("%s: %w", name, ErrTimeout)
	case <-m.done:
		return Message{}, ErrNotConnected
	}
}

// RetrieveDictionary fetches and parses the board's dictionary
func (m *MCU) RetrieveDictionary() error {
	var text strings.Builder
	offset := uint32(0)
	maxIterations := 1000 // Safety limit

	for i := 0; i < maxIterations; i++ {
		msg, err := m.Query("identify", "identify_response", offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}
		if got := msg.Uint("offset"); got != offset {
			return fmt.Errorf("offset mismatch: expected %d, got %d", offset, got)
		}

		chunk := msg.String("data")
		if chunk == "" {
			break
		}
		text.WriteString(chunk)
		offset += uint32(len(chunk))
	}

	dict, err := ParseDictionary(text.String())
	if err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}

	m.mu.Lock()
	m.dict = dict
	m.raw = text.String()
	m.mu.Unlock()

	m.logf("dictionary %s: %d bytes, %d messages", dict.Version, offset, len(dict.Messages()))
	return nil
}
