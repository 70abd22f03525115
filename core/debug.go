package core

import "sync/atomic"

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// ChannelEvent captures a channel state change for post-mortem analysis
type ChannelEvent struct {
	EventType uint8  // Event type code
	Channel   uint8  // Channel index (0xFF for bank-wide events)
	Value     uint32 // Context-dependent value
}

// Event type codes
const (
	EvtAttach    = 1 // Callback attached
	EvtDetach    = 2 // Callback detached
	EvtConfigure = 3 // Period programmed (value = RC)
	EvtStart     = 4 // Counter started (value = period)
	EvtStop      = 5 // Counter stopped
	EvtFire      = 6 // Callback dispatched (value = fire count)
	EvtSpurious  = 7 // Interrupt with no callback (value = spurious count)
	EvtReset     = 8 // Registry reset (value = channel count)
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Event capture ring buffer (non-blocking, also written from interrupt
	// context). Each slot holds one packed event; eventHead counts writes.
	eventRing     [EventRingSize]atomic.Uint64
	eventHead     atomic.Uint32
	eventsEnabled atomic.Bool

	// Async debug output channel
	debugChan chan string
)

func init() {
	eventsEnabled.Store(true)
}

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// SetEventsEnabled turns event capture on or off
func SetEventsEnabled(enabled bool) {
	eventsEnabled.Store(enabled)
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output
// Drops the message when the channel is full
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

func packEvent(eventType, channel uint8, value uint32) uint64 {
	return uint64(eventType)<<40 | uint64(channel)<<32 | uint64(value)
}

func unpackEvent(v uint64) ChannelEvent {
	return ChannelEvent{
		EventType: uint8(v >> 40),
		Channel:   uint8(v >> 32),
		Value:     uint32(v),
	}
}

// RecordEvent captures a channel event in the ring buffer. Safe from
// interrupt context and the foreground at once: every writer claims its own
// slot.
func RecordEvent(eventType, channel uint8, value uint32) {
	if !eventsEnabled.Load() {
		return
	}
	idx := (eventHead.Add(1) - 1) % EventRingSize
	eventRing[idx].Store(packEvent(eventType, channel, value))
}

// EventName returns the printable name of an event type
func EventName(eventType uint8) string {
	switch eventType {
	case EvtAttach:
		return "ATTACH"
	case EvtDetach:
		return "DETACH"
	case EvtConfigure:
		return "CONFIGURE"
	case EvtStart:
		return "START"
	case EvtStop:
		return "STOP"
	case EvtFire:
		return "FIRE"
	case EvtSpurious:
		return "SPURIOUS!"
	case EvtReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Events returns the captured events from oldest to newest
func Events() []ChannelEvent {
	events := make([]ChannelEvent, 0, EventRingSize)
	start := eventHead.Load()
	for i := uint32(0); i < EventRingSize; i++ {
		evt := unpackEvent(eventRing[(start+i)%EventRingSize].Load())
		if evt.EventType == 0 {
			continue // Empty slot
		}
		events = append(events, evt)
	}
	return events
}

// DumpEventRing writes the event ring through the debug writer
func DumpEventRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[EVENTS] === Channel Event Dump ===")
	for _, evt := range Events() {
		debugPrintln("[EVENTS] " + EventName(evt.EventType) +
			" ch=" + itoa(int(evt.Channel)) +
			" v=" + utoa(evt.Value))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}

// ClearEventRing clears the event buffer
func ClearEventRing() {
	for i := range eventRing {
		eventRing[i].Store(0)
	}
	eventHead.Store(0)
}
