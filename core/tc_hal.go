package core

// TCBlock identifies a timer/counter peripheral block (TC0, TC1, ...).
type TCBlock uint8

// IRQ is an interrupt-vector number as understood by the interrupt controller.
type IRQ uint16

// ClockFlag is the hardware clock-select value written into the channel mode
// register (TIMER_CLOCK1..4 on SAM3X, the divider on RP2040 backends).
type ClockFlag uint8

// ChannelIdentity is the fixed physical identity of one timer channel.
type ChannelIdentity struct {
	Block TCBlock // Timer/counter block
	Sub   uint8   // Sub-channel within the block
	IRQ   IRQ     // Interrupt vector raised on RC compare
}

// TCDriver is the abstract timer/counter peripheral interface that core code uses.
// Platform-specific implementations handle actual register access.
type TCDriver interface {
	// EnablePeripheralClock gates the clock of the peripheral serving id
	// (including lifting any register write protection).
	EnablePeripheralClock(id ChannelIdentity)

	// ConfigureWaveform puts the channel in waveform mode, counting up with an
	// automatic reset on RC compare, selects the clock source and writes RC.
	// Only the RC compare interrupt source is left enabled.
	ConfigureWaveform(id ChannelIdentity, clock ClockFlag, compare uint32)

	// StartCounter enables and software-triggers the counter
	StartCounter(id ChannelIdentity)

	// StopCounter halts the counter
	StopCounter(id ChannelIdentity)

	// AckStatus reads (and thereby clears) the channel's interrupt status
	AckStatus(id ChannelIdentity) uint32
}

// IRQController is the abstract interrupt-controller interface (NVIC or
// equivalent).
type IRQController interface {
	EnableIRQ(irq IRQ)
	DisableIRQ(irq IRQ)
	ClearPendingIRQ(irq IRQ)
}

// Global registry used by firmware code that does not thread a *Registry around.
var defaultRegistry *Registry

// SetRegistry is called by target-specific code to register its channel bank.
func SetRegistry(r *Registry) {
	defaultRegistry = r
}

// MustRegistry returns the configured registry or panics if missing.
func MustRegistry() *Registry {
	if defaultRegistry == nil {
		panic("timer registry not configured")
	}
	return defaultRegistry
}

// NewChannel binds a handle to index on the default registry.
func NewChannel(index int) Channel {
	return MustRegistry().Channel(index)
}

// Timer is an alias of NewChannel, so firmware can write core.Timer(3).Start().
func Timer(index int) Channel {
	return NewChannel(index)
}

// Available returns the first free channel of the default registry.
func Available() Channel {
	return MustRegistry().FindAvailable()
}
