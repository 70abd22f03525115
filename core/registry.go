package core

import (
	"sync/atomic"

	"prectimer/errcode"
)

// callbackSlot boxes a callback so it can be swapped with one atomic store.
type callbackSlot struct {
	fn func()
}

// channelState is the mutable per-channel runtime state. Foreground code
// writes it; interrupt context only reads the callback and bumps counters.
type channelState struct {
	period   atomic.Uint32
	callback atomic.Pointer[callbackSlot]
	running  atomic.Bool
	clock    atomic.Uint32 // last programmed ClockFlag
	compare  atomic.Uint32 // last programmed RC value
	fires    atomic.Uint32
	spurious atomic.Uint32
}

// RegistryConfig is the configuration-time description of a channel bank.
type RegistryConfig struct {
	Identities []ChannelIdentity // One entry per channel index
	Reserved   []int             // Indices owned by another consumer of the hardware
	Clocks     ClockTable
	Policy     PrescalerPolicy
}

// Registry owns the identity table and the shared runtime state of every
// channel. All Channel handles for the same index observe the same state.
type Registry struct {
	identities []ChannelIdentity
	states     []channelState
	reserved   []bool
	clocks     ClockTable
	policy     PrescalerPolicy

	tc  TCDriver
	irq IRQController
}

// NewRegistry builds a registry for cfg backed by the given drivers.
func NewRegistry(cfg RegistryConfig, tc TCDriver, irq IRQController) (*Registry, error) {
	if tc == nil || irq == nil {
		return nil, errcode.Wrap(errcode.InvalidConfig, "new registry", "missing driver")
	}
	if len(cfg.Identities) == 0 || len(cfg.Identities) > 255 {
		return nil, errcode.Wrap(errcode.InvalidConfig, "new registry", "channel count "+itoa(len(cfg.Identities)))
	}
	if msg := cfg.Clocks.validate(); msg != "" {
		return nil, errcode.Wrap(errcode.InvalidConfig, "new registry", msg)
	}
	if cfg.Policy != PrescalerFixed && cfg.Policy != PrescalerBestClock {
		return nil, errcode.Wrap(errcode.InvalidConfig, "new registry", "unknown prescaler policy")
	}

	n := len(cfg.Identities)
	r := &Registry{
		identities: make([]ChannelIdentity, n),
		states:     make([]channelState, n),
		reserved:   make([]bool, n),
		clocks:     cfg.Clocks,
		policy:     cfg.Policy,
		tc:         tc,
		irq:        irq,
	}
	copy(r.identities, cfg.Identities)
	r.clocks.Sources = append([]ClockSource(nil), cfg.Clocks.Sources...)

	for _, idx := range cfg.Reserved {
		if idx < 0 || idx >= n {
			return nil, errcode.Wrap(errcode.InvalidConfig, "new registry", "reserved index "+itoa(idx))
		}
		r.reserved[idx] = true
	}

	return r, nil
}

// checkIndex panics on an index outside the fixed channel range.
func (r *Registry) checkIndex(index int) {
	if index < 0 || index >= len(r.identities) {
		panic("timer channel index " + itoa(index) + " out of range [0," + itoa(len(r.identities)) + ")")
	}
}

// Len returns the fixed number of channels.
func (r *Registry) Len() int {
	return len(r.identities)
}

// IdentityOf returns the physical identity of a channel.
func (r *Registry) IdentityOf(index int) ChannelIdentity {
	r.checkIndex(index)
	return r.identities[index]
}

// stateOf returns the shared runtime slot of a channel.
func (r *Registry) stateOf(index int) *channelState {
	r.checkIndex(index)
	return &r.states[index]
}

// Reserved reports whether index is owned by another consumer.
func (r *Registry) Reserved(index int) bool {
	r.checkIndex(index)
	return r.reserved[index]
}

// Clocks returns the clock table used for period configuration.
func (r *Registry) Clocks() ClockTable {
	return r.clocks
}

// Policy returns the prescaler policy used by SetPeriod.
func (r *Registry) Policy() PrescalerPolicy {
	return r.policy
}

// Channel binds a handle to index. It does not reserve the channel.
func (r *Registry) Channel(index int) Channel {
	r.checkIndex(index)
	return Channel{reg: r, index: uint8(index)}
}

// FindAvailable returns the lowest-index channel with no callback that is not
// reserved. When every channel is occupied it returns channel 0, which then
// aliases a channel already in use.
func (r *Registry) FindAvailable() Channel {
	for i := range r.states {
		if r.states[i].callback.Load() == nil && !r.reserved[i] {
			return Channel{reg: r, index: uint8(i)}
		}
	}
	return Channel{reg: r, index: 0}
}

// Reset stops every channel and clears callbacks, periods and counters.
// Reservations are kept.
func (r *Registry) Reset() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for i := range r.states {
		id := r.identities[i]
		r.irq.DisableIRQ(id.IRQ)
		r.tc.StopCounter(id)

		s := &r.states[i]
		s.callback.Store(nil)
		s.period.Store(0)
		s.running.Store(false)
		s.clock.Store(0)
		s.compare.Store(0)
		s.fires.Store(0)
		s.spurious.Store(0)
	}
	RecordEvent(EvtReset, 0xFF, uint32(len(r.states)))
}
