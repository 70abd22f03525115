package core

import "prectimer/errcode"

// Channel is a handle to one hardware timer channel. It is a small value:
// copies are interchangeable, and two handles to the same index on the same
// registry compare equal with ==.
type Channel struct {
	reg   *Registry
	index uint8
}

// Index returns the channel index.
func (c Channel) Index() int {
	return int(c.index)
}

// Identity returns the physical identity of the channel.
func (c Channel) Identity() ChannelIdentity {
	return c.reg.IdentityOf(int(c.index))
}

// Equal reports whether both handles refer to the same channel.
func (c Channel) Equal(other Channel) bool {
	return c == other
}

func (c Channel) state() *channelState {
	return c.reg.stateOf(int(c.index))
}

// AttachCallback links fn to the channel. The channel is not started and any
// previous callback is replaced.
func (c Channel) AttachCallback(fn func()) Channel {
	s := c.state()
	if fn == nil {
		s.callback.Store(nil)
	} else {
		s.callback.Store(&callbackSlot{fn: fn})
	}
	RecordEvent(EvtAttach, c.index, 0)
	return c
}

// DetachCallback stops the channel and unlinks its callback.
func (c Channel) DetachCallback() Channel {
	c.Stop()
	c.state().callback.Store(nil)
	RecordEvent(EvtDetach, c.index, 0)
	return c
}

// SetPeriod sets the period in microseconds and reprograms the waveform
// registers. Counting state is left alone, so a running channel picks up the
// new compare value on its next cycle.
func (c Channel) SetPeriod(microseconds uint32) Channel {
	s := c.state()
	id := c.Identity()
	clock, rc := c.reg.clocks.Select(c.reg.policy, microseconds)

	state := disableInterrupts()
	s.period.Store(microseconds)
	c.reg.tc.EnablePeripheralClock(id)
	c.reg.tc.ConfigureWaveform(id, clock, rc)
	s.clock.Store(uint32(clock))
	s.compare.Store(rc)
	restoreInterrupts(state)

	RecordEvent(EvtConfigure, c.index, rc)
	return c
}

// SetFrequency sets the firing frequency in Hz. Non-positive values are
// treated as 1Hz.
func (c Channel) SetFrequency(hz float64) Channel {
	return c.SetPeriod(PeriodFromFrequency(hz))
}

// Start enables the channel interrupt and starts counting. A channel that was
// never configured runs at 1Hz. Calling Start on a running channel only
// reasserts enablement.
func (c Channel) Start() Channel {
	return c.StartPeriod(0)
}

// StartPeriod applies microseconds (when non-zero) and then starts the channel.
func (c Channel) StartPeriod(microseconds uint32) Channel {
	if microseconds > 0 {
		c.SetPeriod(microseconds)
	}
	s := c.state()
	if s.period.Load() == 0 {
		c.SetPeriod(DefaultPeriod)
	}

	id := c.Identity()
	c.reg.irq.ClearPendingIRQ(id.IRQ)
	c.reg.irq.EnableIRQ(id.IRQ)
	c.reg.tc.StartCounter(id)
	s.running.Store(true)

	RecordEvent(EvtStart, c.index, s.period.Load())
	return c
}

// StartChecked starts the channel only when a callback is attached.
func (c Channel) StartChecked() (Channel, error) {
	if c.state().callback.Load() == nil {
		return c, errcode.Wrap(errcode.NoCallback, "start", "channel "+itoa(int(c.index)))
	}
	return c.Start(), nil
}

// Stop disables the channel interrupt and halts the counter. Stopping a
// stopped channel has no further effect.
func (c Channel) Stop() Channel {
	id := c.Identity()
	c.reg.irq.DisableIRQ(id.IRQ)
	c.reg.tc.StopCounter(id)
	c.state().running.Store(false)

	RecordEvent(EvtStop, c.index, 0)
	return c
}

// Frequency returns the configured frequency in Hz. An unconfigured channel
// reports +Inf.
func (c Channel) Frequency() float64 {
	return 1.0 / float64(c.Period()) * MicrosPerSecond
}

// FrequencyChecked is Frequency with an error for an unconfigured channel.
func (c Channel) FrequencyChecked() (float64, error) {
	if c.Period() == 0 {
		return 0, errcode.Wrap(errcode.NotConfigured, "frequency", "channel "+itoa(int(c.index)))
	}
	return c.Frequency(), nil
}

// Period returns the configured period in microseconds (0 when unset).
func (c Channel) Period() uint32 {
	return c.state().period.Load()
}

// Available reports whether the channel has no callback and is not reserved.
func (c Channel) Available() bool {
	return c.state().callback.Load() == nil && !c.reg.Reserved(int(c.index))
}

// Running reports whether Start was called more recently than Stop.
func (c Channel) Running() bool {
	return c.state().running.Load()
}

// Clock returns the last programmed clock source and compare value.
func (c Channel) Clock() (ClockFlag, uint32) {
	s := c.state()
	return ClockFlag(s.clock.Load()), s.compare.Load()
}

// Fires returns how many times the callback has been dispatched.
func (c Channel) Fires() uint32 {
	return c.state().fires.Load()
}

// Spurious returns how many interrupts arrived with no callback attached.
func (c Channel) Spurious() uint32 {
	return c.state().spurious.Load()
}
