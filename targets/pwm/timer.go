//go:build rp2040

// Package pwm runs timer channels on RP2040 PWM slices.
package pwm

import (
	"device/rp"
	"runtime/volatile"
	"unsafe"

	"prectimer/core"
)

// sliceRegs overlays the registers of one PWM slice
type sliceRegs struct {
	CSR volatile.Register32
	DIV volatile.Register32
	CTR volatile.Register32
	CC  volatile.Register32
	TOP volatile.Register32
}

const (
	slices      = 8
	counterBits = 16
	csrEnable   = 1 << 0
)

var regs = unsafe.Slice((*sliceRegs)(unsafe.Pointer(&rp.PWM.CH0_CSR)), slices)

// Timers drives timer channels from PWM slice wrap interrupts. Slice n is
// channel Block*3+Sub. The counter is 16 bits wide, so longer periods are
// split into equal wraps and only the last wrap of a period is reported.
type Timers struct {
	post  [slices]core.Postscaler
	ready bool
}

// New returns the PWM timer backend
func New() *Timers {
	return &Timers{}
}

func sliceOf(id core.ChannelIdentity) uint32 {
	return uint32(id.Block)*3 + uint32(id.Sub)
}

// divider encodes the clock flag as an 8.4 fixed point DIV value
func divider(clock core.ClockFlag) uint32 {
	if clock > 7 {
		clock = 7
	}
	return (uint32(1) << clock) << 4
}

func (p *Timers) EnablePeripheralClock(core.ChannelIdentity) {
	unreset(rp.RESETS_RESET_PWM)
	p.ready = true
}

func (p *Timers) ConfigureWaveform(id core.ChannelIdentity, clock core.ClockFlag, compare uint32) {
	slice := sliceOf(id)
	post, top := core.SplitCompare(compare, counterBits)

	r := &regs[slice]
	r.DIV.Set(divider(clock))
	r.TOP.Set(top)
	r.CC.Set(0)
	r.CTR.Set(0)
	p.post[slice].Set(post)
	rp.PWM.INTR.Set(1 << slice)
}

func (p *Timers) StartCounter(id core.ChannelIdentity) {
	slice := sliceOf(id)
	r := &regs[slice]

	r.CTR.Set(0)
	p.post[slice].Restart()
	rp.PWM.INTR.Set(1 << slice)
	rp.PWM.INTE.SetBits(1 << slice)
	r.CSR.SetBits(csrEnable)
}

func (p *Timers) StopCounter(id core.ChannelIdentity) {
	if !p.ready {
		return
	}
	slice := sliceOf(id)
	regs[slice].CSR.ClearBits(csrEnable)
	rp.PWM.INTE.ClearBits(1 << slice)
}

// AckStatus clears the slice's wrap flag and returns it
func (p *Timers) AckStatus(id core.ChannelIdentity) uint32 {
	bit := uint32(1) << sliceOf(id)
	status := rp.PWM.INTS.Get() & bit
	rp.PWM.INTR.Set(bit)
	return status
}

// Pending reports whether the slice wrapped at the end of a full period.
// Intermediate wraps are acknowledged here and go no further.
func (p *Timers) Pending(id core.ChannelIdentity) bool {
	slice := sliceOf(id)
	bit := uint32(1) << slice
	if !rp.PWM.INTS.HasBits(bit) {
		return false
	}
	if !p.post[slice].Tick() {
		rp.PWM.INTR.Set(bit)
		return false
	}
	return true
}

// unreset takes a peripheral out of reset and waits until it is ready
func unreset(mask uint32) {
	if rp.RESETS.RESET_DONE.HasBits(mask) && !rp.RESETS.RESET.HasBits(mask) {
		return
	}
	rp.RESETS.RESET.ClearBits(mask)
	for !rp.RESETS.RESET_DONE.HasBits(mask) {
	}
}
