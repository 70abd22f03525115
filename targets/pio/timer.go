//go:build rp2040

// Package pio runs timer channels on RP2040 PIO0 state machines.
package pio

import (
	"device/rp"
	"runtime/volatile"
	"unsafe"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"prectimer/core"
)

// smRegs overlays the per state machine registers of PIO0
type smRegs struct {
	CLKDIV    volatile.Register32
	EXECCTRL  volatile.Register32
	SHIFTCTRL volatile.Register32
	ADDR      volatile.Register32
	INSTR     volatile.Register32
	PINCTRL   volatile.Register32
}

const (
	stateMachines = 4
	timerOrigin   = 0

	// Cycles per period spent outside the countdown loop
	loopOverhead = 5

	// IRQ0_INTE/INTS bit of state machine 0's IRQ flag
	irqFlagShift = 8
)

var smRegsOf = unsafe.Slice((*smRegs)(unsafe.Pointer(&rp.PIO0.SM0_CLKDIV)), stateMachines)

// timerProgram counts down the value last pushed to the TX FIFO and raises
// the state machine's relative IRQ flag once per period.
func timerProgram(origin uint8) []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, false).Encode(),                 // 0: pull noblock (x stays when empty)
		0xA027,                                          // 1: mov x, osr
		0xA041,                                          // 2: mov y, x
		asm.Jmp(origin+3, rp2pio.JmpYNZeroDec).Encode(), // 3: jmp y--, 3
		0xC010,                                          // 4: irq nowait 0 rel
	}
}

// Timers drives timer channels from PIO0 state machines 0-2. Channel
// Block=2 Sub=n runs on state machine n.
type Timers struct {
	pio     *rp2pio.PIO
	sms     [stateMachines]rp2pio.StateMachine
	claimed [stateMachines]bool
	loaded  bool
	offset  uint8
}

// New returns the PIO0 timer backend
func New() *Timers {
	return &Timers{pio: rp2pio.PIO0}
}

// LoopCount converts compare ticks into the countdown value pushed to the
// state machine
func LoopCount(compare uint32) uint32 {
	if compare <= loopOverhead {
		return 0
	}
	return compare - loopOverhead
}

func (p *Timers) EnablePeripheralClock(id core.ChannelIdentity) {
	unreset(rp.RESETS_RESET_PIO0)

	if !p.loaded {
		offset, err := p.pio.AddProgram(timerProgram(timerOrigin), timerOrigin)
		if err != nil {
			core.DebugPrintln("[PIO] program load failed: " + err.Error())
			return
		}
		p.offset = offset
		p.loaded = true
	}

	n := id.Sub
	if p.claimed[n] {
		return
	}
	sm := p.pio.StateMachine(n)
	sm.TryClaim()

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetWrap(p.offset, p.offset+4)
	cfg.SetClkDivIntFrac(1, 0)
	sm.Init(p.offset, cfg)
	p.sms[n] = sm
	p.claimed[n] = true
}

func (p *Timers) ConfigureWaveform(id core.ChannelIdentity, clock core.ClockFlag, compare uint32) {
	n := id.Sub
	if !p.claimed[n] {
		return
	}
	if clock > 15 {
		clock = 15
	}
	smRegsOf[n].CLKDIV.Set((uint32(1) << clock) << 16)

	sm := p.sms[n]
	sm.ClearFIFOs()
	sm.TxPut(LoopCount(compare))
}

func (p *Timers) StartCounter(id core.ChannelIdentity) {
	n := id.Sub
	if !p.claimed[n] {
		return
	}
	sm := p.sms[n]

	rp.PIO0.IRQ.Set(1 << n)
	rp.PIO0.IRQ0_INTE.SetBits(1 << (irqFlagShift + n))
	sm.Restart()
	smRegsOf[n].INSTR.Set(uint32(p.offset)) // jmp offset
	sm.SetEnabled(true)
}

func (p *Timers) StopCounter(id core.ChannelIdentity) {
	n := id.Sub
	if !p.claimed[n] {
		return
	}
	p.sms[n].SetEnabled(false)
	rp.PIO0.IRQ0_INTE.ClearBits(1 << (irqFlagShift + n))
}

// AckStatus clears the state machine's IRQ flag and returns it
func (p *Timers) AckStatus(id core.ChannelIdentity) uint32 {
	n := id.Sub
	status := rp.PIO0.IRQ.Get() & (1 << n)
	rp.PIO0.IRQ.Set(1 << n)
	return status
}

// Pending reports whether the state machine raised its IRQ flag
func (p *Timers) Pending(id core.ChannelIdentity) bool {
	return rp.PIO0.IRQ0_INTS.HasBits(1 << (irqFlagShift + uint32(id.Sub)))
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
