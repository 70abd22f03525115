//go:build rp2040

// Package board wires the RP2040 timer backends to a channel registry.
package board

import (
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"prectimer/config"
	"prectimer/core"
	"prectimer/targets/pio"
	"prectimer/targets/pwm"
)

// NVIC clear-pending register
var nvicICPR = (*volatile.Register32)(unsafe.Pointer(uintptr(0xE000E280)))

var (
	pwmTimers = pwm.New()
	pioTimers = pio.New()

	// Set by Open before any channel starts
	registry *core.Registry

	pwmWrapIRQ interrupt.Interrupt
	pio0IRQ    interrupt.Interrupt
)

func init() {
	pwmWrapIRQ = interrupt.New(rp.IRQ_PWM_IRQ_WRAP, handlePWMWrap)
	pio0IRQ = interrupt.New(rp.IRQ_PIO0_IRQ_0, handlePIO0)
}

func handlePWMWrap(interrupt.Interrupt) {
	if registry != nil {
		registry.DispatchIRQ(config.RP2040PWMWrap, pwmTimers.Pending)
	}
}

func handlePIO0(interrupt.Interrupt) {
	if registry != nil {
		registry.DispatchIRQ(config.RP2040PIO0IRQ0, pioTimers.Pending)
	}
}

// Open builds the channel registry for cfg, installs it as the default
// registry and routes both shared vectors to it.
func Open(cfg *config.BoardConfig) (*core.Registry, error) {
	rc, err := cfg.RegistryConfig()
	if err != nil {
		return nil, err
	}
	reg, err := core.NewRegistry(rc, Backend{}, NVIC{})
	if err != nil {
		return nil, err
	}
	core.SetRegistry(reg)
	registry = reg
	return reg, nil
}

// Backend routes each channel to the PWM or PIO driver by block
type Backend struct{}

func (Backend) driver(id core.ChannelIdentity) core.TCDriver {
	if int(id.Block) < config.RP2040PWMBlocks {
		return pwmTimers
	}
	return pioTimers
}

func (b Backend) EnablePeripheralClock(id core.ChannelIdentity) {
	b.driver(id).EnablePeripheralClock(id)
}

func (b Backend) ConfigureWaveform(id core.ChannelIdentity, clock core.ClockFlag, compare uint32) {
	b.driver(id).ConfigureWaveform(id, clock, compare)
}

func (b Backend) StartCounter(id core.ChannelIdentity) {
	b.driver(id).StartCounter(id)
}

func (b Backend) StopCounter(id core.ChannelIdentity) {
	b.driver(id).StopCounter(id)
}

func (b Backend) AckStatus(id core.ChannelIdentity) uint32 {
	return b.driver(id).AckStatus(id)
}

// NVIC controls the two shared vectors. Each backend gates its own channels
// with per source enable bits, so a vector stays enabled once any of its
// channels has started.
type NVIC struct{}

func (NVIC) line(irq core.IRQ) (interrupt.Interrupt, bool) {
	switch irq {
	case config.RP2040PWMWrap:
		return pwmWrapIRQ, true
	case config.RP2040PIO0IRQ0:
		return pio0IRQ, true
	}
	return interrupt.Interrupt{}, false
}

func (n NVIC) EnableIRQ(irq core.IRQ) {
	if intr, ok := n.line(irq); ok {
		intr.Enable()
	}
}

// DisableIRQ leaves shared vectors enabled; StopCounter has already masked
// the channel's source.
func (NVIC) DisableIRQ(core.IRQ) {}

func (NVIC) ClearPendingIRQ(irq core.IRQ) {
	nvicICPR.Set(1 << uint32(irq))
}
