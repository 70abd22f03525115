package core

import "testing"

// MockTCDriver records what the core asked of the timer hardware
type MockTCDriver struct {
	clocked  map[ChannelIdentity]bool
	clock    map[ChannelIdentity]ClockFlag
	compare  map[ChannelIdentity]uint32
	counting map[ChannelIdentity]bool
	acks     map[ChannelIdentity]int
	configs  int
	order    []string
}

func NewMockTCDriver() *MockTCDriver {
	return &MockTCDriver{
		clocked:  make(map[ChannelIdentity]bool),
		clock:    make(map[ChannelIdentity]ClockFlag),
		compare:  make(map[ChannelIdentity]uint32),
		counting: make(map[ChannelIdentity]bool),
		acks:     make(map[ChannelIdentity]int),
	}
}

func (m *MockTCDriver) EnablePeripheralClock(id ChannelIdentity) {
	m.clocked[id] = true
}

func (m *MockTCDriver) ConfigureWaveform(id ChannelIdentity, clock ClockFlag, compare uint32) {
	m.clock[id] = clock
	m.compare[id] = compare
	m.configs++
}

func (m *MockTCDriver) StartCounter(id ChannelIdentity) {
	m.counting[id] = true
}

func (m *MockTCDriver) StopCounter(id ChannelIdentity) {
	m.counting[id] = false
}

func (m *MockTCDriver) AckStatus(id ChannelIdentity) uint32 {
	m.acks[id]++
	m.order = append(m.order, "ack")
	return 1 << 4 // CPCS
}

// MockIRQController tracks enabled and pending vectors
type MockIRQController struct {
	enabled map[IRQ]bool
	pending map[IRQ]bool
	clears  int
}

func NewMockIRQController() *MockIRQController {
	return &MockIRQController{
		enabled: make(map[IRQ]bool),
		pending: make(map[IRQ]bool),
	}
}

func (m *MockIRQController) EnableIRQ(irq IRQ) {
	m.enabled[irq] = true
}

func (m *MockIRQController) DisableIRQ(irq IRQ) {
	m.enabled[irq] = false
}

func (m *MockIRQController) ClearPendingIRQ(irq IRQ) {
	m.pending[irq] = false
	m.clears++
}

// dueIdentities is the Due channel map: TC0..TC8 on blocks 0..2, IRQ 27..35
func dueIdentities() []ChannelIdentity {
	ids := make([]ChannelIdentity, 9)
	for i := range ids {
		ids[i] = ChannelIdentity{
			Block: TCBlock(i / 3),
			Sub:   uint8(i % 3),
			IRQ:   IRQ(27 + i),
		}
	}
	return ids
}

// newTestRegistry builds a Due-shaped registry on fresh mocks
func newTestRegistry(t *testing.T, policy PrescalerPolicy, reserved ...int) (*Registry, *MockTCDriver, *MockIRQController) {
	t.Helper()
	tc := NewMockTCDriver()
	irq := NewMockIRQController()
	reg, err := NewRegistry(RegistryConfig{
		Identities: dueIdentities(),
		Reserved:   reserved,
		Clocks:     SAM3XClockTable(),
		Policy:     policy,
	}, tc, irq)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return reg, tc, irq
}
