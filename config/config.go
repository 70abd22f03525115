// Package config describes a board's timer channel bank and turns it into a
// core.RegistryConfig.
package config

import (
	"encoding/json"
	"strconv"

	"prectimer/core"
	"prectimer/errcode"
)

// Board variants
const (
	VariantDue    = "due"
	VariantRP2040 = "rp2040"
)

// Host link selections
const (
	LinkUSB   = "usb"
	LinkUART0 = "uart0"
	LinkUART1 = "uart1"
)

// Interrupt vectors used by the channel banks
const (
	SAM3XTC0IRQ    core.IRQ = 27 // TC0..TC8 occupy 27..35
	RP2040PWMWrap  core.IRQ = 4  // PWM_IRQ_WRAP
	RP2040PIO0IRQ0 core.IRQ = 7  // PIO0_IRQ_0
)

// RP2040PWMBlocks is the number of blocks backed by PWM slices; the next
// block is PIO0
const RP2040PWMBlocks = 2

// MaxChannels is the size of every variant's identity table
const MaxChannels = 9

// ServoReserved are the channels the Arduino Servo library drives on the Due
var ServoReserved = []int{0, 2, 3, 4, 5}

// BoardConfig is the JSON board description
type BoardConfig struct {
	Variant     string             `json:"variant"`
	Channels    int                `json:"channels"`
	ServoCompat bool               `json:"servo_compat"`
	Reserved    []int              `json:"reserved"`
	Prescaler   string             `json:"prescaler"`
	BaseClock   uint32             `json:"base_clock"`
	Clocks      []core.ClockSource `json:"clocks"`
	FixedClock  int                `json:"fixed_clock"`
	MaxCompare  uint32             `json:"max_compare"`
	Link        string             `json:"link"`
	Baud        uint32             `json:"baud"`
	TXPin       uint8              `json:"tx_pin"`
	RXPin       uint8              `json:"rx_pin"`
}

// LoadConfig parses a JSON configuration and fills in defaults for the variant
func LoadConfig(jsonData []byte) (*BoardConfig, error) {
	var config BoardConfig

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: "load config", Err: err}
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyDefaults fills in missing configuration values from the variant's defaults
func applyDefaults(config *BoardConfig) {
	if config.Variant == "" {
		config.Variant = VariantDue
	}

	var def *BoardConfig
	switch config.Variant {
	case VariantRP2040:
		def = DefaultRP2040Config()
	case VariantDue:
		def = DefaultDueConfig()
	default:
		// Validate reports the unknown variant
		return
	}

	if config.Channels == 0 {
		config.Channels = def.Channels
	}
	if config.Prescaler == "" {
		config.Prescaler = def.Prescaler
	}
	if config.BaseClock == 0 {
		config.BaseClock = def.BaseClock
	}
	if len(config.Clocks) == 0 {
		// fixed_clock only means something relative to an explicit table
		config.Clocks = def.Clocks
		config.FixedClock = def.FixedClock
	}
	if config.Link == "" {
		config.Link = def.Link
	}
	if config.Baud == 0 {
		config.Baud = def.Baud
	}
	if config.TXPin == 0 && config.RXPin == 0 {
		config.TXPin = def.TXPin
		config.RXPin = def.RXPin
	}
}

func invalid(msg string) error {
	return errcode.Wrap(errcode.InvalidConfig, "config", msg)
}

// Validate checks the configuration against the variant
func (c *BoardConfig) Validate() error {
	switch c.Variant {
	case VariantDue:
		if c.Channels != 6 && c.Channels != 9 {
			return invalid("due: channels must be 6 or 9, got " + strconv.Itoa(c.Channels))
		}
	case VariantRP2040:
		if c.Channels < 1 || c.Channels > MaxChannels {
			return invalid("rp2040: channels must be 1.." + strconv.Itoa(MaxChannels) + ", got " + strconv.Itoa(c.Channels))
		}
	default:
		return invalid("unknown variant " + strconv.Quote(c.Variant))
	}

	if _, err := c.Policy(); err != nil {
		return err
	}

	for _, idx := range c.ReservedChannels() {
		if idx < 0 || idx >= c.Channels {
			return invalid("reserved channel " + strconv.Itoa(idx) + " out of range")
		}
	}

	if c.BaseClock == 0 {
		return invalid("base_clock must be set")
	}
	if len(c.Clocks) == 0 {
		return invalid("no clock sources")
	}
	for i, src := range c.Clocks {
		if src.Divisor == 0 {
			return invalid("clock " + strconv.Itoa(i) + " has zero divisor")
		}
	}
	if c.FixedClock < 0 || c.FixedClock >= len(c.Clocks) {
		return invalid("fixed_clock " + strconv.Itoa(c.FixedClock) + " out of range")
	}

	switch c.Link {
	case LinkUSB, LinkUART0, LinkUART1:
	default:
		return invalid("unknown link " + strconv.Quote(c.Link))
	}
	return nil
}

// Policy returns the prescaler policy named by the config
func (c *BoardConfig) Policy() (core.PrescalerPolicy, error) {
	switch c.Prescaler {
	case "fixed":
		return core.PrescalerFixed, nil
	case "best":
		return core.PrescalerBestClock, nil
	default:
		return 0, invalid("unknown prescaler " + strconv.Quote(c.Prescaler))
	}
}

// ReservedChannels merges servo compatibility with the explicit reserved list
func (c *BoardConfig) ReservedChannels() []int {
	seen := make(map[int]bool)
	var out []int
	add := func(idx int) {
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	if c.ServoCompat {
		for _, idx := range ServoReserved {
			if idx < c.Channels {
				add(idx)
			}
		}
	}
	for _, idx := range c.Reserved {
		add(idx)
	}
	return out
}

// Identities returns the channel identity table for the variant
func (c *BoardConfig) Identities() []core.ChannelIdentity {
	ids := make([]core.ChannelIdentity, c.Channels)
	for i := range ids {
		id := core.ChannelIdentity{
			Block: core.TCBlock(i / 3),
			Sub:   uint8(i % 3),
		}
		switch c.Variant {
		case VariantRP2040:
			if int(id.Block) < RP2040PWMBlocks {
				id.IRQ = RP2040PWMWrap
			} else {
				id.IRQ = RP2040PIO0IRQ0
			}
		default:
			id.IRQ = SAM3XTC0IRQ + core.IRQ(i)
		}
		ids[i] = id
	}
	return ids
}

// ClockTable returns the configured clock sources
func (c *BoardConfig) ClockTable() core.ClockTable {
	return core.ClockTable{
		BaseClock:  c.BaseClock,
		Sources:    append([]core.ClockSource(nil), c.Clocks...),
		FixedIndex: c.FixedClock,
		MaxCompare: c.MaxCompare,
	}
}

// RegistryConfig converts the board description for core.NewRegistry
func (c *BoardConfig) RegistryConfig() (core.RegistryConfig, error) {
	if err := c.Validate(); err != nil {
		return core.RegistryConfig{}, err
	}
	policy, _ := c.Policy()
	return core.RegistryConfig{
		Identities: c.Identities(),
		Reserved:   c.ReservedChannels(),
		Clocks:     c.ClockTable(),
		Policy:     policy,
	}, nil
}

// DefaultDueConfig returns the six channel Arduino Due configuration
func DefaultDueConfig() *BoardConfig {
	table := core.SAM3XClockTable()
	return &BoardConfig{
		Variant:    VariantDue,
		Channels:   6,
		Prescaler:  "fixed",
		BaseClock:  table.BaseClock,
		Clocks:     table.Sources,
		FixedClock: table.FixedIndex,
		Link:       LinkUSB,
		Baud:       250000,
	}
}

// DefaultDueX9Config returns the nine channel Due configuration (TC0..TC8)
func DefaultDueX9Config() *BoardConfig {
	c := DefaultDueConfig()
	c.Channels = 9
	return c
}

// DefaultRP2040Config returns the RP2040 configuration: PWM slices 0-5 and
// PIO0 state machines 0-2 clocked from the 125MHz system clock
func DefaultRP2040Config() *BoardConfig {
	clocks := make([]core.ClockSource, 8)
	for i := range clocks {
		clocks[i] = core.ClockSource{Flag: core.ClockFlag(i), Divisor: 1 << i}
	}
	return &BoardConfig{
		Variant:    VariantRP2040,
		Channels:   9,
		Prescaler:  "best",
		BaseClock:  125000000,
		Clocks:     clocks,
		FixedClock: 0,
		Link:       LinkUSB,
		Baud:       250000,
		TXPin:      0,
		RXPin:      1,
	}
}
