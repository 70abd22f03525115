package core

import "math"

// MicrosPerSecond converts between periods in microseconds and frequencies in Hz.
const MicrosPerSecond = 1000000

// DefaultPeriod is applied by Start when a channel was never configured (1 Hz).
const DefaultPeriod = 1000000

// PrescalerPolicy selects how SetPeriod derives the clock source and RC value.
type PrescalerPolicy uint8

const (
	// PrescalerFixed always uses ClockTable.FixedIndex with integer ticks per µs.
	PrescalerFixed PrescalerPolicy = iota

	// PrescalerBestClock runs the error-minimising search over every clock source.
	PrescalerBestClock
)

func (p PrescalerPolicy) String() string {
	switch p {
	case PrescalerFixed:
		return "fixed"
	case PrescalerBestClock:
		return "best"
	default:
		return "unknown"
	}
}

// ClockSource is one selectable prescaler: the flag written to the mode
// register and the divisor it applies to the base clock.
type ClockSource struct {
	Flag    ClockFlag `json:"flag"`
	Divisor uint32    `json:"divisor"`
}

// ClockTable describes the clock sources available to a channel.
type ClockTable struct {
	BaseClock  uint32        // Peripheral input clock in Hz (MCK)
	Sources    []ClockSource // Ordered from finest to coarsest divisor
	FixedIndex int           // Source used by PrescalerFixed
	MaxCompare uint32        // Largest RC value the counter accepts (0 = 32-bit)
}

// SAM3X timer clock selections (TC_CMR_TCCLKS_TIMER_CLOCK1..4)
const (
	TimerClock1 ClockFlag = 0 // MCK/2
	TimerClock2 ClockFlag = 1 // MCK/8
	TimerClock3 ClockFlag = 2 // MCK/32
	TimerClock4 ClockFlag = 3 // MCK/128
)

// SAM3XClockTable returns the Due's TC clock table at 84MHz.
func SAM3XClockTable() ClockTable {
	return ClockTable{
		BaseClock: 84000000,
		Sources: []ClockSource{
			{TimerClock1, 2},
			{TimerClock2, 8},
			{TimerClock3, 32},
			{TimerClock4, 128},
		},
		FixedIndex: 0,
	}
}

func (t ClockTable) maxCompare() uint32 {
	if t.MaxCompare == 0 {
		return math.MaxUint32
	}
	return t.MaxCompare
}

// Best picks the clock source whose compare value lands closest to an
// integer tick count and returns its flag with the rounded compare value.
//
// Sources are evaluated from the coarsest to the finest. The rounding error
// is scaled by the divisor so candidates are compared in base-clock ticks
// (absolute time) rather than in their own tick units. Only a strict
// improvement replaces the current best, so exact ties go to the coarser clock.
// Candidates whose compare value would not fit MaxCompare are skipped.
// A frequency that is not positive is treated as 1Hz.
func (t ClockTable) Best(hz float64) (ClockFlag, uint32) {
	if !(hz > 0) {
		hz = 1
	}
	limit := float64(t.maxCompare())
	coarsest := len(t.Sources) - 1
	best := -1
	bestError := math.Inf(1)

	for id := coarsest; id >= 0; id-- {
		divisor := float64(t.Sources[id].Divisor)
		ticks := float64(t.BaseClock) / hz / divisor
		if math.Round(ticks) > limit {
			continue
		}
		err := divisor * math.Abs(ticks-math.Round(ticks))
		if err < bestError {
			best = id
			bestError = err
		}
	}

	if best < 0 {
		// Nothing fits: run the slowest clock at its longest period
		return t.Sources[coarsest].Flag, t.maxCompare()
	}

	ticks := float64(t.BaseClock) / hz / float64(t.Sources[best].Divisor)
	return t.Sources[best].Flag, uint32(math.Round(ticks))
}

// Fixed returns the compare value for a period on the FixedIndex source using
// whole ticks per microsecond (42 on an 84MHz SAM3X at MCK/2).
func (t ClockTable) Fixed(microseconds uint32) (ClockFlag, uint32) {
	src := t.Sources[t.FixedIndex]
	ticksPerUS := uint64(t.BaseClock) / MicrosPerSecond / uint64(src.Divisor)
	rc := ticksPerUS * uint64(microseconds)
	if limit := uint64(t.maxCompare()); rc > limit {
		rc = limit
	}
	return src.Flag, uint32(rc)
}

// Select applies policy to a period in microseconds.
func (t ClockTable) Select(policy PrescalerPolicy, microseconds uint32) (ClockFlag, uint32) {
	if policy == PrescalerBestClock && microseconds > 0 {
		return t.Best(float64(MicrosPerSecond) / float64(microseconds))
	}
	return t.Fixed(microseconds)
}

// PeriodFromFrequency converts Hz to a period in microseconds, clamping
// non-positive (and NaN) input to 1Hz.
func PeriodFromFrequency(hz float64) uint32 {
	if !(hz > 0) {
		hz = 1
	}
	us := math.Round(MicrosPerSecond / hz)
	if us > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(us)
}

// validate reports why the table cannot drive a registry, or "" when it can.
func (t ClockTable) validate() string {
	if t.BaseClock == 0 {
		return "base clock is zero"
	}
	if len(t.Sources) == 0 {
		return "no clock sources"
	}
	for _, src := range t.Sources {
		if src.Divisor == 0 {
			return "clock divisor is zero"
		}
	}
	if t.FixedIndex < 0 || t.FixedIndex >= len(t.Sources) {
		return "fixed clock index out of range"
	}
	return ""
}
