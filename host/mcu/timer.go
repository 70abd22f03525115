package mcu

import "math"

// AnyChannel asks config_timer for the first available channel
const AnyChannel = 0xFF

// BoardInfo is the get_config reply
type BoardInfo struct {
	Channels  uint32
	Reserved  uint32 // bit i set when channel i is reserved
	Policy    string
	BaseClock uint32
}

// TimerState is the query_timer reply
type TimerState struct {
	OID       uint32
	Channel   uint32
	PeriodUS  uint32
	Frequency float64 // Hz
	Running   bool
	Clock     uint32
	Compare   uint32
	Fires     uint32
}

// GetConfig reports the board's channel bank
func (m *MCU) GetConfig() (BoardInfo, error) {
	msg, err := m.Query("get_config", "config")
	if err != nil {
		return BoardInfo{}, err
	}
	info := BoardInfo{
		Channels:  msg.Uint("channels"),
		Reserved:  msg.Uint("reserved"),
		Policy:    "fixed",
		BaseClock: msg.Uint("base_clock"),
	}
	if msg.Uint("policy") == 1 {
		info.Policy = "best"
	}
	return info, nil
}

// ConfigTimer binds oid to channel, or to any free channel when channel is
// AnyChannel
func (m *MCU) ConfigTimer(oid, channel uint8) error {
	return m.Exec("config_timer", oid, channel)
}

// SetPeriod sets the period of oid in microseconds
func (m *MCU) SetPeriod(oid uint8, us uint32) error {
	return m.Exec("timer_set_period", oid, us)
}

// SetFrequency sets the frequency of oid. The wire value is in milli-hertz.
func (m *MCU) SetFrequency(oid uint8, hz float64) error {
	mhz := math.Round(hz * 1000)
	if !(mhz > 0) {
		mhz = 0
	}
	if mhz > math.MaxUint32 {
		mhz = math.MaxUint32
	}
	return m.Exec("timer_set_frequency", oid, uint32(mhz))
}

// Start starts oid, applying us first when it is non-zero
func (m *MCU) Start(oid uint8, us uint32) error {
	return m.Exec("timer_start", oid, us)
}

// Stop stops oid
func (m *MCU) Stop(oid uint8) error {
	return m.Exec("timer_stop", oid)
}

// Release stops oid and frees its channel
func (m *MCU) Release(oid uint8) error {
	return m.Exec("timer_release", oid)
}

// QueryTimer reads back the state of oid
func (m *MCU) QueryTimer(oid uint8) (TimerState, error) {
	msg, err := m.Query("query_timer", "timer_state", oid)
	if err != nil {
		return TimerState{}, err
	}
	return TimerState{
		OID:       msg.Uint("oid"),
		Channel:   msg.Uint("channel"),
		PeriodUS:  msg.Uint("period_us"),
		Frequency: float64(msg.Uint("freq_mhz")) / 1000,
		Running:   msg.Uint("running") != 0,
		Clock:     msg.Uint("clock"),
		Compare:   msg.Uint("compare"),
		Fires:     msg.Uint("fires"),
	}, nil
}
