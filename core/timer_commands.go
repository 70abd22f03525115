package core

import (
	"math"
	"sync/atomic"

	"prectimer/errcode"
	"prectimer/protocol"
)

// AnyChannel in config_timer asks for the first available channel
const AnyChannel = 0xFF

// timerObject is a channel bound to a host object id
type timerObject struct {
	oid      uint8
	ch       Channel
	count    atomic.Uint32 // incremented from interrupt context
	reported uint32
}

// TimerService exposes a channel registry as host commands
type TimerService struct {
	reg     *Registry
	cmds    *CommandRegistry
	objects [256]*timerObject
}

// NewTimerService creates a service for reg answering through cmds
func NewTimerService(reg *Registry, cmds *CommandRegistry) *TimerService {
	return &TimerService{reg: reg, cmds: cmds}
}

// Register adds the timer commands and responses to the command registry
func (s *TimerService) Register() {
	r := s.cmds
	r.Register("get_config", "", s.handleGetConfig)
	r.Register("config_timer", "oid=%c channel=%c", s.handleConfigTimer)
	r.Register("timer_set_period", "oid=%c period_us=%u", s.handleSetPeriod)
	r.Register("timer_set_frequency", "oid=%c freq_mhz=%u", s.handleSetFrequency)
	r.Register("timer_start", "oid=%c period_us=%u", s.handleStart)
	r.Register("timer_stop", "oid=%c", s.handleStop)
	r.Register("timer_release", "oid=%c", s.handleRelease)
	r.Register("query_timer", "oid=%c", s.handleQuery)

	r.RegisterResponse("config", "channels=%c reserved=%u policy=%c base_clock=%u")
	r.RegisterResponse("timer_state", "oid=%c channel=%c period_us=%u freq_mhz=%u running=%c clock=%c compare=%u fires=%u")
	r.RegisterResponse("timer_fired", "oid=%c count=%u")
	r.RegisterResponse("timer_error", "oid=%c code=%*s")

	r.AddConstant("TIMER_CHANNELS", itoa(s.reg.Len()))
	r.AddConstant("TIMER_BASE_CLOCK", utoa(s.reg.Clocks().BaseClock))
	r.AddConstant("TIMER_PRESCALER", s.reg.Policy().String())
}

// Task reports channels that fired since the last call. Call it from the
// main loop, never from interrupt context.
func (s *TimerService) Task() {
	for _, obj := range s.objects {
		if obj == nil {
			continue
		}
		count := obj.count.Load()
		if count == obj.reported {
			continue
		}
		obj.reported = count
		oid := obj.oid
		s.cmds.Respond("timer_fired", func(w *protocol.Writer) {
			w.Uint(uint32(oid))
			w.Uint(count)
		})
	}
}

// Reset releases every object and stops all channels (host reconnect)
func (s *TimerService) Reset() {
	for i := range s.objects {
		s.objects[i] = nil
	}
	s.reg.Reset()
}

// Object returns the channel bound to oid
func (s *TimerService) Object(oid uint8) (Channel, bool) {
	obj := s.objects[oid]
	if obj == nil {
		return Channel{}, false
	}
	return obj.ch, true
}

// report sends timer_error for oid. Command-level failures are answered,
// not propagated, so the link does not count them as protocol errors.
func (s *TimerService) report(oid uint8, err error) error {
	code := errcode.Of(err)
	DebugPrintln("[TIMER] oid=" + itoa(int(oid)) + " error: " + err.Error())
	return s.cmds.Respond("timer_error", func(w *protocol.Writer) {
		w.Uint(uint32(oid))
		w.String(string(code))
	})
}

// decodeOID reads the oid argument and looks up its object
func (s *TimerService) decodeOID(data *[]byte) (uint8, *timerObject, error) {
	v, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return 0, nil, err
	}
	oid := uint8(v)
	return oid, s.objects[oid], nil
}

// handleGetConfig reports the shape of the channel bank
// Format: get_config
func (s *TimerService) handleGetConfig(data *[]byte) error {
	var reserved uint32
	for i := 0; i < s.reg.Len() && i < 32; i++ {
		if s.reg.Reserved(i) {
			reserved |= 1 << i
		}
	}
	clocks := s.reg.Clocks()
	return s.cmds.Respond("config", func(w *protocol.Writer) {
		w.Uint(uint32(s.reg.Len()))
		w.Uint(reserved)
		w.Uint(uint32(s.reg.Policy()))
		w.Uint(clocks.BaseClock)
	})
}

// handleConfigTimer binds an oid to a channel and attaches a counting callback
// Format: config_timer oid=%c channel=%c
func (s *TimerService) handleConfigTimer(data *[]byte) error {
	oid, obj, err := s.decodeOID(data)
	if err != nil {
		return err
	}
	index, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	if obj != nil {
		return s.report(oid, errcode.OIDInUse)
	}

	var ch Channel
	switch {
	case index == AnyChannel:
		ch = s.reg.FindAvailable()
	case index >= uint32(s.reg.Len()):
		return s.report(oid, errcode.UnknownChannel)
	case s.reg.Reserved(int(index)):
		return s.report(oid, errcode.Reserved)
	default:
		ch = s.reg.Channel(int(index))
	}
	if !ch.Available() {
		// Also catches the index 0 fallback of FindAvailable
		return s.report(oid, errcode.ChannelInUse)
	}

	obj = &timerObject{oid: oid, ch: ch}
	ch.AttachCallback(func() {
		obj.count.Add(1)
	})
	s.objects[oid] = obj

	DebugPrintln("[TIMER] oid=" + itoa(int(oid)) + " -> channel " + itoa(ch.Index()))
	return nil
}

// handleSetPeriod sets the period of a bound channel
// Format: timer_set_period oid=%c period_us=%u
func (s *TimerService) handleSetPeriod(data *[]byte) error {
	oid, obj, err := s.decodeOID(data)
	if err != nil {
		return err
	}
	period, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if obj == nil {
		return s.report(oid, errcode.UnknownOID)
	}
	if period == 0 {
		return s.report(oid, errcode.InvalidParams)
	}

	obj.ch.SetPeriod(period)
	return nil
}

// handleSetFrequency sets the frequency of a bound channel in milli-hertz
// Format: timer_set_frequency oid=%c freq_mhz=%u
func (s *TimerService) handleSetFrequency(data *[]byte) error {
	oid, obj, err := s.decodeOID(data)
	if err != nil {
		return err
	}
	mhz, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if obj == nil {
		return s.report(oid, errcode.UnknownOID)
	}

	obj.ch.SetFrequency(float64(mhz) / 1000)
	return nil
}

// handleStart starts a bound channel, optionally with a new period
// Format: timer_start oid=%c period_us=%u
func (s *TimerService) handleStart(data *[]byte) error {
	oid, obj, err := s.decodeOID(data)
	if err != nil {
		return err
	}
	period, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if obj == nil {
		return s.report(oid, errcode.UnknownOID)
	}

	obj.ch.StartPeriod(period)
	return nil
}

// handleStop stops a bound channel
// Format: timer_stop oid=%c
func (s *TimerService) handleStop(data *[]byte) error {
	oid, obj, err := s.decodeOID(data)
	if err != nil {
		return err
	}
	if obj == nil {
		return s.report(oid, errcode.UnknownOID)
	}

	obj.ch.Stop()
	return nil
}

// handleRelease detaches the callback and frees the oid
// Format: timer_release oid=%c
func (s *TimerService) handleRelease(data *[]byte) error {
	oid, obj, err := s.decodeOID(data)
	if err != nil {
		return err
	}
	if obj == nil {
		return s.report(oid, errcode.UnknownOID)
	}

	obj.ch.DetachCallback()
	s.objects[oid] = nil
	return nil
}

// handleQuery reports the state of a bound channel
// Format: query_timer oid=%c
func (s *TimerService) handleQuery(data *[]byte) error {
	oid, obj, err := s.decodeOID(data)
	if err != nil {
		return err
	}
	if obj == nil {
		return s.report(oid, errcode.UnknownOID)
	}

	ch := obj.ch
	var mhz uint32
	if hz, err := ch.FrequencyChecked(); err == nil {
		mhz = uint32(math.Min(math.Round(hz*1000), math.MaxUint32))
	}
	running := uint32(0)
	if ch.Running() {
		running = 1
	}
	clock, compare := ch.Clock()

	return s.cmds.Respond("timer_state", func(w *protocol.Writer) {
		w.Uint(uint32(oid))
		w.Uint(uint32(ch.Index()))
		w.Uint(ch.Period())
		w.Uint(mhz)
		w.Uint(running)
		w.Uint(uint32(clock))
		w.Uint(compare)
		w.Uint(obj.count.Load())
	})
}

// Default service bound to the default registry and global command registry
var defaultTimerService *TimerService

// InitTimerCommands registers the timer commands for the default registry
func InitTimerCommands() *TimerService {
	defaultTimerService = NewTimerService(MustRegistry(), globalRegistry)
	defaultTimerService.Register()
	return defaultTimerService
}

// TimerTask runs the default service's fire reporting
func TimerTask() {
	if defaultTimerService != nil {
		defaultTimerService.Task()
	}
}
