package core

import (
	"bytes"
	"testing"

	"prectimer/errcode"
	"prectimer/protocol"
)

// timerHarness drives a TimerService through the framed link like a host would
type timerHarness struct {
	t    *testing.T
	reg  *Registry
	tc   *MockTCDriver
	irq  *MockIRQController
	cmds *CommandRegistry
	svc  *TimerService
	link *protocol.Link
	seq  uint8
}

// response is one decoded MCU message
type response struct {
	name string
	data []byte
}

func newTimerHarness(t *testing.T, policy PrescalerPolicy, reserved ...int) *timerHarness {
	t.Helper()
	reg, tc, irq := newTestRegistry(t, policy, reserved...)

	cmds := NewCommandRegistry()
	InitCoreCommands(cmds)
	svc := NewTimerService(reg, cmds)
	svc.Register()

	cmds.SetSessionCallback(svc.Reset)
	link := protocol.NewLink(cmds.Dispatch)
	cmds.SetResponseSink(link.Send)

	return &timerHarness{
		t: t, reg: reg, tc: tc, irq: irq,
		cmds: cmds, svc: svc, link: link,
		seq: protocol.MessageDest,
	}
}

// send frames one command and returns every response it produced
func (h *timerHarness) send(name string, args ...uint32) []response {
	h.t.Helper()
	cmd, ok := h.cmds.Lookup(name)
	if !ok {
		h.t.Fatalf("unknown command %s", name)
	}

	w := protocol.NewWriter(32).Uint(uint32(cmd.ID))
	for _, a := range args {
		w.Uint(a)
	}
	frame, err := protocol.AppendFrame(nil, h.seq, w.Result())
	if err != nil {
		h.t.Fatal(err)
	}
	h.seq = protocol.NextSeq(h.seq)

	h.link.Receive(frame)
	return h.collect()
}

// collect decodes and drains the link output, dropping acks
func (h *timerHarness) collect() []response {
	h.t.Helper()
	var out bytes.Buffer
	if err := h.link.Drain(&out); err != nil {
		h.t.Fatal(err)
	}

	framer := protocol.NewFramer()
	framer.Write(out.Bytes())
	var responses []response
	for {
		frame, ok := framer.Next()
		if !ok {
			break
		}
		if len(frame.Payload) == 0 {
			continue
		}
		payload := frame.Payload
		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			h.t.Fatal(err)
		}
		cmd, ok := h.cmds.GetCommand(uint16(id))
		if !ok {
			h.t.Fatalf("response id %d not in dictionary", id)
		}
		responses = append(responses, response{name: cmd.Name, data: payload})
	}
	return responses
}

// expectError checks that responses hold exactly one timer_error with code
func (h *timerHarness) expectError(responses []response, oid uint8, code errcode.Code) {
	h.t.Helper()
	if len(responses) != 1 || responses[0].name != "timer_error" {
		h.t.Fatalf("responses = %v, want one timer_error", responses)
	}
	data := responses[0].data
	gotOID, _ := protocol.DecodeVLQUint(&data)
	gotCode, _ := protocol.DecodeVLQString(&data)
	if uint8(gotOID) != oid || errcode.Code(gotCode) != code {
		h.t.Errorf("timer_error oid=%d code=%s, want oid=%d code=%s", gotOID, gotCode, oid, code)
	}
}

func decodeUints(t *testing.T, data []byte, n int) []uint32 {
	t.Helper()
	values := make([]uint32, n)
	for i := range values {
		v, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			t.Fatalf("decode arg %d: %v", i, err)
		}
		values[i] = v
	}
	return values
}

func TestTimerConfigAndStart(t *testing.T) {
	h := newTimerHarness(t, PrescalerBestClock)

	if r := h.send("config_timer", 1, 3); len(r) != 0 {
		t.Fatalf("config_timer responses = %v", r)
	}
	ch, ok := h.svc.Object(1)
	if !ok || ch.Index() != 3 {
		t.Fatalf("oid 1 bound to %v (ok %v), want channel 3", ch.Index(), ok)
	}
	if ch.Available() {
		t.Error("configured channel should be occupied")
	}

	h.send("timer_start", 1, 1000)
	if !ch.Running() || ch.Period() != 1000 {
		t.Errorf("running=%v period=%d", ch.Running(), ch.Period())
	}
	id := ch.Identity()
	if h.tc.clock[id] != TimerClock3 || h.tc.compare[id] != 2625 {
		t.Errorf("waveform = (%d, %d)", h.tc.clock[id], h.tc.compare[id])
	}

	r := h.send("query_timer", 1)
	if len(r) != 1 || r[0].name != "timer_state" {
		t.Fatalf("query_timer responses = %v", r)
	}
	state := decodeUints(t, r[0].data, 8)
	want := []uint32{1, 3, 1000, 1000000, 1, uint32(TimerClock3), 2625, 0}
	for i := range want {
		if state[i] != want[i] {
			t.Errorf("timer_state = %v, want %v", state, want)
			break
		}
	}
}

func TestTimerFiredReports(t *testing.T) {
	h := newTimerHarness(t, PrescalerFixed)
	h.send("config_timer", 7, AnyChannel)
	ch, _ := h.svc.Object(7)
	h.send("timer_start", 7, 0)

	h.reg.Dispatch(ch.Index())
	h.reg.Dispatch(ch.Index())
	h.svc.Task()

	r := h.collect()
	if len(r) != 1 || r[0].name != "timer_fired" {
		t.Fatalf("responses = %v, want one timer_fired", r)
	}
	if v := decodeUints(t, r[0].data, 2); v[0] != 7 || v[1] != 2 {
		t.Errorf("timer_fired = %v, want [7 2]", v)
	}

	// Nothing new to report
	h.svc.Task()
	if r := h.collect(); len(r) != 0 {
		t.Errorf("idle Task produced %v", r)
	}
}

func TestTimerConfigAnyChannelSkipsReserved(t *testing.T) {
	h := newTimerHarness(t, PrescalerFixed, 0, 2, 3, 5)

	h.send("config_timer", 0, AnyChannel)
	h.send("config_timer", 1, AnyChannel)
	a, _ := h.svc.Object(0)
	b, _ := h.svc.Object(1)
	if a.Index() != 1 || b.Index() != 4 {
		t.Errorf("allocated channels %d and %d, want 1 and 4", a.Index(), b.Index())
	}

	h.expectError(h.send("config_timer", 2, 2), 2, errcode.Reserved)
}

func TestTimerConfigErrors(t *testing.T) {
	h := newTimerHarness(t, PrescalerFixed)

	h.send("config_timer", 1, 0)
	h.expectError(h.send("config_timer", 1, 4), 1, errcode.OIDInUse)
	h.expectError(h.send("config_timer", 2, 0), 2, errcode.ChannelInUse)
	h.expectError(h.send("config_timer", 3, 9), 3, errcode.UnknownChannel)

	for _, cmd := range []string{"timer_stop", "timer_release", "query_timer"} {
		h.expectError(h.send(cmd, 40), 40, errcode.UnknownOID)
	}
	h.expectError(h.send("timer_set_period", 40, 10), 40, errcode.UnknownOID)
	h.expectError(h.send("timer_set_period", 1, 0), 1, errcode.InvalidParams)

	if h.link.Errors() != 0 {
		t.Errorf("command errors counted as link errors: %v", h.link.LastError())
	}
}

func TestTimerConfigAllOccupied(t *testing.T) {
	h := newTimerHarness(t, PrescalerFixed)
	for oid := uint32(0); oid < 9; oid++ {
		if r := h.send("config_timer", oid, AnyChannel); len(r) != 0 {
			t.Fatalf("config_timer %d: %v", oid, r)
		}
	}
	h.expectError(h.send("config_timer", 9, AnyChannel), 9, errcode.ChannelInUse)
}

func TestTimerSetFrequency(t *testing.T) {
	h := newTimerHarness(t, PrescalerFixed)
	h.send("config_timer", 1, 2)

	h.send("timer_set_frequency", 1, 50000) // 50Hz
	ch, _ := h.svc.Object(1)
	if ch.Period() != 20000 {
		t.Errorf("period = %d, want 20000", ch.Period())
	}

	h.send("timer_set_frequency", 1, 0)
	if ch.Period() != 1000000 {
		t.Errorf("zero frequency period = %d, want 1000000", ch.Period())
	}

	h.send("timer_set_period", 1, 333)
	if ch.Period() != 333 || ch.Running() {
		t.Errorf("period=%d running=%v", ch.Period(), ch.Running())
	}
}

func TestTimerStopAndRelease(t *testing.T) {
	h := newTimerHarness(t, PrescalerFixed)
	h.send("config_timer", 5, 6)
	h.send("timer_start", 5, 100)
	ch, _ := h.svc.Object(5)

	h.send("timer_stop", 5)
	h.send("timer_stop", 5)
	if ch.Running() || h.irq.enabled[ch.Identity().IRQ] {
		t.Error("timer_stop left the channel running")
	}

	h.send("timer_release", 5)
	if _, ok := h.svc.Object(5); ok {
		t.Error("oid still bound after release")
	}
	if !ch.Available() {
		t.Error("released channel not available")
	}

	// oid can be reused
	if r := h.send("config_timer", 5, 6); len(r) != 0 {
		t.Errorf("reconfigure after release: %v", r)
	}
}

func TestTimerGetConfig(t *testing.T) {
	h := newTimerHarness(t, PrescalerBestClock, 0, 2)

	r := h.send("get_config")
	if len(r) != 1 || r[0].name != "config" {
		t.Fatalf("get_config responses = %v", r)
	}
	v := decodeUints(t, r[0].data, 4)
	if v[0] != 9 || v[1] != 0x5 || v[2] != uint32(PrescalerBestClock) || v[3] != 84000000 {
		t.Errorf("config = %v", v)
	}
}

func TestTimerHostRestartResets(t *testing.T) {
	h := newTimerHarness(t, PrescalerFixed)
	h.send("config_timer", 1, 0)
	h.send("timer_start", 1, 100)
	ch, _ := h.svc.Object(1)

	// Host reconnects and reads the dictionary from the start
	h.send("identify", 0, 40)

	if _, ok := h.svc.Object(1); ok {
		t.Error("objects survived a host restart")
	}
	if ch.Running() || !ch.Available() {
		t.Error("channels survived a host restart")
	}
}

func TestTimerSequenceWrapKeepsTimers(t *testing.T) {
	h := newTimerHarness(t, PrescalerFixed)
	h.send("config_timer", 1, 3)
	h.send("timer_start", 1, 1000)

	// Enough commands to wrap the sequence back to its first value
	for i := 0; i < 20; i++ {
		if r := h.send("query_timer", 1); len(r) != 1 || r[0].name != "timer_state" {
			t.Fatalf("query %d = %+v", i, r)
		}
	}
	// Identify past offset zero is a plain dictionary read
	h.send("identify", 40, 40)

	ch, ok := h.svc.Object(1)
	if !ok || !ch.Running() {
		t.Error("timer lost across a sequence wrap")
	}
}

func TestTimerTruncatedCommand(t *testing.T) {
	h := newTimerHarness(t, PrescalerFixed)
	cmd, _ := h.cmds.Lookup("config_timer")

	payload := protocol.NewWriter(4).Uint(uint32(cmd.ID)).Uint(1).Result()
	frame, _ := protocol.AppendFrame(nil, h.seq, payload)
	h.link.Receive(frame)

	if h.link.Errors() != 1 {
		t.Errorf("link errors = %d, want 1", h.link.Errors())
	}
	if _, ok := h.svc.Object(1); ok {
		t.Error("truncated config_timer bound an object")
	}
}

func TestTimerDictionaryEntries(t *testing.T) {
	h := newTimerHarness(t, PrescalerBestClock)
	dict := h.cmds.Dictionary()

	for _, entry := range []string{
		"config_timer oid=%c channel=%c",
		"resp ",
		"timer_error oid=%c code=%*s",
		"const TIMER_CHANNELS 9",
		"const TIMER_PRESCALER best",
	} {
		if !bytes.Contains([]byte(dict), []byte(entry)) {
			t.Errorf("dictionary missing %q", entry)
		}
	}
}
