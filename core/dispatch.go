package core

// Dispatch is the interrupt trampoline body for a channel. The hardware status
// is acknowledged first so the vector does not stay asserted, then the
// registered callback runs. An interrupt with no callback attached is counted
// as spurious and otherwise ignored.
func (r *Registry) Dispatch(index int) {
	r.checkIndex(index)
	r.tc.AckStatus(r.identities[index])

	s := &r.states[index]
	slot := s.callback.Load()
	if slot == nil {
		s.spurious.Add(1)
		RecordEvent(EvtSpurious, uint8(index), s.spurious.Load())
		return
	}

	fires := s.fires.Add(1)
	RecordEvent(EvtFire, uint8(index), fires)
	slot.fn()
}

// Trampoline returns the fixed handler a target binds to the channel's vector.
func (r *Registry) Trampoline(index int) func() {
	r.checkIndex(index)
	return func() {
		r.Dispatch(index)
	}
}

// Trampolines returns one handler per channel, indexed like the registry.
func (r *Registry) Trampolines() []func() {
	handlers := make([]func(), len(r.identities))
	for i := range handlers {
		handlers[i] = r.Trampoline(i)
	}
	return handlers
}

// DispatchIRQ runs the trampoline of every channel wired to irq. Targets whose
// channels share one vector call this from the shared handler after reading
// which channels are pending.
func (r *Registry) DispatchIRQ(irq IRQ, pending func(id ChannelIdentity) bool) {
	for i, id := range r.identities {
		if id.IRQ == irq && pending(id) {
			r.Dispatch(i)
		}
	}
}
