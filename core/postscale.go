package core

import "sync/atomic"

// SplitCompare spreads compare ticks over a counter that is only bits wide.
// It returns how many wraps make up one period and the reload value of each
// wrap, so that postscale*(reload+1) is as close to compare as the counter
// allows.
func SplitCompare(compare uint32, bits uint) (postscale, reload uint32) {
	if compare == 0 {
		compare = 1
	}
	span := uint64(1) << bits
	if uint64(compare) <= span {
		return 1, compare - 1
	}
	post := (uint64(compare) + span - 1) / span
	wrap := (uint64(compare) + post/2) / post
	if wrap > span {
		wrap = span
	}
	return uint32(post), uint32(wrap - 1)
}

// Postscaler counts counter wraps and reports every n-th one. Set runs in the
// foreground; Tick runs in interrupt context.
type Postscaler struct {
	n     atomic.Uint32
	count atomic.Uint32
}

// Set changes the wrap count and restarts counting
func (p *Postscaler) Set(n uint32) {
	if n == 0 {
		n = 1
	}
	p.n.Store(n)
	p.count.Store(0)
}

// Restart drops wraps counted so far
func (p *Postscaler) Restart() {
	p.count.Store(0)
}

// Tick records one wrap and reports whether it completes a period
func (p *Postscaler) Tick() bool {
	n := p.n.Load()
	if n <= 1 {
		return true
	}
	if p.count.Add(1) < n {
		return false
	}
	p.count.Store(0)
	return true
}
