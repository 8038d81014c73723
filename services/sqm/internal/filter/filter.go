// Package filter smooths a stream of magnitudes and rejects spikes.
//
// Step is a pure function of (state, magnitude); Filter is a small owning
// wrapper for callers that keep one state for the life of the process.
package filter

import "sqmcode-go/x/mathx"

const (
	DefaultWindow    = 5
	DefaultMaxChange = 3.0
)

// Params control the filter. A Window below 1 is treated as 1.
type Params struct {
	Window    int
	MaxChange float64
}

func (p Params) window() int {
	if p.Window < 1 {
		return 1
	}
	return p.Window
}

// State is the filter memory. The zero value is the empty state.
type State struct {
	window []float64 // oldest first, len <= capacity
	last   float64
	primed bool
}

// LastAccepted returns the most recent accepted magnitude.
func (s State) LastAccepted() (float64, bool) { return s.last, s.primed }

// Len returns the number of magnitudes in the window.
func (s State) Len() int { return len(s.window) }

// Window returns a copy of the window, oldest first.
func (s State) Window() []float64 { return append([]float64(nil), s.window...) }

// Mean returns the arithmetic mean of the window, 0 when empty.
func (s State) Mean() float64 {
	return mathx.Mean(s.window)
}

// Spike describes a rejected magnitude.
type Spike struct {
	Rejected     float64
	Delta        float64
	LastAccepted float64
}

// Step feeds m into s. It returns the next state, the value to report and a
// non-nil Spike when m was rejected. s is not modified.
func Step(s State, m float64, p Params) (State, float64, *Spike) {
	if !s.primed {
		next := State{window: []float64{m}, last: m, primed: true}
		return next, m, nil
	}

	delta := mathx.Abs(m - s.last)
	if !(delta <= p.MaxChange) {
		return s, s.last, &Spike{Rejected: m, Delta: delta, LastAccepted: s.last}
	}

	n := p.window()
	w := make([]float64, 0, n)
	if keep := len(s.window) + 1 - n; keep > 0 {
		w = append(w, s.window[keep:]...)
	} else {
		w = append(w, s.window...)
	}
	w = append(w, m)

	next := State{window: w, last: m, primed: true}
	return next, next.Mean(), nil
}

// Resize trims s to at most n entries, dropping the oldest.
func Resize(s State, n int) State {
	if n < 1 {
		n = 1
	}
	if len(s.window) <= n {
		return s
	}
	s.window = append([]float64(nil), s.window[len(s.window)-n:]...)
	return s
}

// Filter holds a State across cycles. It is not safe for concurrent use.
type Filter struct {
	p Params
	s State
}

func New(p Params) *Filter { return &Filter{p: p} }

// Update feeds m and returns the reported value and any spike.
func (f *Filter) Update(m float64) (float64, *Spike) {
	var (
		out   float64
		spike *Spike
	)
	f.s, out, spike = Step(f.s, m, f.p)
	return out, spike
}

// SetParams applies new parameters, shrinking the window if needed.
func (f *Filter) SetParams(p Params) {
	f.p = p
	f.s = Resize(f.s, p.window())
}

func (f *Filter) Params() Params { return f.p }
func (f *Filter) State() State   { return f.s }

// Reset returns the filter to the empty state.
func (f *Filter) Reset() { f.s = State{} }
