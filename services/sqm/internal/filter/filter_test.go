package filter

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSequenceRejectsSpike(t *testing.T) {
	f := New(Params{Window: 5, MaxChange: 3.0})

	want := []struct {
		in, out float64
		spike   bool
	}{
		{10.0, 10.0, false},
		{10.1, 10.05, false},
		{9.9, 10.0, false},
		{50.0, 9.9, true},
		{10.2, 10.05, false},
	}
	for i, w := range want {
		got, spike := f.Update(w.in)
		if !near(got, w.out) {
			t.Fatalf("step %d: got %v want %v", i, got, w.out)
		}
		if (spike != nil) != w.spike {
			t.Fatalf("step %d: spike = %+v", i, spike)
		}
		if spike != nil {
			if spike.Rejected != 50.0 || !near(spike.Delta, 40.1) || spike.LastAccepted != 9.9 {
				t.Fatalf("spike = %+v", spike)
			}
		}
	}
	if f.State().Len() != 4 {
		t.Fatalf("window = %v", f.State().Window())
	}
}

func TestStepIsPure(t *testing.T) {
	p := Params{Window: 3, MaxChange: 1}
	s0, _, _ := Step(State{}, 5, p)
	s1, _, _ := Step(s0, 5.5, p)
	if s0.Len() != 1 || s1.Len() != 2 {
		t.Fatalf("lens %d %d", s0.Len(), s1.Len())
	}
	s2, out, spike := Step(s1, 20, p)
	if spike == nil || out != 5.5 {
		t.Fatalf("out=%v spike=%v", out, spike)
	}
	if s2.Len() != s1.Len() {
		t.Fatal("rejected value changed the window")
	}
	if last, _ := s2.LastAccepted(); last != 5.5 {
		t.Fatalf("last = %v", last)
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	f := New(Params{Window: 3, MaxChange: 10})
	for _, m := range []float64{1, 2, 3, 4, 5} {
		f.Update(m)
	}
	w := f.State().Window()
	if len(w) != 3 || w[0] != 3 || w[2] != 5 {
		t.Fatalf("window = %v", w)
	}
	if !near(f.State().Mean(), 4) {
		t.Fatalf("mean = %v", f.State().Mean())
	}
}

func TestFirstValueAcceptedUnconditionally(t *testing.T) {
	f := New(Params{Window: 5, MaxChange: 0})
	if out, spike := f.Update(99); out != 99 || spike != nil {
		t.Fatalf("out=%v spike=%v", out, spike)
	}
	// Zero threshold still accepts an identical value.
	if out, spike := f.Update(99); out != 99 || spike != nil {
		t.Fatalf("out=%v spike=%v", out, spike)
	}
	if _, spike := f.Update(99.01); spike == nil {
		t.Fatal("change above zero threshold accepted")
	}
}

func TestNaNIsRejected(t *testing.T) {
	f := New(Params{Window: 5, MaxChange: 3})
	f.Update(10)
	if out, spike := f.Update(math.NaN()); spike == nil || out != 10 {
		t.Fatalf("out=%v spike=%v", out, spike)
	}
}

func TestSetParamsShrinksWindow(t *testing.T) {
	f := New(Params{Window: 5, MaxChange: 10})
	for _, m := range []float64{1, 2, 3, 4, 5} {
		f.Update(m)
	}
	f.SetParams(Params{Window: 2, MaxChange: 10})
	if w := f.State().Window(); len(w) != 2 || w[0] != 4 {
		t.Fatalf("window = %v", w)
	}
	if last, ok := f.State().LastAccepted(); !ok || last != 5 {
		t.Fatalf("last = %v %v", last, ok)
	}
	f.SetParams(Params{Window: 0})
	if f.State().Len() != 1 {
		t.Fatalf("window = %v", f.State().Window())
	}
	f.Reset()
	if _, ok := f.State().LastAccepted(); ok {
		t.Fatal("reset kept state")
	}
}
