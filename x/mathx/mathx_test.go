package mathx

import (
	"math"
	"testing"
	"time"
)

func TestClamp(t *testing.T) {
	if Clamp(-5, 0, 10) != 0 {
		t.Fatal("clamp low failed")
	}
	if Clamp(15, 10, 0) != 10 {
		t.Fatal("clamp with swapped bounds failed")
	}
	if got := Clamp(90*time.Minute, time.Second, time.Hour); got != time.Hour {
		t.Fatalf("duration clamp: %v", got)
	}
}

func TestBetweenAbsMean(t *testing.T) {
	if !Between(16, 0xFFE0, 0x0010) {
		t.Fatal("between with swapped bounds failed")
	}
	if Abs(-2.5) != 2.5 || Abs(int16(-3)) != 3 {
		t.Fatal("abs failed")
	}
	if Mean([]float64{}) != 0 {
		t.Fatal("empty mean must be 0")
	}
	if m := Mean([]float64{10.0, 10.1, 9.9, 10.2}); math.Abs(m-10.05) > 1e-9 {
		t.Fatalf("mean: %v", m)
	}
	if m := Mean([]uint16{1000, 2000}); m != 1500 {
		t.Fatalf("integer mean: %v", m)
	}
}
