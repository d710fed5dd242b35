package pingstats

import (
	"math"
	"testing"
)

func TestComputeNoDataWhenNoPongs(t *testing.T) {
	entries := []Entry{{Sequence: 1, SendTime: 1.0}}
	w := Compute(entries, 0, 10, 2.0)
	if w.RTT != NoData || w.Jitter != NoData || w.Loss != NoData {
		t.Fatalf("expected no-data window, got %+v", w)
	}
}

func TestComputeRTTIsMinimum(t *testing.T) {
	entries := []Entry{
		{Sequence: 1, SendTime: 1.0, PongTime: 1.05},
		{Sequence: 2, SendTime: 2.0, PongTime: 2.03},
	}
	w := Compute(entries, 0, 10, 3.0)
	if math.Abs(w.RTT-0.03) > 1e-9 {
		t.Fatalf("RTT = %v, want 0.03 (within float tolerance)", w.RTT)
	}
}

func TestComputeLossCountsUnpongedPastOneSecond(t *testing.T) {
	entries := []Entry{
		{Sequence: 1, SendTime: 1.0, PongTime: 1.02},
		{Sequence: 2, SendTime: 4.0}, // unponged, age 0.5s at now=4.5: still "in flight"
		{Sequence: 3, SendTime: 3.0}, // unponged, age 1.5s at now=4.5: counts as sent
	}
	w := Compute(entries, 0, 10, 4.5)
	// sent = ponged(1) + aged-out(1, seq 3) = 2, received = 1, so loss = 0.5.
	if w.Loss < 0 || w.Loss > 1 {
		t.Fatalf("loss out of range: %v", w.Loss)
	}
	if w.Loss != 0.5 {
		t.Fatalf("loss = %v, want 0.5", w.Loss)
	}
}

func TestComputeIgnoresEntriesOutsideWindow(t *testing.T) {
	entries := []Entry{
		{Sequence: 1, SendTime: 100.0, PongTime: 100.01},
	}
	w := Compute(entries, 0, 10, 200.0)
	if w.RTT != NoData {
		t.Fatalf("expected entry outside window to be excluded, got %+v", w)
	}
}

func TestCantBeatDirectCounterThreshold(t *testing.T) {
	var c CantBeatDirectCounter
	triggered := false
	for i := 0; i < CantBeatDirectThreshold; i++ {
		triggered = c.Observe(0.050, 0.050, false)
	}
	if !triggered {
		t.Fatalf("expected fallback to trigger after %d samples", CantBeatDirectThreshold)
	}
}

func TestCantBeatDirectCounterResetsOnBetterNext(t *testing.T) {
	var c CantBeatDirectCounter
	// RTTs in milliseconds, the unit the counter's 1 ms margin is in.
	for i := 0; i < CantBeatDirectThreshold-1; i++ {
		c.Observe(50.0, 50.0, false)
	}
	if c.Observe(50.0, 10.0, false) {
		t.Fatalf("a clearly-better next sample must not trigger fallback")
	}
	if c.Count() != 0 {
		t.Fatalf("counter should reset to 0, got %d", c.Count())
	}
}

func TestCantBeatDirectCounterIgnoresNoData(t *testing.T) {
	var c CantBeatDirectCounter
	c.Observe(0.050, 0.050, false)
	if c.Observe(NoData, 0.050, false) {
		t.Fatalf("no-data sample must never trigger fallback")
	}
	if c.Count() != 0 {
		t.Fatalf("no-data sample should reset counter, got %d", c.Count())
	}
}

func TestSampleRingWrap(t *testing.T) {
	var r SampleRing
	for i := 0; i < SampleRingSize+5; i++ {
		r.Push(Sample{NextRTT: float64(i)})
	}
	if r.Len() != SampleRingSize {
		t.Fatalf("Len() = %d, want %d", r.Len(), SampleRingSize)
	}
	latest, ok := r.Latest()
	if !ok {
		t.Fatalf("expected a latest sample")
	}
	if latest.NextRTT != float64(SampleRingSize+4) {
		t.Fatalf("latest.NextRTT = %v, want %v", latest.NextRTT, SampleRingSize+4)
	}
}
