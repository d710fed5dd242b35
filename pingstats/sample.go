package pingstats

import "time"

// SampleRingSize is the number of one-second stats snapshots retained.
const SampleRingSize = 60

// Sample is a one-second snapshot of both paths' derived statistics.
type Sample struct {
	Timestamp time.Time

	DirectRTT    float64
	DirectJitter float64
	DirectLoss   float64

	NextRTT    float64
	NextJitter float64
	NextLoss   float64
}

// SampleRing is a fixed-capacity ring of the last SampleRingSize samples.
type SampleRing struct {
	samples [SampleRingSize]Sample
	count   int
	next    int
}

// Push records a new one-second sample, overwriting the oldest once the
// ring is full.
func (r *SampleRing) Push(s Sample) {
	r.samples[r.next] = s
	r.next = (r.next + 1) % SampleRingSize
	if r.count < SampleRingSize {
		r.count++
	}
}

// Len returns how many samples are currently stored (up to SampleRingSize).
func (r *SampleRing) Len() int {
	return r.count
}

// Latest returns the most recently pushed sample and true, or the zero
// value and false if nothing has been pushed yet.
func (r *SampleRing) Latest() (Sample, bool) {
	if r.count == 0 {
		return Sample{}, false
	}
	idx := (r.next - 1 + SampleRingSize) % SampleRingSize
	return r.samples[idx], true
}

// CantBeatDirectCounter tracks the number of consecutive one-second
// samples where the next path has failed to beat the direct path by at
// least one millisecond. Fallback to the backup direct path triggers once
// this reaches CantBeatDirectThreshold.
type CantBeatDirectCounter struct {
	count int
}

// CantBeatDirectThreshold is the number of consecutive qualifying samples
// that triggers fallback to the backup direct path.
const CantBeatDirectThreshold = 25

// Observe applies one second's worth of (direct_rtt, next_rtt) to the
// counter. Both must be defined (not NoData) and backupFlowActive must be
// false for the sample to count; any other case resets the counter to
// zero. Returns true once
// the threshold is reached.
func (c *CantBeatDirectCounter) Observe(directRTT, nextRTT float64, backupFlowActive bool) bool {
	if backupFlowActive || directRTT == NoData || nextRTT == NoData {
		c.count = 0
		return false
	}
	if directRTT-1.0 <= nextRTT {
		c.count++
	} else {
		c.count = 0
	}
	return c.count >= CantBeatDirectThreshold
}

// Reset zeroes the counter, e.g. after an explicit route update restores a
// clearly-better next path.
func (c *CantBeatDirectCounter) Reset() {
	c.count = 0
}

// Count returns the current number of consecutive qualifying samples.
func (c *CantBeatDirectCounter) Count() int {
	return c.count
}
