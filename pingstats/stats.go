package pingstats

import "math"

// NoData is returned by Compute for any statistic when the window
// contains no pong receipts at all.
const NoData = -1.0

// Window bundles the three derived statistics over a time window.
type Window struct {
	RTT    float64
	Jitter float64
	Loss   float64
}

// Compute derives RTT/jitter/loss over entries whose SendTime falls in
// [start, end], as of now (all in the same float64-seconds unit as
// History.Send/ReceivePong):
//
//   - rtt is the minimum round trip time among ponged entries in the window.
//   - jitter is 3·sqrt(mean((sample-rtt)²)) over those same ponged entries.
//   - loss is 1 - received/sent, where an entry that was sent but never
//     ponged only counts toward "sent" once its age (now - SendTime)
//     exceeds one second — a ping still in flight isn't yet a loss.
//
// If no pong falls in the window at all, Compute reports NoData for every
// field ("no data" rather than claiming a rtt/jitter/loss of zero).
func Compute(entries []Entry, start, end, now float64) Window {
	var samples []float64
	sent := 0
	received := 0

	for _, e := range entries {
		if e.SendTime == 0 || e.SendTime < start || e.SendTime > end {
			continue
		}
		if e.PongTime != 0 {
			received++
			sent++
			samples = append(samples, e.PongTime-e.SendTime)
			continue
		}
		if now-e.SendTime > 1.0 {
			sent++
		}
	}

	if received == 0 {
		return Window{RTT: NoData, Jitter: NoData, Loss: NoData}
	}

	rtt := samples[0]
	for _, s := range samples[1:] {
		if s < rtt {
			rtt = s
		}
	}

	var sumSq float64
	for _, s := range samples {
		d := s - rtt
		sumSq += d * d
	}
	jitter := 3 * math.Sqrt(sumSq/float64(len(samples)))

	loss := 0.0
	if sent > 0 {
		loss = 1 - float64(received)/float64(sent)
	}

	return Window{RTT: rtt, Jitter: jitter, Loss: loss}
}
