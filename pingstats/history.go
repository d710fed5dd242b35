// Package pingstats implements the latency/jitter/loss measurement engine:
// a fixed-size ping history ring per probed endpoint (relay, direct
// server, next-path server) and the rolling sample window used to decide
// whether the next path is currently beating the direct path.
//
// The ping history ring is a fixed-size array with two indices
// (insertion position, current sequence) — not a general queue. Queries
// scan all entries linearly.
package pingstats

import "time"

// HistorySize is the number of RTT samples retained per probed endpoint.
const HistorySize = 512

// Entry is one sequence-numbered RTT sample.
type Entry struct {
	Sequence uint64
	SendTime float64 // seconds, monotonic source chosen by the caller
	PongTime float64 // 0 means "no pong received yet"
}

// History is a fixed-size ring of ping entries for one probed endpoint.
type History struct {
	entries     [HistorySize]Entry
	nextIndex   int
	nextSeq     uint64
}

// New returns an empty History.
func New() *History {
	return &History{}
}

// Send records that a ping with a fresh sequence number is being sent at
// sendTime, and returns that sequence number for the caller to put on the
// wire.
func (h *History) Send(sendTime float64) uint64 {
	seq := h.nextSeq
	h.nextSeq++
	h.entries[h.nextIndex] = Entry{Sequence: seq, SendTime: sendTime}
	h.nextIndex = (h.nextIndex + 1) % HistorySize
	return seq
}

// ReceivePong records that a pong for sequence arrived at pongTime. Scans
// the whole ring (O(HistorySize)) looking for the matching send entry; a
// pong for a sequence that has already rolled off the ring, or that was
// never sent, is silently ignored.
func (h *History) ReceivePong(sequence uint64, pongTime float64) {
	for i := range h.entries {
		if h.entries[i].Sequence == sequence && h.entries[i].SendTime != 0 {
			h.entries[i].PongTime = pongTime
			return
		}
	}
}

// Entries returns a snapshot slice of the ring's current contents, in no
// particular order, for callers computing RTT statistics over a window.
func (h *History) Entries() []Entry {
	out := make([]Entry, HistorySize)
	copy(out, h.entries[:])
	return out
}

// Clock is a small seam for deterministic tests: it converts a time.Time
// into the float64-seconds form History.Send/ReceivePong expect.
func Clock(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
