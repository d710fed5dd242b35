package client

import (
	"time"

	"github.com/networknext/next-go/pingstats"
	"github.com/networknext/next-go/replay"
	"github.com/networknext/next-go/token"
)

// Route is the client-side half of one flow version's state. A Client
// holds two — current and previous — so that
// packets authenticated with either version's key continue to be
// accepted during a migration transient.
type Route struct {
	FlowToken         token.FlowToken
	NextSequence      uint64
	TimeLastRx        time.Time
	Replay            *replay.Protection
	PingHistoryServer *pingstats.History
	RelayHopCount     int
}

// newClientRoute builds a fresh Route around flowToken, with a reset
// replay window and ping history and the sequence counter starting at 1,
// not 0 — 0 is reserved to mean "no packets sent yet" in places that
// compare against it.
func newClientRoute(flowToken token.FlowToken) *Route {
	return &Route{
		FlowToken:         flowToken,
		NextSequence:      1,
		Replay:            replay.New(),
		PingHistoryServer: pingstats.New(),
	}
}

// nextSequence returns the next sequence number to send with on this
// route, advancing the counter.
func (r *Route) nextSequence() uint64 {
	seq := r.NextSequence
	r.NextSequence++
	return seq
}
