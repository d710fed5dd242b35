package server

import (
	"github.com/networknext/next-go/address"
	"github.com/networknext/next-go/replay"
)

// Route is the server-side half of one flow version's state: the keys and
// bookkeeping needed to authenticate inbound packets on this (flow_id,
// flow_version) and to address replies back along the chain.
type Route struct {
	TxSequence      uint64
	Replay          *replay.Protection
	KbpsUp          uint32
	KbpsDown        uint32
	PrevHopAddr     address.Address // reply destination: whoever last forwarded a valid packet on this route
	FlowVersion     uint8
	FlowFlags       uint8
	PrivateKey      [32]byte
	ExpireTimestamp uint64 // carried from the installing FlowToken, echoed back in each ServerToken
	valid           bool
}

// newRoute builds a fresh Route with a reset replay window.
func newRoute() Route {
	return Route{Replay: replay.New(), valid: true}
}

// nextTxSequence returns the next server-to-client sequence to send with,
// advancing the counter. The high bit (direction) is applied by wire.Encode,
// not stored here.
func (r *Route) nextTxSequence() uint64 {
	seq := r.TxSequence
	r.TxSequence++
	return seq
}
