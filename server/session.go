package server

import (
	"time"

	"github.com/networknext/next-go/address"
)

// Session is the server-side record of one active flow: at most two
// routes (current and previous, for the same reason the client holds
// two), plus the backup-flow state used once the client has fallen back
// to the direct path.
type Session struct {
	FlowID     uint64
	LastRxTime time.Time

	// TraceID tags this session's log lines across its lifetime. It is a
	// fresh xid each time a new flow_id opens the slot, kept across flow
	// version installs, and not part of any wire format.
	TraceID string

	Current  Route
	Previous Route

	// SessionSequence increments each time this slot is reused by a new
	// flow_id, and is folded into the synthetic per-session address
	// (224.0.0.S) so a stale synthetic address from a freed session
	// can't be mistaken for its slot's new occupant.
	SessionSequence uint8

	BackupFlow bool
	ReplyAddr  address.Address // backup-flow reply destination, set on first BACKUP packet

	index int // slot position, fixed at creation
}

// versionGreater reports whether a is a strictly later flow_version than
// b under modular comparison with a 128-wide wrap window: a is greater
// if (a - b) mod 256 is in [1, 127].
func versionGreater(a, b uint8) bool {
	diff := a - b
	return diff != 0 && diff < 128
}
