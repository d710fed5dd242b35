package client

// CounterName identifies one of the named client counters.
type CounterName string

const (
	CounterNoNearRelays         CounterName = "NO_NEAR_RELAYS"
	CounterOpenSession          CounterName = "OPEN_SESSION"
	CounterOpenSessionDirect    CounterName = "OPEN_SESSION_DIRECT"
	CounterCloseSession         CounterName = "CLOSE_SESSION"
	CounterFallbackToDirect     CounterName = "FALLBACK_TO_DIRECT"
	CounterCantBeatDirect       CounterName = "CANT_BEAT_DIRECT"
	CounterRouteUpdateTimeout   CounterName = "ROUTE_UPDATE_TIMEOUT"
	CounterServerToClientTimeout CounterName = "SERVER_TO_CLIENT_TIMEOUT"
)

// allCounterNames lists every counter for snapshot/upload purposes.
var allCounterNames = []CounterName{
	CounterNoNearRelays,
	CounterOpenSession,
	CounterOpenSessionDirect,
	CounterCloseSession,
	CounterFallbackToDirect,
	CounterCantBeatDirect,
	CounterRouteUpdateTimeout,
	CounterServerToClientTimeout,
}

// counters holds the named client counters. Mutated only from the update
// thread and snapshotted for upload from that same thread; Client.Counters
// takes its snapshot under the client's mutex.
type counters struct {
	values map[CounterName]uint64
	dirty  bool
}

func newCounters() *counters {
	return &counters{values: make(map[CounterName]uint64, len(allCounterNames))}
}

func (c *counters) increment(name CounterName) {
	c.values[name]++
	c.dirty = true
}

// snapshot returns a copy of the current counter values keyed by name, for
// POST /v2/stats/counters.
func (c *counters) snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(c.values))
	for k, v := range c.values {
		out[string(k)] = v
	}
	return out
}
