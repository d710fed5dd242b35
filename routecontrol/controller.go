package routecontrol

import (
	"context"
	"time"

	"github.com/networknext/next-go/address"
)

// NearRelay is one candidate first-hop relay returned by the near-relay
// endpoints (GET /v2/near/auto, GET /v2/near/{lat}/{lon}).
type NearRelay struct {
	RelayID   uint64
	Address   address.Address
	PublicKey [32]byte
}

// RouteRequest is posted to /v2/router/route (the initial, insecure
// session) or /v2/router/update (every BILLING_SLICE seconds thereafter).
// Update requests additionally carry RouteState and ServerToken so the
// controller can validate the server-side install the last response
// produced.
type RouteRequest struct {
	Info        ClientInfo
	RouteState  []byte // echoed back verbatim from the last RouteData; nil on the very first request
	ServerToken []byte // the sealed ServerToken the server returned; nil on the very first request
}

// RouteResponse is the parsed form of a /v2/router/route or
// /v2/router/update reply.
type RouteResponse struct {
	Data RouteData
}

// Timeout tiers for controller HTTP calls: LowLatencyTimeouts suits
// a client on the same continent as its controller, PermissiveTimeouts a
// client that may be crossing an ocean to reach it.
type Timeouts struct {
	RouteUpdate time.Duration
	NearRelays  time.Duration
}

var (
	// LowLatencyTimeouts is the tight profile: 2s for route updates, 5s
	// for near-relay lookups.
	LowLatencyTimeouts = Timeouts{RouteUpdate: 2 * time.Second, NearRelays: 5 * time.Second}
	// PermissiveTimeouts is the relaxed profile: 10s for route updates,
	// 25s for near-relay lookups.
	PermissiveTimeouts = Timeouts{RouteUpdate: 10 * time.Second, NearRelays: 25 * time.Second}
)

// Controller is the client's view of the route controller service.
// The data plane only consumes this interface; the HTTP/JSON transport and
// the controller's own route-planning logic are external collaborators
// — HTTPController below is a reference implementation of the wire
// envelope, not part of the core's required surface.
type Controller interface {
	// RequestRoute issues the initial insecure session request
	// (POST /v2/router/route).
	RequestRoute(ctx context.Context, req RouteRequest) (RouteResponse, error)
	// RequestUpdate issues a billing-slice route update request
	// (POST /v2/router/update).
	RequestUpdate(ctx context.Context, req RouteRequest) (RouteResponse, error)
	// NearRelaysAuto fetches the near-relay list using the controller's
	// own geolocation of the caller (GET /v2/near/auto).
	NearRelaysAuto(ctx context.Context) ([]NearRelay, error)
	// NearRelaysAt fetches the near-relay list for an explicit
	// (lat, lon) override (GET /v2/near/{lat}/{lon}).
	NearRelaysAt(ctx context.Context, lat, lon float64) ([]NearRelay, error)
	// PostCounters uploads the named counter snapshot
	// (POST /v2/stats/counters).
	PostCounters(ctx context.Context, counters map[string]uint64) error
	// PostLog uploads a free-form session/diagnostic line
	// (POST /v2/stats/log).
	PostLog(ctx context.Context, message string) error
}
