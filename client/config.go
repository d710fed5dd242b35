// Package client implements the client side of the data plane: the
// session state machine, route install/migration/fallback, and the
// ping/stats engine driving the cant-beat-direct decision.
package client

import (
	"log/slog"
	"time"
)

// DefaultSessionTimeout is the client-side session timeout.
const DefaultSessionTimeout = 5 * time.Second

// BillingSlice is how often an established session requests a route
// update from the controller.
const BillingSlice = 10 * time.Second

// NearRelayRefreshInterval is how often a READY, idle client re-fetches
// its near-relay list.
const NearRelayRefreshInterval = 10 * time.Second

// LocatingRetryInterval / LocatingMaxAttempts bound the LOCATING state's
// near-relay fetch retries.
const (
	LocatingRetryInterval = 1 * time.Second
	LocatingMaxAttempts   = 4
)

// MigratePacketSendCount / MigrateInterval bound how long the client
// keeps sending MIGRATE packets to a previous flow after installing a new
// one.
const (
	MigratePacketSendCount = 10
	MigrateInterval        = 100 * time.Millisecond
)

// RouteRequestRetransmitInterval is the cadence at which a pending
// ROUTE_REQUEST/CONTINUE_REQUEST is retransmitted while awaiting its
// response.
const RouteRequestRetransmitInterval = 100 * time.Millisecond

// RouteUpdateTimeout is how far past its due time a route-update request
// may run before it counts toward the "route update outstanding" backup
// fallback trigger.
const RouteUpdateTimeout = 5 * time.Second

// CloseSessionSendCount is how many MIGRATE, then DESTROY, packets a
// closing session sends along its current route.
const CloseSessionSendCount = 10

// Mode is a richer client-mode enum alongside the boolean flags; both
// are kept so callers can use whichever reads better at the call site.
type Mode int

const (
	ModeAuto Mode = iota
	ModeForceDirect
	ModeForceNext
)

// ForceScenario forces the client down a specific code path, for
// integration tests that can't drive a real controller or real sockets.
type ForceScenario int

const (
	ForceScenarioNone ForceScenario = iota
	ForceScenarioRouteStateFailure
	ForceScenarioNearRelayFailure
	ForceScenarioDirect
	ForceScenarioRandomRoute
	ForceScenarioBackupFlow
	ForceScenarioKeepAlive
)

// StatsMode selects how aggressively the ping/stats engine samples.
// Unused by the core logic beyond being threaded through to callers that
// want to adapt sampling cadence.
type StatsMode int

// Config configures a Client.
type Config struct {
	// SessionTimeout frees the session if no valid inbound packet
	// arrives within this window. Default: 5s.
	SessionTimeout time.Duration
	// UpdateInterval, when non-zero, makes Start run an internal ticker
	// that calls Update — standalone mode. Zero means the game drives
	// Update at its own cadence.
	UpdateInterval time.Duration
	// DirectOnly forces every opened session onto the direct path with
	// no relay chain.
	DirectOnly bool
	// NetworkNextOnly disallows falling back to READY with "no near
	// relays" after LOCATING is exhausted: CLIENT_FAILED_TO_LOCATE is
	// raised instead.
	NetworkNextOnly bool
	// DisableCantBeatDirect turns off the automatic cant-beat-direct
	// fallback; the client still respects an explicit
	// controller-forced backup.
	DisableCantBeatDirect bool
	// StatsMode is an opaque sampling-cadence hint.
	StatsMode StatsMode
	// ClientMode is the richer Auto/ForceDirect/ForceNext enum,
	// equivalent to (DirectOnly, NetworkNextOnly).
	ClientMode Mode
	// ForceScenario drives a specific test-mode code path. Zero value
	// (ForceScenarioNone) disables it.
	ForceScenario ForceScenario

	// ClientPrivateKey / ClientPublicKey are this client's long-term
	// Curve25519 keypair, used to open the FlowToken addressed to its own
	// hop.
	ClientPrivateKey [32]byte
	ClientPublicKey  [32]byte
	// ControllerPublicKey is the route controller's long-term public key.
	ControllerPublicKey [32]byte

	// Logger falls back to slog.Default() when nil.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	// ClientMode is sugar over the boolean flags; normalize it so the
	// rest of the client only ever consults the booleans.
	switch c.ClientMode {
	case ModeForceDirect:
		c.DirectOnly = true
	case ModeForceNext:
		c.NetworkNextOnly = true
	}
	return c
}
