// Package server implements the server side of the data plane: the
// fixed-capacity session table, route/continue/destroy/migrate handling,
// the synthetic per-session delivery address and the direct/backup send
// path.
package server

import (
	"log/slog"
	"time"
)

// DefaultMaxSessions is the default session table capacity.
const DefaultMaxSessions = 256

// DefaultSessionTimeout is the default server-side session timeout.
const DefaultSessionTimeout = 10 * time.Second

// Config configures a Server.
type Config struct {
	// MaxSessions bounds the session table. Default: 256.
	MaxSessions int
	// SessionTimeout frees a session slot once this long has elapsed
	// since its last validated inbound packet. Default: 10s.
	SessionTimeout time.Duration
	// PublicKey / PrivateKey are this server's long-term Curve25519
	// keypair, used to open the FlowToken/ContinueToken addressed to it
	// at the tail of a route-request/continue-request's token chain.
	PublicKey  [32]byte
	PrivateKey [32]byte
	// ControllerPublicKey is the route controller's long-term public
	// key, the sender identity every sealed token must verify against.
	ControllerPublicKey [32]byte
	// Logger falls back to slog.Default() when nil.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
