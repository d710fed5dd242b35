// Package transport provides the UDP socket layer the data plane's client
// and server run over: a Transport interface plus the production UDP
// implementation. Tests substitute in-memory fakes behind the same
// interface.
package transport

import (
	"context"
	"time"

	"github.com/networknext/next-go/address"
)

// Transport is the seam between the data plane and the network. The
// production implementation is UDP; tests use loopback fakes.
type Transport interface {
	// Start opens the socket and begins the receive loop. Blocks until the
	// context is cancelled or the socket fails.
	Start(ctx context.Context) error
	// Stop closes the socket, unblocking the receive loop.
	Stop() error
	// SetPacketHandler sets the callback for incoming datagrams. Must be
	// called before Start.
	SetPacketHandler(fn PacketHandler)
	// SendTo transmits one datagram to addr.
	SendTo(addr address.Address, payload []byte) error
	// LocalAddress returns the bound local address, valid after Start.
	LocalAddress() address.Address
}

// PacketHandler is called from the receive loop for each datagram. The
// data slice is owned by the handler (the loop never reuses it).
type PacketHandler func(packet []byte, from address.Address, at time.Time)
