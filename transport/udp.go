package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/networknext/next-go/address"
	"github.com/networknext/next-go/wire"
)

// UDPConfig configures a UDP transport.
type UDPConfig struct {
	// ListenAddress is the local address to bind, e.g. ":0" for an
	// ephemeral port or "0.0.0.0:40000" for a fixed one.
	ListenAddress string

	// Logger falls back to slog.Default() when nil.
	Logger *slog.Logger
}

// UDP is the production Transport: one *net.UDPConn, one receive
// goroutine. The receive loop reads datagrams and hands each to the
// packet handler with its source address and receive timestamp; anything
// larger than wire.MaxPacketSize is dropped on the floor before the
// handler ever sees it.
type UDP struct {
	cfg UDPConfig
	log *slog.Logger

	mu      sync.Mutex
	conn    *net.UDPConn
	handler PacketHandler
	cancel  context.CancelFunc
}

// NewUDP creates a UDP transport. The socket is not opened until Start.
func NewUDP(cfg UDPConfig) *UDP {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UDP{
		cfg: cfg,
		log: logger.WithGroup("transport"),
	}
}

// SetPacketHandler implements Transport.
func (u *UDP) SetPacketHandler(fn PacketHandler) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handler = fn
}

// Start implements Transport: binds the socket and runs the receive loop
// until ctx is cancelled or the socket is closed by Stop.
func (u *UDP) Start(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp", u.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("transport: resolve %q: %w", u.cfg.ListenAddress, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("transport: listen %q: %w", u.cfg.ListenAddress, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	u.mu.Lock()
	u.conn = conn
	u.cancel = cancel
	handler := u.handler
	u.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	u.log.Debug("listening", "address", conn.LocalAddr())

	// One byte past the max so an oversize datagram is detectable rather
	// than silently truncated into a plausible-looking packet.
	buf := make([]byte, wire.MaxPacketSize+1)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("transport: recv: %w", err)
		}
		if n > wire.MaxPacketSize {
			u.log.Debug("dropping oversize datagram", "from", raddr, "size", n)
			continue
		}
		from, err := address.FromUDPAddr(raddr)
		if err != nil {
			continue
		}
		if handler != nil {
			packet := make([]byte, n)
			copy(packet, buf[:n])
			handler(packet, from, time.Now())
		}
	}
}

// Stop implements Transport.
func (u *UDP) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	return nil
}

// SendTo implements Transport.
func (u *UDP) SendTo(addr address.Address, payload []byte) error {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return errors.New("transport: not started")
	}
	udpAddr := addr.UDPAddr()
	if udpAddr == nil {
		return errors.New("transport: cannot send to the none address")
	}
	_, err := conn.WriteToUDP(payload, udpAddr)
	return err
}

// LocalAddress implements Transport.
func (u *UDP) LocalAddress() address.Address {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return address.None()
	}
	laddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return address.None()
	}
	a, err := address.FromUDPAddr(laddr)
	if err != nil {
		return address.None()
	}
	return a
}
