package client

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/networknext/next-go/address"
	"github.com/networknext/next-go/internal/clock"
	"github.com/networknext/next-go/pingstats"
	"github.com/networknext/next-go/queue"
	"github.com/networknext/next-go/routecontrol"
	"github.com/networknext/next-go/transport"
	"github.com/networknext/next-go/wire"
)

// PayloadHandler delivers a game payload received from the server — over
// the next path, the direct path or the backup flow — to the game layer.
type PayloadHandler func(payload []byte)

// nearResult / routeResult carry asynchronous controller responses back to
// the update thread. Controller HTTP calls run on their own goroutines so
// Update never blocks on the network; results are drained at the top of
// each Update tick.
type nearResult struct {
	relays []routecontrol.NearRelay
	err    error
}

type routeResult struct {
	resp    routecontrol.RouteResponse
	initial bool
	err     error
}

// Client is the client side of the data plane: session lifecycle, route
// install and migration, fallback to the backup direct path, and the
// ping/stats engine feeding the route controller.
//
// Concurrency model: the listener goroutine only appends to the
// packet queue and reads the state word, both under c.mu. Everything else
// is mutated exclusively from the thread that calls Update — the game's
// own tick, or the internal ticker when Config.UpdateInterval is set.
// OpenSession, OpenDirect, SendPacket and CloseSession must be called
// from that same thread.
type Client struct {
	cfg       Config
	log       *slog.Logger
	tr        transport.Transport
	ctrl      routecontrol.Controller
	onPayload PayloadHandler

	clk *clock.Clock
	q   *queue.Queue

	mu    sync.Mutex
	state State

	group  *errgroup.Group
	cancel context.CancelFunc
	ctx    context.Context

	lastErr *ClientError

	// Session state. flowID is 0 until the first route install (and stays
	// 0 for direct-only sessions, which never receive a flow token).
	serverAddr      address.Address
	flowID          uint64
	routeCurrent    *Route
	routePrevious   *Route
	routeChangedAt  time.Time
	sending         routeRequestSending
	continueSending bool

	// Pending ROUTE_REQUEST / CONTINUE_REQUEST retransmission state: the
	// remaining sealed token chain rides behind a freshly sealed header on
	// every retransmit.
	requestTokens   [][]byte
	requestDest     address.Address
	lastRequestSend time.Time

	// Migrate packets to the previous flow's first hop, until acknowledged
	// or the send budget runs out.
	migrateRemaining int
	migrateDest      address.Address
	lastMigrateSend  time.Time

	// Opaque blobs echoed back to the controller on the next update
	// request.
	serverToken []byte
	routeState  []byte

	backupFlow  bool
	forcedRoute bool

	nearRelays   []routecontrol.NearRelay
	relayHistory map[uint64]*pingstats.History
	relayByAddr  map[string]uint64

	pingHistoryDirect *pingstats.History

	statsRing pingstats.SampleRing
	cantBeat  pingstats.CantBeatDirectCounter

	counters          *counters
	lastCounterUpload time.Time

	// LOCATING bookkeeping.
	locateAttempts  int
	lastLocate      time.Time
	nearInFlight    bool
	noNearRelays    bool
	lastNearRefresh time.Time

	timeLastRx time.Time

	lastDirectPing  time.Time
	lastNextPing    time.Time
	lastRelayPing   time.Time
	lastStatsSample time.Time

	nextRouteUpdateDue  time.Time
	routeUpdateInFlight bool
	routeUpdateDueAt    time.Time

	nearCh  chan nearResult
	routeCh chan routeResult
}

// New constructs a Client over the given transport and route controller.
// onPayload delivers inbound game payloads; it may be nil if the caller
// only sends.
func New(cfg Config, tr transport.Transport, ctrl routecontrol.Controller, onPayload PayloadHandler) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:               cfg,
		log:               cfg.Logger.WithGroup("client"),
		tr:                tr,
		ctrl:              ctrl,
		onPayload:         onPayload,
		clk:               clock.New(),
		q:                 queue.New(0),
		counters:          newCounters(),
		pingHistoryDirect: pingstats.New(),
		relayHistory:      make(map[uint64]*pingstats.History),
		relayByAddr:       make(map[string]uint64),
		nearCh:            make(chan nearResult, 1),
		routeCh:           make(chan routeResult, 1),
		state:             StateStopped,
	}
	return c
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	old := c.state
	c.state = s
	c.mu.Unlock()
	if old != s {
		c.log.Debug("state transition", "from", old, "to", s)
	}
}

// Err returns the most recent control-plane error, or nil. Packet-level
// drops never surface here.
func (c *Client) Err() *ClientError {
	return c.lastErr
}

// FlowID returns the current session's flow id (0 when none is installed).
func (c *Client) FlowID() uint64 {
	return c.flowID
}

// BackupFlow reports whether the session has fallen back to the backup
// direct path.
func (c *Client) BackupFlow() bool {
	return c.backupFlow
}

// LatestStats returns the most recent one-second stats sample, if any.
func (c *Client) LatestStats() (pingstats.Sample, bool) {
	return c.statsRing.Latest()
}

// Counters returns a snapshot of the named client counters.
func (c *Client) Counters() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters.snapshot()
}

// runCtx is the context asynchronous controller calls run under: the
// errgroup's context once Start has run, so Destroy cancels anything
// still in flight.
func (c *Client) runCtx() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

func (c *Client) fail(code ErrorCode, msg string) {
	c.lastErr = newError(code, msg)
	c.log.Error("client error", "code", code.String(), "detail", msg)
}

// enqueuePacket is the listener-side handler: append to the active queue
// half and nothing else, so the I/O goroutine never blocks on update-side
// work.
func (c *Client) enqueuePacket(packet []byte, from address.Address, at time.Time) {
	c.mu.Lock()
	stopped := c.state == StateStopped
	c.mu.Unlock()
	if stopped {
		return
	}
	c.q.Push(queue.Entry{Timestamp: at, Source: from, Data: packet})
}

// Start launches the listener and, when Config.UpdateInterval is set, the
// internal update ticker, joined under one errgroup so Destroy can stop
// both and surface the first failure. With UpdateInterval zero the game
// drives Update itself.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return newError(ErrInvalidParameter, "client already started")
	}
	c.mu.Unlock()

	c.tr.SetPacketHandler(c.enqueuePacket)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	c.group = g
	c.cancel = cancel
	c.ctx = gctx

	g.Go(func() error {
		return c.tr.Start(gctx)
	})
	if c.cfg.UpdateInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(c.cfg.UpdateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					c.Update()
				}
			}
		})
	}

	if c.cfg.DirectOnly {
		c.setState(StateReady)
	} else {
		c.locateAttempts = 0
		c.lastLocate = time.Time{}
		c.setState(StateLocating)
	}
	return nil
}

// Destroy closes any open session, uploads a final counter snapshot,
// stops the listener and waits for both goroutines to exit.
func (c *Client) Destroy() error {
	if c.State() == StateStopped {
		return nil
	}
	c.CloseSession()

	if c.counters.dirty && c.ctrl != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.ctrl.PostCounters(ctx, c.counters.snapshot()); err != nil {
			c.log.Warn("final counter upload failed", "error", err)
		}
		cancel()
	}

	c.setState(StateStopped)
	if err := c.tr.Stop(); err != nil {
		c.log.Warn("transport stop failed", "error", err)
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.group != nil {
		return c.group.Wait()
	}
	return nil
}

// parseServerAddress parses "host:port" into an address.Address.
func parseServerAddress(s string) (address.Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return address.Address{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return address.Address{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return address.Address{}, errors.New("not an IP literal")
	}
	return address.FromUDPAddr(&net.UDPAddr{IP: ip, Port: int(port)})
}

// OpenDirect opens a session straight to serverAddr with no relay chain:
// READY → DIRECT. Refused when policy forbids the direct path.
func (c *Client) OpenDirect(serverAddr string) error {
	if c.State() != StateReady {
		return newError(ErrInvalidParameter, "open requires the ready state")
	}
	if c.cfg.NetworkNextOnly {
		err := newError(ErrNextOnly, "direct session refused by network-next-only policy")
		c.lastErr = err
		return err
	}
	addr, err := parseServerAddress(serverAddr)
	if err != nil {
		cerr := newError(ErrBadServerAddress, serverAddr)
		c.lastErr = cerr
		return cerr
	}
	c.serverAddr = addr
	c.flowID = 0
	c.backupFlow = false
	c.timeLastRx = c.clk.Now()
	c.counters.increment(CounterOpenSessionDirect)
	c.setState(StateDirect)
	return nil
}

// OpenSession opens a relayed session toward serverAddr: READY →
// INSECURE_REQUESTING, then REQUESTING/ESTABLISHED as the controller's
// route install and the server's ROUTE_RESPONSE come back. The initial
// controller request runs asynchronously; its outcome lands on a later
// Update tick.
func (c *Client) OpenSession(ctx context.Context, serverAddr string) error {
	if c.cfg.DirectOnly || c.cfg.ForceScenario == ForceScenarioDirect {
		return c.OpenDirect(serverAddr)
	}
	if c.State() != StateReady {
		return newError(ErrInvalidParameter, "open requires the ready state")
	}
	addr, err := parseServerAddress(serverAddr)
	if err != nil {
		cerr := newError(ErrBadServerAddress, serverAddr)
		c.lastErr = cerr
		return cerr
	}
	if c.noNearRelays {
		c.log.Debug("opening session with no near relays; controller will likely route direct")
	}
	c.serverAddr = addr
	c.backupFlow = false
	c.timeLastRx = c.clk.Now()
	c.counters.increment(CounterOpenSession)
	c.setState(StateInsecureRequesting)

	req := routecontrol.RouteRequest{Info: c.buildClientInfo(true)}
	go func() {
		resp, err := c.ctrl.RequestRoute(ctx, req)
		c.routeCh <- routeResult{resp: resp, initial: true, err: err}
	}()
	return nil
}

// sendRoute returns the route SendPacket, the server ping and migrate
// scheduling must use right now: the previous route while a route install
// is in flight, the current route otherwise. This is what keeps
// in-flight packets during a migration on keys the server still accepts.
func (c *Client) sendRoute() *Route {
	if c.sending != sendingNone {
		return c.routePrevious
	}
	return c.routeCurrent
}

// SendPacket sends one game payload to the server along whichever path
// the session is currently on.
func (c *Client) SendPacket(payload []byte) error {
	if len(payload) > wire.MaxPayloadSize {
		return newError(ErrInvalidParameter, "payload exceeds MTU")
	}
	state := c.State()

	if state == StateDirect {
		packet, err := wire.EncodeDirect(payload)
		if err != nil {
			return newError(ErrInvalidParameter, err.Error())
		}
		return c.tr.SendTo(c.serverAddr, packet)
	}

	if c.backupFlow {
		packet, err := wire.EncodeBackup(c.flowID, payload)
		if err != nil {
			return newError(ErrInvalidParameter, err.Error())
		}
		return c.tr.SendTo(c.serverAddr, packet)
	}

	if state != StateEstablished && state != StateRequesting {
		return newError(ErrInvalidParameter, "no session open")
	}

	r := c.sendRoute()
	if r == nil {
		return newError(ErrInvalidParameter, "no route installed")
	}
	h := wire.Header{
		Type:        wire.TypeClientToServer,
		Sequence:    r.nextSequence(),
		FlowID:      r.FlowToken.FlowID,
		FlowVersion: r.FlowToken.FlowVersion,
		FlowFlags:   r.FlowToken.FlowFlags,
	}
	packet, err := wire.EncodeRouted(h, &r.FlowToken.PrivateKey, payload)
	if err != nil {
		return newError(ErrInvalidParameter, err.Error())
	}
	return c.tr.SendTo(r.FlowToken.NextAddress, packet)
}

// CloseSession tears the session down: a burst of MIGRATE then DESTROY
// packets along the current route, then back to READY.
func (c *Client) CloseSession() {
	state := c.State()
	if state != StateEstablished && state != StateRequesting && state != StateDirect && state != StateInsecureRequesting {
		return
	}

	if c.routeCurrent != nil {
		r := c.routeCurrent
		for i := 0; i < CloseSessionSendCount; i++ {
			c.sendRoutedEmpty(wire.TypeMigrate, r)
		}
		for i := 0; i < CloseSessionSendCount; i++ {
			c.sendRoutedEmpty(wire.TypeDestroy, r)
		}
	}

	c.counters.increment(CounterCloseSession)
	c.clearSession()
	c.setState(StateReady)
}

// clearSession resets all per-session state without touching the
// near-relay list or counters.
func (c *Client) clearSession() {
	c.flowID = 0
	c.routeCurrent = nil
	c.routePrevious = nil
	c.sending = sendingNone
	c.continueSending = false
	c.requestTokens = nil
	c.requestDest = address.None()
	c.migrateRemaining = 0
	c.migrateDest = address.None()
	c.serverToken = nil
	c.routeState = nil
	c.backupFlow = false
	c.forcedRoute = false
	c.routeUpdateInFlight = false
	c.pingHistoryDirect = pingstats.New()
	c.cantBeat.Reset()
}

// sendRoutedEmpty seals a header-only routed packet (MIGRATE, DESTROY,
// NEXT_SERVER_PING without body, ...) under route r's key and sends it to
// r's next hop.
func (c *Client) sendRoutedEmpty(packetType uint8, r *Route) {
	h := wire.Header{
		Type:        packetType,
		Sequence:    r.nextSequence(),
		FlowID:      r.FlowToken.FlowID,
		FlowVersion: r.FlowToken.FlowVersion,
		FlowFlags:   r.FlowToken.FlowFlags,
	}
	packet, err := wire.Encode(h, &r.FlowToken.PrivateKey)
	if err != nil {
		c.log.Warn("failed to encode packet", "type", packetType, "error", err)
		return
	}
	if err := c.tr.SendTo(r.FlowToken.NextAddress, packet); err != nil {
		c.log.Debug("send failed", "type", packetType, "error", err)
	}
}
