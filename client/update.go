package client

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/networknext/next-go/pingstats"
	"github.com/networknext/next-go/routecontrol"
	"github.com/networknext/next-go/token"
	"github.com/networknext/next-go/wire"
)

const (
	pingInterval          = 100 * time.Millisecond
	statsSampleInterval   = time.Second
	counterUploadInterval = 10 * time.Second

	// statsWindowSeconds is the rolling window for direct/next path stats;
	// per-relay stats use the full ping history instead.
	statsWindowSeconds = 5.0
)

// msOrNoData converts a seconds-valued statistic to milliseconds, leaving
// the NoData sentinel untouched.
func msOrNoData(v float64) float64 {
	if v == pingstats.NoData {
		return v
	}
	return v * 1000.0
}

// Update is the updater half of the dual-queue design: flip the
// packet queue, drain the detached half through the typed handlers, then
// advance every timer. Called from the game's own tick, or from the
// internal ticker in standalone mode.
func (c *Client) Update() {
	for _, e := range c.q.Swap() {
		c.handlePacket(e.Data, e.Source)
	}
	c.drainControllerResults()

	if c.State() == StateStopped {
		return
	}
	now := c.clk.Now()
	c.updateLocating(now)
	c.updateNearRefresh(now)
	c.updatePings(now)
	c.updateStats(now)
	c.updateRequestRetransmit(now)
	c.updateMigrates(now)
	c.updateRouteUpdate(now)
	c.updateTimeouts(now)
	c.updateCounterUpload(now)
}

// drainControllerResults applies any asynchronous controller responses
// that have landed since the last tick.
func (c *Client) drainControllerResults() {
	for {
		select {
		case r := <-c.nearCh:
			c.nearInFlight = false
			c.applyNearResult(r)
		case r := <-c.routeCh:
			c.applyRouteResult(r)
		default:
			return
		}
	}
}

func (c *Client) applyNearResult(r nearResult) {
	if r.err != nil || len(r.relays) == 0 {
		c.log.Debug("near relay fetch failed", "error", r.err, "count", len(r.relays))
		return
	}
	relays := r.relays
	if len(relays) > routecontrol.MaxNearRelays {
		relays = relays[:routecontrol.MaxNearRelays]
	}
	c.nearRelays = relays
	c.relayByAddr = make(map[string]uint64, len(relays))
	for _, relay := range relays {
		c.relayByAddr[relay.Address.String()] = relay.RelayID
		c.relayHistoryFor(relay.RelayID)
	}
	c.noNearRelays = false
	c.lastNearRefresh = c.clk.Now()
	if c.State() == StateLocating {
		c.setState(StateReady)
	}
	c.log.Debug("near relays updated", "count", len(relays))
}

func (c *Client) applyRouteResult(r routeResult) {
	now := c.clk.Now()
	if r.initial {
		if r.err != nil {
			c.fail(ErrInsecureSessionFailed, r.err.Error())
			c.setState(StateReady)
			return
		}
		c.installRouteData(r.resp.Data, true)
		return
	}

	c.routeUpdateInFlight = false
	c.nextRouteUpdateDue = now.Add(BillingSlice)
	if r.err != nil {
		c.log.Warn("route update request failed", "error", r.err)
		return
	}
	c.installRouteData(r.resp.Data, false)
}

func (c *Client) updateLocating(now time.Time) {
	if c.State() != StateLocating || c.nearInFlight {
		return
	}
	if c.locateAttempts > 0 && now.Sub(c.lastLocate) < LocatingRetryInterval {
		return
	}
	if c.locateAttempts >= LocatingMaxAttempts {
		if c.cfg.NetworkNextOnly {
			c.fail(ErrFailedToLocate, "no near relays after retries")
			c.setState(StateStopped)
			return
		}
		c.noNearRelays = true
		c.counters.increment(CounterNoNearRelays)
		c.setState(StateReady)
		return
	}
	c.locateAttempts++
	c.lastLocate = now
	c.fireNearFetch()
}

func (c *Client) updateNearRefresh(now time.Time) {
	if c.State() != StateReady || c.nearInFlight || c.cfg.DirectOnly {
		return
	}
	if now.Sub(c.lastNearRefresh) < NearRelayRefreshInterval {
		return
	}
	c.lastNearRefresh = now
	c.fireNearFetch()
}

func (c *Client) fireNearFetch() {
	c.nearInFlight = true
	if c.cfg.ForceScenario == ForceScenarioNearRelayFailure {
		c.nearCh <- nearResult{err: errors.New("forced near relay failure")}
		return
	}
	if c.ctrl == nil {
		c.nearCh <- nearResult{err: errors.New("no controller configured")}
		return
	}
	ctx := c.runCtx()
	go func() {
		relays, err := c.ctrl.NearRelaysAuto(ctx)
		c.nearCh <- nearResult{relays: relays, err: err}
	}()
}

// sessionOpen reports whether the client currently owns a session in any
// of its live forms.
func (c *Client) sessionOpen() bool {
	switch c.State() {
	case StateRequesting, StateEstablished, StateDirect:
		return true
	}
	return false
}

func (c *Client) updatePings(now time.Time) {
	state := c.State()

	if c.sessionOpen() && !c.serverAddr.IsNone() && now.Sub(c.lastDirectPing) >= pingInterval {
		c.lastDirectPing = now
		seq := c.pingHistoryDirect.Send(c.clk.Seconds())
		ping := wire.EncodePingPong(wire.PingPong{Type: wire.TypeDirectServerPing, FlowID: c.flowID, Sequence: seq})
		if err := c.tr.SendTo(c.serverAddr, ping); err != nil {
			c.log.Debug("direct server ping send failed", "error", err)
		}
	}

	nextPingWanted := state == StateEstablished && (!c.backupFlow || c.cfg.ForceScenario == ForceScenarioKeepAlive)
	if nextPingWanted && now.Sub(c.lastNextPing) >= pingInterval {
		c.lastNextPing = now
		if r := c.sendRoute(); r != nil {
			seq := r.PingHistoryServer.Send(c.clk.Seconds())
			var body [16]byte
			binary.LittleEndian.PutUint64(body[0:8], r.FlowToken.FlowID)
			binary.LittleEndian.PutUint64(body[8:16], seq)
			h := wire.Header{
				Type:        wire.TypeNextServerPing,
				Sequence:    r.nextSequence(),
				FlowID:      r.FlowToken.FlowID,
				FlowVersion: r.FlowToken.FlowVersion,
				FlowFlags:   r.FlowToken.FlowFlags,
			}
			if ping, err := wire.EncodeRouted(h, &r.FlowToken.PrivateKey, body[:]); err == nil {
				if err := c.tr.SendTo(r.FlowToken.NextAddress, ping); err != nil {
					c.log.Debug("next server ping send failed", "error", err)
				}
			}
		}
	}

	if len(c.nearRelays) > 0 && now.Sub(c.lastRelayPing) >= pingInterval {
		c.lastRelayPing = now
		for _, relay := range c.nearRelays {
			hist := c.relayHistoryFor(relay.RelayID)
			seq := hist.Send(c.clk.Seconds())
			ping := wire.EncodePingPong(wire.PingPong{Type: wire.TypeClientRelayPing, FlowID: c.flowID, Sequence: seq})
			if err := c.tr.SendTo(relay.Address, ping); err != nil {
				c.log.Debug("relay ping send failed", "relay_id", relay.RelayID, "error", err)
			}
		}
	}
}

// nextPathStats applies the stats selection rule: a route that changed
// less than two seconds ago has too little history to judge, so the
// previous route's history speaks for the next path until then.
func (c *Client) nextPathStats(now time.Time, nowSec float64) pingstats.Window {
	if c.routeCurrent == nil {
		return pingstats.Window{RTT: pingstats.NoData, Jitter: pingstats.NoData, Loss: pingstats.NoData}
	}
	hist := c.routeCurrent.PingHistoryServer
	if now.Sub(c.routeChangedAt) < 2*time.Second && c.routePrevious != nil {
		hist = c.routePrevious.PingHistoryServer
	}
	return pingstats.Compute(hist.Entries(), nowSec-statsWindowSeconds, nowSec, nowSec)
}

func (c *Client) updateStats(now time.Time) {
	if !c.sessionOpen() || now.Sub(c.lastStatsSample) < statsSampleInterval {
		return
	}
	c.lastStatsSample = now
	nowSec := c.clk.Seconds()

	direct := pingstats.Compute(c.pingHistoryDirect.Entries(), nowSec-statsWindowSeconds, nowSec, nowSec)
	next := c.nextPathStats(now, nowSec)

	sample := pingstats.Sample{
		Timestamp:    now,
		DirectRTT:    msOrNoData(direct.RTT),
		DirectJitter: msOrNoData(direct.Jitter),
		DirectLoss:   direct.Loss,
		NextRTT:      msOrNoData(next.RTT),
		NextJitter:   msOrNoData(next.Jitter),
		NextLoss:     next.Loss,
	}
	c.statsRing.Push(sample)

	if c.State() == StateEstablished && !c.cfg.DisableCantBeatDirect && !c.forcedRoute {
		if c.cantBeat.Observe(sample.DirectRTT, sample.NextRTT, c.backupFlow) {
			c.counters.increment(CounterCantBeatDirect)
			c.fallbackToBackup()
			c.cantBeat.Reset()
		}
	}
}

// fallbackToBackup switches the session's game traffic onto the backup
// direct path. The session stays ESTABLISHED: only the wrapping and the
// destination of game payloads change.
func (c *Client) fallbackToBackup() {
	if c.backupFlow {
		return
	}
	if c.serverAddr.IsNone() {
		c.fail(ErrRouteTimedOut, "backup fallback unavailable without a server address")
		return
	}
	c.backupFlow = true
	c.counters.increment(CounterFallbackToDirect)
	c.log.Info("falling back to backup direct flow", "flow_id", c.flowID)
}

func (c *Client) updateRequestRetransmit(now time.Time) {
	if c.sending == sendingNone && !c.continueSending {
		return
	}
	if c.requestDest.IsNone() || c.routeCurrent == nil {
		return
	}
	if !c.lastRequestSend.IsZero() && now.Sub(c.lastRequestSend) < RouteRequestRetransmitInterval {
		return
	}
	c.sendPendingRequest(now)
}

// sendPendingRequest (re)sends the outstanding ROUTE_REQUEST or
// CONTINUE_REQUEST: a freshly sealed header under the current route's key
// followed by the remaining sealed token chain, one fixed-size token per
// hop still ahead of the packet.
func (c *Client) sendPendingRequest(now time.Time) {
	r := c.routeCurrent
	packetType := wire.TypeRouteRequest
	if c.continueSending && c.sending == sendingNone {
		packetType = wire.TypeContinueRequest
	}

	var chain []byte
	for _, tok := range c.requestTokens {
		chain = append(chain, tok...)
	}

	h := wire.Header{
		Type:        packetType,
		Sequence:    r.nextSequence(),
		FlowID:      r.FlowToken.FlowID,
		FlowVersion: r.FlowToken.FlowVersion,
		FlowFlags:   r.FlowToken.FlowFlags,
	}
	packet, err := wire.EncodeRouted(h, &r.FlowToken.PrivateKey, chain)
	if err != nil {
		c.log.Warn("failed to encode pending request", "error", err)
		return
	}
	if err := c.tr.SendTo(c.requestDest, packet); err != nil {
		c.log.Debug("pending request send failed", "error", err)
	}
	c.lastRequestSend = now
}

func (c *Client) updateMigrates(now time.Time) {
	if c.migrateRemaining <= 0 || c.routePrevious == nil || c.migrateDest.IsNone() {
		return
	}
	if !c.lastMigrateSend.IsZero() && now.Sub(c.lastMigrateSend) < MigrateInterval {
		return
	}
	c.lastMigrateSend = now
	c.migrateRemaining--

	r := c.routePrevious
	h := wire.Header{
		Type:        wire.TypeMigrate,
		Sequence:    r.nextSequence(),
		FlowID:      r.FlowToken.FlowID,
		FlowVersion: r.FlowToken.FlowVersion,
		FlowFlags:   r.FlowToken.FlowFlags,
	}
	packet, err := wire.Encode(h, &r.FlowToken.PrivateKey)
	if err != nil {
		c.log.Warn("failed to encode migrate", "error", err)
		return
	}
	if err := c.tr.SendTo(c.migrateDest, packet); err != nil {
		c.log.Debug("migrate send failed", "error", err)
	}
}

func (c *Client) updateRouteUpdate(now time.Time) {
	if c.State() != StateEstablished {
		return
	}
	if c.routeUpdateInFlight {
		if now.Sub(c.routeUpdateDueAt) > RouteUpdateTimeout {
			c.counters.increment(CounterRouteUpdateTimeout)
			c.routeUpdateInFlight = false
			c.nextRouteUpdateDue = now.Add(BillingSlice)
			if !c.cfg.NetworkNextOnly && !c.serverAddr.IsNone() {
				c.fallbackToBackup()
			} else {
				c.fail(ErrRouteTimedOut, "route update outstanding past deadline")
			}
		}
		return
	}
	if now.Before(c.nextRouteUpdateDue) || c.ctrl == nil {
		return
	}
	c.routeUpdateInFlight = true
	c.routeUpdateDueAt = c.nextRouteUpdateDue

	req := routecontrol.RouteRequest{
		Info:        c.buildClientInfo(false),
		RouteState:  c.routeState,
		ServerToken: c.serverToken,
	}
	ctx := c.runCtx()
	go func() {
		resp, err := c.ctrl.RequestUpdate(ctx, req)
		c.routeCh <- routeResult{resp: resp, err: err}
	}()
}

func (c *Client) updateTimeouts(now time.Time) {
	if !c.sessionOpen() {
		return
	}
	if now.Sub(c.timeLastRx) <= c.cfg.SessionTimeout {
		return
	}
	c.counters.increment(CounterServerToClientTimeout)
	c.fail(ErrTimedOut, "no valid inbound packet within session timeout")
	c.clearSession()
	c.setState(StateReady)
}

func (c *Client) updateCounterUpload(now time.Time) {
	if !c.counters.dirty || c.ctrl == nil {
		return
	}
	if now.Sub(c.lastCounterUpload) < counterUploadInterval {
		return
	}
	c.lastCounterUpload = now
	c.counters.dirty = false
	snap := c.counters.snapshot()
	ctx := c.runCtx()
	go func() {
		if err := c.ctrl.PostCounters(ctx, snap); err != nil {
			c.log.Warn("counter upload failed", "error", err)
		}
	}()
}

// installRouteData applies a controller route or continue update.
// initial marks the very first install of a session, arriving as the
// INSECURE_REQUESTING response.
func (c *Client) installRouteData(data routecontrol.RouteData, initial bool) {
	failInstall := func(msg string) {
		c.fail(ErrInvalidRoute, msg)
		if initial {
			c.setState(StateReady)
		}
	}

	if c.cfg.ForceScenario == ForceScenarioRouteStateFailure {
		failInstall("forced route state failure")
		return
	}
	if len(data.RouteState) > routecontrol.RouteStateBytesMax {
		failInstall("route state over size ceiling")
		return
	}

	switch data.Prefix.Kind {
	case routecontrol.PrefixDirect:
		if initial {
			c.timeLastRx = c.clk.Now()
			c.setState(StateDirect)
			return
		}
		// A mid-session "direct" prefix is the controller explicitly
		// forcing the backup fallback.
		c.fallbackToBackup()
		return
	case routecontrol.PrefixServerAddress:
		c.serverAddr = data.Prefix.ServerAddress
	case routecontrol.PrefixForcedRoute:
		c.forcedRoute = true
	}

	if data.IsContinue {
		c.installContinue(data)
		return
	}

	if len(data.Tokens) == 0 {
		failInstall("route data carries no tokens")
		return
	}
	tok, err := token.OpenFlowToken(data.Tokens[0], &c.cfg.ControllerPublicKey, &c.cfg.ClientPrivateKey)
	if err != nil {
		failInstall("could not open flow token")
		return
	}
	if tok.NextAddress.IsNone() {
		failInstall("flow token has no next address")
		return
	}

	if c.routeState != nil && (c.sending != sendingNone || c.continueSending) {
		c.log.Warn("route state overwritten while a previous request is in flight; last response wins",
			"flow_id", tok.FlowID)
	}
	c.routeState = append([]byte(nil), data.RouteState...)

	now := c.clk.Now()
	fresh := newClientRoute(tok)
	if hops := len(data.Tokens) - 2; hops > 0 {
		fresh.RelayHopCount = hops
	}

	if initial {
		c.flowID = tok.FlowID
		c.routeCurrent = fresh
		// Previous mirrors current on first install, matching the server's
		// create path, so the send-route rule and migration decode always
		// have two routes to work with.
		c.routePrevious = newClientRoute(tok)
		c.sending = sendingInitial
		c.routeChangedAt = now
		c.nextRouteUpdateDue = now.Add(BillingSlice)
		c.setState(StateRequesting)
	} else {
		c.routePrevious = c.routeCurrent
		c.routeCurrent = fresh
		c.flowID = tok.FlowID
		c.sending = sendingUpdate
		c.routeChangedAt = now
		c.migrateRemaining = MigratePacketSendCount
		c.migrateDest = c.routePrevious.FlowToken.NextAddress
		c.lastMigrateSend = time.Time{}
	}

	c.requestTokens = data.Tokens[1:]
	c.requestDest = tok.NextAddress
	c.cantBeat.Reset()
	c.sendPendingRequest(now)
	c.log.Debug("route installed", "flow_id", tok.FlowID, "flow_version", tok.FlowVersion,
		"relay_hops", fresh.RelayHopCount, "initial", initial)
}

// installContinue applies a continue update: the flow's keys and routes
// are unchanged; only route_state and the request token chain advance.
func (c *Client) installContinue(data routecontrol.RouteData) {
	if c.routeCurrent == nil {
		return
	}
	if len(data.Tokens) == 0 {
		c.fail(ErrInvalidRoute, "continue data carries no tokens")
		return
	}
	ct, err := token.OpenContinueToken(data.Tokens[0], &c.cfg.ControllerPublicKey, &c.cfg.ClientPrivateKey)
	if err != nil || ct.FlowID != c.flowID {
		c.fail(ErrInvalidRoute, "could not open continue token")
		return
	}
	if c.sending != sendingNone {
		c.log.Warn("continue update arrived while a route update is in flight; last response wins",
			"flow_id", c.flowID)
	}
	c.routeState = append([]byte(nil), data.RouteState...)
	c.continueSending = true
	c.requestTokens = data.Tokens[1:]
	c.requestDest = c.routeCurrent.FlowToken.NextAddress
	c.sendPendingRequest(c.clk.Now())
	c.log.Debug("continue installed", "flow_id", c.flowID)
}

// buildClientInfo assembles the binary blob posted with every route
// request and update.
func (c *Client) buildClientInfo(initial bool) routecontrol.ClientInfo {
	nowSec := c.clk.Seconds()
	info := routecontrol.ClientInfo{
		Version:      routecontrol.ClientInfoVersion,
		CurrentTime:  nowSec,
		Initial:      initial,
		NextRTT:      routecontrol.NoStatValue,
		NextJitter:   routecontrol.NoStatValue,
		NextLoss:     routecontrol.NoStatValue,
		DirectRTT:    routecontrol.NoStatValue,
		DirectJitter: routecontrol.NoStatValue,
		DirectLoss:   routecontrol.NoStatValue,
	}
	if s, ok := c.statsRing.Latest(); ok {
		info.NextRTT = float32(s.NextRTT)
		info.NextJitter = float32(s.NextJitter)
		info.NextLoss = float32(s.NextLoss)
		info.DirectRTT = float32(s.DirectRTT)
		info.DirectJitter = float32(s.DirectJitter)
		info.DirectLoss = float32(s.DirectLoss)
	}

	relays := c.nearRelays
	if c.cfg.ForceScenario == ForceScenarioRandomRoute && len(relays) > 1 {
		// Rotating the reported relay order nudges the controller's
		// tie-breaking toward a different first hop on each request.
		rotated := make([]routecontrol.NearRelay, 0, len(relays))
		rotated = append(rotated, relays[1:]...)
		rotated = append(rotated, relays[0])
		relays = rotated
	}
	for _, relay := range relays {
		if len(info.Relays) >= routecontrol.MaxNearRelays {
			break
		}
		w := pingstats.Compute(c.relayHistoryFor(relay.RelayID).Entries(), 0, nowSec, nowSec)
		info.Relays = append(info.Relays, routecontrol.RelayStat{
			RelayID: relay.RelayID,
			RTT:     float32(msOrNoData(w.RTT)),
			Jitter:  float32(msOrNoData(w.Jitter)),
			Loss:    float32(w.Loss),
		})
	}

	info.ClientPublicIP = c.tr.LocalAddress()
	if initial {
		info.ClientPublicKey = c.cfg.ClientPublicKey
	}
	return info
}
