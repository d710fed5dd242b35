package client

import (
	"encoding/binary"

	"github.com/networknext/next-go/address"
	"github.com/networknext/next-go/pingstats"
	"github.com/networknext/next-go/wire"
)

// handlePacket dispatches one drained datagram to its typed handler.
// Every branch is best-effort: a malformed, unauthenticated or replayed
// packet is logged and dropped, never surfaced as an error.
func (c *Client) handlePacket(packet []byte, from address.Address) {
	packetType, err := wire.PeekType(packet)
	if err != nil {
		return
	}
	switch packetType {
	case wire.TypeDirect:
		c.handleDirect(packet)
	case wire.TypeBackup:
		c.handleBackupPayload(packet)
	case wire.TypeRouteResponse:
		c.handleRouteResponse(packet)
	case wire.TypeContinueResponse:
		c.handleContinueResponse(packet)
	case wire.TypeMigrateResponse:
		c.handleMigrateResponse(packet)
	case wire.TypeServerToClient:
		c.handleServerToClient(packet)
	case wire.TypeDirectServerPong:
		c.handleDirectServerPong(packet)
	case wire.TypeNextServerPong:
		c.handleNextServerPong(packet)
	case wire.TypeClientRelayPong:
		c.handleRelayPong(packet, from)
	default:
		c.log.Debug("dropping packet with unhandled type", "type", packetType)
	}
}

// decodeAgainstRoutes tries the current route's key first, then the
// previous route's — the receive-side half of what keeps both flow
// versions live during a migration transient. The replay check runs on
// whichever route verified.
func (c *Client) decodeAgainstRoutes(packet []byte, wantType uint8) (wire.Header, []byte, *Route, bool) {
	if c.routeCurrent != nil {
		if h, ext, err := wire.DecodeRouted(packet, wantType, &c.routeCurrent.FlowToken.PrivateKey); err == nil {
			return h, ext, c.routeCurrent, true
		}
	}
	if c.routePrevious != nil {
		if h, ext, err := wire.DecodeRouted(packet, wantType, &c.routePrevious.FlowToken.PrivateKey); err == nil {
			return h, ext, c.routePrevious, true
		}
	}
	return wire.Header{}, nil, nil, false
}

func (c *Client) handleDirect(packet []byte) {
	payload, err := wire.DecodeDirect(packet)
	if err != nil {
		return
	}
	state := c.State()
	if state != StateDirect && state != StateEstablished && state != StateRequesting {
		return
	}
	c.timeLastRx = c.clk.Now()
	if c.onPayload != nil {
		c.onPayload(payload)
	}
}

func (c *Client) handleBackupPayload(packet []byte) {
	flowID, payload, err := wire.DecodeBackup(packet)
	if err != nil {
		return
	}
	if flowID != c.flowID {
		c.log.Debug("dropping backup payload: flow id mismatch", "flow_id", flowID)
		return
	}
	c.timeLastRx = c.clk.Now()
	if c.onPayload != nil {
		c.onPayload(payload)
	}
}

// handleRouteResponse completes a route install: the server has
// acknowledged the new flow version.
func (c *Client) handleRouteResponse(packet []byte) {
	h, ext, route, ok := c.decodeAgainstRoutes(packet, wire.TypeRouteResponse)
	if !ok {
		c.log.Debug("dropping route response: header auth failed")
		return
	}
	if route.Replay.AlreadyReceived(h.Sequence) {
		c.log.Debug("dropping route response: already received", "sequence", h.Sequence)
		return
	}
	c.timeLastRx = c.clk.Now()

	// The sealed server token is opaque to the client; it is echoed back
	// verbatim in the next route-update request so the controller can
	// validate server-side state.
	c.serverToken = append([]byte(nil), ext...)

	if c.State() == StateRequesting {
		c.setState(StateEstablished)
		if c.cfg.ForceScenario == ForceScenarioBackupFlow && !c.backupFlow {
			c.fallbackToBackup()
		}
	}
	c.sending = sendingNone
	c.requestTokens = nil
	c.log.Debug("route response accepted", "flow_id", h.FlowID, "flow_version", h.FlowVersion)
}

// handleContinueResponse completes a continue update: keys and routes are
// untouched, only the echoed server token advances.
func (c *Client) handleContinueResponse(packet []byte) {
	h, ext, route, ok := c.decodeAgainstRoutes(packet, wire.TypeContinueResponse)
	if !ok {
		c.log.Debug("dropping continue response: header auth failed")
		return
	}
	if route.Replay.AlreadyReceived(h.Sequence) {
		c.log.Debug("dropping continue response: already received", "sequence", h.Sequence)
		return
	}
	c.timeLastRx = c.clk.Now()
	c.serverToken = append([]byte(nil), ext...)
	c.continueSending = false
	c.requestTokens = nil
	c.log.Debug("continue response accepted", "flow_id", h.FlowID)
}

// handleMigrateResponse stops the migrate burst early: the server has
// acknowledged under the previous route's key.
func (c *Client) handleMigrateResponse(packet []byte) {
	if c.routePrevious == nil {
		return
	}
	h, err := wire.Decode(packet, wire.TypeMigrateResponse, &c.routePrevious.FlowToken.PrivateKey)
	if err != nil {
		c.log.Debug("dropping migrate response: header auth failed")
		return
	}
	if c.routePrevious.Replay.AlreadyReceived(h.Sequence) {
		return
	}
	c.timeLastRx = c.clk.Now()
	c.migrateRemaining = 0
	c.log.Debug("migrate acknowledged", "flow_id", h.FlowID)
}

func (c *Client) handleServerToClient(packet []byte) {
	h, payload, route, ok := c.decodeAgainstRoutes(packet, wire.TypeServerToClient)
	if !ok {
		c.log.Debug("dropping server-to-client: header auth failed")
		return
	}
	if route.Replay.AlreadyReceived(h.Sequence) {
		c.log.Debug("dropping server-to-client: already received", "sequence", h.Sequence)
		return
	}
	c.timeLastRx = c.clk.Now()
	route.TimeLastRx = c.timeLastRx
	if c.onPayload != nil {
		c.onPayload(payload)
	}
}

func (c *Client) handleDirectServerPong(packet []byte) {
	p, err := wire.DecodePingPong(packet, wire.TypeDirectServerPong)
	if err != nil {
		return
	}
	if p.FlowID != c.flowID {
		return
	}
	c.timeLastRx = c.clk.Now()
	c.pingHistoryDirect.ReceivePong(p.Sequence, c.clk.Seconds())
}

// handleNextServerPong matches an authenticated next-path pong back to
// the ping history of whichever route's key verified it. The ping body
// (flow_id + ping sequence) is separate from the header's own sequence.
func (c *Client) handleNextServerPong(packet []byte) {
	h, body, route, ok := c.decodeAgainstRoutes(packet, wire.TypeNextServerPong)
	if !ok {
		return
	}
	if route.Replay.AlreadyReceived(h.Sequence) {
		return
	}
	if len(body) < 16 {
		return
	}
	pingSeq := binary.LittleEndian.Uint64(body[8:16])
	c.timeLastRx = c.clk.Now()
	route.TimeLastRx = c.timeLastRx
	route.PingHistoryServer.ReceivePong(pingSeq, c.clk.Seconds())
}

// handleRelayPong attributes a relay pong to the relay it came from by
// source address — the pong body's flow_id only proves it answers one of
// our pings, not which relay answered.
func (c *Client) handleRelayPong(packet []byte, from address.Address) {
	p, err := wire.DecodePingPong(packet, wire.TypeClientRelayPong)
	if err != nil {
		return
	}
	relayID, ok := c.relayByAddr[from.String()]
	if !ok {
		c.log.Debug("dropping relay pong from unknown relay", "from", from.String())
		return
	}
	history, ok := c.relayHistory[relayID]
	if !ok {
		return
	}
	history.ReceivePong(p.Sequence, c.clk.Seconds())
}

// relayHistoryFor returns (creating on demand) the ping history for one
// near relay.
func (c *Client) relayHistoryFor(relayID uint64) *pingstats.History {
	h, ok := c.relayHistory[relayID]
	if !ok {
		h = pingstats.New()
		c.relayHistory[relayID] = h
	}
	return h
}
