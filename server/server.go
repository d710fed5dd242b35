package server

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/networknext/next-go/address"
	"github.com/networknext/next-go/queue"
	"github.com/networknext/next-go/token"
	"github.com/networknext/next-go/wire"
)

// Sender transmits a sealed or plain packet to a UDP peer. A thin
// interface rather than *net.UDPConn directly, so tests can substitute an
// in-memory fake.
type Sender interface {
	SendTo(addr address.Address, payload []byte) error
}

// PayloadHandler delivers a game payload received on an established
// session to the game layer. addr is the session's synthetic per-session
// address, not the peer's real network address, so the game can
// treat sessions and out-of-band direct peers uniformly through the same
// SendToAddress API.
type PayloadHandler func(addr address.Address, flowID uint64, payload []byte)

var (
	errSessionTableFull = fmt.Errorf("server: session table full")
)

// Server is the server-side half of the data plane: the fixed-capacity
// session table and the packet handlers that install, continue, migrate
// and destroy routes over it.
type Server struct {
	cfg Config
	log *slog.Logger

	sender    Sender
	onPayload PayloadHandler
	nowFn     func() time.Time

	mu       sync.Mutex
	sessions []Session
	byFlowID map[uint64]int
}

// New constructs a Server. sender transmits outbound packets; onPayload
// delivers inbound game payloads. Both must be non-nil.
func New(cfg Config, sender Sender, onPayload PayloadHandler) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:       cfg,
		log:       cfg.Logger.WithGroup("server"),
		sender:    sender,
		onPayload: onPayload,
		nowFn:     time.Now,
		sessions:  make([]Session, cfg.MaxSessions),
		byFlowID:  make(map[uint64]int, cfg.MaxSessions),
	}
}

// SessionCount reports how many session slots are currently occupied.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byFlowID)
}

// allocSlot finds a free slot (FlowID == 0, the reserved "empty" marker)
// and reserves it. Must be called with s.mu held.
func (s *Server) allocSlot() (int, error) {
	for i := range s.sessions {
		if s.sessions[i].FlowID == 0 {
			return i, nil
		}
	}
	return 0, errSessionTableFull
}

// freeSlot clears a slot back to empty, preserving its SessionSequence so
// a recycled slot's synthetic address never matches a still-live
// reference to the session that last occupied it. Must be called with
// s.mu held.
func (s *Server) freeSlot(idx int) {
	seq := s.sessions[idx].SessionSequence
	s.sessions[idx] = Session{index: idx, SessionSequence: seq}
}

// sessionAddress returns sess's synthetic per-session delivery address.
func sessionAddress(sess *Session) address.Address {
	return address.SessionToAddress(uint16(sess.index), sess.SessionSequence)
}

// HandlePacket is the server's single dispatch entry point: every
// datagram drained from the listener's packet queue is routed here
// by type. Every branch is best-effort — a malformed or unauthenticated
// packet is logged and dropped, never returned as an error, per the "never
// throws" data-plane policy.
func (s *Server) HandlePacket(packet []byte, from address.Address) {
	packetType, err := wire.PeekType(packet)
	if err != nil {
		return
	}
	switch packetType {
	case wire.TypeRouteRequest:
		s.handleRouteRequest(packet, from)
	case wire.TypeContinueRequest:
		s.handleContinueRequest(packet, from)
	case wire.TypeClientToServer:
		s.handleClientToServer(packet, from)
	case wire.TypeMigrate:
		s.handleMigrate(packet, from)
	case wire.TypeDestroy:
		s.handleDestroy(packet, from)
	case wire.TypeBackup:
		s.handleBackup(packet, from)
	case wire.TypeDirectServerPing:
		s.handleDirectServerPing(packet, from)
	case wire.TypeNextServerPing:
		s.handleNextServerPing(packet, from)
	default:
		s.log.Debug("dropping packet with unhandled type", "type", packetType)
	}
}

// handleRouteRequest installs, refreshes or re-acknowledges a session
// route from an inbound ROUTE_REQUEST.
func (s *Server) handleRouteRequest(packet []byte, from address.Address) {
	if len(packet) < wire.HeaderSize+token.SealedFlowTokenBytes {
		s.log.Debug("dropping route request: too short")
		return
	}
	sealed := packet[wire.HeaderSize : wire.HeaderSize+token.SealedFlowTokenBytes]
	flowToken, err := token.OpenFlowToken(sealed, &s.cfg.ControllerPublicKey, &s.cfg.PrivateKey)
	if err != nil {
		s.log.Debug("dropping route request: could not open flow token", "error", err)
		return
	}

	h, err := wire.Decode(packet, wire.TypeRouteRequest, &flowToken.PrivateKey)
	if err != nil {
		s.log.Debug("dropping route request: header auth failed", "error", err)
		return
	}
	if h.FlowID != flowToken.FlowID || h.FlowID == 0 {
		s.log.Debug("dropping route request: flow id mismatch")
		return
	}

	now := s.nowFn()
	s.mu.Lock()
	idx, exists := s.byFlowID[h.FlowID]
	var sess *Session
	if !exists {
		slot, err := s.allocSlot()
		if err != nil {
			s.mu.Unlock()
			s.log.Warn("dropping route request: session table full", "flow_id", h.FlowID)
			return
		}
		preservedSeq := s.sessions[slot].SessionSequence + 1
		s.sessions[slot] = Session{FlowID: h.FlowID, index: slot, SessionSequence: preservedSeq, TraceID: xid.New().String()}
		sess = &s.sessions[slot]
		route := newRoute()
		route.FlowVersion = h.FlowVersion
		route.FlowFlags = h.FlowFlags
		route.PrivateKey = flowToken.PrivateKey
		route.KbpsUp = flowToken.KbpsUp
		route.KbpsDown = flowToken.KbpsDown
		route.PrevHopAddr = from
		route.ExpireTimestamp = flowToken.ExpireTimestamp
		sess.Current = route
		sess.Previous = newRoute()
		sess.Previous.FlowVersion = route.FlowVersion
		sess.Previous.FlowFlags = route.FlowFlags
		sess.Previous.PrivateKey = route.PrivateKey
		sess.Previous.PrevHopAddr = from
		s.byFlowID[h.FlowID] = slot
		s.log.Debug("opened session", "flow_id", h.FlowID, "slot", slot, "trace_id", sess.TraceID)
	} else {
		sess = &s.sessions[idx]
		if versionGreater(h.FlowVersion, sess.Current.FlowVersion) {
			sess.Previous = sess.Current
			route := newRoute()
			route.FlowVersion = h.FlowVersion
			route.FlowFlags = h.FlowFlags
			route.PrivateKey = flowToken.PrivateKey
			route.KbpsUp = flowToken.KbpsUp
			route.KbpsDown = flowToken.KbpsDown
			route.PrevHopAddr = from
			route.ExpireTimestamp = flowToken.ExpireTimestamp
			sess.Current = route
			s.log.Debug("installed new flow version", "flow_id", h.FlowID, "version", h.FlowVersion)
		} else {
			s.log.Debug("route request retransmission", "flow_id", h.FlowID, "version", h.FlowVersion)
		}
	}
	sess.LastRxTime = now
	if sess.Current.Replay.AlreadyReceived(h.Sequence) {
		s.mu.Unlock()
		s.log.Debug("dropping route request: replay", "flow_id", h.FlowID)
		return
	}
	txSeq := sess.Current.nextTxSequence()
	key := sess.Current.PrivateKey
	flowVersion := sess.Current.FlowVersion
	flowFlags := sess.Current.FlowFlags
	expire := flowToken.ExpireTimestamp
	s.mu.Unlock()

	serverToken := token.ServerToken{ExpireTimestamp: expire, FlowID: h.FlowID, FlowVersion: flowVersion, FlowFlags: flowFlags}
	sealedServerToken, err := token.SealServerToken(serverToken, &s.cfg.PrivateKey, &s.cfg.ControllerPublicKey)
	if err != nil {
		s.log.Warn("failed to seal server token", "error", err)
		return
	}

	respHeader := wire.Header{Type: wire.TypeRouteResponse, Sequence: txSeq, FlowID: h.FlowID, FlowVersion: flowVersion, FlowFlags: flowFlags}
	resp, err := wire.EncodeRouted(respHeader, &key, sealedServerToken)
	if err != nil {
		s.log.Warn("failed to encode route response", "error", err)
		return
	}
	if err := s.sender.SendTo(from, resp); err != nil {
		s.log.Warn("failed to send route response", "error", err)
	}
}

// handleContinueRequest extends the current route's lease and answers
// with a fresh server token.
func (s *Server) handleContinueRequest(packet []byte, from address.Address) {
	flowID, ok := wire.PeekFlowID(packet)
	if !ok || flowID == 0 {
		return
	}

	now := s.nowFn()
	s.mu.Lock()
	idx, exists := s.byFlowID[flowID]
	if !exists {
		s.mu.Unlock()
		s.log.Debug("dropping continue request: could not find session", "flow_id", flowID)
		return
	}
	sess := &s.sessions[idx]
	h, err := wire.Decode(packet, wire.TypeContinueRequest, &sess.Current.PrivateKey)
	if err != nil {
		s.mu.Unlock()
		s.log.Debug("dropping continue request: header auth failed", "flow_id", flowID)
		return
	}
	if sess.Current.Replay.AlreadyReceived(h.Sequence) {
		s.mu.Unlock()
		s.log.Debug("dropping continue request: replay", "flow_id", flowID)
		return
	}
	sess.Current.PrevHopAddr = from
	sess.LastRxTime = now
	if extension := packet[wire.HeaderSize:]; len(extension) >= token.SealedContinueTokenBytes {
		if ct, err := token.OpenContinueToken(extension[:token.SealedContinueTokenBytes], &s.cfg.ControllerPublicKey, &s.cfg.PrivateKey); err == nil && ct.FlowID == flowID {
			sess.Current.ExpireTimestamp = ct.ExpireTimestamp
		}
	}
	txSeq := sess.Current.nextTxSequence()
	key := sess.Current.PrivateKey
	expire := sess.Current.ExpireTimestamp
	s.mu.Unlock()

	serverToken := token.ServerToken{ExpireTimestamp: expire, FlowID: h.FlowID, FlowVersion: h.FlowVersion, FlowFlags: h.FlowFlags}
	sealedServerToken, err := token.SealServerToken(serverToken, &s.cfg.PrivateKey, &s.cfg.ControllerPublicKey)
	if err != nil {
		s.log.Warn("failed to seal server token", "error", err)
		return
	}
	respHeader := wire.Header{Type: wire.TypeContinueResponse, Sequence: txSeq, FlowID: h.FlowID, FlowVersion: h.FlowVersion, FlowFlags: h.FlowFlags}
	resp, err := wire.EncodeRouted(respHeader, &key, sealedServerToken)
	if err != nil {
		s.log.Warn("failed to encode continue response", "error", err)
		return
	}
	if err := s.sender.SendTo(from, resp); err != nil {
		s.log.Warn("failed to send continue response", "error", err)
	}
}

// decodeAgainstSession tries sess.Current then sess.Previous, returning
// the decoded header, the trailing extension and whichever route
// verified. This is what lets both routes accept packets concurrently
// during a migration transient.
func decodeAgainstSession(packet []byte, wantType uint8, sess *Session) (wire.Header, []byte, *Route, bool) {
	if h, ext, err := wire.DecodeRouted(packet, wantType, &sess.Current.PrivateKey); err == nil {
		return h, ext, &sess.Current, true
	}
	if h, ext, err := wire.DecodeRouted(packet, wantType, &sess.Previous.PrivateKey); err == nil {
		return h, ext, &sess.Previous, true
	}
	return wire.Header{}, nil, nil, false
}

// handleClientToServer authenticates and delivers an inbound game
// payload.
func (s *Server) handleClientToServer(packet []byte, from address.Address) {
	flowID, ok := wire.PeekFlowID(packet)
	if !ok || flowID == 0 {
		return
	}

	now := s.nowFn()
	s.mu.Lock()
	idx, exists := s.byFlowID[flowID]
	if !exists {
		s.mu.Unlock()
		s.log.Debug("dropping client-to-server: could not find session", "flow_id", flowID)
		return
	}
	sess := &s.sessions[idx]
	h, extension, route, ok := decodeAgainstSession(packet, wire.TypeClientToServer, sess)
	if !ok {
		s.mu.Unlock()
		s.log.Debug("dropping client-to-server: header auth failed", "flow_id", flowID)
		return
	}
	if route.Replay.AlreadyReceived(h.Sequence) {
		s.mu.Unlock()
		s.log.Debug("dropping client-to-server: replay", "flow_id", flowID)
		return
	}
	route.PrevHopAddr = from
	sess.LastRxTime = now
	addr := sessionAddress(sess)
	payload := append([]byte(nil), extension...)
	s.mu.Unlock()

	if s.onPayload != nil {
		s.onPayload(addr, flowID, payload)
	}
}

// handleMigrate acknowledges a migrate probe, which only ever validates
// against the previous route.
func (s *Server) handleMigrate(packet []byte, from address.Address) {
	flowID, ok := wire.PeekFlowID(packet)
	if !ok || flowID == 0 {
		return
	}

	now := s.nowFn()
	s.mu.Lock()
	idx, exists := s.byFlowID[flowID]
	if !exists {
		s.mu.Unlock()
		return
	}
	sess := &s.sessions[idx]
	h, err := wire.Decode(packet, wire.TypeMigrate, &sess.Previous.PrivateKey)
	if err != nil {
		s.mu.Unlock()
		s.log.Debug("dropping migrate: header auth failed", "flow_id", flowID)
		return
	}
	if sess.Previous.Replay.AlreadyReceived(h.Sequence) {
		s.mu.Unlock()
		s.log.Debug("dropping migrate: replay", "flow_id", flowID)
		return
	}
	sess.Previous.PrevHopAddr = from
	sess.LastRxTime = now
	txSeq := sess.Previous.nextTxSequence()
	key := sess.Previous.PrivateKey
	flowVersion := sess.Previous.FlowVersion
	flowFlags := sess.Previous.FlowFlags
	s.mu.Unlock()

	respHeader := wire.Header{Type: wire.TypeMigrateResponse, Sequence: txSeq, FlowID: flowID, FlowVersion: flowVersion, FlowFlags: flowFlags}
	resp, err := wire.Encode(respHeader, &key)
	if err != nil {
		s.log.Warn("failed to encode migrate response", "error", err)
		return
	}
	if err := s.sender.SendTo(from, resp); err != nil {
		s.log.Warn("failed to send migrate response", "error", err)
	}
}

// handleDestroy removes a session on a DESTROY validated against the
// current route.
func (s *Server) handleDestroy(packet []byte, from address.Address) {
	flowID, ok := wire.PeekFlowID(packet)
	if !ok || flowID == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, exists := s.byFlowID[flowID]
	if !exists {
		return
	}
	sess := &s.sessions[idx]
	if _, err := wire.Decode(packet, wire.TypeDestroy, &sess.Current.PrivateKey); err != nil {
		s.log.Debug("dropping destroy: header auth failed", "flow_id", flowID)
		return
	}
	delete(s.byFlowID, flowID)
	s.freeSlot(idx)
	s.log.Debug("destroyed session", "flow_id", flowID)
}

// handleBackup delivers backup-flow traffic: no header validation, since
// backup packets carry no AEAD header — the
// server trusts flow_id alone to route delivery, the same trust model the
// direct path always had.
func (s *Server) handleBackup(packet []byte, from address.Address) {
	flowID, payload, err := wire.DecodeBackup(packet)
	if err != nil || flowID == 0 {
		return
	}

	s.mu.Lock()
	idx, exists := s.byFlowID[flowID]
	if !exists {
		s.mu.Unlock()
		s.log.Debug("dropping backup: could not find session", "flow_id", flowID)
		return
	}
	sess := &s.sessions[idx]
	if !sess.BackupFlow {
		sess.BackupFlow = true
		s.log.Debug("session fell back to backup flow", "flow_id", flowID)
	}
	sess.ReplyAddr = from
	sess.LastRxTime = s.nowFn()
	addr := sessionAddress(sess)
	s.mu.Unlock()

	if s.onPayload != nil {
		s.onPayload(addr, flowID, payload)
	}
}

// handleDirectServerPing replies to an unauthenticated direct-path RTT
// probe. No session lookup: the direct path is measured
// independently of whether any route is installed.
func (s *Server) handleDirectServerPing(packet []byte, from address.Address) {
	p, err := wire.DecodePingPong(packet, wire.TypeDirectServerPing)
	if err != nil {
		return
	}
	pong := wire.EncodePingPong(wire.PingPong{Type: wire.TypeDirectServerPong, FlowID: p.FlowID, Sequence: p.Sequence})
	if err := s.sender.SendTo(from, pong); err != nil {
		s.log.Warn("failed to send direct server pong", "error", err)
	}
}

// handleNextServerPing replies to an authenticated next-path RTT probe
// carried inside a routed header.
func (s *Server) handleNextServerPing(packet []byte, from address.Address) {
	flowID, ok := wire.PeekFlowID(packet)
	if !ok || flowID == 0 {
		return
	}

	s.mu.Lock()
	idx, exists := s.byFlowID[flowID]
	if !exists {
		s.mu.Unlock()
		return
	}
	sess := &s.sessions[idx]
	h, body, route, ok := decodeAgainstSession(packet, wire.TypeNextServerPing, sess)
	if !ok {
		s.mu.Unlock()
		return
	}
	if route.Replay.AlreadyReceived(h.Sequence) {
		s.mu.Unlock()
		return
	}
	route.PrevHopAddr = from
	sess.LastRxTime = s.nowFn()
	txSeq := route.nextTxSequence()
	key := route.PrivateKey
	flowVersion := route.FlowVersion
	flowFlags := route.FlowFlags
	s.mu.Unlock()

	// The ping body (flow_id + ping sequence) rides back verbatim so the
	// client can match the pong to its ping-history entry.
	respHeader := wire.Header{Type: wire.TypeNextServerPong, Sequence: txSeq, FlowID: flowID, FlowVersion: flowVersion, FlowFlags: flowFlags}
	resp, err := wire.EncodeRouted(respHeader, &key, body)
	if err != nil {
		s.log.Warn("failed to encode next server pong", "error", err)
		return
	}
	if err := s.sender.SendTo(from, resp); err != nil {
		s.log.Warn("failed to send next server pong", "error", err)
	}
}

// SendToSession sends a game payload to a session: if the session has
// fallen back to backup, the payload goes out BACKUP-wrapped to its
// stored reply address; otherwise it is sealed as SERVER_TO_CLIENT under
// the current route's key and sent to that route's prev_hop_addr.
func (s *Server) SendToSession(flowID uint64, payload []byte) error {
	if address.IsDirectFlowID(flowID) {
		addr, err := address.AddressFromFlowID(flowID)
		if err != nil {
			return err
		}
		direct, err := wire.EncodeDirect(payload)
		if err != nil {
			return err
		}
		return s.sender.SendTo(addr, direct)
	}

	s.mu.Lock()
	idx, exists := s.byFlowID[flowID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("server: no session for flow %d", flowID)
	}
	sess := &s.sessions[idx]
	if sess.BackupFlow {
		replyAddr := sess.ReplyAddr
		s.mu.Unlock()
		backup, err := wire.EncodeBackup(flowID, payload)
		if err != nil {
			return err
		}
		return s.sender.SendTo(replyAddr, backup)
	}

	txSeq := sess.Current.nextTxSequence()
	key := sess.Current.PrivateKey
	flowVersion := sess.Current.FlowVersion
	flowFlags := sess.Current.FlowFlags
	dest := sess.Current.PrevHopAddr
	s.mu.Unlock()

	header := wire.Header{Type: wire.TypeServerToClient, Sequence: txSeq, FlowID: flowID, FlowVersion: flowVersion, FlowFlags: flowFlags}
	packet, err := wire.EncodeRouted(header, &key, payload)
	if err != nil {
		return err
	}
	return s.sender.SendTo(dest, packet)
}

// SendToAddress sends a game payload to an address: a synthetic per-session
// address is routed through SendToSession using the session's
// current flow_id; any other address is wrapped DIRECT and sent literally,
// letting the game treat sessions and out-of-band peers uniformly.
func (s *Server) SendToAddress(addr address.Address, payload []byte) error {
	if index, _, err := address.SessionFromAddress(addr); err == nil {
		s.mu.Lock()
		if int(index) >= len(s.sessions) {
			s.mu.Unlock()
			return fmt.Errorf("server: session index %d out of range", index)
		}
		flowID := s.sessions[index].FlowID
		s.mu.Unlock()
		if flowID == 0 {
			return fmt.Errorf("server: no session at index %d", index)
		}
		return s.SendToSession(flowID, payload)
	}

	direct, err := wire.EncodeDirect(payload)
	if err != nil {
		return err
	}
	return s.sender.SendTo(addr, direct)
}

// SweepTimeouts frees any session slot whose last validated inbound
// packet is older than the configured session timeout. Called by Update
// on the game thread's own cadence.
func (s *Server) SweepTimeouts() {
	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		sess := &s.sessions[i]
		if sess.FlowID == 0 {
			continue
		}
		if now.Sub(sess.LastRxTime) > s.cfg.SessionTimeout {
			s.log.Debug("session timed out", "flow_id", sess.FlowID)
			delete(s.byFlowID, sess.FlowID)
			s.freeSlot(i)
		}
	}
}

// Update drains a batch of queue entries (already swapped out by the
// caller) through HandlePacket and then sweeps timed-out sessions.
// The server has no separate updater loop for packet handling:
// each inbound packet is processed synchronously under the table lock at
// drain time, and Update only additionally performs the timeout sweep.
func (s *Server) Update(entries []queue.Entry) {
	for _, e := range entries {
		s.HandlePacket(e.Data, e.Source)
	}
	s.SweepTimeouts()
}
