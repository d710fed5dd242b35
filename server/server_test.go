package server

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/networknext/next-go/address"
	"github.com/networknext/next-go/token"
	"github.com/networknext/next-go/wire"
)

type sentPacket struct {
	dest address.Address
	data []byte
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentPacket
}

func (f *fakeSender) SendTo(addr address.Address, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPacket{dest: addr, data: append([]byte(nil), payload...)})
	return nil
}

func (f *fakeSender) packets() []sentPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPacket(nil), f.sent...)
}

func (f *fakeSender) packetsOfType(packetType uint8) []sentPacket {
	var out []sentPacket
	for _, p := range f.packets() {
		if len(p.data) > 0 && p.data[0] == packetType {
			out = append(out, p)
		}
	}
	return out
}

type delivery struct {
	addr    address.Address
	flowID  uint64
	payload []byte
}

type fixture struct {
	srv          *Server
	sender       *fakeSender
	deliveries   *[]delivery
	controllerKP *token.KeyPair
	serverKP     *token.KeyPair
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	controllerKP, err := token.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	serverKP, err := token.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	sender := &fakeSender{}
	deliveries := &[]delivery{}
	srv := New(Config{
		PublicKey:           serverKP.PublicKey,
		PrivateKey:          serverKP.PrivateKey,
		ControllerPublicKey: controllerKP.PublicKey,
	}, sender, func(addr address.Address, flowID uint64, payload []byte) {
		*deliveries = append(*deliveries, delivery{addr: addr, flowID: flowID, payload: payload})
	})
	return &fixture{srv: srv, sender: sender, deliveries: deliveries, controllerKP: controllerKP, serverKP: serverKP}
}

func mustAddr(t *testing.T, hostport string) address.Address {
	t.Helper()
	udp, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		t.Fatal(err)
	}
	a, err := address.FromUDPAddr(udp)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func randomKey(t *testing.T) [32]byte {
	t.Helper()
	var k [32]byte
	if _, err := rand.Read(k[:]); err != nil {
		t.Fatal(err)
	}
	return k
}

// routeRequestPacket builds a ROUTE_REQUEST the way the tail of the relay
// chain would hand it to the server: header under the flow key, followed
// by the server's own sealed flow token.
func (f *fixture) routeRequestPacket(t *testing.T, flowID uint64, version uint8, seq uint64, key [32]byte) []byte {
	t.Helper()
	tok := token.FlowToken{
		ExpireTimestamp: uint64(time.Now().Add(time.Hour).Unix()),
		FlowID:          flowID,
		FlowVersion:     version,
		PrivateKey:      key,
	}
	sealed, err := token.SealFlowToken(tok, &f.controllerKP.PrivateKey, &f.serverKP.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	h := wire.Header{Type: wire.TypeRouteRequest, Sequence: seq, FlowID: flowID, FlowVersion: version}
	packet, err := wire.EncodeRouted(h, &key, sealed)
	if err != nil {
		t.Fatal(err)
	}
	return packet
}

func clientToServerPacket(t *testing.T, flowID uint64, version uint8, seq uint64, key [32]byte, payload []byte) []byte {
	t.Helper()
	h := wire.Header{Type: wire.TypeClientToServer, Sequence: seq, FlowID: flowID, FlowVersion: version}
	packet, err := wire.EncodeRouted(h, &key, payload)
	if err != nil {
		t.Fatal(err)
	}
	return packet
}

func TestRouteRequestCreatesSessionAndResponds(t *testing.T) {
	f := newFixture(t)
	from := mustAddr(t, "10.0.0.5:30000")
	k := randomKey(t)

	f.srv.HandlePacket(f.routeRequestPacket(t, 42, 1, 1, k), from)

	if got := f.srv.SessionCount(); got != 1 {
		t.Fatalf("SessionCount = %d, want 1", got)
	}
	responses := f.sender.packetsOfType(wire.TypeRouteResponse)
	if len(responses) != 1 {
		t.Fatalf("route responses = %d, want 1", len(responses))
	}
	if !address.Equal(responses[0].dest, from) {
		t.Fatalf("response sent to %v, want %v", responses[0].dest, from)
	}
	h, ext, err := wire.DecodeRouted(responses[0].data, wire.TypeRouteResponse, &k)
	if err != nil {
		t.Fatalf("response does not verify under the flow key: %v", err)
	}
	if h.FlowID != 42 || h.FlowVersion != 1 {
		t.Fatalf("response header %+v", h)
	}
	st, err := token.OpenServerToken(ext, &f.serverKP.PublicKey, &f.controllerKP.PrivateKey)
	if err != nil {
		t.Fatalf("server token does not open for the controller: %v", err)
	}
	if st.FlowID != 42 || st.FlowVersion != 1 {
		t.Fatalf("server token %+v", st)
	}
}

func TestRouteRequestExactRetransmissionIsDropped(t *testing.T) {
	f := newFixture(t)
	from := mustAddr(t, "10.0.0.5:30000")
	k := randomKey(t)
	packet := f.routeRequestPacket(t, 42, 1, 1, k)

	f.srv.HandlePacket(packet, from)
	f.srv.HandlePacket(packet, from)

	if got := f.srv.SessionCount(); got != 1 {
		t.Fatalf("SessionCount = %d, want 1", got)
	}
	// Same bytes → same sequence → replay window eats the second one.
	if got := len(f.sender.packetsOfType(wire.TypeRouteResponse)); got != 1 {
		t.Fatalf("route responses = %d, want 1", got)
	}

	// A retransmission with a fresh sequence is answered again.
	f.srv.HandlePacket(f.routeRequestPacket(t, 42, 1, 2, k), from)
	if got := len(f.sender.packetsOfType(wire.TypeRouteResponse)); got != 2 {
		t.Fatalf("route responses after fresh retransmit = %d, want 2", got)
	}
	if got := f.srv.SessionCount(); got != 1 {
		t.Fatalf("SessionCount = %d, want 1", got)
	}
}

func TestClientToServerDeliversOnceAndDropsReplay(t *testing.T) {
	f := newFixture(t)
	from := mustAddr(t, "10.0.0.5:30000")
	k := randomKey(t)
	f.srv.HandlePacket(f.routeRequestPacket(t, 42, 1, 1, k), from)

	packet := clientToServerPacket(t, 42, 1, 42, k, []byte{0xAB})
	f.srv.HandlePacket(packet, from)
	f.srv.HandlePacket(packet, from)

	if got := len(*f.deliveries); got != 1 {
		t.Fatalf("deliveries = %d, want exactly 1 (replay must be dropped)", got)
	}
	d := (*f.deliveries)[0]
	if d.flowID != 42 || len(d.payload) != 1 || d.payload[0] != 0xAB {
		t.Fatalf("delivery %+v", d)
	}
	if _, _, err := address.SessionFromAddress(d.addr); err != nil {
		t.Fatalf("delivery address %v is not a synthetic session address", d.addr)
	}
}

func TestVersionUpgradeKeepsBothRoutesLive(t *testing.T) {
	f := newFixture(t)
	from := mustAddr(t, "10.0.0.5:30000")
	k1 := randomKey(t)
	k2 := randomKey(t)

	f.srv.HandlePacket(f.routeRequestPacket(t, 42, 1, 1, k1), from)
	f.srv.HandlePacket(f.routeRequestPacket(t, 42, 2, 1, k2), from)

	if got := f.srv.SessionCount(); got != 1 {
		t.Fatalf("SessionCount = %d, want 1", got)
	}

	f.srv.HandlePacket(clientToServerPacket(t, 42, 1, 10, k1, []byte{1}), from)
	f.srv.HandlePacket(clientToServerPacket(t, 42, 2, 10, k2, []byte{2}), from)
	if got := len(*f.deliveries); got != 2 {
		t.Fatalf("deliveries = %d, want 2 (both flow versions live during migration)", got)
	}

	// MIGRATE validates against the previous route only.
	mh := wire.Header{Type: wire.TypeMigrate, Sequence: 11, FlowID: 42, FlowVersion: 1}
	migrate, err := wire.Encode(mh, &k1)
	if err != nil {
		t.Fatal(err)
	}
	f.srv.HandlePacket(migrate, from)
	responses := f.sender.packetsOfType(wire.TypeMigrateResponse)
	if len(responses) != 1 {
		t.Fatalf("migrate responses = %d, want 1", len(responses))
	}
	if _, err := wire.Decode(responses[0].data, wire.TypeMigrateResponse, &k1); err != nil {
		t.Fatalf("migrate response must verify under the previous route's key: %v", err)
	}
}

func TestSessionTimeoutFreesSlot(t *testing.T) {
	f := newFixture(t)
	from := mustAddr(t, "10.0.0.5:30000")
	k := randomKey(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.srv.nowFn = func() time.Time { return now }

	f.srv.HandlePacket(f.routeRequestPacket(t, 42, 1, 1, k), from)
	if got := f.srv.SessionCount(); got != 1 {
		t.Fatalf("SessionCount = %d, want 1", got)
	}

	now = now.Add(DefaultSessionTimeout + time.Second)
	f.srv.SweepTimeouts()
	if got := f.srv.SessionCount(); got != 0 {
		t.Fatalf("SessionCount after timeout = %d, want 0", got)
	}

	// The same (flow_id, flow_version) no longer has a session.
	f.srv.HandlePacket(clientToServerPacket(t, 42, 1, 5, k, []byte{1}), from)
	if got := len(*f.deliveries); got != 0 {
		t.Fatalf("deliveries after timeout = %d, want 0", got)
	}
}

func TestBackupFlowDeliveryAndReply(t *testing.T) {
	f := newFixture(t)
	relay := mustAddr(t, "10.0.0.5:30000")
	clientDirect := mustAddr(t, "203.0.113.7:50000")
	k := randomKey(t)
	f.srv.HandlePacket(f.routeRequestPacket(t, 42, 1, 1, k), relay)

	backup, err := wire.EncodeBackup(42, []byte{0xCC})
	if err != nil {
		t.Fatal(err)
	}
	f.srv.HandlePacket(backup, clientDirect)

	if got := len(*f.deliveries); got != 1 {
		t.Fatalf("deliveries = %d, want 1", got)
	}

	if err := f.srv.SendToSession(42, []byte{0xDD}); err != nil {
		t.Fatalf("SendToSession: %v", err)
	}
	replies := f.sender.packetsOfType(wire.TypeBackup)
	if len(replies) != 1 {
		t.Fatalf("backup replies = %d, want 1", len(replies))
	}
	if !address.Equal(replies[0].dest, clientDirect) {
		t.Fatalf("backup reply sent to %v, want the backup sender %v", replies[0].dest, clientDirect)
	}
	flowID, payload, err := wire.DecodeBackup(replies[0].data)
	if err != nil || flowID != 42 || len(payload) != 1 || payload[0] != 0xDD {
		t.Fatalf("backup reply = %x (err %v)", replies[0].data, err)
	}
}

func TestSendToSessionUsesPrevHopAddr(t *testing.T) {
	f := newFixture(t)
	relayA := mustAddr(t, "10.0.0.5:30000")
	relayB := mustAddr(t, "10.0.0.6:30000")
	k := randomKey(t)
	f.srv.HandlePacket(f.routeRequestPacket(t, 42, 1, 1, k), relayA)

	// A later valid packet from a different relay moves the reply path.
	f.srv.HandlePacket(clientToServerPacket(t, 42, 1, 2, k, []byte{1}), relayB)

	if err := f.srv.SendToSession(42, []byte{0xEE}); err != nil {
		t.Fatalf("SendToSession: %v", err)
	}
	replies := f.sender.packetsOfType(wire.TypeServerToClient)
	if len(replies) != 1 {
		t.Fatalf("server-to-client packets = %d, want 1", len(replies))
	}
	if !address.Equal(replies[0].dest, relayB) {
		t.Fatalf("reply sent to %v, want the last forwarding relay %v", replies[0].dest, relayB)
	}
	h, payload, err := wire.DecodeRouted(replies[0].data, wire.TypeServerToClient, &k)
	if err != nil {
		t.Fatalf("reply does not verify: %v", err)
	}
	if h.FlowID != 42 || len(payload) != 1 || payload[0] != 0xEE {
		t.Fatalf("reply header %+v payload %x", h, payload)
	}
}

func TestSendToAddressRoutesSyntheticAndDirect(t *testing.T) {
	f := newFixture(t)
	relay := mustAddr(t, "10.0.0.5:30000")
	k := randomKey(t)
	f.srv.HandlePacket(f.routeRequestPacket(t, 42, 1, 1, k), relay)
	f.srv.HandlePacket(clientToServerPacket(t, 42, 1, 2, k, []byte{1}), relay)

	d := (*f.deliveries)[0]
	if err := f.srv.SendToAddress(d.addr, []byte{0x11}); err != nil {
		t.Fatalf("SendToAddress(synthetic): %v", err)
	}
	if got := len(f.sender.packetsOfType(wire.TypeServerToClient)); got != 1 {
		t.Fatalf("server-to-client packets = %d, want 1", got)
	}

	// A literal peer address goes out DIRECT-wrapped.
	peer := mustAddr(t, "198.51.100.3:7777")
	if err := f.srv.SendToAddress(peer, []byte{0x22}); err != nil {
		t.Fatalf("SendToAddress(direct): %v", err)
	}
	directs := f.sender.packetsOfType(wire.TypeDirect)
	if len(directs) != 1 {
		t.Fatalf("direct packets = %d, want 1", len(directs))
	}
	if !address.Equal(directs[0].dest, peer) {
		t.Fatalf("direct packet sent to %v, want %v", directs[0].dest, peer)
	}
	if string(directs[0].data) != string([]byte{0x00, 0x22}) {
		t.Fatalf("direct packet = %x", directs[0].data)
	}
}

func TestSendToSessionDirectFlowID(t *testing.T) {
	f := newFixture(t)
	peer := mustAddr(t, "198.51.100.3:7777")
	flowID, err := address.FlowIDFromAddress(peer)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.srv.SendToSession(flowID, []byte{0x33}); err != nil {
		t.Fatalf("SendToSession(direct flow id): %v", err)
	}
	directs := f.sender.packetsOfType(wire.TypeDirect)
	if len(directs) != 1 || !address.Equal(directs[0].dest, peer) {
		t.Fatalf("direct packets = %+v", directs)
	}
}

func TestDestroyRequiresCurrentKey(t *testing.T) {
	f := newFixture(t)
	from := mustAddr(t, "10.0.0.5:30000")
	k := randomKey(t)
	wrong := randomKey(t)
	f.srv.HandlePacket(f.routeRequestPacket(t, 42, 1, 1, k), from)

	bad, err := wire.Encode(wire.Header{Type: wire.TypeDestroy, Sequence: 2, FlowID: 42, FlowVersion: 1}, &wrong)
	if err != nil {
		t.Fatal(err)
	}
	f.srv.HandlePacket(bad, from)
	if got := f.srv.SessionCount(); got != 1 {
		t.Fatalf("SessionCount after bad destroy = %d, want 1", got)
	}

	good, err := wire.Encode(wire.Header{Type: wire.TypeDestroy, Sequence: 3, FlowID: 42, FlowVersion: 1}, &k)
	if err != nil {
		t.Fatal(err)
	}
	f.srv.HandlePacket(good, from)
	if got := f.srv.SessionCount(); got != 0 {
		t.Fatalf("SessionCount after destroy = %d, want 0", got)
	}
}

func TestNextServerPingEchoesBody(t *testing.T) {
	f := newFixture(t)
	from := mustAddr(t, "10.0.0.5:30000")
	k := randomKey(t)
	f.srv.HandlePacket(f.routeRequestPacket(t, 42, 1, 1, k), from)

	var body [16]byte
	binary.LittleEndian.PutUint64(body[0:8], 42)
	binary.LittleEndian.PutUint64(body[8:16], 777)
	ping, err := wire.EncodeRouted(wire.Header{Type: wire.TypeNextServerPing, Sequence: 2, FlowID: 42, FlowVersion: 1}, &k, body[:])
	if err != nil {
		t.Fatal(err)
	}
	f.srv.HandlePacket(ping, from)

	pongs := f.sender.packetsOfType(wire.TypeNextServerPong)
	if len(pongs) != 1 {
		t.Fatalf("pongs = %d, want 1", len(pongs))
	}
	_, ext, err := wire.DecodeRouted(pongs[0].data, wire.TypeNextServerPong, &k)
	if err != nil {
		t.Fatalf("pong does not verify: %v", err)
	}
	if len(ext) != 16 || binary.LittleEndian.Uint64(ext[8:16]) != 777 {
		t.Fatalf("pong body = %x, want the ping body echoed", ext)
	}
}

func TestDirectServerPingAnsweredWithoutSession(t *testing.T) {
	f := newFixture(t)
	from := mustAddr(t, "203.0.113.7:50000")
	ping := wire.EncodePingPong(wire.PingPong{Type: wire.TypeDirectServerPing, FlowID: 0, Sequence: 9})
	f.srv.HandlePacket(ping, from)

	pongs := f.sender.packetsOfType(wire.TypeDirectServerPong)
	if len(pongs) != 1 {
		t.Fatalf("pongs = %d, want 1", len(pongs))
	}
	p, err := wire.DecodePingPong(pongs[0].data, wire.TypeDirectServerPong)
	if err != nil || p.Sequence != 9 {
		t.Fatalf("pong = %+v (err %v)", p, err)
	}
}

func TestVersionGreaterWrapsModulo256(t *testing.T) {
	cases := []struct {
		a, b uint8
		want bool
	}{
		{2, 1, true},
		{1, 1, false},
		{1, 2, false},
		{128, 0, false},  // exactly half the ring is not "greater"
		{127, 0, true},   // just inside the window
		{1, 200, true},   // wrapped past 255
		{200, 1, false},  // the inverse of a wrap is older
		{0, 255, true},   // adjacent across the wrap point
		{255, 0, false},
	}
	for _, tc := range cases {
		if got := versionGreater(tc.a, tc.b); got != tc.want {
			t.Errorf("versionGreater(%d, %d) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSessionTableFullRefusesNewFlows(t *testing.T) {
	controllerKP, _ := token.GenerateKeyPair()
	serverKP, _ := token.GenerateKeyPair()
	sender := &fakeSender{}
	srv := New(Config{
		MaxSessions:         1,
		PublicKey:           serverKP.PublicKey,
		PrivateKey:          serverKP.PrivateKey,
		ControllerPublicKey: controllerKP.PublicKey,
	}, sender, nil)
	f := &fixture{srv: srv, sender: sender, controllerKP: controllerKP, serverKP: serverKP}
	from := mustAddr(t, "10.0.0.5:30000")

	f.srv.HandlePacket(f.routeRequestPacket(t, 1, 1, 1, randomKey(t)), from)
	f.srv.HandlePacket(f.routeRequestPacket(t, 2, 1, 1, randomKey(t)), from)

	if got := f.srv.SessionCount(); got != 1 {
		t.Fatalf("SessionCount = %d, want 1 (table full)", got)
	}
}
