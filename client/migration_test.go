package client

import (
	"testing"
	"time"

	"github.com/networknext/next-go/address"
	"github.com/networknext/next-go/routecontrol"
	"github.com/networknext/next-go/server"
	"github.com/networknext/next-go/token"
	"github.com/networknext/next-go/wire"
)

// serverSender bridges the in-memory server's outbound packets straight
// into the client's receive queue, counting them by type on the way.
type serverSender struct {
	deliver func(data []byte, from address.Address)
	from    address.Address
	byType  map[uint8]int
}

func (s *serverSender) SendTo(_ address.Address, payload []byte) error {
	data := append([]byte(nil), payload...)
	if len(data) > 0 {
		s.byType[data[0]]++
	}
	s.deliver(data, s.from)
	return nil
}

// TestMigrationPreservesDelivery runs a real client against a real server
// over an in-memory wire: install route A, send 100 payloads, install
// route B with a new flow version, immediately send 100 more. All 200
// arrive in order and the server acknowledges exactly one migrate.
func TestMigrationPreservesDelivery(t *testing.T) {
	controllerKP, err := token.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	clientKP, err := token.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	serverKP, err := token.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	serverAddr := mustAddr(t, "10.0.0.9:40000")
	clientAddr := mustAddr(t, "192.168.1.10:50000")

	var received [][]byte
	sender := &serverSender{from: serverAddr, byType: make(map[uint8]int)}
	srv := server.New(server.Config{
		PublicKey:           serverKP.PublicKey,
		PrivateKey:          serverKP.PrivateKey,
		ControllerPublicKey: controllerKP.PublicKey,
	}, sender, func(_ address.Address, _ uint64, payload []byte) {
		received = append(received, payload)
	})

	tr := &fakeTransport{local: clientAddr}
	c := New(Config{
		ClientPrivateKey:    clientKP.PrivateKey,
		ClientPublicKey:     clientKP.PublicKey,
		ControllerPublicKey: controllerKP.PublicKey,
	}, tr, nil, nil)
	sender.deliver = func(data []byte, from address.Address) {
		c.enqueuePacket(data, from, time.Now())
	}
	tr.onSend = func(dest address.Address, data []byte) {
		if address.Equal(dest, serverAddr) {
			srv.HandlePacket(data, clientAddr)
		}
	}
	c.setState(StateReady)
	c.serverAddr = serverAddr

	install := func(version uint8, key [32]byte, initial bool) {
		clientTok := token.FlowToken{
			ExpireTimestamp: uint64(time.Now().Add(time.Hour).Unix()),
			FlowID:          77,
			FlowVersion:     version,
			NextAddress:     serverAddr,
			PrivateKey:      key,
		}
		serverTok := clientTok // same flow key for every hop of a version
		data := routecontrol.RouteData{Tokens: [][]byte{
			sealedFlowToken(t, clientTok, controllerKP, clientKP.PublicKey),
			sealedFlowToken(t, serverTok, controllerKP, serverKP.PublicKey),
		}}
		c.installRouteData(data, initial)
	}

	kA := randomKey(t)
	install(1, kA, true)
	// The route request reached the server synchronously; its response is
	// queued. One update drains it.
	c.Update()
	if c.State() != StateEstablished {
		t.Fatalf("state = %s, want established after route A", c.State())
	}

	for i := 0; i < 100; i++ {
		if err := c.SendPacket([]byte{byte(i)}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	kB := randomKey(t)
	install(2, kB, false)
	// Route B's install is in flight: these ride the previous route's keys,
	// which the server must still accept.
	for i := 100; i < 200; i++ {
		if err := c.SendPacket([]byte{byte(i)}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if c.sendRoute() != c.routePrevious {
		t.Fatal("sends during the install must use the previous route")
	}

	// Drain the ROUTE_RESPONSE for B, emit the migrate, absorb its ack.
	c.Update()
	c.Update()

	if got := len(received); got != 200 {
		t.Fatalf("server received %d payloads, want 200", got)
	}
	for i, payload := range received {
		if len(payload) != 1 || payload[0] != byte(i) {
			t.Fatalf("payload %d = %x, want %02x (order broken)", i, payload, byte(i))
		}
	}
	if got := sender.byType[wire.TypeMigrateResponse]; got != 1 {
		t.Fatalf("migrate responses = %d, want exactly 1", got)
	}
	if c.migrateRemaining != 0 {
		t.Fatalf("migrateRemaining = %d, want 0 after the ack", c.migrateRemaining)
	}
	if c.sending != sendingNone {
		t.Fatal("route install must be acknowledged")
	}

	// Post-migration sends ride the new route.
	countBefore := len(received)
	if err := c.SendPacket([]byte{0xFE}); err != nil {
		t.Fatal(err)
	}
	if len(received) != countBefore+1 {
		t.Fatal("post-migration payload not delivered")
	}
	if c.sendRoute() != c.routeCurrent || c.routeCurrent.FlowToken.PrivateKey != kB {
		t.Fatal("post-migration sends must use route B")
	}
}
