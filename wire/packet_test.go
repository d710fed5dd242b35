package wire

import "testing"

func TestEncodeDecodeDirect(t *testing.T) {
	packet, err := EncodeDirect([]byte{0xAA, 0xBB})
	if err != nil {
		t.Fatalf("EncodeDirect: %v", err)
	}
	want := []byte{TypeDirect, 0xAA, 0xBB}
	if len(packet) != len(want) || packet[0] != want[0] || packet[1] != want[1] || packet[2] != want[2] {
		t.Fatalf("packet = %v, want %v", packet, want)
	}

	payload, err := DecodeDirect(packet)
	if err != nil {
		t.Fatalf("DecodeDirect: %v", err)
	}
	if len(payload) != 2 || payload[0] != 0xAA || payload[1] != 0xBB {
		t.Fatalf("payload = %v", payload)
	}
}

func TestEncodeDirectRejectsOversizePayload(t *testing.T) {
	if _, err := EncodeDirect(make([]byte, MaxPayloadSize+1)); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := EncodeDirect(make([]byte, MaxPayloadSize)); err != nil {
		t.Fatalf("expected MaxPayloadSize to be accepted, got %v", err)
	}
}

func TestEncodeDecodeBackup(t *testing.T) {
	packet, err := EncodeBackup(0x1122334455, []byte{0xFF})
	if err != nil {
		t.Fatalf("EncodeBackup: %v", err)
	}
	if packet[0] != TypeBackup {
		t.Fatalf("type = %d, want %d", packet[0], TypeBackup)
	}
	flowID, payload, err := DecodeBackup(packet)
	if err != nil {
		t.Fatalf("DecodeBackup: %v", err)
	}
	if flowID != 0x1122334455 {
		t.Fatalf("flowID = %x", flowID)
	}
	if len(payload) != 1 || payload[0] != 0xFF {
		t.Fatalf("payload = %v", payload)
	}
}

func TestEncodeDecodePingPong(t *testing.T) {
	p := PingPong{Type: TypeClientRelayPing, FlowID: 7, Sequence: 99}
	packet := EncodePingPong(p)
	if len(packet) != PingPongSize {
		t.Fatalf("len = %d, want %d", len(packet), PingPongSize)
	}
	got, err := DecodePingPong(packet, TypeClientRelayPing)
	if err != nil {
		t.Fatalf("DecodePingPong: %v", err)
	}
	if got != p {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestDecodePingPongWrongType(t *testing.T) {
	packet := EncodePingPong(PingPong{Type: TypeClientRelayPing, FlowID: 1, Sequence: 1})
	if _, err := DecodePingPong(packet, TypeClientRelayPong); err != ErrPacketTooShort {
		t.Fatalf("expected type mismatch error, got %v", err)
	}
}

func TestPeekType(t *testing.T) {
	typ, err := PeekType([]byte{TypeMigrate, 1, 2, 3})
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	if typ != TypeMigrate {
		t.Fatalf("typ = %d, want %d", typ, TypeMigrate)
	}
	if _, err := PeekType(nil); err != ErrPacketTooShort {
		t.Fatalf("expected ErrPacketTooShort for empty packet")
	}
}
