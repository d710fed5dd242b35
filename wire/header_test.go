package wire

import "testing"

func testKey(b byte) *[KeySize]byte {
	var k [KeySize]byte
	for i := range k {
		k[i] = b
	}
	return &k
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := testKey(1)
	h := Header{Type: TypeClientToServer, Sequence: 42, FlowID: 0xDEADBEEF, FlowVersion: 3, FlowFlags: 1}

	packet, err := Encode(h, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packet) != HeaderSize {
		t.Fatalf("len = %d, want %d", len(packet), HeaderSize)
	}

	got, err := Decode(packet, TypeClientToServer, key)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Sequence != h.Sequence || got.FlowID != h.FlowID || got.FlowVersion != h.FlowVersion || got.FlowFlags != h.FlowFlags {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestDecodeWrongKeyFails(t *testing.T) {
	packet, err := Encode(Header{Type: TypeClientToServer, Sequence: 1, FlowID: 1}, testKey(1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(packet, TypeClientToServer, testKey(2)); err == nil {
		t.Fatalf("expected decode to fail with wrong key")
	}
}

func TestDirectionBitForcedOnEncode(t *testing.T) {
	key := testKey(3)
	// Sequence given with high bit already set should still land correctly
	// for a client-to-server type (bit forced to 0).
	packet, err := Encode(Header{Type: TypeClientToServer, Sequence: 1 << 63, FlowID: 5}, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(packet, TypeClientToServer, key)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Sequence != 0 {
		t.Fatalf("Sequence = %d, want 0 (direction bit masked off)", got.Sequence)
	}
}

func TestDecodeRejectsMismatchedDirectionBeforeMAC(t *testing.T) {
	key := testKey(4)
	// Encode as a server-to-client type, then try to decode as client-to-server.
	packet, err := Encode(Header{Type: TypeServerToClient, Sequence: 10, FlowID: 1}, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(packet, TypeClientToServer, key); err != ErrWrongDirection {
		t.Fatalf("expected ErrWrongDirection, got %v", err)
	}
}

func TestPeekHeaderDirection(t *testing.T) {
	key := testKey(5)
	packet, _ := Encode(Header{Type: TypeClientToServer, Sequence: 1, FlowID: 1}, key)
	if !PeekHeaderDirection(packet, TypeClientToServer) {
		t.Fatalf("expected direction to match")
	}
	if PeekHeaderDirection(packet, TypeServerToClient) {
		t.Fatalf("expected direction mismatch to be caught")
	}
}

func TestAllZeroMACNeverVerifies(t *testing.T) {
	key := testKey(6)
	packet := make([]byte, HeaderSize)
	packet[0] = TypeClientToServer
	if _, err := Decode(packet, TypeClientToServer, key); err == nil {
		t.Fatalf("all-zero MAC should never verify")
	}
}

func TestEncodeRoutedWithExtension(t *testing.T) {
	key := testKey(7)
	h := Header{Type: TypeClientToServer, Sequence: 1, FlowID: 9}
	ext := []byte{0xAA, 0xBB, 0xCC}

	packet, err := EncodeRouted(h, key, ext)
	if err != nil {
		t.Fatalf("EncodeRouted: %v", err)
	}
	gotHeader, gotExt, err := DecodeRouted(packet, TypeClientToServer, key)
	if err != nil {
		t.Fatalf("DecodeRouted: %v", err)
	}
	if gotHeader.FlowID != 9 {
		t.Fatalf("FlowID = %d, want 9", gotHeader.FlowID)
	}
	if len(gotExt) != len(ext) || gotExt[0] != ext[0] || gotExt[1] != ext[1] || gotExt[2] != ext[2] {
		t.Fatalf("extension mismatch: got %v, want %v", gotExt, ext)
	}
}
