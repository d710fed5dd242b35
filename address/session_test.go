package address

import (
	"net"
	"testing"
)

func TestSessionAddressRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		index uint16
		seq   uint8
	}{
		{0, 0},
		{1, 1},
		{65535, 255},
		{4242, 17},
	} {
		a := SessionToAddress(tc.index, tc.seq)
		gotIndex, gotSeq, err := SessionFromAddress(a)
		if err != nil {
			t.Fatalf("SessionFromAddress(%v): %v", a, err)
		}
		if gotIndex != tc.index || gotSeq != tc.seq {
			t.Errorf("round trip (%d,%d) = (%d,%d)", tc.index, tc.seq, gotIndex, gotSeq)
		}
	}
}

func TestSessionFromAddressRejectsNonSynthetic(t *testing.T) {
	real := Address{Type: TypeIPv4, IP: net.IPv4(10, 0, 0, 1).To4(), Port: 5000}
	if _, _, err := SessionFromAddress(real); err != ErrNotSessionAddress {
		t.Fatalf("expected ErrNotSessionAddress, got %v", err)
	}
	if _, _, err := SessionFromAddress(None()); err != ErrNotSessionAddress {
		t.Fatalf("expected ErrNotSessionAddress for none, got %v", err)
	}
}

func TestFlowIDFromAddressRoundTrip(t *testing.T) {
	a := Address{Type: TypeIPv4, IP: net.IPv4(127, 0, 0, 1).To4(), Port: 40000}
	id, err := FlowIDFromAddress(a)
	if err != nil {
		t.Fatalf("FlowIDFromAddress: %v", err)
	}
	if !IsDirectFlowID(id) {
		t.Fatalf("expected direct flow id bit set")
	}
	got, err := AddressFromFlowID(id)
	if err != nil {
		t.Fatalf("AddressFromFlowID: %v", err)
	}
	if !Equal(a, got) {
		t.Errorf("round trip mismatch: %v != %v", a, got)
	}
}

func TestIsDirectFlowIDFalseForRegularFlow(t *testing.T) {
	if IsDirectFlowID(12345) {
		t.Errorf("expected false for ordinary flow id")
	}
}
