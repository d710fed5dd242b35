package wire

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// HeaderSize is the fixed size of the authenticated header shared by every
// routed packet type: type(1) + sequence(8) + flow_id(8) + flow_version(1)
// + flow_flags(1) + mac(16).
const HeaderSize = 1 + 8 + 8 + 1 + 1 + chacha20poly1305.Overhead

// KeySize is the ChaCha20-Poly1305-IETF key size used to authenticate
// routed headers; it is the same 32-byte key carried as FlowToken.PrivateKey.
const KeySize = chacha20poly1305.KeySize

var (
	ErrBadMAC         = errors.New("wire: header authentication failed")
	ErrHeaderTooShort = errors.New("wire: header shorter than HeaderSize")
)

// Header is the decoded form of a routed packet's authenticated header.
// Plaintext length is always zero: the AEAD tag authenticates the
// additional data (flow_id, flow_version, flow_flags) and, implicitly, the
// sequence value baked into the nonce — there is no ciphertext to carry.
type Header struct {
	Type        uint8
	Sequence    uint64 // high bit forced per direction before encoding; masked off on decode
	FlowID      uint64
	FlowVersion uint8
	FlowFlags   uint8
}

// nonce builds the 12-byte ChaCha20-Poly1305 nonce: u32(0) || sequence (LE).
func nonce(sequence uint64) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(n[4:12], sequence)
	return n
}

// additionalData builds the 10-byte AD: flow_id || flow_version || flow_flags.
func additionalData(flowID uint64, flowVersion, flowFlags uint8) [10]byte {
	var ad [10]byte
	binary.LittleEndian.PutUint64(ad[0:8], flowID)
	ad[8] = flowVersion
	ad[9] = flowFlags
	return ad
}

// forcedSequence applies the direction bit mandated for packetType to the
// low 63 bits of sequence, returning the value that belongs on the wire.
func forcedSequence(packetType uint8, sequence uint64) (uint64, error) {
	bit, ok := directionBit(packetType)
	if !ok {
		return 0, ErrWrongDirection
	}
	return (sequence &^ (1 << 63)) | bit, nil
}

// Encode seals a Header under key and returns the 35-byte wire form. The
// caller passes the logical sequence number; the high bit is forced to
// match packetType's mandated direction before sealing.
func Encode(h Header, key *[KeySize]byte) ([]byte, error) {
	seq, err := forcedSequence(h.Type, h.Sequence)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}

	n := nonce(seq)
	ad := additionalData(h.FlowID, h.FlowVersion, h.FlowFlags)
	tag := aead.Seal(nil, n[:], nil, ad[:])

	out := make([]byte, HeaderSize)
	out[0] = h.Type
	binary.LittleEndian.PutUint64(out[1:9], seq)
	binary.LittleEndian.PutUint64(out[9:17], h.FlowID)
	out[17] = h.FlowVersion
	out[18] = h.FlowFlags
	copy(out[19:35], tag)
	return out, nil
}

// Decode verifies and parses a 35-byte authenticated header under key.
// The packet is rejected before the MAC is even checked if its direction
// bit doesn't match what wantType mandates, which prevents a
// server-to-client packet, say, from being reflected back and accepted
// as a client-to-server one.
func Decode(packet []byte, wantType uint8, key *[KeySize]byte) (Header, error) {
	if len(packet) < HeaderSize {
		return Header{}, ErrHeaderTooShort
	}
	packetType := packet[0]
	if packetType != wantType {
		return Header{}, ErrWrongDirection
	}

	seq := binary.LittleEndian.Uint64(packet[1:9])
	wantBit, ok := directionBit(wantType)
	if !ok {
		return Header{}, ErrWrongDirection
	}
	if seq&(1<<63) != wantBit {
		return Header{}, ErrWrongDirection
	}

	flowID := binary.LittleEndian.Uint64(packet[9:17])
	flowVersion := packet[17]
	flowFlags := packet[18]
	tag := packet[19:35]

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return Header{}, err
	}
	n := nonce(seq)
	ad := additionalData(flowID, flowVersion, flowFlags)
	if _, err := aead.Open(nil, n[:], tag, ad[:]); err != nil {
		return Header{}, ErrBadMAC
	}

	return Header{
		Type:        packetType,
		Sequence:    seq &^ (1 << 63),
		FlowID:      flowID,
		FlowVersion: flowVersion,
		FlowFlags:   flowFlags,
	}, nil
}

// PeekFlowID reads the flow_id field directly out of a routed packet's
// header without verifying the MAC. flow_id rides in the clear as part of
// the additional data, so this is safe to use to select which route's key
// to verify the header against (the MAC itself is what actually
// authenticates the value once the right key is tried) — it must never be
// used as a substitute for verification.
func PeekFlowID(packet []byte) (uint64, bool) {
	if len(packet) < HeaderSize {
		return 0, false
	}
	return binary.LittleEndian.Uint64(packet[9:17]), true
}

// PeekHeaderDirection reports whether the packet's sequence high bit
// matches the direction wantType mandates, without verifying the MAC.
// Used to reject obviously-reflected packets cheaply before spending a
// ChaCha20-Poly1305 verification on them.
func PeekHeaderDirection(packet []byte, wantType uint8) bool {
	if len(packet) < HeaderSize {
		return false
	}
	wantBit, ok := directionBit(wantType)
	if !ok {
		return false
	}
	seq := binary.LittleEndian.Uint64(packet[1:9])
	return packet[0] == wantType && seq&(1<<63) == wantBit
}
