// Package wire implements the UDP data-plane packet codec: the 1-byte
// packet type taxonomy, the direct/backup and ping/pong wire formats, and
// the 35-byte authenticated header shared by every routed packet type.
package wire

import (
	"encoding/binary"
	"errors"
)

// Packet types. Direct/backup carry game payload outside the AEAD header;
// ping/pong are small fixed-size unauthenticated probes; the rest are
// routed packets carrying the 35-byte authenticated Header.
const (
	TypeDirect = uint8(0)

	TypeRouteRequest     = uint8(1)
	TypeRouteResponse    = uint8(2)
	TypeClientToServer   = uint8(3)
	TypeServerToClient   = uint8(4)
	TypeClientRelayPing  = uint8(7)
	TypeClientRelayPong  = uint8(8)
	TypeDirectServerPing = uint8(9)
	TypeDirectServerPong = uint8(10)
	TypeNextServerPing   = uint8(11)
	TypeNextServerPong   = uint8(12)
	TypeContinueRequest  = uint8(13)
	TypeContinueResponse = uint8(14)
	TypeMigrate          = uint8(15)
	TypeMigrateResponse  = uint8(16)
	TypeDestroy          = uint8(17)

	TypeBackup = uint8(18)
)

// MaxPacketSize is the largest UDP datagram this protocol ever sends or
// accepts.
const MaxPacketSize = 1200

// MaxPayloadSize is the largest game payload the sender will wrap in a
// DIRECT or BACKUP packet, or carry as the plaintext extension of a routed
// CLIENT_TO_SERVER/SERVER_TO_CLIENT packet.
const MaxPayloadSize = 1100

// PingPongSize is the wire size of a ping/pong packet: type(1) + flow_id(8)
// + sequence(8).
const PingPongSize = 1 + 8 + 8

var (
	ErrPacketTooShort  = errors.New("wire: packet too short")
	ErrPayloadTooLarge = errors.New("wire: payload exceeds MaxPayloadSize")
	ErrWrongDirection  = errors.New("wire: direction bit does not match packet type")
)

// directionBit returns the sequence high bit mandated for a given routed
// (authenticated-header) packet type: set (server-to-client) or clear
// (client-to-server). Only types that carry the 35-byte AEAD Header are
// covered here — CLIENT_RELAY_PING/PONG and DIRECT_SERVER_PING/PONG use the
// plain unauthenticated PingPong format instead and have no MAC to protect,
// so direction enforcement buys them nothing and Decode never applies to
// them (see packet.go's DecodePingPong).
func directionBit(packetType uint8) (bit uint64, defined bool) {
	switch packetType {
	case TypeRouteResponse, TypeServerToClient, TypeContinueResponse,
		TypeMigrateResponse, TypeNextServerPong:
		return 1 << 63, true
	case TypeRouteRequest, TypeClientToServer, TypeContinueRequest,
		TypeMigrate, TypeDestroy, TypeNextServerPing:
		return 0, true
	default:
		return 0, false
	}
}

// EncodeDirect wraps a game payload as a DIRECT packet: 1 byte type +
// payload, sent straight to the peer's UDP address with no relay chain.
func EncodeDirect(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, 1+len(payload))
	out[0] = TypeDirect
	copy(out[1:], payload)
	return out, nil
}

// DecodeDirect strips the DIRECT type byte and returns the game payload.
func DecodeDirect(packet []byte) ([]byte, error) {
	if len(packet) < 1 || packet[0] != TypeDirect {
		return nil, ErrPacketTooShort
	}
	return packet[1:], nil
}

// EncodeBackup wraps a game payload as a BACKUP packet: 1 byte type + 8
// byte flow_id + payload, used once a session has fallen back to the
// direct path while otherwise established on the next path.
func EncodeBackup(flowID uint64, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, 1+8+len(payload))
	out[0] = TypeBackup
	binary.LittleEndian.PutUint64(out[1:9], flowID)
	copy(out[9:], payload)
	return out, nil
}

// DecodeBackup splits a BACKUP packet into its flow_id and game payload.
func DecodeBackup(packet []byte) (flowID uint64, payload []byte, err error) {
	if len(packet) < 9 || packet[0] != TypeBackup {
		return 0, nil, ErrPacketTooShort
	}
	flowID = binary.LittleEndian.Uint64(packet[1:9])
	return flowID, packet[9:], nil
}

// PingPong is the decoded form of any of the five ping/pong packet
// variants: client→relay ping, relay→client pong, client↔direct-server,
// client↔next-server. All five share the same [type, flow_id, sequence]
// layout; only NEXT_SERVER_PING/PONG additionally ride inside an
// authenticated Header (see header.go) — these plain ones are
// intentionally unauthenticated probes.
type PingPong struct {
	Type     uint8
	FlowID   uint64
	Sequence uint64
}

// EncodePingPong serializes a ping/pong packet. The caller is responsible
// for choosing the correct type for the direction of travel.
func EncodePingPong(p PingPong) []byte {
	out := make([]byte, PingPongSize)
	out[0] = p.Type
	binary.LittleEndian.PutUint64(out[1:9], p.FlowID)
	binary.LittleEndian.PutUint64(out[9:17], p.Sequence)
	return out
}

// DecodePingPong parses a ping/pong packet of the given expected type.
func DecodePingPong(packet []byte, wantType uint8) (PingPong, error) {
	if len(packet) < PingPongSize || packet[0] != wantType {
		return PingPong{}, ErrPacketTooShort
	}
	return PingPong{
		Type:     packet[0],
		FlowID:   binary.LittleEndian.Uint64(packet[1:9]),
		Sequence: binary.LittleEndian.Uint64(packet[9:17]),
	}, nil
}

// PeekType returns the packet type byte without otherwise interpreting the
// packet. Every dispatch path starts here.
func PeekType(packet []byte) (uint8, error) {
	if len(packet) < 1 {
		return 0, ErrPacketTooShort
	}
	return packet[0], nil
}
