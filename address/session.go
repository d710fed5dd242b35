package address

import (
	"encoding/binary"
	"errors"
	"net"
)

// SessionAddressOctets are the first three bytes of the IPv4 synthetic
// per-session address shape: 224.0.0.S (a multicast-range address that
// never collides with a real game-server address), where S is a per-slot
// sequence byte that increments on session-slot reuse and the port carries
// the session table index.
var SessionAddressOctets = [3]byte{224, 0, 0}

var ErrNotSessionAddress = errors.New("address: not a synthetic session address")

// SessionToAddress builds the synthetic address the server hands back to
// the game API in place of a session's real peer address: 224.0.0.S, port
// = index. index is the session slot (0-65535, carried in the port); seq
// is the per-slot reuse sequence byte.
func SessionToAddress(index uint16, seq uint8) Address {
	return Address{
		Type: TypeIPv4,
		IP:   net.IPv4(SessionAddressOctets[0], SessionAddressOctets[1], SessionAddressOctets[2], seq).To4(),
		Port: index,
	}
}

// SessionFromAddress recognizes the 224.0.0.S:index shape and recovers
// (index, seq). Any address outside 224.0.0.0/24 returns
// ErrNotSessionAddress; every IPv4 address inside it is taken as a session
// address, since a real overlay deployment never routes game traffic
// through 224.0.0.0/24.
func SessionFromAddress(a Address) (index uint16, seq uint8, err error) {
	if a.Type != TypeIPv4 {
		return 0, 0, ErrNotSessionAddress
	}
	ip4 := a.IP.To4()
	if ip4 == nil {
		return 0, 0, ErrNotSessionAddress
	}
	if ip4[0] != SessionAddressOctets[0] || ip4[1] != SessionAddressOctets[1] || ip4[2] != SessionAddressOctets[2] {
		return 0, 0, ErrNotSessionAddress
	}
	return a.Port, ip4[3], nil
}

// directFlowIDBit marks a flow_id as encoding a literal direct peer
// address rather than naming a relayed session.
const directFlowIDBit = uint64(1) << 63

// FlowIDFromAddress packs an IPv4 address and port into a 64-bit flow_id
// with the high bit set, letting direct-mode peers be addressed through
// the same send-by-flow-id API relayed sessions use.
func FlowIDFromAddress(a Address) (uint64, error) {
	if a.Type != TypeIPv4 {
		return 0, ErrNotSessionAddress
	}
	ip4 := a.IP.To4()
	if ip4 == nil {
		return 0, ErrNotSessionAddress
	}
	var low [8]byte
	copy(low[0:4], ip4)
	binary.LittleEndian.PutUint16(low[4:6], a.Port)
	return directFlowIDBit | binary.LittleEndian.Uint64(low[:]), nil
}

// IsDirectFlowID reports whether flowID was produced by FlowIDFromAddress.
func IsDirectFlowID(flowID uint64) bool {
	return flowID&directFlowIDBit != 0
}

// AddressFromFlowID unpacks a direct-peer flow_id back into its address.
// Only valid when IsDirectFlowID(flowID) is true.
func AddressFromFlowID(flowID uint64) (Address, error) {
	if !IsDirectFlowID(flowID) {
		return Address{}, ErrNotSessionAddress
	}
	var low [8]byte
	binary.LittleEndian.PutUint64(low[:], flowID&^directFlowIDBit)
	ip := make(net.IP, 4)
	copy(ip, low[0:4])
	port := binary.LittleEndian.Uint16(low[4:6])
	return Address{Type: TypeIPv4, IP: ip, Port: port}, nil
}
