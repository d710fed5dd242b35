// Package address provides the wire-format representation of a peer
// address used throughout the data plane: a tagged union of {none, IPv4,
// IPv6}, serialized as a fixed 19-byte record.
package address

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Wire-format tag values.
const (
	TypeNone uint8 = 0
	TypeIPv4 uint8 = 1
	TypeIPv6 uint8 = 2
)

// Size is the fixed serialized length of an Address: 1 tag byte + 18
// bytes of payload (padded).
const Size = 19

var (
	// ErrBufferTooShort is returned by ReadFrom when fewer than Size bytes
	// are available.
	ErrBufferTooShort = errors.New("address: buffer too short")
	// ErrUnknownType is returned by ReadFrom when the tag byte is not one
	// of TypeNone, TypeIPv4 or TypeIPv6.
	ErrUnknownType = errors.New("address: unknown type tag")
)

// Address is a tagged union of {none, IPv4, IPv6}, each carrying a port.
type Address struct {
	Type uint8
	IP   net.IP // 4 bytes for TypeIPv4, 16 bytes for TypeIPv6, nil for TypeNone
	Port uint16
}

// None returns the zero-value "no address" record.
func None() Address {
	return Address{Type: TypeNone}
}

// FromUDPAddr builds an Address from a *net.UDPAddr, classifying it as
// IPv4 or IPv6 from the byte length of the IP.
func FromUDPAddr(a *net.UDPAddr) (Address, error) {
	if a == nil {
		return None(), nil
	}
	if ip4 := a.IP.To4(); ip4 != nil {
		return Address{Type: TypeIPv4, IP: ip4, Port: uint16(a.Port)}, nil
	}
	if ip16 := a.IP.To16(); ip16 != nil {
		return Address{Type: TypeIPv6, IP: ip16, Port: uint16(a.Port)}, nil
	}
	return Address{}, fmt.Errorf("address: could not classify %v", a)
}

// UDPAddr converts the Address back to a *net.UDPAddr. Returns nil for
// TypeNone.
func (a Address) UDPAddr() *net.UDPAddr {
	if a.Type == TypeNone {
		return nil
	}
	return &net.UDPAddr{IP: a.IP, Port: int(a.Port)}
}

// IsNone reports whether the address is the "none" tag.
func (a Address) IsNone() bool {
	return a.Type == TypeNone
}

// String renders the address in host:port form, or "none".
func (a Address) String() string {
	if a.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%s:%d", a.IP.String(), a.Port)
}

// Equal reports whether two addresses denote the same tag, IP and port.
func Equal(a, b Address) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == TypeNone {
		return true
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// WriteTo encodes the address into a fixed Size-byte record:
//
//	byte 0:      tag (TypeNone/TypeIPv4/TypeIPv6)
//	bytes 1-16:  address bytes (4 used for IPv4, 16 for IPv6, zero otherwise)
//	bytes 17-18: port, little-endian
func (a Address) WriteTo(buf []byte) error {
	if len(buf) < Size {
		return ErrBufferTooShort
	}
	for i := range buf[:Size] {
		buf[i] = 0
	}
	buf[0] = a.Type
	switch a.Type {
	case TypeNone:
		// no payload
	case TypeIPv4:
		ip4 := a.IP.To4()
		if ip4 == nil {
			return fmt.Errorf("address: IPv4 tag with non-IPv4 IP %v", a.IP)
		}
		copy(buf[1:5], ip4)
		binary.LittleEndian.PutUint16(buf[17:19], a.Port)
	case TypeIPv6:
		ip16 := a.IP.To16()
		if ip16 == nil {
			return fmt.Errorf("address: IPv6 tag with non-IPv6 IP %v", a.IP)
		}
		copy(buf[1:17], ip16)
		binary.LittleEndian.PutUint16(buf[17:19], a.Port)
	default:
		return ErrUnknownType
	}
	return nil
}

// Bytes is a convenience wrapper around WriteTo that allocates its own buffer.
func (a Address) Bytes() [Size]byte {
	var buf [Size]byte
	// WriteTo on a well-formed Address never errors; ignore defensively
	// only to satisfy the linter, callers that need error reporting should
	// use WriteTo directly.
	_ = a.WriteTo(buf[:])
	return buf
}

// ReadFrom decodes an Address from its fixed Size-byte wire record.
func ReadFrom(buf []byte) (Address, error) {
	if len(buf) < Size {
		return Address{}, ErrBufferTooShort
	}
	tag := buf[0]
	switch tag {
	case TypeNone:
		return None(), nil
	case TypeIPv4:
		ip := make(net.IP, 4)
		copy(ip, buf[1:5])
		port := binary.LittleEndian.Uint16(buf[17:19])
		return Address{Type: TypeIPv4, IP: ip, Port: port}, nil
	case TypeIPv6:
		ip := make(net.IP, 16)
		copy(ip, buf[1:17])
		port := binary.LittleEndian.Uint16(buf[17:19])
		return Address{Type: TypeIPv6, IP: ip, Port: port}, nil
	default:
		return Address{}, ErrUnknownType
	}
}
