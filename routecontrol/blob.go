package routecontrol

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/networknext/next-go/address"
)

// ClientInfoVersion is the wire version of the client-info blob.
const ClientInfoVersion uint32 = 2

// NoStatValue is the sentinel used for "no data" float stats, matching
// pingstats.NoData.
const NoStatValue = -1.0

var (
	ErrBufferTooShort = errors.New("routecontrol: client info buffer too short")
	ErrTooManyRelays  = errors.New("routecontrol: relay_count exceeds MaxNearRelays")
)

// MaxNearRelays bounds how many near relays are tracked and reported.
const MaxNearRelays = 10

// RelayStat is one near relay's latest ping statistics, as reported to
// the controller.
type RelayStat struct {
	RelayID uint64
	RTT     float32
	Jitter  float32
	Loss    float32
}

// ClientInfo is the little-endian binary blob posted (base64-encoded by
// the JSON envelope) inside route requests and updates.
type ClientInfo struct {
	Version     uint32
	CurrentTime float64

	NextRTT, NextJitter, NextLoss       float32
	DirectRTT, DirectJitter, DirectLoss float32

	Relays []RelayStat

	ClientPublicIP address.Address

	// ClientPublicKey is present only when Initial is true (the first,
	// insecure session request); subsequent update requests omit it.
	ClientPublicKey [32]byte
	Initial         bool
}

// Marshal encodes the blob: fixed fields, relay_count and relay
// array, the 19-byte public IP, and — only for the initial request — the
// 32-byte client public key.
func (c ClientInfo) Marshal() ([]byte, error) {
	if len(c.Relays) > MaxNearRelays {
		return nil, ErrTooManyRelays
	}

	size := 4 + 8 + 4*6 + 4 + len(c.Relays)*(8+4+4+4) + address.Size
	if c.Initial {
		size += 32
	}
	buf := make([]byte, size)
	off := 0

	binary.LittleEndian.PutUint32(buf[off:], ClientInfoVersion)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(c.CurrentTime))
	off += 8

	putF32 := func(v float32) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	putF32(c.NextRTT)
	putF32(c.NextJitter)
	putF32(c.NextLoss)
	putF32(c.DirectRTT)
	putF32(c.DirectJitter)
	putF32(c.DirectLoss)

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(c.Relays)))
	off += 4
	for _, r := range c.Relays {
		binary.LittleEndian.PutUint64(buf[off:], r.RelayID)
		off += 8
		putF32(r.RTT)
		putF32(r.Jitter)
		putF32(r.Loss)
	}

	if err := c.ClientPublicIP.WriteTo(buf[off : off+address.Size]); err != nil {
		return nil, err
	}
	off += address.Size

	if c.Initial {
		copy(buf[off:off+32], c.ClientPublicKey[:])
		off += 32
	}

	return buf[:off], nil
}

// UnmarshalClientInfo decodes a ClientInfo blob. initial selects whether a
// trailing 32-byte public key is expected (the INITIAL request) or not
// (an UPDATE request) — the wire form is otherwise ambiguous about its own
// length once the relay array's variable length is involved.
func UnmarshalClientInfo(buf []byte, initial bool) (ClientInfo, error) {
	const fixedHeader = 4 + 8 + 4*6 + 4
	if len(buf) < fixedHeader {
		return ClientInfo{}, ErrBufferTooShort
	}

	var c ClientInfo
	c.Initial = initial
	off := 0
	c.Version = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	c.CurrentTime = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
	off += 8

	getF32 := func() float32 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		return v
	}
	c.NextRTT = getF32()
	c.NextJitter = getF32()
	c.NextLoss = getF32()
	c.DirectRTT = getF32()
	c.DirectJitter = getF32()
	c.DirectLoss = getF32()

	relayCount := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if relayCount > MaxNearRelays {
		return ClientInfo{}, ErrTooManyRelays
	}
	if len(buf) < off+int(relayCount)*16 {
		return ClientInfo{}, ErrBufferTooShort
	}
	c.Relays = make([]RelayStat, relayCount)
	for i := range c.Relays {
		c.Relays[i].RelayID = binary.LittleEndian.Uint64(buf[off:])
		off += 8
		c.Relays[i].RTT = getF32()
		c.Relays[i].Jitter = getF32()
		c.Relays[i].Loss = getF32()
	}

	if len(buf) < off+address.Size {
		return ClientInfo{}, ErrBufferTooShort
	}
	ip, err := address.ReadFrom(buf[off : off+address.Size])
	if err != nil {
		return ClientInfo{}, err
	}
	c.ClientPublicIP = ip
	off += address.Size

	if initial {
		if len(buf) < off+32 {
			return ClientInfo{}, ErrBufferTooShort
		}
		copy(c.ClientPublicKey[:], buf[off:off+32])
	}

	return c, nil
}
