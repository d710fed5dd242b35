package token

import (
	"encoding/binary"

	"github.com/networknext/next-go/address"
)

// Flow flag bits carried in FlowToken.FlowFlags.
const (
	FlowFlagCreate uint8 = 1 << 0
	FlowFlagForced uint8 = 1 << 1
)

// FlowTokenBytes is the plaintext size of a FlowToken: expire_ts(8) +
// flow_id(8) + flow_version(1) + flow_flags(1) + kbps_up(4) + kbps_down(4)
// + next_address(19) + private_key(32).
const FlowTokenBytes = 8 + 8 + 1 + 1 + 4 + 4 + address.Size + PrivateKeySize

// ContinueTokenBytes / ServerTokenBytes are the plaintext sizes of the
// lighter tokens: expire_ts(8) + flow_id(8) + flow_version(1) + flow_flags(1).
const (
	ContinueTokenBytes = 8 + 8 + 1 + 1
	ServerTokenBytes   = 8 + 8 + 1 + 1
)

// SealedFlowTokenBytes / SealedContinueTokenBytes / SealedServerTokenBytes
// are the on-the-wire sizes of the sealed forms: nonce || ciphertext || mac.
const (
	SealedFlowTokenBytes     = NonceSize + FlowTokenBytes + MACSize
	SealedContinueTokenBytes = NonceSize + ContinueTokenBytes + MACSize
	SealedServerTokenBytes   = NonceSize + ServerTokenBytes + MACSize
)

// FlowToken describes one hop of a route from the holder's perspective:
// where to forward to next, and the symmetric key used to authenticate the
// header of packets sent along that hop.
type FlowToken struct {
	ExpireTimestamp uint64
	FlowID          uint64
	FlowVersion     uint8
	FlowFlags       uint8
	KbpsUp          uint32
	KbpsDown        uint32
	NextAddress     address.Address
	PrivateKey      [32]byte // symmetric header key for this hop
}

// Marshal encodes the FlowToken to its fixed-size plaintext wire form.
func (t FlowToken) Marshal() ([]byte, error) {
	buf := make([]byte, FlowTokenBytes)
	binary.LittleEndian.PutUint64(buf[0:8], t.ExpireTimestamp)
	binary.LittleEndian.PutUint64(buf[8:16], t.FlowID)
	buf[16] = t.FlowVersion
	buf[17] = t.FlowFlags
	binary.LittleEndian.PutUint32(buf[18:22], t.KbpsUp)
	binary.LittleEndian.PutUint32(buf[22:26], t.KbpsDown)
	if err := t.NextAddress.WriteTo(buf[26 : 26+address.Size]); err != nil {
		return nil, err
	}
	copy(buf[26+address.Size:], t.PrivateKey[:])
	return buf, nil
}

// UnmarshalFlowToken decodes a FlowToken from its fixed-size plaintext wire form.
func UnmarshalFlowToken(buf []byte) (FlowToken, error) {
	if len(buf) < FlowTokenBytes {
		return FlowToken{}, ErrSealedTooShort
	}
	var t FlowToken
	t.ExpireTimestamp = binary.LittleEndian.Uint64(buf[0:8])
	t.FlowID = binary.LittleEndian.Uint64(buf[8:16])
	t.FlowVersion = buf[16]
	t.FlowFlags = buf[17]
	t.KbpsUp = binary.LittleEndian.Uint32(buf[18:22])
	t.KbpsDown = binary.LittleEndian.Uint32(buf[22:26])
	addr, err := address.ReadFrom(buf[26 : 26+address.Size])
	if err != nil {
		return FlowToken{}, err
	}
	t.NextAddress = addr
	copy(t.PrivateKey[:], buf[26+address.Size:FlowTokenBytes])
	return t, nil
}

// ContinueToken extends an existing route without rotating its key or
// next-hop address.
type ContinueToken struct {
	ExpireTimestamp uint64
	FlowID          uint64
	FlowVersion     uint8
	FlowFlags       uint8
}

func (t ContinueToken) Marshal() []byte {
	buf := make([]byte, ContinueTokenBytes)
	binary.LittleEndian.PutUint64(buf[0:8], t.ExpireTimestamp)
	binary.LittleEndian.PutUint64(buf[8:16], t.FlowID)
	buf[16] = t.FlowVersion
	buf[17] = t.FlowFlags
	return buf
}

func UnmarshalContinueToken(buf []byte) (ContinueToken, error) {
	if len(buf) < ContinueTokenBytes {
		return ContinueToken{}, ErrSealedTooShort
	}
	return ContinueToken{
		ExpireTimestamp: binary.LittleEndian.Uint64(buf[0:8]),
		FlowID:          binary.LittleEndian.Uint64(buf[8:16]),
		FlowVersion:     buf[16],
		FlowFlags:       buf[17],
	}, nil
}

// ServerToken acknowledges a server-side route install; it carries no key
// or address, only enough to let the controller validate server state.
type ServerToken struct {
	ExpireTimestamp uint64
	FlowID          uint64
	FlowVersion     uint8
	FlowFlags       uint8
}

func (t ServerToken) Marshal() []byte {
	buf := make([]byte, ServerTokenBytes)
	binary.LittleEndian.PutUint64(buf[0:8], t.ExpireTimestamp)
	binary.LittleEndian.PutUint64(buf[8:16], t.FlowID)
	buf[16] = t.FlowVersion
	buf[17] = t.FlowFlags
	return buf
}

func UnmarshalServerToken(buf []byte) (ServerToken, error) {
	if len(buf) < ServerTokenBytes {
		return ServerToken{}, ErrSealedTooShort
	}
	return ServerToken{
		ExpireTimestamp: binary.LittleEndian.Uint64(buf[0:8]),
		FlowID:          binary.LittleEndian.Uint64(buf[8:16]),
		FlowVersion:     buf[16],
		FlowFlags:       buf[17],
	}, nil
}

// Expired reports whether expireTimestamp (unix seconds) is in the past
// relative to now (also unix seconds). Per the data model invariants, the
// data plane does not otherwise re-check expiry; the route controller
// controls it by rotating flow versions.
func Expired(expireTimestamp uint64, nowUnix uint64) bool {
	return nowUnix >= expireTimestamp
}
