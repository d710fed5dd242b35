package routecontrol

import (
	"encoding/binary"
	"errors"

	"github.com/networknext/next-go/address"
)

// PrefixKind tags a RoutePrefix, driving whether the client builds a
// multi-hop next path or falls straight through to the server.
type PrefixKind uint8

const (
	// PrefixNull carries no routing hint; the accompanying token chain
	// (if any) is authoritative.
	PrefixNull PrefixKind = iota
	// PrefixServerAddress names the game server's address literally,
	// bypassing near-relay resolution.
	PrefixServerAddress
	// PrefixDirect is the "direct" string marker: open a direct-only
	// session with no relay chain at all.
	PrefixDirect
	// PrefixForcedRoute marks a route the controller requires the client
	// to take regardless of its own stats-driven fallback logic.
	PrefixForcedRoute
)

// RoutePrefixBytesMax bounds a serialized RoutePrefix.
const RoutePrefixBytesMax = 1024

// RouteStateBytesMax bounds the opaque route_state blob carried
// alongside a RoutePrefix.
const RouteStateBytesMax = 1500

// MaxFlowTokens bounds the token chain length: the client's own token, one
// token per relay hop, plus the server's own.
const MaxFlowTokens = 7

// MaxRelayHops bounds the number of relay hops a route may traverse,
// independent of the token-chain ceiling above
// (the token chain also carries the client's and the server's own tokens).
const MaxRelayHops = 5

var (
	ErrRoutePrefixTooLarge = errors.New("routecontrol: route prefix exceeds RoutePrefixBytesMax")
	ErrRouteStateTooLarge  = errors.New("routecontrol: route_state exceeds RouteStateBytesMax")
	ErrTooManyTokens       = errors.New("routecontrol: token chain exceeds MaxFlowTokens")
	ErrUnknownPrefixKind   = errors.New("routecontrol: unknown route prefix kind")
	ErrRouteDataTooShort   = errors.New("routecontrol: route data buffer too short")
)

// RoutePrefix drives how the client interprets a route-install payload:
// null (token chain alone is authoritative), a literal server address, the
// "direct" marker, or a forced-route marker the client cannot second-guess
// with its own cant-beat-direct fallback logic.
type RoutePrefix struct {
	Kind          PrefixKind
	ServerAddress address.Address // valid only when Kind == PrefixServerAddress
}

// Marshal encodes a RoutePrefix: 1 tag byte, plus a 19-byte address record
// only for PrefixServerAddress.
func (p RoutePrefix) Marshal() ([]byte, error) {
	switch p.Kind {
	case PrefixNull, PrefixDirect, PrefixForcedRoute:
		return []byte{uint8(p.Kind)}, nil
	case PrefixServerAddress:
		buf := make([]byte, 1+address.Size)
		buf[0] = uint8(p.Kind)
		if err := p.ServerAddress.WriteTo(buf[1:]); err != nil {
			return nil, err
		}
		return buf, nil
	default:
		return nil, ErrUnknownPrefixKind
	}
}

// UnmarshalRoutePrefix decodes a RoutePrefix and returns the number of
// bytes consumed from buf.
func UnmarshalRoutePrefix(buf []byte) (RoutePrefix, int, error) {
	if len(buf) < 1 {
		return RoutePrefix{}, 0, ErrRouteDataTooShort
	}
	kind := PrefixKind(buf[0])
	switch kind {
	case PrefixNull, PrefixDirect, PrefixForcedRoute:
		return RoutePrefix{Kind: kind}, 1, nil
	case PrefixServerAddress:
		if len(buf) < 1+address.Size {
			return RoutePrefix{}, 0, ErrRouteDataTooShort
		}
		addr, err := address.ReadFrom(buf[1 : 1+address.Size])
		if err != nil {
			return RoutePrefix{}, 0, err
		}
		return RoutePrefix{Kind: kind, ServerAddress: addr}, 1 + address.Size, nil
	default:
		return RoutePrefix{}, 0, ErrUnknownPrefixKind
	}
}

// RouteData is the parsed form of a route-controller update response: the
// prefix, an opaque route_state blob the client must echo back verbatim on
// its next request, and the sealed token chain — FlowTokens for a route
// update, ContinueTokens for a continue update (IsContinue distinguishes
// the two, since the sealed bytes themselves don't self-describe which).
type RouteData struct {
	Prefix     RoutePrefix
	RouteState []byte
	Tokens     [][]byte // each entry is a token.SealedFlowTokenBytes or token.SealedContinueTokenBytes blob
	IsContinue bool
}

// Marshal encodes RouteData as: prefix || u16(len(route_state)) ||
// route_state || u8(token_count) || { u16(len) || bytes } × token_count.
// HTTPController does not use this form: its JSON envelope carries the
// prefix, route_state and each token as separate base64 fields; the JSON
// envelope itself belongs to the controller service.
func (d RouteData) Marshal() ([]byte, error) {
	if len(d.RouteState) > RouteStateBytesMax {
		return nil, ErrRouteStateTooLarge
	}
	if len(d.Tokens) > MaxFlowTokens {
		return nil, ErrTooManyTokens
	}
	prefixBytes, err := d.Prefix.Marshal()
	if err != nil {
		return nil, err
	}

	size := len(prefixBytes) + 2 + len(d.RouteState) + 1
	for _, tok := range d.Tokens {
		size += 2 + len(tok)
	}
	if size > RoutePrefixBytesMax+RouteStateBytesMax+MaxFlowTokens*(2+512) {
		return nil, ErrRoutePrefixTooLarge
	}

	buf := make([]byte, size)
	off := copy(buf, prefixBytes)
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(d.RouteState)))
	off += 2
	off += copy(buf[off:], d.RouteState)
	buf[off] = uint8(len(d.Tokens))
	off++
	for _, tok := range d.Tokens {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(tok)))
		off += 2
		off += copy(buf[off:], tok)
	}
	return buf[:off], nil
}

// UnmarshalRouteData decodes a RouteData blob produced by Marshal.
// isContinue must be supplied by the caller from the envelope's own
// request-kind field (route vs. continue), since the bytes themselves
// don't distinguish a FlowToken chain from a ContinueToken chain.
func UnmarshalRouteData(buf []byte, isContinue bool) (RouteData, error) {
	prefix, n, err := UnmarshalRoutePrefix(buf)
	if err != nil {
		return RouteData{}, err
	}
	off := n

	if len(buf) < off+2 {
		return RouteData{}, ErrRouteDataTooShort
	}
	stateLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if stateLen > RouteStateBytesMax || len(buf) < off+stateLen {
		return RouteData{}, ErrRouteStateTooLarge
	}
	routeState := make([]byte, stateLen)
	copy(routeState, buf[off:off+stateLen])
	off += stateLen

	if len(buf) < off+1 {
		return RouteData{}, ErrRouteDataTooShort
	}
	tokenCount := int(buf[off])
	off++
	if tokenCount > MaxFlowTokens {
		return RouteData{}, ErrTooManyTokens
	}

	tokens := make([][]byte, tokenCount)
	for i := 0; i < tokenCount; i++ {
		if len(buf) < off+2 {
			return RouteData{}, ErrRouteDataTooShort
		}
		tokLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if len(buf) < off+tokLen {
			return RouteData{}, ErrRouteDataTooShort
		}
		tok := make([]byte, tokLen)
		copy(tok, buf[off:off+tokLen])
		tokens[i] = tok
		off += tokLen
	}

	return RouteData{Prefix: prefix, RouteState: routeState, Tokens: tokens, IsContinue: isContinue}, nil
}
