package client

import "fmt"

// State is the client session state.
type State int

const (
	StateStopped State = iota
	StateLocating
	StateReady
	StateInsecureRequesting
	StateRequesting
	StateEstablished
	StateDirect
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateLocating:
		return "locating"
	case StateReady:
		return "ready"
	case StateInsecureRequesting:
		return "insecure_requesting"
	case StateRequesting:
		return "requesting"
	case StateEstablished:
		return "established"
	case StateDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// ErrorCode enumerates the client_error taxonomy.
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrInvalidParameter
	ErrInsecureSessionFailed
	ErrFailedToLocate
	ErrInvalidRoute
	ErrBadServerAddress
	ErrRouteTimedOut
	ErrTimedOut
	ErrNextOnly
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNone:
		return "none"
	case ErrInvalidParameter:
		return "invalid_parameter"
	case ErrInsecureSessionFailed:
		return "insecure_session_failed"
	case ErrFailedToLocate:
		return "failed_to_locate"
	case ErrInvalidRoute:
		return "invalid_route"
	case ErrBadServerAddress:
		return "bad_server_address"
	case ErrRouteTimedOut:
		return "route_timed_out"
	case ErrTimedOut:
		return "timed_out"
	case ErrNextOnly:
		return "next_only"
	default:
		return "unknown"
	}
}

// ClientError wraps an ErrorCode with context, surfaced via Client.Err().
// The data plane itself never returns an error from a packet
// handler (those only log and drop); ClientError is reserved for
// control-plane conditions the game loop needs to react to.
type ClientError struct {
	Code ErrorCode
	Msg  string
}

func (e *ClientError) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newError(code ErrorCode, msg string) *ClientError {
	return &ClientError{Code: code, Msg: msg}
}

// routeRequestSending tracks whether a just-installed route (initial or
// update) is still awaiting its response. A pending continue update is
// tracked separately, by Client.continueSending.
type routeRequestSending int

const (
	sendingNone routeRequestSending = iota
	sendingInitial
	sendingUpdate
)
