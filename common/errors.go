package common

import "fmt"

// ErrKind classifies the errors a connection or node can raise, per the
// error handling design: Transport failures are recovered by dropping the
// peer, Protocol failures close the offending connection only, State errors
// reject a request without mutating any view, and Decline surfaces a
// rejected neighbour request to the replacement loop.
type ErrKind uint32

const (
	// Transport covers TCP connect, read, write or timeout failures.
	Transport ErrKind = iota
	// Protocol covers unknown type bytes, truncated frames, or over-length xlists.
	Protocol
	// State covers requests that conflict with current view membership.
	State
	// Decline covers a neighbour request answered with DECLINE.
	Decline
)

func (k ErrKind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case State:
		return "state"
	case Decline:
		return "decline"
	default:
		return "unknown"
	}
}

// Err is a typed error carrying an ErrKind alongside the usual message.
type Err struct {
	Kind ErrKind
	Msg  string
}

func New(kind ErrKind, msg string) Err {
	return Err{Kind: kind, Msg: msg}
}

func Newf(kind ErrKind, format string, args ...interface{}) Err {
	return Err{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e Err) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is reports whether err is an Err of the given kind.
func Is(err error, kind ErrKind) bool {
	e, ok := err.(Err)
	return ok && e.Kind == kind
}

// Sentinel State errors named directly in the spec's error handling design.
var (
	ErrAlreadyInActive = New(State, "already_in_active")
	ErrNotInActive     = New(State, "not_in_active")
)
