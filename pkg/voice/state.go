package voice

import (
	"fmt"
	"strings"
)

// Phase is the connection lifecycle phase.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseReconnecting Phase = "reconnecting"
	PhaseError        Phase = "error"
)

// ConnState is the tagged connection state. Reconnecting carries the attempt
// counter; Error carries the terminal message. Illegal transitions are
// rejected by the supervisor before any side effect runs.
type ConnState struct {
	Phase   Phase
	Attempt int    // set while reconnecting
	Err     string // set in the error phase
}

func Disconnected() ConnState        { return ConnState{Phase: PhaseDisconnected} }
func Connecting() ConnState          { return ConnState{Phase: PhaseConnecting} }
func Connected() ConnState           { return ConnState{Phase: PhaseConnected} }
func Reconnecting(attempt int) ConnState {
	return ConnState{Phase: PhaseReconnecting, Attempt: attempt}
}
func Errored(message string) ConnState {
	return ConnState{Phase: PhaseError, Err: strings.TrimSpace(message)}
}

// CanConnect reports whether an explicit connect is legal from this state.
// Only the two terminal phases accept a new connect.
func (s ConnState) CanConnect() bool {
	return s.Phase == PhaseDisconnected || s.Phase == PhaseError
}

// Live reports whether a transport is (or is being) established.
func (s ConnState) Live() bool {
	switch s.Phase {
	case PhaseConnecting, PhaseConnected, PhaseReconnecting:
		return true
	default:
		return false
	}
}

func (s ConnState) String() string {
	switch s.Phase {
	case PhaseReconnecting:
		return fmt.Sprintf("reconnecting(attempt=%d)", s.Attempt)
	case PhaseError:
		return fmt.Sprintf("error(%s)", s.Err)
	default:
		return string(s.Phase)
	}
}
