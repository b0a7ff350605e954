// Package rtc implements the peer media and data connection used by a voice
// session. The session core treats session descriptions as opaque strings;
// this package produces the local offer, applies the remote answer, and runs
// the companion data channel that carries structured JSON events.
package rtc

import (
	"context"
	"strings"
)

// State is the coarse connectivity state reported by a transport.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Terminal reports whether the state indicates the transport is no longer
// usable without a fresh connection.
func (s State) Terminal() bool {
	switch s {
	case StateDisconnected, StateFailed, StateClosed:
		return true
	default:
		return false
	}
}

// Transport is one peer connection attempt: a media path plus a companion
// data channel. Implementations must make Close idempotent and safe to call
// before Accept.
type Transport interface {
	// Offer returns the local session description for negotiation.
	Offer(ctx context.Context) (string, error)

	// Accept applies the remote answer description and opens the data
	// channel, authenticated by the same ephemeral credential used for
	// negotiation.
	Accept(ctx context.Context, answer, credential string) error

	// Events yields inbound data-channel payloads. The channel is closed
	// when the transport shuts down.
	Events() <-chan []byte

	// Send marshals one JSON event onto the data channel.
	Send(v any) error

	// States yields asynchronous connectivity transitions, including
	// failures detected mid-conversation.
	States() <-chan State

	// Close tears down the data channel, the peer connection, and all
	// local capture tracks. Safe to call repeatedly.
	Close() error
}

// Dialer creates one transport per connection attempt.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) { return f(ctx) }

// answerAttr extracts the value of an "a=<name>:" attribute line from a
// session description. Returns "" when absent.
func answerAttr(desc, name string) string {
	prefix := "a=" + name + ":"
	for _, line := range strings.Split(desc, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}
