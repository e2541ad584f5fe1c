// Package transport defines the link between the panel and the controller
// and the connection states it moves through.
package transport

import (
	"errors"

	"github.com/kabili207/gasmix-go/core/codec"
)

// ErrNotConnected is returned by Send when the device cannot be reached.
var ErrNotConnected = errors.New("not connected")

// Link is a connection to the controller. Send and Poll never block on the
// device.
type Link interface {
	// Send queues or writes one encoded command. A failure is reported only
	// when the device cannot be reached.
	Send(msg string) error
	// Poll returns every frame received since the previous call, in arrival
	// order. It returns nil when nothing is pending.
	Poll() []codec.Frame
	// State returns the current connection state.
	State() State
	// Mode names the link implementation: "buffered", "direct" or "offline".
	Mode() string
	// Stop closes the link. It is idempotent.
	Stop() error
}

// State is the connection state of a link. A link moves forward only:
// Disconnected, Connecting, Open, and back to Disconnected when stopped.
type State int

const (
	// StateDisconnected means no device is open.
	StateDisconnected State = iota
	// StateConnecting means the device is being opened.
	StateConnecting
	// StateOpen means the device is open and the link is running.
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
