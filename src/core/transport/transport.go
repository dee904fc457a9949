// Package transport defines the duplex connection collaborator the
// adapters drive. The SDK core never touches a socket directly; it sees
// this interface.
package transport

import (
	"context"

	"speechlink-go/src/core/protocol"
)

// State is the connection lifecycle state.
type State int

const (
	StateNone State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "none"
	}
}

// Connection is one persistent duplex link to the service.
//
// Open reports the HTTP-style status of connection establishment: 200 on
// success, 403 on rejected credentials, anything else is a transport
// failure. Read returns nil without error when the connection is draining
// and no frame is available yet.
type Connection interface {
	Open(ctx context.Context) (int, error)
	Send(ctx context.Context, msg *protocol.Message) error
	Read(ctx context.Context) (*protocol.RawMessage, error)
	State() State
	Dispose(reason string) error
}

// Factory creates connections; the adapter calls it on first use and after
// detecting a disconnect. The token is the current auth credential.
type Factory func(ctx context.Context, token string, connectionID string) (Connection, error)
