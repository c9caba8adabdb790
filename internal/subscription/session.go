package subscription

//go:generate mockgen -package mocks -destination mocks/mock_session.go github.com/querystream/querystream/internal/subscription Session

// Session is the transport-side handle for one connected client. The
// WebSocket layer implements it; the subscription engine only sends payloads
// and closes misbehaving peers through it.
type Session interface {
	// ID returns the stable identifier of the transport session.
	ID() string

	// Send delivers one outbound payload to the client.
	Send(payload []byte) error

	// Close terminates the session normally.
	Close() error

	// CloseWithViolation terminates the session signalling a protocol
	// violation to the peer.
	CloseWithViolation(reason string) error
}
