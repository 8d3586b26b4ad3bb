package gateway

import "fmt"

// ConnectionRejected is returned from Receive when the WebSocket upgrade
// request was rejected by the peer. It is non-recoverable for the
// Connection instance that produced it; construct a new one.
type ConnectionRejected struct {
	Status int
	Body   []byte
}

func (e *ConnectionRejected) Error() string {
	return fmt.Sprintf("gateway: connection rejected with status %d", e.Status)
}

// CloseDiscordConnection is returned from Receive when the peer has
// initiated or acknowledged a close. Reply, if non-nil, must be
// transmitted before the caller closes the underlying socket.
type CloseDiscordConnection struct {
	Reply []byte
	Code  *int
	Reason string
}

func (e *CloseDiscordConnection) Error() string {
	if e.Code == nil {
		return "gateway: peer closed the connection"
	}
	return fmt.Sprintf("gateway: peer closed the connection with code %d", *e.Code)
}

// ConnectionClosed is returned from Receive when the peer hung up without
// a proper WebSocket close handshake, or when Receive(nil) is called on a
// connection that has not yet reached Closed.
type ConnectionClosed struct{}

func (e *ConnectionClosed) Error() string { return "gateway: connection closed without a handshake" }

// ProtocolErrorKind enumerates the ways local decoding can fail.
type ProtocolErrorKind int

const (
	MalformedPayload ProtocolErrorKind = iota
	DecompressionFailed
	UnexpectedHello
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case MalformedPayload:
		return "malformed payload"
	case DecompressionFailed:
		return "decompression failed"
	case UnexpectedHello:
		return "unexpected hello"
	default:
		return "unknown protocol error"
	}
}

// ProtocolError reports a local decoding failure: a malformed payload, a
// decompression failure, or a second HELLO. The failure is local, not a
// function of the peer's close code, so it records no close
// classification: ShouldReconnect and Reconnect go by the previous close,
// if any.
type ProtocolError struct {
	Kind ProtocolErrorKind
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: protocol error (%s): %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway: protocol error (%s)", e.Kind)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// InvalidStateError is raised locally when a public operation's
// precondition is violated by misuse (e.g. Identify before HELLO).
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("gateway: invalid state for %s: %s", e.Op, e.Reason)
}
