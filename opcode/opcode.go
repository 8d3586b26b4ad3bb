// Package opcode defines the Discord gateway op-codes and the close-code
// classification table used to decide whether a connection may resume.
package opcode

// Opcode identifies the kind of payload travelling over the gateway.
//
// https://discord.com/developers/docs/topics/opcodes-and-status-codes#gateway-opcodes
type Opcode int

const (
	Dispatch Opcode = iota
	Heartbeat
	Identify
	PresenceUpdate
	VoiceStateUpdate
	_ // 5 is unused by the gateway
	Resume
	Reconnect
	RequestGuildMembers
	InvalidSession
	Hello
	HeartbeatACK
)

// Class is the outcome of classifying a WebSocket close code, driving
// whether a Connection may attempt a RESUME on its next reconnect.
type Class int

const (
	// Graceful closes clear the session; the next identification is a
	// fresh IDENTIFY.
	Graceful Class = iota
	// ResumableDisconnect preserves session_id and sequence; the next
	// identification is a RESUME.
	ResumableDisconnect
	// NonResumableDisconnect clears the session but permits reconnecting.
	NonResumableDisconnect
	// Fatal forbids reconnecting at all.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Graceful:
		return "graceful"
	case ResumableDisconnect:
		return "resumable"
	case NonResumableDisconnect:
		return "non-resumable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var resumable = map[int]bool{
	4000: true,
	4001: true,
	4002: true,
	4003: true,
	4005: true,
	4007: true,
	4008: true,
	4009: true,
}

var fatal = map[int]bool{
	4004: true,
	4010: true,
	4011: true,
	4012: true,
	4013: true,
	4014: true,
}

// Classify maps an observed WebSocket close code to a Class. A nil code
// (lower-level transport close without a code) classifies as
// ResumableDisconnect per the gateway's recommendation to always attempt
// to continue the session when the reason for the disconnect is unknown.
func Classify(code *int) Class {
	if code == nil {
		return ResumableDisconnect
	}

	switch *code {
	case 1000, 1001:
		return Graceful
	}

	if resumable[*code] {
		return ResumableDisconnect
	}
	if fatal[*code] {
		return Fatal
	}
	if *code >= 4000 && *code < 5000 {
		return NonResumableDisconnect
	}

	// Anything outside the 4xxx gateway range (ordinary WebSocket close
	// codes, or codes the gateway hasn't documented) is classified as a
	// non-resumable disconnect: reconnect with a fresh session rather
	// than guessing a RESUME is safe.
	return NonResumableDisconnect
}

// ShouldReconnect reports whether a Connection classified with c may call
// Reconnect at all.
func ShouldReconnect(c Class) bool {
	return c != Fatal
}
