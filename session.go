package gateway

import "github.com/vantagegg/gatewaycore/opcode"

// sessionState holds reconnect-relevant identity. Mutated only by
// Connection, in direct response to inbound events - never by the
// caller, never by a timer.
//
// It is safe to inspect concurrently with receive-side mutation only for
// the fields called out on Connection's read-only projection methods
// (Closing, Closed, HeartbeatInterval, Destination); every other field
// requires the same external lock the caller uses around mutating calls.
type sessionState struct {
	sessionID        *string
	sequence         *int64
	resumeGatewayURL *string

	heartbeatIntervalSeconds float64
	acknowledged             bool

	closing bool
	closed  bool

	reconnectAttempts int

	lastClose opcode.Class
	haveClose bool
}

func newSessionState() *sessionState {
	return &sessionState{acknowledged: true}
}

// shouldResume is true iff a session exists to resume and the most recent
// close was classified as resumable.
func (s *sessionState) shouldResume() bool {
	return s.sessionID != nil && s.sequence != nil &&
		s.haveClose && s.lastClose == opcode.ResumableDisconnect
}

// observeSequence enforces invariant 1: sequence never regresses.
func (s *sessionState) observeSequence(seq int64) {
	if s.sequence == nil || seq > *s.sequence {
		v := seq
		s.sequence = &v
	}
}

// clearSession drops session_id, sequence and the resume URL - performed
// on a Graceful or NonResumableDisconnect reconnect, and on an
// INVALID_SESSION(false).
func (s *sessionState) clearSession() {
	s.sessionID = nil
	s.sequence = nil
	s.resumeGatewayURL = nil
}

// onHello resets the state HELLO is documented to reset (invariant 6).
func (s *sessionState) onHello() {
	s.reconnectAttempts = 0
	s.acknowledged = true
}
