// Package wire describes the shapes of gateway payloads: the envelope
// every message travels in, and the typed bodies of the handshake
// messages the core itself must build or interpret.
package wire

import "encoding/json"

// Envelope is the outer shape of every gateway message, in both
// directions, independent of the chosen payload encoding.
type Envelope struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s"`
	Type *string         `json:"t"`
}

// Properties describes the connecting client/device, sent verbatim on
// IDENTIFY.
type Properties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify is the body of an op-2 IDENTIFY payload.
type Identify struct {
	Token          string      `json:"token"`
	Intents        uint32      `json:"intents"`
	Properties     Properties  `json:"properties"`
	Compress       bool        `json:"compress,omitempty"`
	LargeThreshold int         `json:"large_threshold,omitempty"`
	Shard          *[2]int     `json:"shard,omitempty"`
	Presence       interface{} `json:"presence,omitempty"`
}

// Resume is the body of an op-6 RESUME payload.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// Hello is the body of the op-10 HELLO payload.
type Hello struct {
	HeartbeatIntervalMillis int64 `json:"heartbeat_interval"`
}

// Ready is the subset of the READY dispatch body the core itself reads.
// Bot-level fields (user, guilds, ...) are left for the caller to decode
// from the raw event data.
type Ready struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// InvalidSessionData is the body of an op-9 INVALID_SESSION payload: a
// bare boolean indicating whether a RESUME may be attempted.
type InvalidSessionData bool
