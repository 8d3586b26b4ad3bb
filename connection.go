package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/vantagegg/gatewaycore/opcode"
	"github.com/vantagegg/gatewaycore/wire"
)

// Event is a decoded server-pushed message. For DISPATCH payloads, Name
// is the "t" field and Sequence is the "s" field; for the handful of
// non-DISPATCH op-codes the core itself surfaces as events (HELLO always,
// the rest only when Options.DispatchHandled is set), Name is a synthetic
// upper-case identifier such as "HELLO" or "HEARTBEAT_ACK".
type Event struct {
	Name     string
	Data     json.RawMessage
	Sequence int64
}

// Connection is the sans-I/O façade composing the Codec, WebSocketEngine
// and session state described in SPEC_FULL.md. Every public method
// completes synchronously and produces, rather than performs, any bytes
// the caller must transmit.
type Connection struct {
	opts *Options

	host string

	codec *codec
	ws    *wsEngine
	session *sessionState

	helloReceived bool
	events        []Event
}

// New constructs a Connection. host may be a bare host or a wss://
// URL; see SPEC_FULL.md §6 for the normalization rule. opts may be nil to
// accept all defaults.
func New(host string, opts *Options) (*Connection, error) {
	normalized, err := normalizeHost(host)
	if err != nil {
		return nil, err
	}

	if opts == nil {
		opts = &Options{}
	}
	opts.fillDefaults()

	c := &Connection{
		opts:    opts,
		host:    normalized,
		codec:   newCodec(opts.Encoding, opts.ZlibStream),
		session: newSessionState(),
	}
	c.ws = newWSEngine(c.host, c.upgradeTarget())

	return c, nil
}

func (c *Connection) upgradeTarget() string {
	q := fmt.Sprintf("/?v=%d&encoding=%s", APIVersion, c.codec.encoding.queryValue())
	if c.opts.ZlibStream {
		q += "&compress=zlib-stream"
	}
	return q
}

// Destination reports the (host, port) pair to open a TCP socket to,
// preferring the resume gateway URL when a resume is pending. Pure query.
func (c *Connection) Destination() (string, int) {
	if c.session.shouldResume() && c.session.resumeGatewayURL != nil {
		return *c.session.resumeGatewayURL, 443
	}
	return c.host, 443
}

// Closing is a read-only projection safe to observe without the caller's
// lock (see SPEC_FULL.md / spec.md §5).
func (c *Connection) Closing() bool { return c.session.closing }

// Closed is a read-only projection safe to observe without the caller's
// lock.
func (c *Connection) Closed() bool { return c.session.closed }

// HeartbeatInterval is a read-only projection safe to observe without the
// caller's lock, in seconds. It is zero until HELLO has been received.
func (c *Connection) HeartbeatInterval() float64 { return c.session.heartbeatIntervalSeconds }

// ReconnectAttempts reports the number of resumable/non-resumable
// reconnects since the last HELLO; a graceful reconnect sets it to zero.
// Unlike Closing, Closed, HeartbeatInterval and Destination, it must be
// read under the same lock as the mutating calls.
func (c *Connection) ReconnectAttempts() int { return c.session.reconnectAttempts }

// ShouldReconnect reports whether Reconnect may be called after the most
// recent error from Receive.
func (c *Connection) ShouldReconnect() bool {
	if !c.session.haveClose {
		return true
	}
	return opcode.ShouldReconnect(c.session.lastClose)
}

// Connect produces the WebSocket upgrade request bytes. Idempotent while
// still Connecting.
func (c *Connection) Connect() []byte {
	return c.ws.initiate()
}

// Events drains and returns the events queued since the last call.
func (c *Connection) Events() []Event {
	out := c.events
	c.events = nil
	return out
}

// Receive advances the engine with bytes received from the socket.
// data == nil or len(data) == 0 signals end-of-stream.
func (c *Connection) Receive(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		if !c.session.closed {
			c.session.closed = true
			c.session.lastClose = opcode.ResumableDisconnect
			c.session.haveClose = true
			return nil, &ConnectionClosed{}
		}
		return nil, nil
	}

	wsEvents, err := c.ws.feed(data)
	if err != nil {
		return nil, &ProtocolError{Kind: MalformedPayload, Err: err}
	}

	var out [][]byte

	for _, ev := range wsEvents {
		switch ev.Kind {
		case AcceptedUpgrade:
			// nothing to surface beyond the bytes Connect() already
			// returned.

		case RejectedUpgrade:
			c.session.closed = true
			c.session.closing = true
			return out, &ConnectionRejected{Status: ev.Status, Body: ev.Body}

		case PingFrame:
			out = append(out, c.ws.sendPong(ev.Body))

		case PongFrame:
			// no action required

		case Message:
			if c.opts.Debugger != nil {
				c.opts.Debugger.Incoming(ev.Body)
			}

			env, err := c.codec.decode(ev.Body)
			if err != nil {
				return out, err
			}

			buffers, closeErr := c.handleEnvelope(env)
			out = append(out, buffers...)
			if closeErr != nil {
				return out, closeErr
			}

		case CloseReceived:
			class := opcode.Classify(ev.Code)
			c.session.lastClose = class
			c.session.haveClose = true
			c.session.closing = true
			c.session.closed = true
			c.codec.reset()
			return out, &CloseDiscordConnection{Reply: ev.Reply, Code: ev.Code, Reason: ev.Reason}

		case WSConnectionClosed:
			c.session.closed = true
			c.session.lastClose = opcode.ResumableDisconnect
			c.session.haveClose = true
			return out, &ConnectionClosed{}
		}
	}

	if c.opts.Debugger != nil {
		for _, b := range out {
			c.opts.Debugger.Outgoing(b)
		}
	}

	return out, nil
}

func (c *Connection) handleEnvelope(env wire.Envelope) ([][]byte, error) {
	if env.Seq != nil {
		c.session.observeSequence(*env.Seq)
	}

	op := opcode.Opcode(env.Op)

	switch op {
	case opcode.Dispatch:
		name := ""
		if env.Type != nil {
			name = *env.Type
		}

		if name == "READY" {
			var ready wire.Ready
			if err := json.Unmarshal(env.Data, &ready); err != nil {
				return nil, &ProtocolError{Kind: MalformedPayload, Err: err}
			}
			c.session.sessionID = &ready.SessionID
			c.session.resumeGatewayURL = &ready.ResumeGatewayURL
		}

		var seq int64
		if env.Seq != nil {
			seq = *env.Seq
		}
		c.events = append(c.events, Event{Name: name, Data: env.Data, Sequence: seq})
		return nil, nil

	case opcode.Heartbeat:
		c.enqueueHandled("HEARTBEAT", env)
		raw, err := c.codec.encode(opcode.Heartbeat, nil, nil, currentSeqOrNull(c.session.sequence))
		if err != nil {
			return nil, err
		}
		return [][]byte{c.frame(raw)}, nil

	case opcode.Reconnect:
		c.enqueueHandled("RECONNECT", env)
		code := 4000
		c.session.lastClose = opcode.ResumableDisconnect
		c.session.haveClose = true
		c.session.closing = true
		frame := c.ws.sendClose(code, "reconnect requested")
		return [][]byte{frame}, &CloseDiscordConnection{Reply: frame, Code: &code}

	case opcode.InvalidSession:
		c.enqueueHandled("INVALID_SESSION", env)

		var canResume bool
		if err := json.Unmarshal(env.Data, &canResume); err != nil {
			return nil, &ProtocolError{Kind: MalformedPayload, Err: err}
		}

		code := 1000
		if canResume {
			code = 4000
			c.session.lastClose = opcode.ResumableDisconnect
		} else {
			c.session.clearSession()
			c.session.lastClose = opcode.NonResumableDisconnect
		}
		c.session.haveClose = true
		c.session.closing = true

		frame := c.ws.sendClose(code, "invalid session")
		return [][]byte{frame}, &CloseDiscordConnection{Reply: frame, Code: &code}

	case opcode.Hello:
		if c.helloReceived {
			return nil, &ProtocolError{Kind: UnexpectedHello}
		}
		c.helloReceived = true

		var hello wire.Hello
		if err := json.Unmarshal(env.Data, &hello); err != nil {
			return nil, &ProtocolError{Kind: MalformedPayload, Err: err}
		}
		c.session.heartbeatIntervalSeconds = float64(hello.HeartbeatIntervalMillis) / 1000
		c.session.onHello()
		c.opts.Backoff.Reset()

		c.events = append(c.events, Event{Name: "HELLO", Data: env.Data})
		return nil, nil

	case opcode.HeartbeatACK:
		c.session.acknowledged = true
		c.enqueueHandled("HEARTBEAT_ACK", env)
		return nil, nil

	default:
		if c.opts.Debugger != nil {
			c.opts.Debugger.Error(fmt.Errorf("gateway: unhandled opcode %d", env.Op))
		}
		return nil, nil
	}
}

// enqueueHandled surfaces an op-code the core handles automatically, only
// when the caller opted in via Options.DispatchHandled.
func (c *Connection) enqueueHandled(name string, env wire.Envelope) {
	if !c.opts.DispatchHandled {
		return
	}
	var seq int64
	if env.Seq != nil {
		seq = *env.Seq
	}
	c.events = append(c.events, Event{Name: name, Data: env.Data, Sequence: seq})
}

func currentSeqOrNull(seq *int64) interface{} {
	if seq == nil {
		return nil
	}
	return *seq
}

// frame wraps an encoded payload in a real outbound WebSocket frame, per
// spec.md §2's data flow (compose → encode → frame → bytes handed to the
// caller). Every payload-bearing public method must return through this,
// exactly as Close already does via sendClose.
func (c *Connection) frame(raw []byte) []byte {
	return c.ws.sendMessage(raw, c.codec.encoding == EncodingBinary)
}

// Identify produces an IDENTIFY payload. Precondition: HELLO received and
// ShouldResume is false.
func (c *Connection) Identify(token string, intents uint32, properties wire.Properties, opts IdentifyOptions) ([]byte, error) {
	if !c.helloReceived {
		return nil, &InvalidStateError{Op: "Identify", Reason: "HELLO not yet received"}
	}
	if c.session.shouldResume() {
		return nil, &InvalidStateError{Op: "Identify", Reason: "a resumable session is pending; call Resume instead"}
	}
	if c.session.closing || c.session.closed {
		return nil, nil
	}

	payload := wire.Identify{
		Token:          token,
		Intents:        intents,
		Properties:     properties,
		Compress:       opts.Compress,
		LargeThreshold: opts.LargeThreshold,
		Shard:          opts.Shard,
		Presence:       opts.Presence,
	}

	raw, err := c.codec.encode(opcode.Identify, nil, nil, payload)
	if err != nil {
		return nil, err
	}
	return c.frame(raw), nil
}

// IdentifyOptions carries IDENTIFY's optional fields.
type IdentifyOptions struct {
	LargeThreshold int
	Shard          *[2]int
	Presence       interface{}
	Compress       bool
}

// Resume produces a RESUME payload. Precondition: HELLO received and
// ShouldResume holds.
func (c *Connection) Resume(token string) ([]byte, error) {
	if !c.helloReceived {
		return nil, &InvalidStateError{Op: "Resume", Reason: "HELLO not yet received"}
	}
	if !c.session.shouldResume() {
		return nil, &InvalidStateError{Op: "Resume", Reason: "no resumable session is pending"}
	}
	if c.session.closing || c.session.closed {
		return nil, nil
	}

	payload := wire.Resume{
		Token:     token,
		SessionID: *c.session.sessionID,
		Sequence:  *c.session.sequence,
	}

	raw, err := c.codec.encode(opcode.Resume, nil, nil, payload)
	if err != nil {
		return nil, err
	}
	return c.frame(raw), nil
}

// Heartbeat produces a HEARTBEAT payload carrying the current sequence.
// If the previous heartbeat was never acknowledged, it instead queues a
// close with code 4000 and marks the connection closing. Once closing or
// closed, it returns an empty buffer.
func (c *Connection) Heartbeat() ([]byte, error) {
	if c.session.closing || c.session.closed {
		return nil, nil
	}

	if !c.session.acknowledged {
		c.session.lastClose = opcode.ResumableDisconnect
		c.session.haveClose = true
		c.session.closing = true
		return c.ws.sendClose(4000, "zombied connection"), nil
	}

	c.session.acknowledged = false
	raw, err := c.codec.encode(opcode.Heartbeat, nil, nil, currentSeqOrNull(c.session.sequence))
	if err != nil {
		return nil, err
	}
	return c.frame(raw), nil
}

// Close transitions the engine to Closing and produces the close frame
// bytes. Subsequent payload-emitting calls are no-ops.
func (c *Connection) Close(code int, reason string) []byte {
	if code == 0 {
		code = 1000
	}
	c.session.closing = true
	return c.ws.sendClose(code, reason)
}

// Reconnect resets the engine, Codec streaming state, and the subset of
// SessionState not needed for resumption, returning the number of
// seconds to sleep before the next connection attempt.
//
// Precondition: ShouldReconnect() is true; calling this after a Fatal
// close is misuse.
func (c *Connection) Reconnect() (int, error) {
	if c.session.haveClose && !opcode.ShouldReconnect(c.session.lastClose) {
		return 0, &InvalidStateError{Op: "Reconnect", Reason: "last close was classified fatal"}
	}

	switch {
	case !c.session.haveClose, c.session.lastClose == opcode.Graceful:
		c.session.clearSession()
		c.session.reconnectAttempts = 0
		// Restart the backoff's own attempt count together with
		// reconnectAttempts. NextBackOff below then advances only the
		// backoff's count, so this attempt sleeps the first-attempt delay
		// while reconnectAttempts stays at zero.
		c.opts.Backoff.Reset()
	case c.session.lastClose == opcode.ResumableDisconnect:
		c.session.reconnectAttempts++
	case c.session.lastClose == opcode.NonResumableDisconnect:
		c.session.clearSession()
		c.session.reconnectAttempts++
	}

	c.ws.reset()
	c.codec.reset()
	c.helloReceived = false
	c.session.closing = false
	c.session.closed = false
	c.session.heartbeatIntervalSeconds = 0
	c.session.acknowledged = true

	host, _ := c.Destination()
	c.ws = newWSEngine(host, c.upgradeTarget())
	sleep := c.opts.Backoff.NextBackOff()
	return int(sleep / 1e9), nil
}
