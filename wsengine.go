package gateway

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gobwas/ws"
)

// wsState is the lifecycle of the embedded WebSocket protocol engine,
// independent of anything Discord-specific.
type wsState int

const (
	wsConnecting wsState = iota
	wsOpen
	wsClosing
	wsClosed
)

// WSEventKind discriminates the abstract events wsEngine.feed can
// surface.
type WSEventKind int

const (
	AcceptedUpgrade WSEventKind = iota
	RejectedUpgrade
	Message
	PingFrame
	PongFrame
	CloseReceived
	WSConnectionClosed
)

// WSEvent is one event surfaced by wsEngine.feed.
type WSEvent struct {
	Kind WSEventKind

	// RejectedUpgrade
	Status int
	Body   []byte

	// Message
	IsBinary bool

	// CloseReceived: Code is nil when the peer sent no close code at all.
	Code   *int
	Reason string
	// Reply holds the echo close frame bytes the caller must transmit
	// before closing the socket, nil when no reply is needed (the local
	// side already initiated the close and this is the peer's echo).
	Reply []byte
}

// wsEngine drives the WebSocket protocol handshake, framing, and close
// sequence over byte buffers handed to it by the caller - it never
// touches a socket itself.
type wsEngine struct {
	state wsState

	host   string
	target string

	inbound *bytes.Buffer

	fragmenting bool
	fragType    ws.OpCode
	fragBuf     bytes.Buffer
}

func newWSEngine(host, target string) *wsEngine {
	return &wsEngine{
		state:   wsConnecting,
		host:    host,
		target:  target,
		inbound: new(bytes.Buffer),
	}
}

// reset reinitializes the engine for a fresh TCP connection, as performed
// by Connection.Reconnect.
func (e *wsEngine) reset() {
	e.state = wsConnecting
	e.inbound = new(bytes.Buffer)
	e.fragmenting = false
	e.fragBuf.Reset()
}

// initiate produces the HTTP Upgrade request bytes. Safe to call more
// than once while still Connecting.
func (e *wsEngine) initiate() []byte {
	nonce := make([]byte, 16)
	_, _ = rand.Read(nonce)
	key := base64.StdEncoding.EncodeToString(nonce)

	var b bytes.Buffer
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", e.target)
	fmt.Fprintf(&b, "Host: %s\r\n", e.host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", key)
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	b.WriteString("\r\n")
	return b.Bytes()
}

// feed advances the engine with newly received bytes and returns the
// events that could be derived from them. Partial data is buffered and
// revisited on the next call.
func (e *wsEngine) feed(data []byte) ([]WSEvent, error) {
	if len(data) > 0 {
		e.inbound.Write(data)
	}

	if e.state == wsConnecting {
		events, err := e.feedHandshake()
		if err != nil || e.state == wsConnecting {
			return events, err
		}
		// Upgrade accepted: whatever is left in the buffer is already
		// framed WebSocket data belonging to the new state.
		more, err := e.feedFrames()
		return append(events, more...), err
	}

	return e.feedFrames()
}

func (e *wsEngine) feedHandshake() ([]WSEvent, error) {
	buf := e.inbound.Bytes()
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		return nil, nil
	}

	header := buf[:idx]
	e.inbound.Next(idx + 4)

	statusLine, _, _ := bytesCutLine(header)
	status := parseStatusCode(statusLine)

	if status == 101 {
		e.state = wsOpen
		return []WSEvent{{Kind: AcceptedUpgrade, Status: status}}, nil
	}

	e.state = wsClosed
	body := e.inbound.Bytes()
	e.inbound.Next(e.inbound.Len())
	return []WSEvent{{Kind: RejectedUpgrade, Status: status, Body: body}}, nil
}

func bytesCutLine(b []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return b, nil, false
	}
	return bytes.TrimRight(b[:i], "\r"), b[i+1:], true
}

func parseStatusCode(statusLine []byte) int {
	parts := bytes.SplitN(statusLine, []byte(" "), 3)
	if len(parts) < 2 {
		return 0
	}
	var code int
	for _, c := range parts[1] {
		if c < '0' || c > '9' {
			return 0
		}
		code = code*10 + int(c-'0')
	}
	return code
}

func (e *wsEngine) feedFrames() ([]WSEvent, error) {
	var events []WSEvent

	for {
		data := e.inbound.Bytes()
		if len(data) == 0 {
			return events, nil
		}

		r := bytes.NewReader(data)
		hdr, err := ws.ReadHeader(r)
		if err != nil {
			return events, nil // header not fully buffered yet
		}

		headerLen := len(data) - r.Len()
		payloadLen := int(hdr.Length)
		if r.Len() < payloadLen {
			return events, nil // payload not fully buffered yet
		}

		payload := make([]byte, payloadLen)
		if payloadLen > 0 {
			if _, err := io.ReadFull(r, payload); err != nil {
				return events, nil
			}
		}
		if hdr.Masked {
			ws.Cipher(payload, hdr.Mask, 0)
		}

		e.inbound.Next(headerLen + payloadLen)

		ev, closed := e.handleFrame(hdr, payload)
		if ev != nil {
			events = append(events, *ev)
		}
		if closed {
			return events, nil
		}
	}
}

func (e *wsEngine) handleFrame(hdr ws.Header, payload []byte) (*WSEvent, bool) {
	switch hdr.OpCode {
	case ws.OpText, ws.OpBinary:
		if hdr.Fin {
			return &WSEvent{Kind: Message, Body: payload, IsBinary: hdr.OpCode == ws.OpBinary}, false
		}
		e.fragmenting = true
		e.fragType = hdr.OpCode
		e.fragBuf.Reset()
		e.fragBuf.Write(payload)
		return nil, false

	case ws.OpContinuation:
		e.fragBuf.Write(payload)
		if !hdr.Fin {
			return nil, false
		}
		body := append([]byte(nil), e.fragBuf.Bytes()...)
		isBinary := e.fragType == ws.OpBinary
		e.fragmenting = false
		e.fragBuf.Reset()
		return &WSEvent{Kind: Message, Body: body, IsBinary: isBinary}, false

	case ws.OpPing:
		return &WSEvent{Kind: PingFrame, Body: payload}, false

	case ws.OpPong:
		return &WSEvent{Kind: PongFrame, Body: payload}, false

	case ws.OpClose:
		code, reason := parseCloseBody(payload)

		wasClosing := e.state == wsClosing
		e.state = wsClosed

		var reply []byte
		if !wasClosing {
			reply = e.buildFrame(ws.OpClose, payload)
		}

		return &WSEvent{Kind: CloseReceived, Code: code, Reason: reason, Reply: reply}, true

	default:
		return nil, false
	}
}

func parseCloseBody(b []byte) (*int, string) {
	if len(b) < 2 {
		return nil, ""
	}
	code := int(binary.BigEndian.Uint16(b[:2]))
	return &code, string(b[2:])
}

func closeFrameBody(code int, reason string) []byte {
	b := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(b[:2], uint16(code))
	copy(b[2:], reason)
	return b
}

// buildFrame constructs a masked client frame ready to transmit.
func (e *wsEngine) buildFrame(op ws.OpCode, payload []byte) []byte {
	masked := append([]byte(nil), payload...)
	var mask [4]byte
	_, _ = rand.Read(mask[:])
	ws.Cipher(masked, mask, 0)

	hdr := ws.Header{
		Fin:    true,
		OpCode: op,
		Masked: true,
		Mask:   mask,
		Length: int64(len(payload)),
	}

	var buf bytes.Buffer
	_ = ws.WriteHeader(&buf, hdr)
	buf.Write(masked)
	return buf.Bytes()
}

// sendMessage produces outbound frame bytes for a complete application
// message.
func (e *wsEngine) sendMessage(data []byte, binary bool) []byte {
	op := ws.OpText
	if binary {
		op = ws.OpBinary
	}
	return e.buildFrame(op, data)
}

// sendClose produces an outbound close frame and, if the engine is Open,
// transitions it to Closing; in any other state the state is unchanged.
func (e *wsEngine) sendClose(code int, reason string) []byte {
	if e.state == wsOpen {
		e.state = wsClosing
	}
	return e.buildFrame(ws.OpClose, closeFrameBody(code, reason))
}

// sendPong produces outbound pong bytes answering a received ping.
func (e *wsEngine) sendPong(payload []byte) []byte {
	return e.buildFrame(ws.OpPong, payload)
}
