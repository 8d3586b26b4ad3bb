package gateway

import (
	"bytes"
	"compress/zlib"
	"encoding/gob"
	"encoding/json"
	"io"

	"github.com/vantagegg/gatewaycore/opcode"
	"github.com/vantagegg/gatewaycore/wire"
)

// Encoding selects the wire representation for gateway payloads. It is
// fixed at Connection construction and cannot change afterward.
type Encoding int

const (
	// EncodingJSON is Discord's textual payload encoding.
	EncodingJSON Encoding = iota
	// EncodingBinary is a tagged binary envelope standing in for ETF; see
	// DESIGN.md for why this, rather than an erlpack port, is used.
	EncodingBinary
)

func (e Encoding) queryValue() string {
	if e == EncodingBinary {
		return "etf"
	}
	return "json"
}

// binaryEnvelope is the gob-tagged shape used for EncodingBinary. The
// inner "d" payload stays JSON-encoded regardless of the outer encoding;
// only the envelope framing differs between the two encodings.
type binaryEnvelope struct {
	Op      int
	Data    []byte
	Seq     int64
	HasSeq  bool
	Type    string
	HasType bool
}

// codec encodes and decodes gateway payloads against the configured
// encoding, optionally passing inbound bytes through a persistent
// zlib-stream decompressor whose state lives for the life of the
// Connection that owns it.
type codec struct {
	encoding   Encoding
	zlibStream bool

	compressed *bytes.Buffer
	inflator   io.ReadCloser
}

func newCodec(encoding Encoding, zlibStream bool) *codec {
	c := &codec{encoding: encoding, zlibStream: zlibStream}
	c.reset()
	return c
}

// reset discards the streaming decompressor and its backlog. Called on
// Connection construction and on every reconnect.
func (c *codec) reset() {
	if c.inflator != nil {
		c.inflator.Close()
	}
	c.inflator = nil
	c.compressed = new(bytes.Buffer)
}

// decode parses a fully reassembled application message (as delivered by
// the WebSocketEngine) into an Envelope.
func (c *codec) decode(b []byte) (wire.Envelope, error) {
	if c.zlibStream {
		inflated, err := c.inflate(b)
		if err != nil {
			return wire.Envelope{}, &ProtocolError{Kind: DecompressionFailed, Err: err}
		}
		b = inflated
	}

	switch c.encoding {
	case EncodingBinary:
		var be binaryEnvelope
		dec := gob.NewDecoder(bytes.NewReader(b))
		if err := dec.Decode(&be); err != nil {
			return wire.Envelope{}, &ProtocolError{Kind: MalformedPayload, Err: err}
		}

		env := wire.Envelope{Op: be.Op, Data: json.RawMessage(be.Data)}
		if be.HasSeq {
			seq := be.Seq
			env.Seq = &seq
		}
		if be.HasType {
			t := be.Type
			env.Type = &t
		}
		return env, nil

	default:
		var env wire.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			return wire.Envelope{}, &ProtocolError{Kind: MalformedPayload, Err: err}
		}
		return env, nil
	}
}

// encode builds the wire bytes for an outbound payload. data is marshaled
// to JSON first regardless of the outer encoding; see binaryEnvelope.
func (c *codec) encode(op opcode.Opcode, seq *int64, eventType *string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, &ProtocolError{Kind: MalformedPayload, Err: err}
	}

	switch c.encoding {
	case EncodingBinary:
		be := binaryEnvelope{Op: int(op), Data: raw}
		if seq != nil {
			be.HasSeq, be.Seq = true, *seq
		}
		if eventType != nil {
			be.HasType, be.Type = true, *eventType
		}

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(be); err != nil {
			return nil, &ProtocolError{Kind: MalformedPayload, Err: err}
		}
		return buf.Bytes(), nil

	default:
		env := wire.Envelope{Op: int(op), Data: raw, Seq: seq, Type: eventType}
		return json.Marshal(env)
	}
}

// inflate appends b to the persistent compressed backlog and drains as
// much decompressed output as is currently available.
//
// The flate reader behind zlib.Reader caches any error from its source,
// and running out of input in mid-stream is such an error (an unexpected
// EOF), after which the reader is unusable. So reading stops as soon as
// the backlog has been consumed - which, for a message ending on a
// Z_SYNC_FLUSH boundary, is right after its last byte has been output -
// and the reader never asks for more input than has arrived. buf is as
// large as the flate window, so one Read always hands over everything the
// decompressor has flushed.
func (c *codec) inflate(b []byte) ([]byte, error) {
	c.compressed.Write(b)

	if c.inflator == nil {
		r, err := zlib.NewReader(c.compressed)
		if err != nil {
			return nil, err
		}
		c.inflator = r
	}

	var out bytes.Buffer
	buf := make([]byte, 1<<15)
	for c.compressed.Len() > 0 {
		n, err := c.inflator.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	return out.Bytes(), nil
}
