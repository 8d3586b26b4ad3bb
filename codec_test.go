package gateway

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vantagegg/gatewaycore/opcode"
)

func TestCodecJSONRoundTrip(t *testing.T) {
	c := newCodec(EncodingJSON, false)

	seq := int64(42)
	typ := "MESSAGE_CREATE"
	raw, err := c.encode(opcode.Dispatch, &seq, &typ, map[string]string{"hello": "world"})
	assert.NoError(t, err)

	env, err := c.decode(raw)
	assert.NoError(t, err)
	assert.Equal(t, int(opcode.Dispatch), env.Op)
	assert.Equal(t, int64(42), *env.Seq)
	assert.Equal(t, "MESSAGE_CREATE", *env.Type)
	assert.JSONEq(t, `{"hello":"world"}`, string(env.Data))
}

func TestCodecBinaryRoundTrip(t *testing.T) {
	c := newCodec(EncodingBinary, false)

	raw, err := c.encode(opcode.Heartbeat, nil, nil, nil)
	assert.NoError(t, err)

	env, err := c.decode(raw)
	assert.NoError(t, err)
	assert.Equal(t, int(opcode.Heartbeat), env.Op)
	assert.Nil(t, env.Seq)
	assert.Nil(t, env.Type)
}

func TestCodecMalformedPayload(t *testing.T) {
	c := newCodec(EncodingJSON, false)
	_, err := c.decode([]byte("not json"))
	assert.Error(t, err)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, MalformedPayload, perr.Kind)
}

// zlibStreamBytes compresses each message with an individual Z_SYNC_FLUSH
// boundary, simulating how Discord frames a zlib-stream: all messages
// share one compressor state across the life of the connection.
func zlibStreamBytes(t *testing.T, msgs ...[]byte) [][]byte {
	t.Helper()

	var shared bytes.Buffer
	w := zlib.NewWriter(&shared)

	var out [][]byte
	for _, m := range msgs {
		_, err := w.Write(m)
		assert.NoError(t, err)
		assert.NoError(t, w.Flush())

		chunk := append([]byte(nil), shared.Bytes()...)
		out = append(out, chunk)
		shared.Reset()
	}
	return out
}

func TestCodecZlibStreamAcrossMessages(t *testing.T) {
	c := newCodec(EncodingJSON, true)

	first := []byte(`{"op":10,"d":{"heartbeat_interval":41250},"s":null,"t":null}`)
	second := []byte(`{"op":0,"d":{"session_id":"abc"},"s":1,"t":"READY"}`)

	chunks := zlibStreamBytes(t, first, second)

	env1, err := c.decode(chunks[0])
	assert.NoError(t, err)
	assert.Equal(t, int(opcode.Hello), env1.Op)

	env2, err := c.decode(chunks[1])
	assert.NoError(t, err)
	assert.Equal(t, int(opcode.Dispatch), env2.Op)
	assert.Equal(t, "READY", *env2.Type)
}

func TestCodecResetDiscardsBacklog(t *testing.T) {
	c := newCodec(EncodingJSON, true)

	first := []byte(`{"op":10,"d":{"heartbeat_interval":1},"s":null,"t":null}`)
	chunks := zlibStreamBytes(t, first)

	_, err := c.decode(chunks[0])
	assert.NoError(t, err)

	c.reset()
	assert.Nil(t, c.inflator)
	assert.Equal(t, 0, c.compressed.Len())
}
