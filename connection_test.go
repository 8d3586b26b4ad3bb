package gateway

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/gobwas/ws"
	"github.com/stretchr/testify/suite"

	"github.com/vantagegg/gatewaycore/wire"
)

// peerFrame builds the bytes a conforming gateway server would send for
// one complete, unfragmented JSON message.
func peerFrame(op ws.OpCode, payload []byte) []byte {
	hdr := ws.Header{Fin: true, OpCode: op, Length: int64(len(payload))}
	var buf bytes.Buffer
	ws.WriteHeader(&buf, hdr)
	buf.Write(payload)
	return buf.Bytes()
}

func envelopeBytes(op int, seq *int64, typ *string, data interface{}) []byte {
	raw, _ := json.Marshal(data)
	env := wire.Envelope{Op: op, Data: raw, Seq: seq, Type: typ}
	b, _ := json.Marshal(env)
	return b
}

type ConnectionSuite struct {
	suite.Suite
	conn *Connection
}

func (s *ConnectionSuite) SetupTest() {
	conn, err := New("gateway.discord.gg", nil)
	s.Require().NoError(err)
	s.conn = conn
}

func (s *ConnectionSuite) upgrade() {
	_ = s.conn.Connect()
	_, err := s.conn.Receive([]byte("HTTP/1.1 101 Switching Protocols\r\n\r\n"))
	s.Require().NoError(err)
}

func (s *ConnectionSuite) sendHello(intervalMs int64) {
	hello := envelopeBytes(10, nil, nil, wire.Hello{HeartbeatIntervalMillis: intervalMs})
	_, err := s.conn.Receive(peerFrame(ws.OpText, hello))
	s.Require().NoError(err)
}

func (s *ConnectionSuite) TestHappyPathIdentify() {
	s.upgrade()
	s.sendHello(41250)
	s.Equal(41.25, s.conn.HeartbeatInterval())

	frame, err := s.conn.Identify("tooken", 513, wire.Properties{OS: "linux", Browser: "b", Device: "d"}, IdentifyOptions{})
	s.Require().NoError(err)

	r := bytes.NewReader(frame)
	hdr, err := ws.ReadHeader(r)
	s.Require().NoError(err)
	body := make([]byte, hdr.Length)
	_, _ = r.Read(body)
	if hdr.Masked {
		ws.Cipher(body, hdr.Mask, 0)
	}

	s.JSONEq(`{"op":2,"d":{"token":"tooken","intents":513,"properties":{"os":"linux","browser":"b","device":"d"}},"s":null,"t":null}`, string(body))
}

func (s *ConnectionSuite) TestReadyCapturesSessionAndHeartbeatCycle() {
	s.upgrade()
	s.sendHello(100)

	ready := envelopeBytes(0, int64Ptr(1), strPtr("READY"), wire.Ready{SessionID: "abc123", ResumeGatewayURL: "gateway.discord.gg"})
	_, err := s.conn.Receive(peerFrame(ws.OpText, ready))
	s.Require().NoError(err)

	events := s.conn.Events()
	s.Require().Len(events, 2) // HELLO, then READY dispatch
	s.Equal("HELLO", events[0].Name)
	s.Equal("READY", events[1].Name)

	hb, err := s.conn.Heartbeat()
	s.Require().NoError(err)
	s.NotEmpty(hb)

	ack := envelopeBytes(11, nil, nil, nil)
	_, err = s.conn.Receive(peerFrame(ws.OpText, ack))
	s.Require().NoError(err)

	hb2, err := s.conn.Heartbeat()
	s.Require().NoError(err)
	s.NotEmpty(hb2)
}

func (s *ConnectionSuite) TestZombiedHeartbeatClosesLocally() {
	s.upgrade()
	s.sendHello(100)

	_, err := s.conn.Heartbeat()
	s.Require().NoError(err)

	frame, err := s.conn.Heartbeat()
	s.Require().NoError(err)
	s.NotEmpty(frame)
	s.True(s.conn.Closing())
}

func (s *ConnectionSuite) TestResumableCloseThenResume() {
	s.upgrade()
	s.sendHello(100)

	ready := envelopeBytes(0, int64Ptr(5), strPtr("READY"), wire.Ready{SessionID: "sess1", ResumeGatewayURL: "gateway.discord.gg"})
	_, err := s.conn.Receive(peerFrame(ws.OpText, ready))
	s.Require().NoError(err)
	s.conn.Events()

	closeBody := closeFrameBody(4000, "unknown error")
	_, err = s.conn.Receive(peerFrame(ws.OpClose, closeBody))
	s.Require().Error(err)
	var cdc *CloseDiscordConnection
	s.Require().ErrorAs(err, &cdc)

	s.True(s.conn.ShouldReconnect())
	sleep, err := s.conn.Reconnect()
	s.Require().NoError(err)
	s.Equal(1, s.conn.ReconnectAttempts())
	s.Equal(1, sleep)

	s.upgrade()
	s.sendHello(100)

	frame, err := s.conn.Resume("tooken")
	s.Require().NoError(err)

	r := bytes.NewReader(frame)
	hdr, _ := ws.ReadHeader(r)
	body := make([]byte, hdr.Length)
	_, _ = r.Read(body)
	if hdr.Masked {
		ws.Cipher(body, hdr.Mask, 0)
	}
	s.JSONEq(`{"op":6,"d":{"token":"tooken","session_id":"sess1","seq":5},"s":null,"t":null}`, string(body))
}

func (s *ConnectionSuite) TestInvalidSessionNonResumableClearsSession() {
	s.upgrade()
	s.sendHello(100)

	ready := envelopeBytes(0, int64Ptr(1), strPtr("READY"), wire.Ready{SessionID: "sess1", ResumeGatewayURL: "gateway.discord.gg"})
	_, err := s.conn.Receive(peerFrame(ws.OpText, ready))
	s.Require().NoError(err)
	s.conn.Events()

	inv := envelopeBytes(9, nil, nil, false)
	_, err = s.conn.Receive(peerFrame(ws.OpText, inv))
	s.Require().Error(err)

	s.True(s.conn.ShouldReconnect())
	s.False(s.conn.session.shouldResume())
}

func (s *ConnectionSuite) TestFatalCloseForbidsReconnect() {
	s.upgrade()
	s.sendHello(100)

	closeBody := closeFrameBody(4004, "authentication failed")
	_, err := s.conn.Receive(peerFrame(ws.OpClose, closeBody))
	s.Require().Error(err)

	s.False(s.conn.ShouldReconnect())
	_, err = s.conn.Reconnect()
	s.Error(err)
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func TestConnectionSuite(t *testing.T) {
	suite.Run(t, new(ConnectionSuite))
}
