// Package gateway implements the sans-I/O core of a Discord gateway
// client: a protocol state machine that consumes bytes read from a
// WebSocket connection and produces bytes to be written to one, without
// ever touching a socket, a timer, or a goroutine itself. Callers own the
// transport loop; see cmd/gatewaymon for a minimal one built on
// gorilla/websocket.
package gateway

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/cenk/backoff"
	"github.com/vantagegg/gatewaycore/observe"
)

// APIVersion is the gateway API version requested on every upgrade.
const APIVersion = 10

// GatewayRetriever looks up the wss:// URL to connect to. The gateway
// core itself never calls this; it is a convenience for callers building
// their own connect loop, the same role HTTPGatewayRetriever plays
// against Discord's REST API.
type GatewayRetriever interface {
	Gateway() (url string, err error)
}

// HTTPGatewayRetriever implements GatewayRetriever against Discord's
// REST API (or a compatible stand-in, such as an httptest server in
// tests).
type HTTPGatewayRetriever struct {
	Client  *http.Client
	BaseURL string
}

type gatewayResponse struct {
	URL string `json:"url"`
}

// Gateway implements GatewayRetriever.
func (h HTTPGatewayRetriever) Gateway() (string, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	res, err := client.Get(h.BaseURL + "/gateway")
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	b, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return "", err
	}

	var data gatewayResponse
	if err := json.Unmarshal(b, &data); err != nil {
		return "", err
	}

	return data.URL, nil
}

// Options configures a Connection. The zero value is valid; fillDefaults
// is applied by New.
type Options struct {
	// Encoding selects the payload wire format. Defaults to EncodingJSON.
	Encoding Encoding

	// ZlibStream enables Discord's persistent zlib-stream transport
	// compression. Defaults to false.
	ZlibStream    bool
	zlibStreamSet bool

	// DispatchHandled, when true, also surfaces the op-codes the core
	// answers automatically (HEARTBEAT, HEARTBEAT_ACK, RECONNECT,
	// INVALID_SESSION) as Events, in addition to acting on them. Defaults
	// to false: callers who only want DISPATCH events see a quieter
	// stream.
	DispatchHandled bool

	// Debugger receives raw traffic and errors. Defaults to observe.Nil.
	Debugger observe.Debugger

	// Backoff computes the reconnect delay returned from Reconnect.
	// Defaults to the spec-fixed exponential-plus-jitter schedule; inject
	// a github.com/cenk/backoff implementation to override it.
	Backoff backoff.BackOff
}

// SetZlibStream chooses whether to request zlib-stream compression; it
// has the same effect as assigning ZlibStream.
func (o *Options) SetZlibStream(v bool) {
	o.ZlibStream = v
	o.zlibStreamSet = true
}

func (o *Options) fillDefaults() {
	if o.Debugger == nil {
		o.Debugger = observe.Nil
	}
	if o.Backoff == nil {
		o.Backoff = newSpecBackoff()
	}
}

// normalizeHost accepts a bare host or a wss:// URL and returns the bare
// host Connect should open a TCP connection to. A ws:// URL is rejected:
// the gateway never serves plaintext.
func normalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)

	if strings.HasPrefix(host, "ws://") {
		return "", &InvalidStateError{Op: "New", Reason: "the gateway requires wss://, not ws://"}
	}
	host = strings.TrimPrefix(host, "wss://")
	host = strings.TrimSuffix(host, "/")

	if host == "" {
		return "", &InvalidStateError{Op: "New", Reason: "empty host"}
	}

	return host, nil
}
