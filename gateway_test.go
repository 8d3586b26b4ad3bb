package gateway

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGatewayReadsGood(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/gateway")
		fmt.Fprintln(w, `{"url":"wss://gateway.discord.gg"}`)
	}))
	defer ts.Close()

	gw, err := HTTPGatewayRetriever{Client: http.DefaultClient, BaseURL: ts.URL}.Gateway()

	assert.Nil(t, err)
	assert.Equal(t, "wss://gateway.discord.gg", gw)
}

func TestGatewayErrorsOnBadPacket(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"url":"wss://ga`)
	}))
	defer ts.Close()

	_, err := HTTPGatewayRetriever{Client: http.DefaultClient, BaseURL: ts.URL}.Gateway()

	assert.NotNil(t, err)
}

func TestGatewayPropagatesHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		fmt.Fprintln(w, `{"url":"wss://gateway.discord.gg"}`)
	}))
	defer ts.Close()

	_, err := HTTPGatewayRetriever{
		Client:  &http.Client{Timeout: time.Nanosecond},
		BaseURL: ts.URL,
	}.Gateway()

	assert.NotNil(t, err)
}

func TestNormalizeHost(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"gateway.discord.gg", "gateway.discord.gg", false},
		{"wss://gateway.discord.gg", "gateway.discord.gg", false},
		{"wss://gateway.discord.gg/", "gateway.discord.gg", false},
		{"ws://gateway.discord.gg", "", true},
		{"", "", true},
	}

	for _, c := range cases {
		got, err := normalizeHost(c.in)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestOptionsFillDefaults(t *testing.T) {
	opts := &Options{}
	opts.fillDefaults()

	assert.False(t, opts.ZlibStream)
	assert.NotNil(t, opts.Debugger)
	assert.NotNil(t, opts.Backoff)

	opts2 := &Options{}
	opts2.SetZlibStream(false)
	opts2.fillDefaults()
	assert.False(t, opts2.ZlibStream)
}

func TestNewRejectsPlaintext(t *testing.T) {
	_, err := New("ws://gateway.discord.gg", nil)
	assert.Error(t, err)
}

func TestNewNeverBlocks(t *testing.T) {
	conn, err := New("gateway.discord.gg", nil)
	assert.NoError(t, err)
	assert.NotNil(t, conn)
	assert.False(t, conn.Closed())
}
