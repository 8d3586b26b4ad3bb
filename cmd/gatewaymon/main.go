// Command gatewaymon is a minimal manual-test client for the gateway
// package: it opens a real WebSocket connection with
// github.com/gorilla/websocket, feeds every frame it reads to a
// gateway.Connection, and prints the DISPATCH events that come back. It
// exists to exercise the core against the live Discord gateway - the
// core itself never imports gorilla/websocket.
package main

import (
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vantagegg/gatewaycore"
	"github.com/vantagegg/gatewaycore/observe"
	"github.com/vantagegg/gatewaycore/wire"
)

func main() {
	token := flag.String("token", os.Getenv("DISCORD_TOKEN"), "bot token")
	host := flag.String("host", "gateway.discord.gg", "gateway host (bare, no scheme)")
	verbose := flag.Bool("v", false, "log raw traffic")
	flag.Parse()

	if *token == "" {
		log.Fatal("gatewaymon: -token or DISCORD_TOKEN is required")
	}

	opts := &gateway.Options{}
	if *verbose {
		opts.Debugger = observe.StderrDebugger{Truncate: true}
	}

	conn, err := gateway.New(*host, opts)
	if err != nil {
		log.Fatalf("gatewaymon: %v", err)
	}

	run(conn, *token)
}

// run makes connection attempts with dialAndServe, sleeping between them
// for as long as the previous attempt asks, until an attempt reports that
// no further one should be made. Within an attempt, the read loop in
// dialAndServe feeds inbound bytes to conn, and a writer goroutine sends
// what the outbound queue carries: the buffers Receive returns, the
// IDENTIFY sent once HELLO arrives, heartbeats, and the final close.
func run(conn *gateway.Connection, token string) {
	for {
		sleep := dialAndServe(conn, token)
		if sleep < 0 {
			return
		}
		log.Printf("gatewaymon: reconnecting in %ds", sleep)
		time.Sleep(time.Duration(sleep) * time.Second)
	}
}

// dialAndServe runs a single connection attempt end to end. It returns
// the number of seconds to wait before the next attempt, or -1 if no
// further attempt should be made (a fatal close, or an interrupt).
func dialAndServe(conn *gateway.Connection, token string) int {
	host, port := conn.Destination()
	u := url.URL{Scheme: "wss", Host: host + portSuffix(port), Path: "/"}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		log.Printf("gatewaymon: dial: %v", err)
		return 5
	}
	defer ws.Close()

	outbound := newOutboundQueue()
	defer outbound.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Everything conn hands back (Identify, Resume, Heartbeat, Close, and
	// the auto-answered replies surfaced through Receive) is already a
	// complete, masked WebSocket frame - conn owns framing end to end, so
	// these bytes go straight to the wire rather than through
	// ws.WriteMessage, which would frame them a second time.
	raw := ws.UnderlyingConn()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			frame, ok := outbound.Pop()
			if !ok {
				return
			}
			if _, err := raw.Write(frame); err != nil {
				log.Printf("gatewaymon: write: %v", err)
				return
			}
		}
	}()

	identified := false
	heartbeatStarted := false
	heartbeatStop := make(chan struct{})
	defer close(heartbeatStop)

	for {
		select {
		case <-interrupt:
			outbound.Push(conn.Close(1000, "bye"))
			<-writerDone
			return -1
		default:
		}

		if !heartbeatStarted && conn.HeartbeatInterval() > 0 {
			heartbeatStarted = true
			go heartbeatLoop(conn, outbound, heartbeatStop)
		}

		_, body, err := ws.ReadMessage()
		if err != nil {
			outbound.Close()
			<-writerDone
			frames, recvErr := conn.Receive(nil)
			_ = frames
			_ = recvErr
			if !conn.ShouldReconnect() {
				return -1
			}
			sleep, _ := conn.Reconnect()
			return sleep
		}

		frames, recvErr := conn.Receive(body)
		for _, f := range frames {
			outbound.Push(f)
		}

		if !identified && conn.HeartbeatInterval() > 0 {
			identified = true
			var frame []byte
			var err error
			if conn.ShouldReconnect() {
				frame, err = conn.Identify(token, 0, wire.Properties{
					OS:      "linux",
					Browser: "gatewaymon",
					Device:  "gatewaymon",
				}, gateway.IdentifyOptions{})
			}
			if err == nil && frame != nil {
				outbound.Push(frame)
			}
		}

		for _, ev := range conn.Events() {
			log.Printf("event: %s seq=%d", ev.Name, ev.Sequence)
		}

		if recvErr != nil {
			outbound.Close()
			<-writerDone
			ws.Close()
			if !conn.ShouldReconnect() {
				log.Printf("gatewaymon: fatal close: %v", recvErr)
				return -1
			}
			sleep, _ := conn.Reconnect()
			return sleep
		}
	}
}

func heartbeatLoop(conn *gateway.Connection, outbound *outboundQueue, stop <-chan struct{}) {
	interval := time.Duration(conn.HeartbeatInterval() * float64(time.Second))
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			frame, err := conn.Heartbeat()
			if err != nil || frame == nil {
				return
			}
			outbound.Push(frame)
		}
	}
}

func portSuffix(port int) string {
	if port == 443 {
		return ""
	}
	return ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
