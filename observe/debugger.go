// Package observe provides an optional, passive instrumentation hook for
// a Connection. It never performs networking and defaults to a no-op;
// callers who want visibility into the wire traffic plug in an
// implementation such as StderrDebugger.
package observe

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Debugger is notified of raw traffic and errors flowing through a
// Connection. Implementations must not block or mutate the given bytes.
type Debugger interface {
	// Incoming is called with each reassembled message payload received
	// from the gateway, as received: before decompression and decoding.
	Incoming(b []byte)

	// Outgoing is called with each buffer a successful Receive returns
	// for transmission. Buffers returned by Identify, Resume, Heartbeat
	// and Close, or by a Receive that also returns an error, are not
	// passed to it.
	Outgoing(b []byte)

	// Error is called when Receive meets an op-code it does not handle.
	// Errors returned to the caller are not passed to it.
	Error(err error)
}

// Nil is the default Debugger: all methods are no-ops.
var Nil Debugger = nilDebugger{}

type nilDebugger struct{}

func (nilDebugger) Incoming(b []byte) {}
func (nilDebugger) Outgoing(b []byte) {}
func (nilDebugger) Error(err error)   {}

const consoleWidth = 79

// StderrDebugger prints traffic and errors to stderr in color.
type StderrDebugger struct {
	// Truncate limits each printed line to consoleWidth runes instead of
	// wrapping it across multiple indented lines.
	Truncate bool
}

func (s StderrDebugger) writeOut(prefix, str string) {
	if s.Truncate && len(str) > consoleWidth {
		str = str[:consoleWidth-1] + "…"
	}

	indent := "    "
	width := consoleWidth - len(indent)

	fmt.Fprint(os.Stderr, prefix+" ")
	var i int
	for i = 1; i*width < len(str); i++ {
		fmt.Fprint(os.Stderr, str[(i-1)*width:i*width]+"\n"+indent)
	}
	fmt.Fprintln(os.Stderr, str[(i-1)*width:])
}

// Incoming implements Debugger.
func (s StderrDebugger) Incoming(b []byte) {
	s.writeOut(color.CyanString("<<<"), string(b))
}

// Outgoing implements Debugger.
func (s StderrDebugger) Outgoing(b []byte) {
	s.writeOut(color.GreenString(">>>"), string(b))
}

// Error implements Debugger.
func (s StderrDebugger) Error(err error) {
	col := color.New(color.FgBlack, color.BgRed)
	s.writeOut(col.SprintFunc()("ERR"), err.Error())
}
