package mcp

import (
	"fmt"
	"time"

	"github.com/guchang/superinbox-sub005/errors"
)

// ErrClosed is returned for requests against a closed session, and is the
// cause delivered to every waiter still pending when the session dies.
var ErrClosed = errors.New("mcp: session closed")

// StartupError reports a subprocess that exited before handshake
// completion or answered the handshake with a malformed response.
type StartupError struct {
	Command string
	Err     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("mcp: startup of %q failed: %v", e.Command, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// TimeoutError reports a correlated request that received no response
// within the session's configured timeout. The underlying subprocess is
// left running; only the waiting call fails.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mcp: %s timed out after %s", e.Method, e.Timeout)
}

// ToolError reports an error surfaced by the remote tool itself, as
// opposed to a transport failure. The session remains usable.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp: tool %q failed: %s", e.Tool, e.Message)
}
