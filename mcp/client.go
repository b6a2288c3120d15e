// Package mcp implements a client for tool servers spoken to over the
// standard streams of a spawned subprocess.
//
// The wire protocol is newline-delimited JSON-RPC 2.0 in the shape of the
// Model Context Protocol: an initialize handshake, then correlated
// request/response pairs for tools/list and tools/call. Multiple calls may
// be outstanding concurrently against one session; responses arriving out
// of order are routed back to the right waiter by their correlation id.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/guchang/superinbox-sub005/errors"
)

// DefaultTimeout bounds every correlated request when the config does not
// override it.
const DefaultTimeout = 30 * time.Second

// scanner buffer sizing: some tool servers return large page payloads in a
// single line.
const (
	scanBufferInitial = 64 * 1024
	scanBufferMax     = 10 * 1024 * 1024
)

// Config describes how to launch and drive one tool server subprocess.
type Config struct {
	Command string            // executable to spawn
	Args    []string          // argv after the executable
	Env     map[string]string // appended to the parent environment
	Timeout time.Duration     // per-request timeout; DefaultTimeout when zero
	Logger  *zap.SugaredLogger
}

type sessionState int

const (
	stateNew sessionState = iota
	stateReady
	stateClosed
)

// Client owns one spawned tool server process and correlates requests to
// responses across its standard streams.
type Client struct {
	cfg Config
	log *zap.SugaredLogger

	mu    sync.Mutex
	state sessionState
	cmd   *exec.Cmd

	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan *response

	done     chan struct{}
	doneOnce sync.Once
	readOnce sync.Once

	serverInfo entityInfo
}

// NewClient creates a client. The subprocess is not spawned until
// Initialize is called.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		cfg:     cfg,
		log:     log.With("command", cfg.Command),
		pending: make(map[int64]chan *response),
		done:    make(chan struct{}),
	}
}

// Initialize spawns the subprocess and performs the capability handshake.
// It is idempotent: calling it on an already-initialized session is a
// no-op. A process that exits before handshake completion, or a malformed
// handshake response, yields a StartupError.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case stateReady:
		c.mu.Unlock()
		return nil
	case stateClosed:
		c.mu.Unlock()
		return errors.WithStack(ErrClosed)
	}

	if c.stdin == nil {
		if err := c.spawn(); err != nil {
			c.mu.Unlock()
			return &StartupError{Command: c.cfg.Command, Err: err}
		}
	}
	// Exactly one reader per session: concurrent Initialize calls racing
	// past the state check must not each start a scanner over stdout.
	c.readOnce.Do(func() {
		go c.readLoop()
	})
	c.mu.Unlock()

	if err := c.handshake(ctx); err != nil {
		c.Kill()
		return &StartupError{Command: c.cfg.Command, Err: err}
	}

	c.mu.Lock()
	c.state = stateReady
	c.mu.Unlock()

	c.log.Debugw("Tool server session ready",
		"server", c.serverInfo.Name,
		"server_version", c.serverInfo.Version,
	)
	return nil
}

func (c *Client) spawn() error {
	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start process")
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout

	// Tool servers log freely on stderr; surface it at debug level so a
	// misbehaving server can be diagnosed without polluting our output.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			c.log.Debugw("Tool server stderr", "line", scanner.Text())
		}
	}()

	// Process exit fails every pending waiter immediately rather than
	// leaving them to time out.
	go func() {
		err := cmd.Wait()
		c.log.Debugw("Tool server process exited", "error", err)
		c.shutdown()
	}()

	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	raw, err := c.roundTrip(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      entityInfo{Name: "superinbox", Version: "1.0.0"},
	})
	if err != nil {
		return err
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return errors.Wrap(err, "malformed initialize response")
	}
	if result.ProtocolVersion == "" {
		return errors.New("initialize response missing protocol version")
	}
	c.serverInfo = result.ServerInfo

	return c.notify("notifications/initialized", nil)
}

// ListTools requests the set of invocable remote tools.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := c.roundTrip(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}

	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "malformed tools/list response")
	}
	return result.Tools, nil
}

// CallTool invokes a named remote tool and suspends the caller until a
// matching response arrives or the timeout elapses. A tool-level error is
// reported as a ToolError; the session stays alive for subsequent calls.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallToolResult, error) {
	raw, err := c.roundTrip(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			return nil, &ToolError{Tool: name, Message: rpcErr.Message}
		}
		return nil, err
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "malformed tools/call response")
	}
	if result.IsError {
		return nil, &ToolError{Tool: name, Message: result.Text()}
	}
	return &result, nil
}

// Kill terminates the subprocess and fails all pending correlated
// requests. Safe to call multiple times.
func (c *Client) Kill() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	cmd := c.cmd
	stdin := c.stdin
	c.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	c.shutdown()
	return nil
}

// Closed reports whether the session has been torn down or the process
// has exited.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// roundTrip sends one correlated request and blocks until its response,
// the timeout, session shutdown, or context cancellation.
func (c *Client) roundTrip(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.Closed() {
		return nil, errors.WithStack(ErrClosed)
	}

	id := c.nextID.Add(1)
	ch := make(chan *response, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.writeMessage(request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		c.unregister(id)
		return nil, err
	}

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-timer.C:
		c.unregister(id)
		return nil, &TimeoutError{Method: method, Timeout: c.cfg.Timeout}
	case <-c.done:
		return nil, errors.WithStack(ErrClosed)
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	}
}

func (c *Client) notify(method string, params interface{}) error {
	return c.writeMessage(request{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) writeMessage(msg request) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return errors.Wrap(err, "write to tool server")
	}
	return nil
}

func (c *Client) unregister(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// readLoop is the single reader of the process's stdout. The scanner
// reassembles buffered partial lines until a full message boundary is
// seen before any parsing happens.
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, scanBufferInitial), scanBufferMax)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.log.Debugw("Discarding unparseable line from tool server", "error", err)
			continue
		}
		if resp.ID == 0 {
			// Server-initiated notification; nothing is waiting on it.
			c.log.Debugw("Tool server notification", "method", resp.Method)
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.pendingMu.Unlock()

		if !ok {
			// Late response for a waiter that already timed out.
			c.log.Debugw("Dropping uncorrelated response", "id", resp.ID)
			continue
		}
		ch <- &resp
	}

	// Stream ended: broken pipe or process exit.
	c.shutdown()
}

// shutdown marks the session dead and releases every pending waiter.
// Each waiter observes the closed done channel and fails with ErrClosed.
func (c *Client) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
	})

	c.pendingMu.Lock()
	c.pending = make(map[int64]chan *response)
	c.pendingMu.Unlock()

	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
}

// Error implements the error interface so JSON-RPC error objects can flow
// through the errors package unchanged.
func (e *rpcError) Error() string {
	return e.Message
}
