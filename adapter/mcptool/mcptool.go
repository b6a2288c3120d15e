// Package mcptool implements the protocol adapter family: destinations
// reached through a spawned tool server subprocess instead of a direct
// HTTP call. One adapter owns one subprocess session and reuses it
// across dispatches, respawning if the process has died.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/guchang/superinbox-sub005/adapter"
	"github.com/guchang/superinbox-sub005/errors"
	"github.com/guchang/superinbox-sub005/item"
	"github.com/guchang/superinbox-sub005/mcp"
)

// protocolClient is the slice of mcp.Client the adapter drives. Tests
// substitute a fake so dispatch behavior is exercised without spawning
// real subprocesses.
type protocolClient interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	Kill() error
	Closed() bool
}

// authEnvVars maps a declared server kind to the environment variable
// its tool server reads credentials from.
var authEnvVars = map[string]string{
	"notion":  "NOTION_API_KEY",
	"todoist": "TODOIST_API_TOKEN",
	"linear":  "LINEAR_API_KEY",
	"github":  "GITHUB_TOKEN",
}

// taskCategories route to a task-creating tool; everything else goes to
// a page/note-creating tool.
var taskCategories = map[string]bool{
	"task":     true,
	"todo":     true,
	"reminder": true,
}

// Adapter bridges dispatch onto a subprocess tool server session.
type Adapter struct {
	adapterType string
	log         *zap.SugaredLogger

	// newClient builds the session; swapped out in tests.
	newClient func(mcp.Config) protocolClient

	mu          sync.Mutex
	initialized bool
	cfg         *adapter.Config
	clientCfg   mcp.Config
	client      protocolClient
	tools       []mcp.Tool
}

// New creates an uninitialized protocol adapter for the given type key.
func New(adapterType string, logger *zap.SugaredLogger) *Adapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Adapter{
		adapterType: adapterType,
		log:         logger.With("adapter", adapterType),
		newClient: func(cfg mcp.Config) protocolClient {
			return mcp.NewClient(cfg)
		},
	}
}

// Type returns the adapter type key.
func (a *Adapter) Type() string { return a.adapterType }

// Validate checks the launch command without spawning anything.
func (a *Adapter) Validate(cfg *adapter.Config) error {
	if cfg.Command == "" {
		return errors.New("command is required")
	}
	if _, err := shellquote.Split(cfg.Command); err != nil {
		return errors.Wrap(err, "unparseable launch command")
	}
	return nil
}

// Initialize spawns the tool server, performs the session handshake, and
// caches the remote tool inventory. Idempotent.
func (a *Adapter) Initialize(ctx context.Context, cfg *adapter.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}
	if err := a.Validate(cfg); err != nil {
		return err
	}

	clientCfg, err := a.buildClientConfig(cfg)
	if err != nil {
		return err
	}

	client := a.newClient(clientCfg)
	if err := client.Initialize(ctx); err != nil {
		return errors.Wrap(err, "tool server startup")
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		client.Kill()
		return errors.Wrap(err, "list tools")
	}
	if len(tools) == 0 {
		client.Kill()
		return errors.New("tool server exposes no tools")
	}

	a.cfg = cfg
	a.clientCfg = clientCfg
	a.client = client
	a.tools = tools
	a.initialized = true

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	a.log.Debugw("Protocol adapter initialized", "command", cfg.Command, "tools", names)
	return nil
}

func (a *Adapter) buildClientConfig(cfg *adapter.Config) (mcp.Config, error) {
	words, err := shellquote.Split(cfg.Command)
	if err != nil {
		return mcp.Config{}, errors.Wrap(err, "unparseable launch command")
	}

	args := append(words[1:], cfg.Args...)

	env := make(map[string]string, len(cfg.Env)+1)
	for k, v := range cfg.Env {
		env[k] = v
	}
	if cfg.Token != "" {
		env[authEnvVar(cfg.Kind)] = cfg.Token
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	return mcp.Config{
		Command: words[0],
		Args:    args,
		Env:     env,
		Timeout: timeout,
		Logger:  a.log,
	}, nil
}

// authEnvVar picks the credential variable for a server kind, falling
// back to a generic name for kinds we have no mapping for.
func authEnvVar(kind string) string {
	if v, ok := authEnvVars[kind]; ok {
		return v
	}
	if kind == "" {
		return "API_TOKEN"
	}
	return strings.ToUpper(kind) + "_API_TOKEN"
}

// Distribute routes the item to a remote tool chosen by category. Every
// fault, including a dead session that cannot be revived, becomes a
// failed result.
func (a *Adapter) Distribute(ctx context.Context, it *item.Item) *adapter.Result {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return adapter.Failed(it.ID, a.adapterType, "", "adapter not initialized")
	}
	client, err := a.sessionLocked(ctx)
	if err != nil {
		a.mu.Unlock()
		return adapter.Failed(it.ID, a.adapterType, a.cfg.Command, fmt.Sprintf("session unavailable: %v", err))
	}
	tools := a.tools
	target := a.cfg.Command
	a.mu.Unlock()

	tool, ok := selectTool(tools, it.Category)
	if !ok {
		return adapter.Failed(it.ID, a.adapterType, target, fmt.Sprintf("no tool fits category %q", it.Category))
	}

	args := buildArguments(it)
	result, err := client.CallTool(ctx, tool, args)
	if err != nil {
		return adapter.Failed(it.ID, a.adapterType, target, err.Error())
	}

	externalID, externalURL := parseToolRef(result.Text())
	a.log.Debugw("Item distributed", "item_id", it.ID, "tool", tool, "external_id", externalID)
	return adapter.Success(it.ID, a.adapterType, target, externalID, externalURL)
}

// sessionLocked returns a live client, respawning the subprocess when
// the previous session has died. Caller holds a.mu.
func (a *Adapter) sessionLocked(ctx context.Context) (protocolClient, error) {
	if a.client != nil && !a.client.Closed() {
		return a.client, nil
	}

	a.log.Infow("Tool server session dead, respawning")
	client := a.newClient(a.clientCfg)
	if err := client.Initialize(ctx); err != nil {
		return nil, err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		client.Kill()
		return nil, err
	}
	a.client = client
	a.tools = tools
	return client, nil
}

// HealthCheck reports whether the subprocess session is alive.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized && a.client != nil && !a.client.Closed()
}

// Close kills the subprocess session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.initialized = false
	if a.client == nil {
		return nil
	}
	err := a.client.Kill()
	a.client = nil
	return err
}

// selectTool matches the item category against the remote tool
// inventory: task-like categories prefer a task-creating tool, all
// others a page or note tool. Falls back to the first exposed tool so a
// single-tool server still works for every category.
func selectTool(tools []mcp.Tool, category string) (string, bool) {
	if len(tools) == 0 {
		return "", false
	}

	var wanted []string
	if taskCategories[category] {
		wanted = []string{"task", "todo"}
	} else {
		wanted = []string{"page", "note", "document"}
	}

	for _, fragment := range wanted {
		for _, tool := range tools {
			if strings.Contains(strings.ToLower(tool.Name), fragment) {
				return tool.Name, true
			}
		}
	}
	return tools[0].Name, true
}

// buildArguments shapes the item into tool-call arguments. Due dates
// are normalized to bare calendar dates; unparseable ones are omitted.
func buildArguments(it *item.Item) map[string]interface{} {
	args := map[string]interface{}{
		"title":   firstLine(it.Content),
		"content": it.Content,
	}
	if raw, ok := it.Field("due_date"); ok {
		if date, ok := NormalizeDate(raw); ok {
			args["due_date"] = date
		}
	}
	for name, value := range it.Entities {
		if name == "due_date" {
			continue
		}
		args[name] = value
	}
	return args
}

// maxTitleRunes bounds the derived title. Truncation counts runes so a
// multi-byte character is never split into invalid UTF-8.
const maxTitleRunes = 120

func firstLine(content string) string {
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[:i]
	}
	if utf8.RuneCountInString(content) > maxTitleRunes {
		content = string([]rune(content)[:maxTitleRunes])
	}
	return content
}

// parseToolRef extracts an external id and url when the tool responds
// with a JSON object; plain-text responses yield neither. Best effort.
func parseToolRef(text string) (id string, url string) {
	var ref struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(text), &ref); err != nil {
		return "", ""
	}
	return ref.ID, ref.URL
}
