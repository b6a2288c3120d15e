// Package rest implements the direct-call adapter family: one outbound
// HTTP request per dispatch to a configured destination endpoint.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/guchang/superinbox-sub005/adapter"
	"github.com/guchang/superinbox-sub005/errors"
	"github.com/guchang/superinbox-sub005/internal/httpclient"
	"github.com/guchang/superinbox-sub005/item"
)

const defaultTimeout = 15 * time.Second

// Outbound rate per destination. Most task/note APIs throttle well
// below this.
const (
	requestsPerSecond = 5
	burstSize         = 10
)

// Adapter posts items to a REST destination, mapping item fields into the
// destination's JSON schema via the configured field map.
type Adapter struct {
	adapterType string
	log         *zap.SugaredLogger

	mu          sync.Mutex
	initialized bool
	cfg         *adapter.Config
	client      *httpclient.SaferClient
	limiter     *rate.Limiter
}

// New creates an uninitialized REST adapter for the given type key.
func New(adapterType string, logger *zap.SugaredLogger) *Adapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Adapter{
		adapterType: adapterType,
		log:         logger.With("adapter", adapterType),
	}
}

// Type returns the adapter type key.
func (a *Adapter) Type() string { return a.adapterType }

// Validate checks the configuration without performing any I/O.
func (a *Adapter) Validate(cfg *adapter.Config) error {
	if cfg.BaseURL == "" {
		return errors.New("base_url is required")
	}
	probe := httpclient.NewSaferClientWithOptions(defaultTimeout, saferOptions(cfg))
	if err := probe.ValidateURL(cfg.BaseURL); err != nil {
		return errors.Wrap(err, "base_url rejected")
	}
	return nil
}

// Initialize builds the HTTP client and rate limiter. Idempotent.
func (a *Adapter) Initialize(ctx context.Context, cfg *adapter.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}
	if err := a.Validate(cfg); err != nil {
		return err
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	a.cfg = cfg
	a.client = httpclient.NewSaferClientWithOptions(timeout, saferOptions(cfg))
	a.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize)
	a.initialized = true

	a.log.Debugw("REST adapter initialized", "base_url", cfg.BaseURL)
	return nil
}

// Distribute sends the item with one POST. Every fault is converted into
// a failed result; nothing escapes as an error.
func (a *Adapter) Distribute(ctx context.Context, it *item.Item) *adapter.Result {
	a.mu.Lock()
	ready := a.initialized
	a.mu.Unlock()
	if !ready {
		return adapter.Failed(it.ID, a.adapterType, "", "adapter not initialized")
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return adapter.Failed(it.ID, a.adapterType, a.cfg.BaseURL, fmt.Sprintf("rate limiter: %v", err))
	}

	payload := a.buildPayload(it)
	body, err := json.Marshal(payload)
	if err != nil {
		return adapter.Failed(it.ID, a.adapterType, a.cfg.BaseURL, fmt.Sprintf("marshal payload: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return adapter.Failed(it.ID, a.adapterType, a.cfg.BaseURL, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return adapter.Failed(it.ID, a.adapterType, a.cfg.BaseURL, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return adapter.Failed(it.ID, a.adapterType, a.cfg.BaseURL,
			fmt.Sprintf("destination returned %d: %s", resp.StatusCode, snippet))
	}

	externalID, externalURL := parseDestinationRef(resp.Body)
	a.log.Debugw("Item distributed", "item_id", it.ID, "external_id", externalID)
	return adapter.Success(it.ID, a.adapterType, a.cfg.BaseURL, externalID, externalURL)
}

// HealthCheck probes the destination endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	a.mu.Lock()
	ready := a.initialized
	a.mu.Unlock()
	if !ready {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.cfg.BaseURL, nil)
	if err != nil {
		return false
	}
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// Close releases the transport. Nothing persistent to tear down for the
// REST family.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	return nil
}

// buildPayload maps item fields into the destination schema. The field
// map renames keys: {"title": "name"} sends the item title as "name".
// Without a mapping entry the default key is used as-is.
func (a *Adapter) buildPayload(it *item.Item) map[string]interface{} {
	payload := map[string]interface{}{
		destKey(a.cfg.FieldMap, "title"):    firstLine(it.Content),
		destKey(a.cfg.FieldMap, "content"):  it.Content,
		destKey(a.cfg.FieldMap, "category"): it.Category,
	}
	for name, value := range it.Entities {
		payload[destKey(a.cfg.FieldMap, name)] = value
	}
	return payload
}

func destKey(fieldMap map[string]string, key string) string {
	if mapped, ok := fieldMap[key]; ok && mapped != "" {
		return mapped
	}
	return key
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

// parseDestinationRef pulls an external id and url out of the response
// body when the destination provides them. Best effort only.
func parseDestinationRef(body io.Reader) (id string, url string) {
	var ref struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 64*1024)).Decode(&ref); err != nil {
		return "", ""
	}
	return ref.ID, ref.URL
}

func saferOptions(cfg *adapter.Config) httpclient.SaferClientOptions {
	if !cfg.AllowPrivate {
		return httpclient.SaferClientOptions{}
	}
	block := false
	return httpclient.SaferClientOptions{BlockPrivateIP: &block}
}
