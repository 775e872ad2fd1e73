// Package settings resolves workflow settings for a document: from document
// fields, task custom data, or the remote settings service. The service
// client caches responses and decides per lookup whether the cache may be
// trusted.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/rendis/docflow/internal/telemetry"
	"github.com/rendis/docflow/pkg/schema"
)

// DefaultTimeout bounds every settings service request.
const DefaultTimeout = 30 * time.Second

// Client talks to the settings service.
type Client struct {
	baseURL string
	http    *http.Client
	health  *http.Client
	breaker *Breaker
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

type clientOptions struct {
	timeout   time.Duration
	maxAge    time.Duration
	transport http.RoundTripper
	store     ResponseStore
	breaker   *Breaker
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*clientOptions)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxAge overrides DefaultMaxAge, the freshness given to every
// successful response. Non-positive values are ignored.
func WithMaxAge(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		if d > 0 {
			o.maxAge = d
		}
	}
}

// WithTransport replaces the network round tripper.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) { o.transport = rt }
}

// WithResponseStore sets the response cache. Default: a MemoryStore.
func WithResponseStore(s ResponseStore) ClientOption {
	return func(o *clientOptions) { o.store = s }
}

// WithBreaker sets the circuit breaker guarding the service.
func WithBreaker(b *Breaker) ClientOption {
	return func(o *clientOptions) { o.breaker = b }
}

// WithMetrics records lookups on m.
func WithMetrics(m *telemetry.Metrics) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "settings service url is required")
	}
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "invalid settings service url %q", baseURL)
	}

	o := clientOptions{
		timeout:   DefaultTimeout,
		maxAge:    DefaultMaxAge,
		transport: http.DefaultTransport,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = NewMemoryStore(o.maxAge)
	}
	if o.breaker == nil {
		o.breaker = NewBreaker("settings-service", DefaultBreakerConfig(), nil)
	}

	rt := httpcache.NewTransport(o.store)
	rt.Transport = &maxAgeTransport{next: o.transport, maxAge: o.maxAge}
	rt.MarkCachedResponses = true
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: o.timeout, Transport: rt},
		health:  &http.Client{Timeout: o.timeout, Transport: o.transport},
		breaker: o.breaker,
		metrics: o.metrics,
		logger:  o.logger,
	}, nil
}

type resolvedSetting struct {
	Value *string `json:"value"`
}

// GetResolvedSetting fetches the value of setting name for the given scopes.
// A missing setting returns a NOT_FOUND error; every other failure is
// TRANSIENT_ERROR or CIRCUIT_OPEN. forceRefresh bypasses the response cache.
func (c *Client) GetResolvedSetting(ctx context.Context, name string, scopes []string, priorities []int, forceRefresh bool) (string, error) {
	mode := "cached"
	if forceRefresh {
		mode = "refresh"
	}

	if err := c.breaker.Allow(); err != nil {
		c.metrics.SettingsRequest(mode, "circuit_open")
		return "", err
	}

	prio := make([]string, len(priorities))
	for i, p := range priorities {
		prio[i] = strconv.Itoa(p)
	}
	q := url.Values{}
	q.Set("scopes", strings.Join(scopes, ","))
	q.Set("priorities", strings.Join(prio, ","))
	endpoint := c.baseURL + "/settings/" + url.PathEscape(name) + "/resolved?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTransient, "build settings request for %q", name).WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if forceRefresh {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Failure()
		c.metrics.SettingsRequest(mode, "error")
		return "", schema.NewErrorf(schema.ErrCodeTransient, "settings service request for %q failed", name).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get(httpcache.XFromCache) == "1" {
		mode = "hit"
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.breaker.Success()
		c.metrics.SettingsRequest(mode, "not_found")
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "setting %q not found", name)
	case !isSuccess(resp.StatusCode):
		if resp.StatusCode >= 500 {
			c.breaker.Failure()
		}
		c.metrics.SettingsRequest(mode, "error")
		return "", schema.NewErrorf(schema.ErrCodeTransient,
			"settings service returned %d for %q", resp.StatusCode, name).
			WithDetails(map[string]any{"status": resp.StatusCode, "setting": name})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.Failure()
		c.metrics.SettingsRequest(mode, "error")
		return "", schema.NewErrorf(schema.ErrCodeTransient, "read settings response for %q", name).WithCause(err)
	}
	c.breaker.Success()

	var out resolvedSetting
	if err := json.Unmarshal(body, &out); err != nil {
		c.metrics.SettingsRequest(mode, "error")
		return "", schema.NewErrorf(schema.ErrCodeTransient, "decode settings response for %q", name).WithCause(err)
	}
	c.metrics.SettingsRequest(mode, "ok")
	if out.Value == nil {
		return "", nil
	}
	return *out.Value, nil
}

// CheckHealth calls the service health endpoint, bypassing the cache. A 404 from the health endpoint counts as
// healthy since older services do not implement it.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthCheckPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.health.Do(req)
	if err != nil {
		return fmt.Errorf("settings service unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if isSuccess(resp.StatusCode) || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("settings service health check returned %d", resp.StatusCode)
}
