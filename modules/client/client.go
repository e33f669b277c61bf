package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"

	"github.com/guarzo/apicache/common"
)

// Requester is what UI code and services depend on.
type Requester interface {
	Request(ctx context.Context, method, endpoint string, opts RequestOptions) ([]byte, error)
}

// Config holds the request client settings.
type Config struct {
	BaseURL string
	// Timeout bounds each attempt, not the whole request.
	Timeout       time.Duration
	RetryAttempts int
	// BackoffStep is the unit of the linear wait: attempt n is followed by n*BackoffStep.
	BackoffStep time.Duration
}

// DefaultBackoffStep is used when Config.BackoffStep is zero.
const DefaultBackoffStep = 1 * time.Second

// RequestOptions are the per-call knobs of Request.
type RequestOptions struct {
	// Body is JSON encoded. []byte and json.RawMessage are sent as-is (compacted when valid JSON).
	Body     any
	Headers  map[string]string
	UseCache bool
}

// Client issues requests against BaseURL with caching, per-attempt timeouts,
// linear-backoff retries and bearer authentication.
type Client struct {
	cfg     Config
	baseURL *url.URL

	httpClient common.HttpClient
	cache      common.CacheRepository[[]byte]
	creds      common.CredentialProvider

	logger       *slog.Logger
	metrics      Metrics
	timerFactory func() backoff.Timer
}

var _ Requester = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger used for attempt, retry and exhaustion events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTimerFactory replaces the timer used for backoff waits. Tests use it to
// record the waits instead of sleeping.
func WithTimerFactory(f func() backoff.Timer) Option {
	return func(c *Client) { c.timerFactory = f }
}

// pendingRequest is one logical call, shared by all of its attempts.
type pendingRequest struct {
	id       string
	method   string
	endpoint string
	url      string
	body     []byte
	headers  map[string]string
	key      string
}

// NewClient validates cfg and builds a Client. cache and creds may be nil.
func NewClient(cfg Config, httpClient common.HttpClient, cache common.CacheRepository[[]byte], creds common.CredentialProvider, opts ...Option) (*Client, error) {
	if cfg.RetryAttempts < 1 {
		return nil, errors.Newf(errors.CodeInvalidConfig, "retry attempts must be at least 1, got %d", cfg.RetryAttempts)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.Newf(errors.CodeInvalidConfig, "timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.BackoffStep < 0 {
		return nil, errors.Newf(errors.CodeInvalidConfig, "backoff step must not be negative, got %s", cfg.BackoffStep)
	}
	if cfg.BackoffStep == 0 {
		cfg.BackoffStep = DefaultBackoffStep
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid base URL")
	}
	if httpClient == nil {
		httpClient = common.NewHttpClient("", nil)
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: httpClient,
		cache:      cache,
		creds:      creds,
		logger:     common.NopLogger(),
		metrics:    NoopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request performs method on endpoint.
//
// With opts.UseCache a cached response for the same method, endpoint and body
// is returned without touching the network. Otherwise up to RetryAttempts
// attempts are made; any transport error, timeout or non-2xx status is
// retried. When every attempt fails the error is a *common.RequestExhausted.
// Cancelling ctx stops the sequence and returns the context error.
func (c *Client) Request(ctx context.Context, method, endpoint string, opts RequestOptions) ([]byte, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveRequest(time.Since(start)) }()

	method = strings.ToUpper(method)
	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}
	key := buildKey(method, endpoint, body)

	useCache := opts.UseCache && c.cache != nil
	if useCache {
		if cached, found := c.cache.Get(key); found {
			c.metrics.CacheHit()
			c.logger.Debug("cache hit", "key", key)
			return bytes.Clone(cached), nil
		}
	}

	urlStr, err := c.buildURL(endpoint)
	if err != nil {
		return nil, err
	}

	pr := &pendingRequest{
		id:       uuid.NewString(),
		method:   method,
		endpoint: endpoint,
		url:      urlStr,
		body:     body,
		headers:  opts.Headers,
		key:      key,
	}
	logger := c.logger.With("request_id", pr.id, "key", key)

	var (
		attempt int
		last    *common.TransportFailure
	)
	operation := func() ([]byte, error) {
		attempt++
		data, err := c.attempt(ctx, pr)
		if err != nil {
			last = common.NewTransportFailure(attempt, err)
			c.metrics.Attempt(outcomeOf(last))
			logger.Debug("attempt failed", "attempt", attempt, "error", err)
			return nil, last
		}
		c.metrics.Attempt(OutcomeSuccess)
		logger.Debug("attempt succeeded", "attempt", attempt)
		return data, nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying request", "attempt", attempt, "wait", wait, "error", err)
	}

	var timer backoff.Timer
	if c.timerFactory != nil {
		timer = c.timerFactory()
	}
	b := backoff.WithContext(newLinearBackOff(c.cfg.BackoffStep, c.cfg.RetryAttempts), ctx)

	data, err := backoff.RetryNotifyWithTimerAndData(operation, b, notify, timer)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s canceled after %d attempts: %w", method, endpoint, attempt, ctxErr)
		}
		c.metrics.Exhausted()
		logger.Error("request exhausted", "attempts", attempt, "error", last)
		return nil, &common.RequestExhausted{
			Method:   method,
			Endpoint: endpoint,
			Attempts: attempt,
			Last:     last,
		}
	}

	if useCache {
		c.cache.Set(key, bytes.Clone(data))
	}
	return data, nil
}

// GetJSON retrieves JSON from endpoint and unmarshals into out.
func (c *Client) GetJSON(ctx context.Context, endpoint string, out any, useCache bool) error {
	data, err := c.Request(ctx, http.MethodGet, endpoint, RequestOptions{UseCache: useCache})
	if err != nil {
		return err
	}
	return decodeJSON(data, out)
}

// PostJSON sends body as JSON and unmarshals the response into out (if non-nil).
func (c *Client) PostJSON(ctx context.Context, endpoint string, body, out any) error {
	data, err := c.Request(ctx, http.MethodPost, endpoint, RequestOptions{Body: body})
	if err != nil {
		return err
	}
	return decodeJSON(data, out)
}

// DeleteJSON sends a DELETE with an optional JSON body.
func (c *Client) DeleteJSON(ctx context.Context, endpoint string, body, out any) error {
	data, err := c.Request(ctx, http.MethodDelete, endpoint, RequestOptions{Body: body})
	if err != nil {
		return err
	}
	return decodeJSON(data, out)
}

// RequestKey returns the cache key Request uses for the same arguments.
func RequestKey(method, endpoint string, body any) (string, error) {
	encoded, err := encodeBody(body)
	if err != nil {
		return "", err
	}
	return buildKey(strings.ToUpper(method), endpoint, encoded), nil
}

// attempt is one network call bounded by the configured timeout.
func (c *Client) attempt(ctx context.Context, pr *pendingRequest) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if pr.body != nil {
		body = bytes.NewReader(pr.body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, pr.method, pr.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if pr.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", pr.id)
	for k, v := range pr.headers {
		req.Header.Set(k, v)
	}
	if c.creds != nil && c.creds.IsValid() {
		if token, ok := c.creds.CurrentToken(); ok && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &common.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       data,
		}
	}
	return data, nil
}

// buildURL resolves endpoint against the base URL
func (c *Client) buildURL(endpoint string) (string, error) {
	path, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeInvalidInput, "invalid endpoint %q", endpoint)
	}
	return c.baseURL.ResolveReference(path).String(), nil
}

func buildKey(method, endpoint string, body []byte) string {
	return method + " " + endpoint + " " + string(body)
}

// encodeBody produces the canonical wire form of a request body. encoding/json
// sorts map keys, so equal maps always give equal bytes.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return compactJSON(b), nil
	case json.RawMessage:
		return compactJSON(b), nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to encode request body")
	}
	return data, nil
}

func compactJSON(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func decodeJSON(data []byte, out any) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "failed to decode response")
	}
	return nil
}

func outcomeOf(f *common.TransportFailure) string {
	switch {
	case f.Timeout():
		return OutcomeTimeout
	case f.StatusCode != 0:
		return OutcomeStatus
	default:
		return OutcomeNetwork
	}
}
