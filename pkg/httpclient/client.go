// Package httpclient is the JSON transport to the finance backend. It owns
// the base URL, headers and failure normalization; it never retries.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"finance-client/pkg/logging"
	"finance-client/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "http://localhost:8000/api/v1"

// RequestIDHeader carries a per-request id so client and backend logs can be
// correlated.
const RequestIDHeader = "X-Request-ID"

// TokenSource supplies the bearer token. An empty token means anonymous.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Config configures the client.
type Config struct {
	BaseURL string

	// Timeout bounds a whole request. Zero means no timeout.
	Timeout time.Duration

	UserAgent string
}

// Client sends JSON requests to the backend.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	tokens    TokenSource
	logger    *logging.Logger
	metrics   metrics.MetricsCollector
}

type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client. Config.Timeout is
// not applied to it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l.Named(logging.ComponentHTTP) }
}

func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) { c.metrics = metrics.OrNoOp(m) }
}

func New(cfg Config, opts ...Option) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "finance-client"
	}

	c := &Client{
		baseURL:   strings.TrimRight(base, "/"),
		userAgent: ua,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logging.OrGlobal(nil, logging.ComponentHTTP),
		metrics:   metrics.NoOpCollector{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get sends a GET with query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, out)
}

// Form is a request body sent as application/x-www-form-urlencoded instead
// of JSON, as the OAuth2 password login expects.
type Form url.Values

// PostForm posts form-encoded fields.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, nil, Form(form), out)
}

// Do sends one request. A non-nil body is JSON encoded. out may be nil, a
// *[]byte receiving the raw body, or any JSON decoding target.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	requestID := uuid.NewString()
	log := c.logger.With(
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
	)

	target := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	contentType := "application/json"
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case Form:
		contentType = "application/x-www-form-urlencoded"
		reader = strings.NewReader(url.Values(b).Encode())
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			log.Error("encoding request failed", zap.Error(err))
			return fmt.Errorf("httpclient: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		log.Error("building request failed", zap.Error(err))
		return fmt.Errorf("httpclient: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(RequestIDHeader, requestID)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			log.Warn("token unavailable, sending anonymously", zap.Error(err))
		} else if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		elapsed := time.Since(start)
		c.metrics.RecordRequest(method, 0, elapsed)
		log.Error("request failed", zap.Duration("duration", elapsed), zap.Error(err))
		return &TransportError{Method: method, Path: path, RequestID: requestID, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	c.metrics.RecordRequest(method, resp.StatusCode, elapsed)
	if err != nil {
		log.Error("reading response failed", zap.Int("status", resp.StatusCode), zap.Error(err))
		return &TransportError{Method: method, Path: path, RequestID: requestID, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := newStatusError(method, path, requestID, resp.StatusCode, payload)
		log.Error("unexpected status",
			zap.Int("status", resp.StatusCode),
			zap.String("detail", se.Detail),
			zap.Duration("duration", elapsed),
		)
		return se
	}

	log.Debug("request completed", zap.Int("status", resp.StatusCode), zap.Duration("duration", elapsed))

	switch dst := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*dst = payload
		return nil
	default:
		if len(bytes.TrimSpace(payload)) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, dst); err != nil {
			log.Error("decoding response failed", zap.Int("status", resp.StatusCode), zap.Error(err))
			return fmt.Errorf("httpclient: decode %s %s: %w", method, path, err)
		}
		return nil
	}
}
