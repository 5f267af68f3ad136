// Package anki is a small client for the AnkiConnect JSON API.
package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Version is the AnkiConnect protocol version sent with every request.
const Version = 6

// DefaultURL is where AnkiConnect listens out of the box.
const DefaultURL = "http://localhost:8765"

// ErrUnexpectedStatus is returned when AnkiConnect answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected http status")

// Request is the envelope posted to AnkiConnect.
type Request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Key     string `json:"key,omitempty"`
	Params  any    `json:"params"`
}

// Response is the envelope AnkiConnect answers with. Error is kept raw since
// it is not guaranteed to be a string.
type Response struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Invoker performs a single AnkiConnect action.
type Invoker interface {
	Invoke(ctx context.Context, action string, params any) (json.RawMessage, error)
}

// Client talks to one AnkiConnect endpoint.
type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAPIKey sets the key AnkiConnect expects when its apiKey option is enabled.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout bounds each call. Zero means no per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for per-call debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Client for the given endpoint URL.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL requests are posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// Invoke posts one action and returns its raw result. A non-empty error field
// in the response becomes a *RemoteError.
func (c *Client) Invoke(ctx context.Context, action string, params any) (json.RawMessage, error) {
	if params == nil {
		params = struct{}{}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	requestID := uuid.NewString()
	log := c.logger.With(zap.String("request_id", requestID), zap.String("action", action))
	start := time.Now()

	body, err := json.Marshal(Request{
		Action:  action,
		Version: Version,
		Key:     c.apiKey,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", action, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", action, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug("Sending AnkiConnect request", zap.ByteString("body", body))
	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.Debug("AnkiConnect request failed", zap.Error(err))
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%s: %w %d", action, ErrUnexpectedStatus, resp.StatusCode)
	}

	var ankiResp Response
	if err := json.NewDecoder(resp.Body).Decode(&ankiResp); err != nil {
		log.Debug("Failed to decode AnkiConnect response", zap.Error(err))
		return nil, fmt.Errorf("%s: decode response: %w", action, err)
	}

	if payload, ok := errorPayload(ankiResp.Error); ok {
		log.Debug("AnkiConnect reported an error",
			zap.Any("error", payload),
			zap.Duration("elapsed", time.Since(start)))
		return nil, &RemoteError{Action: action, Payload: payload}
	}

	log.Debug("AnkiConnect request completed", zap.Duration("elapsed", time.Since(start)))
	return ankiResp.Result, nil
}

// errorPayload reports whether raw holds a meaningful error value. A missing
// field, null and empty values (false, 0, "", [], {}) all mean success.
func errorPayload(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return string(raw), true
	}
	switch v := payload.(type) {
	case nil:
		return nil, false
	case string:
		return v, v != ""
	case bool:
		return v, v
	case float64:
		return v, v != 0
	case []any:
		return v, len(v) > 0
	case map[string]any:
		return v, len(v) > 0
	}
	return payload, true
}
