// Package remote is the typed HTTP client for the document API. Every
// response body is parsed into domain entities here; nothing untyped leaves
// the package.
//
// Transport failures and 5xx responses become RemoteUnavailable, 401/403/404
// and 400/422 map onto their domain kinds, and a body that does not match
// the expected contract is a ShapeMismatch.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deptdocs/core/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

// Client talks to one API base URL. It holds no credential of its own; each
// call is given the bearer token of the session it serves, so one Client is
// safe to share across sessions and goroutines.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for baseURL ("http://localhost:8080"), without
// a trailing slash or API prefix.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	method string
	path   string
	query  url.Values
	token  string
	body   any
}

// do sends req and returns the raw response body of a successful call.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	var bodyReader io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.Superseded(fmt.Sprintf("%s %s cancelled", req.method, req.path))
		}
		return nil, domain.RemoteUnavailable(fmt.Sprintf("%s %s", req.method, req.path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.RemoteUnavailable(fmt.Sprintf("read %s %s", req.method, req.path), err)
	}
	c.log.Debug("remote call",
		zap.String("request_id", requestID),
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)

	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

// errorBody is the server's error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Details any    `json:"details"`
}

func statusError(status int, body []byte) error {
	var payload errorBody
	_ = json.Unmarshal(body, &payload)
	message := payload.Error
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized:
		return domain.Unauthenticated(message)
	case status == http.StatusForbidden:
		return domain.Forbidden(message)
	case status == http.StatusNotFound:
		return &domain.Error{Kind: domain.KindNotFound, Message: message, Details: payload.Details}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return domain.ValidationFailed(message, payload.Details)
	case status >= 500:
		return domain.RemoteUnavailable(message, fmt.Errorf("status %d", status))
	default:
		return domain.RemoteUnavailable(message, fmt.Errorf("unexpected status %d", status))
	}
}

// decode unmarshals body into target, reporting failures as ShapeMismatch.
func decode(body []byte, target any, what string) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return domain.ShapeMismatch(what+": empty body", nil)
	}
	if err := json.Unmarshal(body, target); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return domain.ShapeMismatch(what+": malformed json", err)
		}
		return domain.ShapeMismatch(what, err)
	}
	return nil
}

// Health checks the health status of the server
func (c *Client) Health(ctx context.Context) error {
	body, err := c.do(ctx, request{method: http.MethodGet, path: "/api/health"})
	if err != nil {
		return err
	}
	var result struct {
		OK bool `json:"ok"`
	}
	if err := decode(body, &result, "health"); err != nil {
		return err
	}
	if !result.OK {
		return domain.RemoteUnavailable("health check failed", nil)
	}
	return nil
}
