// Package transport wraps every outbound backend call. It injects the tunnel
// bypass header, applies per-class timeouts, logs each call and normalizes
// all failures into *domain.APIError.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"lazymic/internal/domain"
)

// CallClass selects the timeout applied to a request.
type CallClass int

const (
	ClassMutate CallClass = iota
	ClassRead
	ClassInterpret
)

func (c CallClass) String() string {
	switch c {
	case ClassRead:
		return "read"
	case ClassInterpret:
		return "interpret"
	default:
		return "mutate"
	}
}

// maxErrorBody bounds how much of a failed response is kept for messages.
const maxErrorBody = 4096

// Config controls the transport client.
type Config struct {
	BaseURL          string
	BypassHeader     string
	BypassValue      string
	InterpretTimeout time.Duration
	ReadTimeout      time.Duration
	MutateTimeout    time.Duration
	HTTPClient       *http.Client
}

// Request is one backend call.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        io.Reader
	ContentType string
	Class       CallClass

	// Timeout overrides the class timeout when positive.
	Timeout time.Duration
}

// JSONBody encodes v for use as a request body.
func JSONBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &domain.APIError{Category: domain.CategoryUnknown, Message: fmt.Sprintf("encode request: %v", err)}
	}
	return bytes.NewReader(data), nil
}

// Client sends requests to the backend.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.InterpretTimeout <= 0 {
		cfg.InterpretTimeout = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.MutateTimeout <= 0 {
		cfg.MutateTimeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// BaseURL returns the backend root the client targets.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Send performs req and decodes a successful JSON response into out when out
// is non-nil. Every failure is returned as *domain.APIError.
func (c *Client) Send(ctx context.Context, req Request, out any) error {
	timeout := c.timeoutFor(req)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := c.cfg.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	start := time.Now()
	c.logger.Debug().
		Str("method", req.Method).
		Str("target", target).
		Str("class", req.Class.String()).
		Dur("timeout", timeout).
		Msg("backend request")

	status, body, err := c.do(ctx, req, target)
	apiErr := Classify(ClassifyInput{
		BaseURL: c.cfg.BaseURL,
		Timeout: timeout,
		Status:  status,
		Body:    body,
		Err:     err,
	})
	if apiErr == nil && out != nil && len(bytes.TrimSpace(body)) > 0 {
		if decodeErr := json.Unmarshal(body, out); decodeErr != nil {
			apiErr = &domain.APIError{
				Category:       domain.CategoryUnknown,
				Message:        fmt.Sprintf("could not decode backend response: %v", decodeErr),
				OriginalStatus: status,
			}
		}
	}

	c.logResult(req, target, status, time.Since(start), apiErr)
	if apiErr != nil {
		return apiErr
	}
	return nil
}

func (c *Client) do(ctx context.Context, req Request, target string) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return 0, nil, err
	}
	if c.cfg.BypassHeader != "" {
		httpReq.Header.Set(c.cfg.BypassHeader, c.cfg.BypassValue)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	reader := io.Reader(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reader = io.LimitReader(resp.Body, maxErrorBody)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) timeoutFor(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	switch req.Class {
	case ClassInterpret:
		return c.cfg.InterpretTimeout
	case ClassRead:
		return c.cfg.ReadTimeout
	default:
		return c.cfg.MutateTimeout
	}
}

func (c *Client) logResult(req Request, target string, status int, elapsed time.Duration, apiErr *domain.APIError) {
	if apiErr == nil {
		c.logger.Info().
			Str("method", req.Method).
			Str("target", target).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("backend request succeeded")
		return
	}
	c.logger.Warn().
		Str("method", req.Method).
		Str("target", target).
		Int("status", status).
		Dur("elapsed", elapsed).
		Str("category", string(apiErr.Category)).
		Str("error", apiErr.Message).
		Msg("backend request failed")
}
