// Package client talks to the pagesum server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"pagesum/internal/domain"
	"pagesum/internal/wire"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 2 * time.Minute
	maxResponseBytes = 8 << 20
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status     int
	Kind       wire.Kind
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if sentinel := e.Kind.Sentinel(); sentinel != nil {
		return sentinel
	}
	if e.Status == http.StatusTooManyRequests {
		return domain.ErrRateLimited
	}
	return nil
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https: %q", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: DefaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Parse asks the server to fetch and extract the page at rawURL.
func (c *Client) Parse(ctx context.Context, rawURL string) (domain.ParsedArticle, error) {
	var resp wire.ParseResponse
	err := c.do(ctx, http.MethodPost, "/api/parse", wire.ParseRequest{URL: rawURL}, &resp, domain.ErrExtractionFailed)
	if err != nil {
		return domain.ParsedArticle{}, err
	}
	return resp.Article, nil
}

// Summarize asks the server to moderate and summarise text in the given mode.
func (c *Client) Summarize(
	ctx context.Context,
	text string,
	mode domain.Mode,
	sourceURL string,
) (wire.SummaryResponse, error) {
	var resp wire.SummaryResponse
	err := c.do(ctx, http.MethodPost, "/api/summaries", wire.SummaryRequest{
		Input:       text,
		SummaryMode: string(mode),
		URL:         sourceURL,
	}, &resp, domain.ErrGenerationFailed)

	return resp, err
}

func (c *Client) RateLimit(ctx context.Context) (wire.RateLimitResponse, error) {
	var resp wire.RateLimitResponse
	err := c.do(ctx, http.MethodGet, "/api/ratelimit", nil, &resp, nil)
	return resp, err
}

// do sends one JSON request. A server that cannot be reached is reported as unreachable, the error kind the
// operation would have failed with on the server side.
func (c *Client) do(ctx context.Context, method, path string, body, out any, unreachable error) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w", method, path, domain.ErrUpstreamTimeout)
		}
		if unreachable != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s %s: %w: %w", method, path, unreachable, err)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeError(res, raw)
	}

	if err = json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func decodeError(res *http.Response, raw []byte) error {
	apiErr := &APIError{
		Status:  res.StatusCode,
		Message: http.StatusText(res.StatusCode),
	}

	var body wire.ErrorResponse
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			apiErr.Message = body.Error
		}
		apiErr.Kind = body.Kind

		if body.Kind == wire.KindContentFlagged {
			return fmt.Errorf("%w: %w", apiErr, &domain.ContentFlaggedError{Categories: body.Categories})
		}
	}

	if seconds, err := strconv.Atoi(res.Header.Get("Retry-After")); err == nil && seconds > 0 {
		apiErr.RetryAfter = time.Duration(seconds) * time.Second
	}

	return apiErr
}
