package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrTransport marks failures to reach the remote endpoint.
	ErrTransport = errors.New("transport error")

	// ErrMalformedResponse marks payloads that do not have the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
)

// StatusError is returned for non-200 responses. It wraps ErrTransport.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d from %s, body: %s", e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrTransport
}

// Options configures an HTTPClient.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

type HTTPClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, opts.Burst),
	}
}

// Get fetches url and decodes the JSON body into response.
func (c *HTTPClient) Get(ctx context.Context, url string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, response)
}

// Post sends body as JSON to url and decodes the JSON reply into response.
func (c *HTTPClient) Post(ctx context.Context, url string, body, response interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, response)
}

func (c *HTTPClient) do(req *http.Request, response interface{}) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("%w: waiting for rate limiter: %w", ErrTransport, err)
	}

	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: executing request: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response body: %w", ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("%w: unmarshaling response: %w", ErrMalformedResponse, err)
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
