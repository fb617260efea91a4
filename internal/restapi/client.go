// Package restapi is a typed client for the call-center REST endpoints the
// harness drives. Responses are read with gjson so field-name drift on the
// service side shows up as a missing path rather than a silent zero value.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"callprobe/internal/config"
)

// Client issues REST calls against one base URL.
// FUNCTIONAL DISCOVERY: The service rate-limits login. Pacing every request
// through one limiter keeps parallel scenarios under the limit; a 429 that
// still happens is returned like any other status.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Options tunes a Client. Zero RequestsPerSecond disables pacing.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// NewFromConfig builds a client from the service section of cfg
func NewFromConfig(cfg *config.Config) *Client {
	return New(cfg.Service.BaseURL, Options{
		Timeout:           cfg.Service.HTTPTimeout,
		RequestsPerSecond: cfg.Service.RequestsPerSecond,
		Burst:             cfg.Service.Burst,
	})
}

// BaseURL returns the service root this client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response is a successful reply
type Response struct {
	Status int
	Body   []byte
}

// Get reads a gjson path from the body
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Decode unmarshals the body, or the value at path when path is non-empty
func (r *Response) Decode(path string, out any) error {
	raw := r.Body
	if path != "" {
		res := r.Get(path)
		if !res.Exists() {
			return fmt.Errorf("%w: path %q not found", ErrInvalidResponse, path)
		}
		raw = []byte(res.Raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// Do sends one request. Non-2xx replies come back as *StatusError together
// with the response, so 503 bodies stay readable.
func (c *Client) Do(ctx context.Context, method, path, token string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, method, path, token, payload)
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status > 299 {
		if resp.Status == http.StatusTooManyRequests {
			log.Printf("[RestAPI] %s %s rate limited by service", method, path)
		}
		return resp, &StatusError{Method: method, Path: path, Status: resp.Status, Body: resp.Body}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path, token string, payload []byte) (*Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// Health checks GET /healthz reports status ok
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodGet, "/healthz", "", nil)
	if err != nil {
		return err
	}
	if status := resp.Get("status").String(); status != "ok" {
		return fmt.Errorf("%w: health status %q", ErrInvalidResponse, status)
	}
	return nil
}
