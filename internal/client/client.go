// Package client provides the HTTP client the simulated users share.
// It owns connection pooling, default headers and optional rate limiting.
// Requests are never retried: every failure is recorded once.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/eventsink/tools/loadgen/internal/config"
	"github.com/example/eventsink/tools/loadgen/internal/loadctrl"
)

// ErrInvalidBaseURL is returned when the target URL cannot be used.
var ErrInvalidBaseURL = errors.New("client: invalid base URL")

// UserAgent is sent with every request.
const UserAgent = "EventSink-LoadGen/1.0"

// Client is the HTTP client for the load generator.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	headers    map[string]string
	limiter    loadctrl.RateLimiter
}

// NewClient creates a client for the target. A nil limiter leaves the
// request rate unbounded.
func NewClient(cfg config.TargetConfig, limiter loadctrl.RateLimiter) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidBaseURL)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidBaseURL, cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultTimeout
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = config.DefaultMaxConnections
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for self-signed test targets
		},
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		IdleConnTimeout:     90 * time.Second,
	}

	client := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			// Invalid-path probes must see the raw status, not a redirect target.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: base,
		headers: make(map[string]string),
		limiter: limiter,
	}

	client.headers["Accept"] = "application/json"
	client.headers["User-Agent"] = UserAgent

	for k, v := range cfg.Headers {
		client.headers[k] = v
	}

	return client, nil
}

// Request represents an HTTP request to be executed.
type Request struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Headers     map[string]string

	// Body is marshaled to JSON. RawBody, when set, is sent as is.
	Body    any
	RawBody []byte
}

// Response represents an HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Error      error
}

// Do executes an HTTP request once. Transport errors return both a Response
// carrying the error and the error itself; HTTP error statuses are not errors.
// A limiter wait cut short by ctx returns ctx.Err() without sending.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	u, err := c.buildURL(req.Path, req.QueryParams)
	if err != nil {
		return nil, fmt.Errorf("building URL: %w", err)
	}

	payload := req.RawBody
	if payload == nil && req.Body != nil {
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return &Response{Error: err}, err
		}
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	c.setHeaders(httpReq, req.Headers, payload != nil)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)

	resp := &Response{Error: err}
	if httpResp != nil {
		resp.StatusCode = httpResp.StatusCode
		resp.Headers = httpResp.Header
		body, readErr := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		resp.Body = body
		if readErr != nil && err == nil {
			err = fmt.Errorf("reading response body: %w", readErr)
			resp.Error = err
		}
	}
	resp.Duration = time.Since(start)

	return resp, err
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, queryParams map[string]string) (*Response, error) {
	return c.Do(ctx, Request{
		Method:      http.MethodGet,
		Path:        path,
		QueryParams: queryParams,
	})
}

// Post performs a POST request with a JSON-encoded body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   body,
	})
}

// PostRaw performs a POST request with body bytes sent verbatim as JSON.
func (c *Client) PostRaw(ctx context.Context, path string, body []byte) (*Response, error) {
	return c.Do(ctx, Request{
		Method:  http.MethodPost,
		Path:    path,
		RawBody: body,
	})
}

// Options performs an OPTIONS request without a body.
func (c *Client) Options(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{
		Method: http.MethodOptions,
		Path:   path,
	})
}

// buildURL resolves path against the base URL and adds query parameters.
func (c *Client) buildURL(path string, queryParams map[string]string) (*url.URL, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u, err := c.baseURL.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	if len(queryParams) > 0 {
		q := u.Query()
		for k, v := range queryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	return u, nil
}

// setHeaders sets default and per-request headers on req.
func (c *Client) setHeaders(req *http.Request, customHeaders map[string]string, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range customHeaders {
		req.Header.Set(k, v)
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
