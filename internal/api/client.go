package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/metrics"
)

// Config configures a Client
type Config struct {
	BaseURL    string        // API root, e.g. http://localhost:8000/api
	Timeout    time.Duration // Per-request timeout, default 10s
	RateLimit  float64       // Requests per second, 0 = unlimited
	Burst      int           // Limiter burst, default 1
	HTTPClient *http.Client  // Optional transport override
	Metrics    *metrics.Metrics
}

// Request describes one API call
type Request struct {
	Method string
	Path   string
	Body   interface{}
	Header http.Header

	// NoAuthRetry keeps the request out of the refresh protocol. Set for the
	// auth bootstrap calls, where a 401 means bad credentials.
	NoAuthRetry bool
}

// Client talks to the marketplace REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	creds      *Credentials
	metrics    *metrics.Metrics

	refresher refresher
}

// NewClient creates a client that authenticates with creds
func NewClient(cfg Config, creds *Credentials) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		creds:      creds,
		metrics:    cfg.Metrics,
	}
}

// BaseURL returns the API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// authState tracks one request through the 401 protocol
type authState int

const (
	authNormal     authState = iota // first attempt
	authRefreshing                  // got a 401, token refresh running
	authRetried                     // re-sent once with the refreshed token
)

func (s authState) String() string {
	switch s {
	case authNormal:
		return "normal"
	case authRefreshing:
		return "refreshing"
	case authRetried:
		return "retried"
	default:
		return "unknown"
	}
}

// Do sends req and decodes a successful JSON response into out (which may be
// nil). A 401 triggers one token refresh and one retry; if either fails the
// session is cleared and *AuthExpiredError is returned.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	state := authNormal

	for {
		token, err := c.creds.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}

		status, body, err := c.send(ctx, req, token)
		if err != nil {
			return err
		}
		if status != http.StatusUnauthorized || req.NoAuthRetry {
			return decode(status, body, out)
		}

		if state == authRetried {
			return c.expire(ctx, req, newHTTPError(status, body))
		}

		state = authRefreshing
		logger.Debug("Got 401, refreshing token", logger.F("path", req.Path), logger.F("state", state))
		if _, err := c.Refresh(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return c.expire(ctx, req, err)
		}
		state = authRetried
	}
}

// expire clears the persisted session after an unrecoverable 401
func (c *Client) expire(ctx context.Context, req Request, cause error) error {
	logger.Warn("Session expired", logger.F("path", req.Path), logger.F("error", cause))
	c.metrics.ObserveAuthExpired()
	if err := c.creds.Clear(context.WithoutCancel(ctx)); err != nil {
		logger.Error("Failed to clear session", logger.F("error", err))
	}
	return &AuthExpiredError{Err: cause}
}

// send performs a single HTTP round trip
func (c *Client) send(ctx context.Context, req Request, token string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, &NetworkError{Method: req.Method, Path: req.Path, Err: err}
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRequest(req.Method, 0, time.Since(start))
		logger.Debug("HTTP Request failed",
			logger.F("method", req.Method),
			logger.F("path", req.Path),
			logger.F("request_id", requestID),
			logger.F("error", err))
		return 0, nil, &NetworkError{Method: req.Method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ObserveRequest(req.Method, 0, time.Since(start))
		return 0, nil, &NetworkError{Method: req.Method, Path: req.Path, Err: err}
	}

	c.metrics.ObserveRequest(req.Method, resp.StatusCode, time.Since(start))
	logger.Debug("HTTP Request",
		logger.F("method", req.Method),
		logger.F("path", req.Path),
		logger.F("status", resp.StatusCode),
		logger.F("request_id", requestID),
		logger.F("duration", time.Since(start).String()))

	return resp.StatusCode, data, nil
}

func decode(status int, body []byte, out interface{}) error {
	if status < 200 || status >= 300 {
		return newHTTPError(status, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path}, out)
}

// Post sends a POST request with a JSON body
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Put sends a PUT request with a JSON body
func (c *Client) Put(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

// Delete sends a DELETE request
func (c *Client) Delete(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, out)
}
