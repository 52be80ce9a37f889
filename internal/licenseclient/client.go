// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package licenseclient

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

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrNotConfigured       = errors.New("license server not configured")
	ErrUnauthorized        = errors.New("license request unauthorized")
	ErrTrackNotFound       = errors.New("track not found on license server")
	ErrRateLimitExceeded   = errors.New("license server rate limit exceeded")
	ErrInvalidResponseBody = errors.New("invalid license response")

	errBuildRequest = errors.New("failed to create request")
	errLimiterWait  = errors.New("rate limiter wait")
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRetryAttempts = 3
	defaultRetryDelay    = 250 * time.Millisecond
	defaultRetryMaxDelay = 5 * time.Second
	maxErrorBodyBytes    = 64 * 1024
	maxResponseBytes     = 1 << 20
	truncatedBodySuffix  = " (truncated)"
)

// APIError is a non-2xx answer from the license server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("license server error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("license server error (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether repeating the request could succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type Client struct {
	serverURL  string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter

	attempts uint
	delay    time.Duration
	maxDelay time.Duration
}

type OptFunc func(*Client)

func WithHTTPClient(httpClient *http.Client) OptFunc {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithUserAgent(userAgent string) OptFunc {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithTimeout bounds every individual attempt.
func WithTimeout(timeout time.Duration) OptFunc {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRetry configures exponential backoff. attempts includes the first try;
// attempts <= 1 disables retries.
func WithRetry(attempts uint, delay, maxDelay time.Duration) OptFunc {
	return func(c *Client) {
		if attempts == 0 {
			attempts = 1
		}
		c.attempts = attempts
		if delay > 0 {
			c.delay = delay
		}
		if maxDelay > 0 {
			c.maxDelay = maxDelay
		}
	}
}

// WithRateLimit caps outbound requests per second. rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) OptFunc {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient returns a client posting license requests to serverURL.
func NewClient(serverURL string, opts ...OptFunc) *Client {
	c := &Client{
		serverURL: strings.TrimSpace(serverURL),
		userAgent: "tempo",
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		attempts: defaultRetryAttempts,
		delay:    defaultRetryDelay,
		maxDelay: defaultRetryMaxDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// IsConfigured reports whether a license server URL is set.
func (c *Client) IsConfigured() bool {
	return c.serverURL != ""
}

func (c *Client) ServerURL() string {
	return c.serverURL
}

// RequestLicense posts req to the license server and decodes the grant.
// Transport errors, 5xx and 429 answers are retried with backoff.
func (c *Client) RequestLicense(ctx context.Context, req Request) (*Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var (
		resp    *Response
		lastErr error
	)
	err = retry.Do(
		func() error {
			resp, lastErr = c.do(ctx, payload)
			if lastErr == nil {
				return nil
			}
			if ctx.Err() != nil || !isRetryable(lastErr) {
				return retry.Unrecoverable(lastErr)
			}
			return lastErr
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(c.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().
				Err(err).
				Uint("attempt", n+1).
				Str("trackId", req.TrackID).
				Msg("Retrying license request")
		}),
	)
	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}

	return resp, nil
}

func (c *Client) do(ctx context.Context, payload []byte) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", errLimiterWait, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBuildRequest, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(resp)
	}

	var out Response
	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	if err := decoder.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponseBody, err)
	}
	if out.MaxPlays != nil && *out.MaxPlays < 0 {
		return nil, fmt.Errorf("%w: negative maxPlays %d", ErrInvalidResponseBody, *out.MaxPlays)
	}

	return &out, nil
}

func isRetryable(err error) bool {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Retryable()
	case errors.Is(err, ErrRateLimitExceeded):
		return true
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTrackNotFound),
		errors.Is(err, ErrInvalidResponseBody),
		errors.Is(err, errBuildRequest),
		errors.Is(err, errLimiterWait):
		return false
	}

	// transport failure
	return true
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes+1))
	truncated := len(body) > maxErrorBodyBytes
	if truncated {
		body = body[:maxErrorBodyBytes]
	}

	message := strings.TrimSpace(string(body))

	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			message = payload.Message
		case payload.Detail != "":
			message = payload.Detail
		case payload.Error != "":
			message = payload.Error
		}
	}

	if truncated {
		message += truncatedBodySuffix
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return wrapError(ErrUnauthorized, message)
	case http.StatusNotFound:
		return wrapError(ErrTrackNotFound, message)
	case http.StatusTooManyRequests:
		return wrapError(ErrRateLimitExceeded, message)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

func wrapError(base error, message string) error {
	if message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, message)
}
