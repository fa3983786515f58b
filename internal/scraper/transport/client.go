package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	appErr "ojscraper/pkg/errors"
	"ojscraper/pkg/utils/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultRetryDelay     = 5 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// Config holds retry settings.
type Config struct {
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
	UserAgent      string
}

// Client performs coordinator requests and repeats them on transport failures.
// Any well-formed HTTP response, whatever its status, ends the loop.
type Client struct {
	httpClient     *http.Client
	retryDelay     time.Duration
	attemptTimeout time.Duration
	userAgent      string
	timer          backoff.Timer
	onRetry        func()
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimer replaces the timer that paces retries.
func WithTimer(t backoff.Timer) Option {
	return func(c *Client) {
		if t != nil {
			c.timer = t
		}
	}
}

// WithRetryHook registers a callback invoked once per retry.
func WithRetryHook(fn func()) Option {
	return func(c *Client) {
		c.onRetry = fn
	}
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	c := &Client{
		httpClient:     &http.Client{},
		retryDelay:     cfg.RetryDelay,
		attemptTimeout: cfg.AttemptTimeout,
		userAgent:      cfg.UserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends the request until some attempt yields an HTTP response, waiting a
// constant delay between attempts. Only TransportFailed errors are repeated.
// Do returns ctx.Err() once ctx is done, or the error of a request that can
// never be built, such as one with a malformed URL.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	attempts := 0
	op := func() error {
		attempts++
		var err error
		info, err = c.attempt(ctx, method, url, body)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !appErr.GetCode(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		logger.Error(ctx, "coordinator request failed, retrying",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if c.onRetry != nil {
			c.onRetry()
		}
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(c.retryDelay), ctx)
	if err := backoff.RetryNotifyWithTimer(op, policy, notify, c.timer); err != nil {
		return ResponseInfo{}, err
	}
	info.Attempts = attempts
	return info, nil
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return info, appErr.Wrapf(err, appErr.InvalidConfig, "build request failed")
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return info, appErr.Wrapf(err, appErr.TransportFailed, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, appErr.Wrapf(err, appErr.TransportFailed, "read response body failed")
	}
	info.StatusCode = resp.StatusCode
	info.Body = bodyBytes
	info.Duration = time.Since(start)
	return info, nil
}

// SleepFunc sleeps for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext blocks for d or until ctx is done, returning ctx.Err() in the latter case.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
