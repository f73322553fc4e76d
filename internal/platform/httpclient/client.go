package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"strconv"
	"time"

	"cronradar/pkg/retry"
)

// Client wraps http.Client with logging and retries.
type Client struct {
	hc          *stdhttp.Client
	log         *slog.Logger
	retries     int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	headers     map[string]string
	urlRedactor func(*url.URL) string
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		if t > 0 {
			c.hc.Timeout = t
		}
	}
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetries enables n retries with exponential backoff and jitter.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		if backoff > 0 {
			c.baseBackoff = backoff
		}
	}
}

// WithMaxBackoff limits exponential backoff growth and Retry-After waits.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.maxBackoff = d
		}
	}
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithURLRedactor sets URL redactor for logs.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// New creates configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConnsPerHost = 16
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 5 * time.Second
	tr.ResponseHeaderTimeout = 5 * time.Second

	c := &Client{
		hc: &stdhttp.Client{
			Timeout:   10 * time.Second,
			Transport: tr,
		},
		log:         slog.Default(),
		baseBackoff: 200 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		headers:     make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusError reports a retryable HTTP status that was still failing when
// retries ran out.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Wait   time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
}

// RetryAfter implements retry.DelayHint.
func (e *StatusError) RetryAfter() time.Duration { return e.Wait }

func retryableStatus(code int) bool {
	switch code {
	case 408, 425, 429:
		return true
	}
	return code >= 500
}

// retryAfter parses Retry-After header value.
func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := stdhttp.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

// drainAndClose drains up to 64KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 64<<10)
	_ = b.Close()
}

func (c *Client) attempts(req *stdhttp.Request) int {
	switch req.Method {
	case stdhttp.MethodGet, stdhttp.MethodHead, stdhttp.MethodOptions, stdhttp.MethodPut, stdhttp.MethodDelete:
		return c.retries + 1
	}
	if req.Header.Get("Idempotency-Key") != "" {
		return c.retries + 1
	}
	return 1
}

// Do sends HTTP request with context, logging and retries. Responses with a
// non-retryable status are returned to the caller as is.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	}

	u := c.redactURL(req.URL)
	cfg := retry.Config{
		MaxAttempts:  c.attempts(req),
		InitialDelay: c.baseBackoff,
		MaxDelay:     c.maxBackoff,
		Jitter:       true,
		Retryable: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return true
			}
			return retry.DefaultRetryable(err)
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			c.log.Warn("http request retry", slog.String("method", req.Method), slog.String("url", u), slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.Any("error", err))
		},
	}
	if cfg.InitialDelay > cfg.MaxDelay {
		cfg.InitialDelay = cfg.MaxDelay
	}

	var resp *stdhttp.Response
	attempt := 0
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		attempt++
		r := req.Clone(ctx)
		for k, v := range c.headers {
			if r.Header.Get(k) == "" {
				r.Header.Set(k, v)
			}
		}
		if req.GetBody != nil {
			rc, err := req.GetBody()
			if err != nil {
				return retry.Permanent(err)
			}
			r.Body = rc
		}
		st := time.Now()
		res, err := c.hc.Do(r)
		dur := time.Since(st)
		if err != nil {
			return err
		}
		if retryableStatus(res.StatusCode) {
			wait := retryAfter(res.Header.Get("Retry-After"))
			drainAndClose(res.Body)
			return &StatusError{Method: r.Method, URL: u, Code: res.StatusCode, Wait: wait}
		}
		c.log.Debug("http request", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", res.StatusCode), slog.Duration("dur", dur), slog.Int("attempt", attempt))
		resp = res
		return nil
	})
	if err != nil {
		c.log.Warn("http request failed", slog.String("method", req.Method), slog.String("url", u), slog.Int("attempts", attempt), slog.Any("error", err))
		return nil, err
	}
	return resp, nil
}
