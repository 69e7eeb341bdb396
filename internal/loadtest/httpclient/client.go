// Package httpclient issues load-test requests and turns each one into a
// metrics sample with a k6-style timing breakdown.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
	"github.com/wesleyorama2/taskload/internal/loadtest/tracing"
)

// Config contains HTTP client configuration.
type Config struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	InsecureSkipVerify  bool
	UserAgent           string

	// MaxRPS caps the request rate across all VUs. Zero means unlimited.
	MaxRPS float64

	// Headers are added to every request.
	Headers map[string]string
}

// DefaultConfig returns defaults suitable for load testing.
func DefaultConfig() Config {
	return Config{
		Timeout:             60 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           "taskload/0.1.0",
	}
}

// Request describes one call.
type Request struct {
	// Name tags the resulting sample, e.g. "create_task".
	Name   string
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Result is the outcome of a request that was issued.
type Result struct {
	Sample metrics.Sample
	Body   []byte
	Header http.Header
}

// Client is safe for concurrent use by all VUs.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	tracing *tracing.Provider
	now     func() time.Time
	newID   func() string
}

// Option configures a Client.
type Option func(*Client)

// WithTracing attaches an OpenTelemetry provider.
func WithTracing(p *tracing.Provider) Option {
	return func(c *Client) {
		c.tracing = p
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClock sets the clock used for sample timestamps and timings.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a client from cfg.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
	if cfg.MaxRPS > 0 {
		burst := int(cfg.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = newHTTPClient(cfg)
	}
	return c
}

func newHTTPClient(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// Do issues req.
//
// Transport failures and timeouts are not errors: they come back as a
// Result whose sample has Status 0 and Err set. Do only returns an error
// when the request was never issued or ctx was cancelled by the caller; in
// that case no sample should be recorded.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", req.Method, req.URL, err)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if c.cfg.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if httpReq.Header.Get("X-Request-ID") == "" {
		httpReq.Header.Set("X-Request-ID", c.newID())
	}

	reqCtx := ctx
	var span spanEnder = noopSpan{}
	if c.tracing.Enabled() {
		reqCtx, span = startSpan(reqCtx, c.tracing, req)
	}
	if c.tracing.ShouldPropagate() {
		tracing.InjectHTTPHeaders(reqCtx, httpReq.Header)
	}

	t := newTimer(c.now)
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(reqCtx, t.trace()))

	sample := metrics.Sample{
		Timestamp: t.start,
		Name:      req.Name,
		Method:    req.Method,
		URL:       req.URL,
		BytesOut:  int64(len(req.Body)),
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		t.finish()
		if ctx.Err() != nil {
			span.end(0, ctx.Err())
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, ctx.Err())
		}
		sample.Timings, sample.Duration = t.timings()
		sample.Err = err
		span.end(0, err)
		return &Result{Sample: sample}, nil
	}

	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	t.finish()

	sample.Timings, sample.Duration = t.timings()
	sample.Status = resp.StatusCode
	sample.BytesIn = int64(len(respBody))
	if readErr != nil {
		if ctx.Err() != nil {
			span.end(resp.StatusCode, ctx.Err())
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, ctx.Err())
		}
		sample.Status = 0
		sample.Err = fmt.Errorf("read body: %w", readErr)
	}
	span.end(sample.Status, sample.Err)

	return &Result{Sample: sample, Body: respBody, Header: resp.Header}, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
