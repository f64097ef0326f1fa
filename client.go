package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// Stats holds atomic request counters.
type Stats struct {
	TotalRequests uint64
	TotalErrors   uint64
	RateLimited   uint64
	Retries       uint64
}

// StatsProvider exposes metrics for external collectors.
type StatsProvider interface {
	Stats() Stats
}

// Backend is one API origin shared by many module clients. Module clients of
// a backend share the cookie jar, the session guard and the rate limiter.
type Backend struct {
	baseURL    string
	cfg        *config
	httpClient *http.Client
	guard      *SessionGuard
	logger     *zap.Logger
	limiter    *rate.Limiter

	mu            sync.Mutex
	originalRate  rate.Limit
	adaptiveTimer *time.Timer
	closed        bool
}

// NewBackend validates baseURL and prepares the shared transport.
func NewBackend(baseURL string, opts ...Option) (*Backend, error) {
	origin, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("apiclient: cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	guard := cfg.guard
	if guard == nil {
		guard = defaultGuard
	}

	var lim *rate.Limiter
	if cfg.rps > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.rps), cfg.burst)
	}

	return &Backend{
		baseURL:      origin,
		cfg:          cfg,
		httpClient:   hc,
		guard:        guard,
		logger:       logger,
		limiter:      lim,
		originalRate: rate.Limit(cfg.rps),
	}, nil
}

// BaseURL returns the normalized origin.
func (b *Backend) BaseURL() string { return b.baseURL }

// Guard returns the session guard shared by the backend's clients.
func (b *Backend) Guard() *SessionGuard { return b.guard }

// Module returns a client bound to {baseURL}/api{module}.
func (b *Backend) Module(module string) *Client {
	path := NormalizeModulePath(module)
	return &Client{
		backend: b,
		cfg:     b.cfg,
		module:  path,
		prefix:  b.baseURL + "/api" + path,
		logger:  b.logger.With(zap.String("module", path)),
		sleep:   sleepCtx,
	}
}

// Close releases the adaptive timer.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.adaptiveTimer != nil {
		b.adaptiveTimer.Stop()
		b.adaptiveTimer = nil
	}
}

func (b *Backend) waitRateLimit(ctx context.Context) error {
	b.mu.Lock()
	lim := b.limiter
	b.mu.Unlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// reduceRateLimit halves the rate after a 429 and restores it once the
// cooldown passes without another one.
func (b *Backend) reduceRateLimit() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limiter == nil || b.closed {
		return
	}

	reduced := b.originalRate / 2
	if reduced < 0.01 {
		reduced = 0.01
	}
	b.limiter.SetLimit(reduced)

	if b.adaptiveTimer != nil {
		b.adaptiveTimer.Stop()
	}
	b.adaptiveTimer = time.AfterFunc(b.cfg.adaptiveCooldown, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.closed && b.limiter != nil {
			b.limiter.SetLimit(b.originalRate)
		}
	})
}

// Client issues requests against one backend module.
type Client struct {
	backend *Backend
	cfg     *config
	module  string
	prefix  string
	logger  *zap.Logger
	owned   bool

	sleep func(ctx context.Context, d time.Duration) error

	totalReqs   atomic.Uint64
	totalErrors atomic.Uint64
	rateLimited atomic.Uint64
	retries     atomic.Uint64
}

var _ StatsProvider = (*Client)(nil)

// New creates a client for a single module on its own backend.
func New(baseURL, module string, opts ...Option) (*Client, error) {
	b, err := NewBackend(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	c := b.Module(module)
	c.owned = true
	return c, nil
}

// ModulePath returns the normalized module path.
func (c *Client) ModulePath() string { return c.module }

// URL returns the absolute URL for endpoint.
func (c *Client) URL(endpoint string) string { return joinEndpoint(c.prefix, endpoint) }

// Close closes the backend if the client created it.
func (c *Client) Close() {
	if c.owned {
		c.backend.Close()
	}
}

// Stats returns a snapshot of request statistics.
func (c *Client) Stats() Stats {
	return Stats{
		TotalRequests: c.totalReqs.Load(),
		TotalErrors:   c.totalErrors.Load(),
		RateLimited:   c.rateLimited.Load(),
		Retries:       c.retries.Load(),
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, endpoint string, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Options: opts})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, endpoint string, body any, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Endpoint: endpoint, Body: body, Options: opts})
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, endpoint string, body any, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Endpoint: endpoint, Body: body, Options: opts})
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, endpoint string, body any, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Endpoint: endpoint, Body: body, Options: opts})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Endpoint: endpoint, Options: opts})
}

// attempt is the prepared, replayable form of a logical call.
type attempt struct {
	method      string
	url         string
	body        []byte
	contentType string
	header      http.Header
	timeout     time.Duration
	requestID   string
}

// failed carries a raw failure plus the headers needed for retry timing.
type failed struct {
	Failure
	header http.Header
}

// Do executes a request. Transient GET failures are retried; every other
// failure is returned as *Error.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	c.totalReqs.Add(1)

	a, err := c.prepare(r)
	if err != nil {
		c.totalErrors.Add(1)
		return nil, err
	}
	log := c.logger.With(
		zap.String("method", a.method),
		zap.String("url", a.url),
		zap.String("request_id", a.requestID),
	)

	state := retryState{}
	for {
		if err := c.backend.waitRateLimit(ctx); err != nil {
			return nil, c.reject(log, Failure{Method: a.method, URL: a.url, Err: limiterErr(ctx, err)})
		}

		log.Debug("sending request", zap.Int("attempt", state.attempt+1))
		resp, f := c.send(ctx, a)
		if f == nil {
			log.Debug("request succeeded", zap.Int("status", resp.Status))
			return resp, nil
		}

		if f.Status == http.StatusTooManyRequests {
			c.rateLimited.Add(1)
			c.backend.reduceRateLimit()
		}

		if !Retryable(a.method, f.Status) || state.exhausted(c.cfg.maxRetries) {
			return nil, c.reject(log, f.Failure)
		}

		delay := c.retryDelay(state, f.header)
		log.Warn("transient failure, retrying",
			zap.Int("status", f.Status),
			zap.Int("attempt", state.attempt+1),
			zap.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, c.reject(log, Failure{Method: a.method, URL: a.url, Err: err})
		}
		c.retries.Add(1)
		state = state.next()
	}
}

func (c *Client) prepare(r Request) (*attempt, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	cc := newCallConfig(r.Options)

	target, err := withParams(joinEndpoint(c.prefix, r.Endpoint), cc.params)
	if err != nil {
		return nil, &Error{Method: method, URL: c.URL(r.Endpoint), Message: "invalid endpoint: " + err.Error(), Err: err}
	}

	body, contentType, err := encodeBody(r.Body)
	if err != nil {
		return nil, &Error{Method: method, URL: target, Message: err.Error(), Err: err}
	}

	timeout := c.cfg.timeout
	if cc.timeout > 0 {
		timeout = cc.timeout
	}

	return &attempt{
		method:      method,
		url:         target,
		body:        body,
		contentType: contentType,
		header:      cc.header,
		timeout:     timeout,
		requestID:   uuid.NewString(),
	}, nil
}

// send performs one attempt under its own timeout.
func (c *Client) send(ctx context.Context, a *attempt) (*Response, *failed) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var body io.Reader
	if a.body != nil {
		body = bytes.NewReader(a.body)
	}
	req, err := http.NewRequestWithContext(ctx, a.method, a.url, body)
	if err != nil {
		return nil, &failed{Failure: Failure{Method: a.method, URL: a.url, Err: err}}
	}

	req.Header.Set("Accept", "application/json")
	if a.contentType != "" {
		req.Header.Set("Content-Type", a.contentType)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", a.requestID)
	for k, v := range a.header {
		req.Header[k] = v
	}
	// An empty override removes the header so the transport can set it.
	for k, v := range req.Header {
		if len(v) == 1 && v[0] == "" {
			req.Header.Del(k)
		}
	}

	if c.cfg.requestHook != nil {
		c.cfg.requestHook(req)
	}

	resp, err := c.backend.httpClient.Do(req)
	if err != nil {
		return nil, &failed{Failure: Failure{Method: a.method, URL: a.url, Err: err}}
	}
	defer resp.Body.Close()

	if c.cfg.responseHook != nil {
		c.cfg.responseHook(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.maxResponseSize))
	if err != nil {
		return nil, &failed{
			Failure: Failure{Method: a.method, URL: a.url, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)},
			header:  resp.Header,
		}
	}

	if resp.StatusCode >= 400 {
		return nil, &failed{
			Failure: Failure{Method: a.method, URL: a.url, Status: resp.StatusCode, Body: respBody},
			header:  resp.Header,
		}
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// reject normalizes f and fires the global side effect it calls for.
func (c *Client) reject(log *zap.Logger, f Failure) *Error {
	c.totalErrors.Add(1)
	e := Normalize(f)

	switch {
	case e.Status == 0 && e.Code == CodeNetworkError:
		c.backend.guard.TripOffline()
	case e.Status == http.StatusUnauthorized:
		c.backend.guard.TripLogout()
	}

	log.Debug("request failed",
		zap.Int("status", e.Status),
		zap.String("code", e.Code),
		zap.String("message", e.Message),
	)
	return e
}

// limiterErr maps a failed token wait onto the context error it stands for.
// rate.Limiter reports a wait that would outlive the deadline before the
// deadline passes.
func limiterErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("rate limit wait: %w", ctxErr)
	}
	return fmt.Errorf("rate limit wait: %v: %w", err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
