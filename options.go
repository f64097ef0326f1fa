package apiclient

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Option configures a Client or Backend.
type Option func(*config)

type config struct {
	timeout         time.Duration
	maxRetries      int
	baseBackoff     time.Duration
	maxBackoff      time.Duration
	maxJitter       time.Duration
	maxRetryAfter   time.Duration
	maxResponseSize int64
	httpClient      *http.Client
	guard           *SessionGuard
	logger          *zap.Logger

	rps              float64
	burst            int
	adaptiveCooldown time.Duration

	requestHook  func(req *http.Request)
	responseHook func(resp *http.Response)
}

func defaultConfig() *config {
	return &config{
		timeout:          15 * time.Second,
		maxRetries:       defaultMaxRetries,
		baseBackoff:      defaultBaseBackoff,
		maxBackoff:       defaultMaxBackoff,
		maxJitter:        defaultMaxJitter,
		maxRetryAfter:    defaultMaxRetryAfter,
		maxResponseSize:  10 * 1024 * 1024, // 10 MB
		burst:            1,
		adaptiveCooldown: time.Minute,
	}
}

// WithTimeout sets the per-request timeout. Each attempt gets its own budget.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how many times a transient GET failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the exponential backoff base, its ceiling and the maximum
// random jitter added to each wait.
func WithBackoff(base, ceiling, jitter time.Duration) Option {
	return func(c *config) {
		c.baseBackoff = base
		c.maxBackoff = ceiling
		c.maxJitter = jitter
	}
}

// WithMaxRetryAfter caps waits requested by the server's Retry-After header.
func WithMaxRetryAfter(d time.Duration) Option {
	return func(c *config) { c.maxRetryAfter = d }
}

// WithMaxResponseSize sets the maximum response body size in bytes.
func WithMaxResponseSize(n int64) Option {
	return func(c *config) { c.maxResponseSize = n }
}

// WithHTTPClient sets the underlying *http.Client. A cookie jar is attached
// when the client has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithGuard sets the session guard. Clients default to DefaultGuard().
func WithGuard(g *SessionGuard) Option {
	return func(c *config) { c.guard = g }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRateLimit throttles outgoing attempts with a token bucket.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.rps = rps
		if burst > 0 {
			c.burst = burst
		}
	}
}

// WithAdaptive sets how long the rate limit stays halved after a 429.
// It only applies together with WithRateLimit.
func WithAdaptive(cooldown time.Duration) Option {
	return func(c *config) { c.adaptiveCooldown = cooldown }
}

// WithRequestHook sets a hook called before each attempt is sent.
func WithRequestHook(fn func(req *http.Request)) Option {
	return func(c *config) { c.requestHook = fn }
}

// WithResponseHook sets a hook called after each response is received.
func WithResponseHook(fn func(resp *http.Response)) Option {
	return func(c *config) { c.responseHook = fn }
}
