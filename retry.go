package apiclient

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxRetries    = 2
	defaultBaseBackoff   = time.Second
	defaultMaxBackoff    = 8 * time.Second
	defaultMaxJitter     = 250 * time.Millisecond
	defaultMaxRetryAfter = 15 * time.Second
)

// Retryable reports whether a failed attempt may be repeated. Only GET is
// retried; mutating calls must not be silently duplicated.
func Retryable(method string, status int) bool {
	return method == http.MethodGet && transientStatus(status)
}

func transientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryState belongs to one logical call. Each retry derives a new value,
// so sibling calls never observe each other's counters.
type retryState struct {
	attempt int // retries already issued
}

func (s retryState) next() retryState {
	return retryState{attempt: s.attempt + 1}
}

func (s retryState) exhausted(maxRetries int) bool {
	return s.attempt >= maxRetries
}

// Backoff returns min(base * 2^attempt, ceiling) plus jitter.
func Backoff(attempt int, base, ceiling, jitter time.Duration) time.Duration {
	d := ceiling
	if attempt < 31 {
		if exp := base * time.Duration(1<<attempt); exp > 0 && exp < ceiling {
			d = exp
		}
	}
	return d + jitter
}

// retryDelay picks the wait before the next attempt. A valid Retry-After
// header wins over exponential backoff.
func (c *Client) retryDelay(s retryState, header http.Header) time.Duration {
	if ra, ok := parseRetryAfter(header.Get("Retry-After")); ok {
		return min(ra, c.cfg.maxRetryAfter)
	}
	return Backoff(s.attempt, c.cfg.baseBackoff, c.cfg.maxBackoff, c.jitter())
}

func (c *Client) jitter() time.Duration {
	if c.cfg.maxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(c.cfg.maxJitter))) //nolint:gosec
}

// parseRetryAfter parses the Retry-After header value in either seconds or
// HTTP-date form.
func parseRetryAfter(val string) (time.Duration, bool) {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, false
	}

	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false
		}
		if secs > defaultMaxRetryAfter.Seconds() {
			return defaultMaxRetryAfter, true
		}
		return time.Duration(math.Ceil(secs)) * time.Second, true
	}

	if t, err := http.ParseTime(val); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
