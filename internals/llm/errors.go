package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// TransportError is a failed inference request: network, auth, server or
// quota. The sampling loop reports it and stops; it never retries.
type TransportError struct {
	Op         string
	StatusCode int
	RequestID  string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitedError is a TransportError for a 429. RetryAfter is zero when the
// server sent no usable hint.
type RateLimitedError struct {
	TransportError
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.TransportError.Error(), e.RetryAfter)
	}
	return e.TransportError.Error()
}

// As lets errors.As match *TransportError against a rate limit.
func (e *RateLimitedError) As(target any) bool {
	if t, ok := target.(**TransportError); ok {
		*t = &e.TransportError
		return true
	}
	return false
}

// ProtocolError is a response the loop cannot interpret. It is fatal.
type ProtocolError struct {
	BlockType string
	Msg       string
}

func (e *ProtocolError) Error() string {
	if e.BlockType != "" {
		return fmt.Sprintf("protocol violation: unexpected content block type %q", e.BlockType)
	}
	return "protocol violation: " + e.Msg
}

// IsRateLimited reports whether err is a rate limit and the server's hint.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	if v := h.Get("retry-after-ms"); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
