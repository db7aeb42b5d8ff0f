package payment

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy decides how often and how long to wait between gateway attempts
type RetryPolicy struct {
	// MaxAttempts counts the first attempt. Default 4.
	MaxAttempts int
	// InitialDelay is the wait after the first failure; it doubles per attempt. Default 500ms.
	InitialDelay time.Duration
	// MaxJitter bounds the random delay added to each backoff. Default 500ms.
	MaxJitter time.Duration
}

// DefaultRetryPolicy returns the default policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		MaxJitter:    500 * time.Millisecond,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxJitter <= 0 {
		p.MaxJitter = d.MaxJitter
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based).
// A server-provided Retry-After wins over the computed delay.
func (p RetryPolicy) Backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := p.InitialDelay << (attempt - 1)
	if p.MaxJitter > 0 {
		delay += rand.N(p.MaxJitter)
	}
	return delay
}

// StatusError is a non-2xx gateway response
type StatusError struct {
	Op         string
	StatusCode int
	Name       string
	Message    string
	DebugID    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("paypal %s: HTTP %d", e.Op, e.StatusCode)
	if e.Name != "" {
		msg += " " + e.Name
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.DebugID != "" {
		msg += " (debug_id " + e.DebugID + ")"
	}
	return msg
}

// Transient reports whether the same request may succeed later
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// transportError is a failure before any response arrived
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// retryable classifies an attempt error and returns any server-requested wait
func retryable(err error) (bool, time.Duration) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient(), se.RetryAfter
	}
	var te *transportError
	return errors.As(err, &te), 0
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
