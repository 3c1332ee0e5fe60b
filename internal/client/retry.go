package client

import (
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy implements exponential backoff with jitter for transient upstream errors.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first (default: 4)
	BaseDelay   time.Duration // Delay before the first retry (default: 500ms)
	MaxDelay    time.Duration // Maximum delay (default: 10s)
	Jitter      float64       // Jitter factor 0-1 (default: 0.2)

	// rand returns a value in [0,1); nil uses math/rand.
	rand func() float64
}

// DefaultRetryPolicy returns the default retry settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	}
}

// Delay returns the delay before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// delay * (1 + random(-jitter, +jitter))
	if p.Jitter > 0 {
		r := rand.Float64
		if p.rand != nil {
			r = p.rand
		}
		delay += (r()*2 - 1) * delay * p.Jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// retryDelay - Retry-After가 있으면 우선 사용 (MaxDelay로 제한)
func (p RetryPolicy) retryDelay(attempt int, err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		if p.MaxDelay > 0 && te.RetryAfter > p.MaxDelay {
			return p.MaxDelay
		}
		return te.RetryAfter
	}
	return p.Delay(attempt)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// parseRetryAfter - "120" (초) 또는 HTTP-date 형식
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
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
