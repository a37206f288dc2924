// Package retry computes backoff delays and classifies transient errors.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"
)

const (
	DefaultBaseDelay = 500 * time.Millisecond
	DefaultMaxDelay  = 8 * time.Second
	DefaultJitter    = 0.2
)

// Delay returns the exponential backoff for attempt (counting from zero),
// capped at maxDelay and spread by +/- jitter.
func Delay(baseDelay, maxDelay time.Duration, jitter float64, attempt int) time.Duration {
	delay := float64(baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	if jitter > 0 {
		delay *= 1 - jitter + rand.Float64()*2*jitter
	}
	return time.Duration(delay)
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"timeout",
	"temporary failure",
	"no route to host",
	"network is unreachable",
	"eof",
	"broken pipe",
	"connection closed",
	"service unavailable",
}

// IsTransientError reports whether err looks worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
