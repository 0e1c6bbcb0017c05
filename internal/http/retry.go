package http

import (
	"math/rand"
	nethttp "net/http"
	"strconv"
	"time"
)

// FullJitterBackoff is the retry backoff used by the API client.
// A Retry-After header on a 429 or 503 response takes precedence.
func FullJitterBackoff(min, max time.Duration, attemptNum int, resp *nethttp.Response) time.Duration {
	if resp != nil && (resp.StatusCode == nethttp.StatusTooManyRequests || resp.StatusCode == nethttp.StatusServiceUnavailable) {
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s >= 0 {
			return time.Duration(s) * time.Second
		}
	}
	return CalculateBackoff(attemptNum+1, min, max)
}

// CalculateBackoff returns exponential backoff duration with full jitter.
// Full jitter prevents synchronized retries from many clients.
//
// Formula: random(0, min(maxDelay, initialDelay * 2^attempt))
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}

	base := maxDelay
	if attempt < 32 {
		if exp := time.Duration(1<<uint(attempt)) * initialDelay; exp > 0 && exp < maxDelay {
			base = exp
		}
	}
	if base <= 0 {
		return 0
	}

	return time.Duration(rand.Int63n(int64(base)))
}
