// internal/network/retry.go
package network

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/fitbridge/internal/config"
)

// RetryPolicy defines the strategy for retrying requests.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff is a hard ceiling on the delay between retries; jittered
	// delays never exceed it.
	MaxBackoff time.Duration
	// BackoffFactor is the exponential growth rate, e.g. 2.0 doubles the
	// delay each retry.
	BackoffFactor float64
	// Jitter randomizes each delay to spread out synchronized clients.
	Jitter bool
	// RetryableStatusCodes lists the HTTP statuses worth another attempt.
	RetryableStatusCodes map[int]bool
}

// NewDefaultRetryPolicy creates a policy suited to a flaky consumer API:
// three retries, half-second initial delay, doubling with jitter.
func NewDefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
		RetryableStatusCodes: map[int]bool{
			http.StatusRequestTimeout:      true,
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
			http.StatusGatewayTimeout:      true,
		},
	}
}

// NewRetryPolicy builds a policy from the HTTP configuration section.
func NewRetryPolicy(cfg config.HTTPConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:           cfg.MaxRetries,
		InitialBackoff:       cfg.RetryBaseDelay,
		MaxBackoff:           cfg.RetryMaxDelay,
		BackoffFactor:        cfg.RetryBackoffFactor,
		Jitter:               cfg.RetryJitter,
		RetryableStatusCodes: cfg.RetryableStatusSet(),
	}
}

// Backoff computes the delay before the given retry. retry is zero-based: the
// first retry waits roughly InitialBackoff, each one after grows by
// BackoffFactor. Jitter randomizes the raw exponential value between 50% and
// 100% before the ceiling is applied, so MaxBackoff is an absolute upper
// bound on the wait.
func (p *RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}

	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(retry))

	if p.Jitter && backoff > 0 {
		backoff *= 0.5 + rand.Float64()*0.5
	}

	if p.MaxBackoff > 0 && (backoff > float64(p.MaxBackoff) || backoff <= 0 || math.IsInf(backoff, 1)) {
		backoff = float64(p.MaxBackoff)
	}
	if backoff <= 0 {
		return 0
	}
	return time.Duration(backoff)
}

// ShouldRetry decides whether the attempt that just finished deserves another
// try, and returns a server-mandated delay when the response carried one.
// attempt is the zero-based index of the completed attempt.
func (p *RetryPolicy) ShouldRetry(ctx context.Context, req *http.Request, resp *http.Response, err error, attempt int) (bool, time.Duration) {
	if attempt >= p.MaxRetries {
		return false, 0
	}
	if ctx.Err() != nil {
		return false, 0
	}

	if err != nil {
		// Transient transport failures: timeouts, dial/read/write errors and
		// keep-alive races where the server closed the connection under us.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return true, 0
		}
		if opErr, ok := err.(*net.OpError); ok {
			if opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write" {
				return true, 0
			}
		}
		if err == io.EOF || strings.Contains(err.Error(), "unexpected EOF") ||
			strings.Contains(err.Error(), "connection reset") ||
			strings.Contains(err.Error(), "connection closed") {
			return true, 0
		}
		return false, 0
	}
	if resp == nil {
		return false, 0
	}

	// Status retries are gated on the request being safely repeatable:
	// idempotent methods always, others only with a replayable body.
	isIdempotent := req.Method == http.MethodGet || req.Method == http.MethodHead ||
		req.Method == http.MethodOptions || req.Method == http.MethodTrace ||
		req.Method == http.MethodPut || req.Method == http.MethodDelete
	if !isIdempotent && req.GetBody == nil && req.Body != nil {
		return false, 0
	}

	if !p.RetryableStatusCodes[resp.StatusCode] {
		return false, 0
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if wait := parseRetryAfter(resp.Header.Get("Retry-After")); wait > 0 {
			return true, wait
		}
	}
	return true, 0
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if date, err := http.ParseTime(value); err == nil {
		if wait := time.Until(date); wait > 0 {
			return wait
		}
	}
	return 0
}
