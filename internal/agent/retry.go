package agent

import (
	"math/rand"
	"strings"
	"time"
)

// RetryConfig controls automatic retry of transient provider errors.
type RetryConfig struct {
	Enabled     bool  `json:"enabled"`
	MaxRetries  int   `json:"maxRetries"`
	BaseDelayMs int64 `json:"baseDelayMs"`
	MaxDelayMs  int64 `json:"maxDelayMs"`
}

// DefaultRetryConfig returns the standard policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:     true,
		MaxRetries:  3,
		BaseDelayMs: 2000,
		MaxDelayMs:  60000,
	}
}

// Delay computes the backoff for attempt k (1-based):
// min(max, base*2^(k-1)) with uniform jitter in [0.5, 1.0], then capped by
// maxRetryDelayMs when the caller set one.
func (c RetryConfig) Delay(attempt int, maxRetryDelayMs int64) time.Duration {
	base := c.BaseDelayMs
	if base <= 0 {
		base = 2000
	}
	maxDelay := c.MaxDelayMs
	if maxDelay <= 0 {
		maxDelay = 60000
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	jittered := float64(delay) * (0.5 + rand.Float64()*0.5)
	delay = int64(jittered)
	if maxRetryDelayMs > 0 && delay > maxRetryDelayMs {
		delay = maxRetryDelayMs
	}
	return time.Duration(delay) * time.Millisecond
}

// IsRetryableError classifies a provider error message: network/transport
// failures, 5xx, and 429 retry; other 4xx, cancellation, and overflow
// (handled by compaction) do not.
func IsRetryableError(message string) bool {
	lower := strings.ToLower(message)

	if strings.Contains(lower, "cancel") || strings.Contains(lower, "abort") {
		return false
	}

	// Rate limiting.
	if strings.Contains(lower, "429") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") {
		return true
	}

	// Server errors.
	for _, needle := range []string{"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable",
		"gateway timeout", "overloaded"} {
		if strings.Contains(lower, needle) {
			return true
		}
	}

	// Network and transport.
	for _, needle := range []string{"timeout", "connection reset",
		"connection refused", "no such host", "network", "eof",
		"temporary failure", "broken pipe", "tls handshake"} {
		if strings.Contains(lower, needle) {
			return true
		}
	}

	return false
}
