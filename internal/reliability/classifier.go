package reliability

import (
	"net/http"
	"time"
)

// IsRetryableHTTPStatus reports whether an HTTP status from a tool or
// synthesis endpoint is worth another attempt. Throttling and transient
// server failures retry; anything the request itself got wrong does not.
func IsRetryableHTTPStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 504)
}

var retryableRealtimeCodes = map[string]struct{}{
	"rate_limited":        {},
	"rate_limit_exceeded": {},
	"resource_exhausted":  {},
	"server_error":        {},
	"session_expired":     {},
}

// IsRetryableRealtimeCode classifies error codes reported over the
// reasoning and synthesis sockets.
func IsRetryableRealtimeCode(code string) bool {
	_, ok := retryableRealtimeCodes[code]
	return ok
}

// ExponentialBackoff doubles the base delay per attempt, capped. Attempt
// zero (or less) pays only the base delay.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	if attempt > 30 {
		return cap
	}
	d := base << uint(attempt)
	if d > cap || d < base {
		return cap
	}
	return d
}
