// Package models holds the rate limiting value types shared by the stores and the
// middleware.
package models

import "time"

// Limit is a request budget per window.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until the caller may try again; zero when allowed.
	RetryAfter int
}

// RetryAfterSeconds rounds the time until reset up to whole seconds, minimum one.
func RetryAfterSeconds(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// NewVerifyKey keys verification lookups by client IP.
func NewVerifyKey(ip string) string {
	return "kyc:ratelimit:verify:" + ip
}
