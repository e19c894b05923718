package engine

import (
	"strings"
	"time"

	"github.com/buffrsign/engine/pkg/schema"
)

// BaseRetryDelay is the unit delay all backoff strategies scale from.
const BaseRetryDelay = 1000 * time.Millisecond

// ComputeBackoff calculates the wait before retry attempt n (0-based: the
// first retry waits ComputeBackoff(policy, 0)).
//
//	fixed:       base
//	linear:      base * (n+1)
//	exponential: base * 2^n
func ComputeBackoff(policy schema.RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	switch policy.Backoff {
	case schema.BackoffLinear:
		return BaseRetryDelay * time.Duration(attempt+1)
	case schema.BackoffExponential:
		return BaseRetryDelay << uint(attempt)
	default: // fixed or unset
		return BaseRetryDelay
	}
}

// IsRetryable decides whether an error qualifies for retry under the
// policy. An empty allowlist retries everything; otherwise the error text
// or typed error code must contain one of the listed fragments.
func IsRetryable(policy schema.RetryPolicy, err error) bool {
	if err == nil {
		return false
	}
	if len(policy.RetryableErrors) == 0 {
		return true
	}
	msg := strings.ToLower(err.Error())
	code := strings.ToLower(schema.CodeOf(err))
	for _, frag := range policy.RetryableErrors {
		f := strings.ToLower(frag)
		if strings.Contains(msg, f) || (code != "" && strings.Contains(code, f)) {
			return true
		}
	}
	return false
}
