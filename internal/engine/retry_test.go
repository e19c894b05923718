package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/buffrsign/engine/pkg/schema"
)

func TestComputeBackoff_Exponential(t *testing.T) {
	policy := schema.RetryPolicy{MaxRetries: 3, Backoff: schema.BackoffExponential}

	assert.Equal(t, 1*time.Second, ComputeBackoff(policy, 0))
	assert.Equal(t, 2*time.Second, ComputeBackoff(policy, 1))
	assert.Equal(t, 4*time.Second, ComputeBackoff(policy, 2))
	assert.Equal(t, 8*time.Second, ComputeBackoff(policy, 3))
}

func TestComputeBackoff_Linear(t *testing.T) {
	policy := schema.RetryPolicy{MaxRetries: 3, Backoff: schema.BackoffLinear}

	assert.Equal(t, 1*time.Second, ComputeBackoff(policy, 0))
	assert.Equal(t, 2*time.Second, ComputeBackoff(policy, 1))
	assert.Equal(t, 3*time.Second, ComputeBackoff(policy, 2))
}

func TestComputeBackoff_Fixed(t *testing.T) {
	policy := schema.RetryPolicy{MaxRetries: 3, Backoff: schema.BackoffFixed}

	for attempt := 0; attempt < 4; attempt++ {
		assert.Equal(t, BaseRetryDelay, ComputeBackoff(policy, attempt))
	}
}

func TestComputeBackoff_UnknownStrategyIsFixed(t *testing.T) {
	policy := schema.RetryPolicy{MaxRetries: 3, Backoff: "fibonacci"}
	assert.Equal(t, BaseRetryDelay, ComputeBackoff(policy, 2))
}

func TestComputeBackoff_Monotonic(t *testing.T) {
	for _, strategy := range []schema.BackoffStrategy{schema.BackoffLinear, schema.BackoffExponential} {
		policy := schema.RetryPolicy{MaxRetries: 5, Backoff: strategy}
		prev := time.Duration(0)
		for attempt := 0; attempt < 5; attempt++ {
			d := ComputeBackoff(policy, attempt)
			assert.Greater(t, d, prev, "strategy %s attempt %d", strategy, attempt)
			prev = d
		}
	}
}

func TestIsRetryable(t *testing.T) {
	anyPolicy := schema.RetryPolicy{MaxRetries: 3}
	scoped := schema.RetryPolicy{MaxRetries: 3, RetryableErrors: []string{"timeout", "AI_SERVICE_ERROR"}}

	assert.False(t, IsRetryable(anyPolicy, nil))
	assert.True(t, IsRetryable(anyPolicy, errors.New("anything at all")))

	assert.True(t, IsRetryable(scoped, errors.New("upstream TIMEOUT while reading")))
	assert.False(t, IsRetryable(scoped, errors.New("document malformed")))

	// Matching by engine error code.
	coded := schema.NewError(schema.ErrCodeAIService, "bad gateway")
	assert.True(t, IsRetryable(scoped, coded))
}
