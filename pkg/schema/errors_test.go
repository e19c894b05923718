package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineError_Format(t *testing.T) {
	err := NewError(ErrCodeValidation, "name is required")
	assert.Equal(t, "[VALIDATION_ERROR] name is required", err.Error())

	err = NewErrorf(ErrCodeStepExecution, "executor returned %d fields", 0).WithStep("analyze")
	assert.Equal(t, "[STEP_EXECUTION_ERROR] step analyze: executor returned 0 fields", err.Error())
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrCodeAIService, "analysis call failed").WithCause(cause)

	require.ErrorIs(t, err, cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestEngineError_Details(t *testing.T) {
	err := NewError(ErrCodeConflict, "job already exists").
		WithDetails(map[string]any{"job_id": "nightly"})

	assert.Equal(t, "nightly", err.Details["job_id"])
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, CodeOf(NewError(ErrCodeNotFound, "no such workflow")))

	// Wrapped anywhere in the chain still resolves.
	wrapped := fmt.Errorf("run failed: %w", NewError(ErrCodeCircuitOpen, "breaker open"))
	assert.Equal(t, ErrCodeCircuitOpen, CodeOf(wrapped))

	assert.Empty(t, CodeOf(errors.New("plain error")))
	assert.Empty(t, CodeOf(nil))
}
