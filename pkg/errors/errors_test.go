package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Error(t *testing.T) {
	err := NewPreflightError("required file missing: package.json", nil)
	assert.Equal(t, "preflight: required file missing: package.json", err.Error())

	cause := fmt.Errorf("permission denied")
	err = NewConfigWriteError("failed to write env file", cause)
	assert.Equal(t, "config_write: failed to write env file: permission denied", err.Error())
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewPortResolutionError("no available ports in range", nil).
		WithContext("start", 9000).
		WithContext("end", 9999)

	assert.Equal(t, 9000, err.Context["start"])
	assert.Equal(t, 9999, err.Context["end"])
}

func TestDomainError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewStartupTimeoutError("backend not ready", nil))

	assert.True(t, errors.Is(err, &DomainError{Type: ErrorTypeStartupTimeout}))
	assert.False(t, errors.Is(err, &DomainError{Type: ErrorTypeProcessExit}))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"preflight", NewPreflightError("x", nil), IsPreflightError},
		{"port_resolution", NewPortResolutionError("x", nil), IsPortResolutionError},
		{"startup_timeout", NewStartupTimeoutError("x", nil), IsStartupTimeoutError},
		{"process_exit", NewProcessExitError("x", nil), IsProcessExitError},
		{"config_write", NewConfigWriteError("x", nil), IsConfigWriteError},
		{"aborted", NewAbortedError("x", nil), IsAbortedError},
		{"validation", NewValidationError("x", nil), IsValidationError},
		{"not_found", NewNotFoundError("x", nil), IsNotFoundError},
		{"conflict", NewConflictError("x", nil), IsConflictError},
		{"process", NewProcessError("x", nil), IsProcessError},
		{"timeout", NewTimeoutError("x", nil), IsTimeoutError},
		{"io", NewIOError("x", nil), IsIOError},
		{"internal", NewInternalError("x", nil), IsInternalError},
		{"cancelled", NewCancelledError("x", nil), IsCancelledError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("outer: %w", tt.err)))
			assert.False(t, tt.check(fmt.Errorf("plain error")))
		})
	}
}

func TestIsFatalAndExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fatal    bool
		exitCode int
	}{
		{"nil", nil, false, 0},
		{"preflight", NewPreflightError("missing node", nil), true, 1},
		{"port_resolution", NewPortResolutionError("exhausted", nil), true, 1},
		{"startup_timeout", NewStartupTimeoutError("timeout", nil), true, 1},
		{"process_exit", NewProcessExitError("exited", nil), false, 1},
		{"config_write", NewConfigWriteError("write failed", nil), false, 1},
		{"aborted", NewAbortedError("operator chose to exit", nil), false, 0},
		{"cancelled", NewCancelledError("signal", nil), false, 0},
		{"plain", fmt.Errorf("boom"), true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
			assert.Equal(t, tt.exitCode, ExitCode(tt.err))
		})
	}
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	assert.False(t, collection.HasErrors())
	assert.NoError(t, collection.ToError())

	collection.Add(nil)
	assert.False(t, collection.HasErrors())

	collection.Add(NewProcessError("failed to terminate backend", nil))
	assert.Equal(t, "process: failed to terminate backend", collection.Error())

	collection.Add(NewProcessError("failed to terminate frontend", nil))
	err := collection.ToError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.True(t, IsProcessError(err))
}
