package cli

import (
	"errors"
	"fmt"

	"llmflow/internal/workflow"
)

// Process exit codes. Scripts driving llmflow depend on these values.
const (
	ExitSuccess           = 0
	ExitGeneral           = 1
	ExitInvalidOutput     = 10
	ExitInvalidEvaluation = 20
	ExitBudgetExhausted   = 30
	ExitTimeout           = 31
	ExitGateFailure       = 40
)

// ExitError represents a command execution failure with a specific exit code.
//
// This error type allows Cobra RunE functions to signal non-zero exit codes
// without calling os.Exit() directly, enabling testable CLI behavior.
// When a command fails, it returns NewExitError(code), which propagates up
// to [RunWithConfig] where [IsExitError] extracts the code for [ExecuteResult].
type ExitError struct {
	// Code is the exit code to return to the shell.
	Code int

	// Err is the underlying failure, if any.
	Err error
}

// Error implements the error interface, returning a string in the format
// "exit status N" where N is the exit code, followed by the cause when known.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit status %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying failure.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an [ExitError] with the given exit code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

// IsExitError checks if an error is an [ExitError] and extracts its exit code.
//
// Returns (code, true) if err is or wraps an *ExitError. Returns (0, false)
// for nil or other errors.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

// ExitCodeFor maps a run's terminal state to a process exit code.
//
// status wins when set; otherwise it is derived from err.
func ExitCodeFor(err error, status workflow.Status) int {
	if status == "" {
		status = workflow.StatusOf(err)
	}
	switch status {
	case workflow.StatusSuccess, workflow.StatusNoResult:
		if err != nil {
			return ExitGeneral
		}
		return ExitSuccess
	case workflow.StatusInvalidOutput:
		return ExitInvalidOutput
	case workflow.StatusInvalidEvaluation, workflow.StatusAllDropped:
		return ExitInvalidEvaluation
	case workflow.StatusBudgetExhausted:
		return ExitBudgetExhausted
	case workflow.StatusTimeout:
		return ExitTimeout
	case workflow.StatusGateFailed:
		return ExitGateFailure
	}
	return ExitGeneral
}
