// Package completion provides the Completion Port used by every workflow.
//
// A completion is a single request/response exchange with a language model.
// The package does not know anything about workflows: it turns a [Request]
// into response text or an error, and nothing else.
//
// Key types:
//   - [Completer]: the capability consumed by the workflow runners
//   - [Request]: an immutable, per-call description of the prompt
//   - [CLIClient]: production implementation that shells out to the llm CLI
//   - [CallError]: transport failure carrying the subprocess exit code and stderr
//
// For testing, use [MockCompleter] which implements [Completer] without spawning
// real processes.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPrompt is returned when a request carries no prompt text.
var ErrEmptyPrompt = errors.New("completion prompt is empty")

// Request describes a single completion call.
//
// Requests are built per call and never mutated after being handed to a
// [Completer]. Empty System and Model mean "not set".
type Request struct {
	// Prompt is the user prompt text. Required.
	Prompt string

	// System is an optional system instruction.
	System string

	// Model is an optional model identifier. Empty uses the CLI default.
	Model string

	// Stream asks the backend to stream text as it is produced. It is advisory;
	// batch and concurrent callers always set it to false.
	Stream bool
}

// Completer is the Completion Port.
//
// Complete issues one request and returns the full response text. Implementations
// are stateless per call and safe for concurrent use. A returned error means the
// call produced no usable text; partial responses are never returned.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts an ordinary function to the [Completer] interface.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f(ctx, req).
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// CallError is a transport failure reported by the completion backend.
type CallError struct {
	// Code is the subprocess exit code, or -1 when the process never ran.
	Code int

	// Stderr is the trimmed standard error output of the backend.
	Stderr string

	// Err is the underlying error.
	Err error
}

// Error returns a description that includes stderr when available.
func (e *CallError) Error() string {
	msg := fmt.Sprintf("completion failed (exit code %d)", e.Code)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}
