package workflow

import (
	"errors"

	"llmflow/internal/completion"
	"llmflow/internal/events"
)

// Configuration errors. They are detected before any completion call is made.
var (
	ErrTooFewPrompts     = errors.New("at least 2 prompts are required")
	ErrTooFewVotes       = errors.New("vote count must be at least 2")
	ErrNoMode            = errors.New("either sectioning or voting mode must be specified")
	ErrConflictingModes  = errors.New("cannot use both sectioning and voting at the same time")
	ErrAggregateRequired = errors.New("an aggregate mode is required for sectioning")
	ErrNoSections        = errors.New("no sections found in input")
	ErrMissingPrompt     = errors.New("prompt is required")
)

// Run-time terminal errors.
var (
	// ErrGateFailure means an intermediate chain output failed the structural gate.
	ErrGateFailure = errors.New("gate failure")

	// ErrInvalidClassification means the classifier answered with a label outside the route table.
	ErrInvalidClassification = errors.New("invalid classification")

	// ErrInvalidDecomposition means the orchestrator did not return a usable task list.
	ErrInvalidDecomposition = errors.New("invalid orchestrator output")

	// ErrAllWorkersDropped means no worker output survived a batch.
	ErrAllWorkersDropped = errors.New("all worker outputs dropped or failed")

	// ErrInvalidEvaluation means the evaluator did not return {score, feedback} with a score in [0,1].
	ErrInvalidEvaluation = errors.New("invalid evaluator output")

	// ErrBatchTimeout means a worker batch exceeded its time bound.
	ErrBatchTimeout = errors.New("batch timed out")
)

// Status tags the terminal state of a run.
type Status string

const (
	StatusSuccess           Status = "success"
	StatusNoResult          Status = "no_result"
	StatusBudgetExhausted   Status = "budget_exhausted"
	StatusGateFailed        Status = "gate_failed"
	StatusInvalidOutput     Status = "invalid_output"
	StatusInvalidEvaluation Status = "invalid_evaluation"
	StatusAllDropped        Status = "all_dropped"
	StatusTimeout           Status = "timeout"
	StatusConfigError       Status = "config_error"
	StatusFailed            Status = "failed"
)

// OK reports whether the status is a successful terminal state.
func (s Status) OK() bool {
	return s == StatusSuccess || s == StatusNoResult
}

// StatusOf classifies a runner error.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrGateFailure):
		return StatusGateFailed
	case errors.Is(err, ErrInvalidClassification), errors.Is(err, ErrInvalidDecomposition):
		return StatusInvalidOutput
	case errors.Is(err, ErrInvalidEvaluation):
		return StatusInvalidEvaluation
	case errors.Is(err, ErrAllWorkersDropped):
		return StatusAllDropped
	case errors.Is(err, ErrBatchTimeout):
		return StatusTimeout
	case errors.Is(err, ErrTooFewPrompts), errors.Is(err, ErrTooFewVotes), errors.Is(err, ErrNoMode),
		errors.Is(err, ErrConflictingModes), errors.Is(err, ErrAggregateRequired),
		errors.Is(err, ErrNoSections), errors.Is(err, ErrMissingPrompt), errors.Is(err, completion.ErrEmptyPrompt):
		return StatusConfigError
	}
	return StatusFailed
}

// Result is the outcome of a run.
//
// Output holds the final text. For budget exhaustion and gate failures it
// holds the last candidate so callers can still use it.
type Result struct {
	Output     string
	Status     Status
	Iterations int

	// Score is the last evaluator score (optimize only).
	Score float64

	// Label is the chosen route (route only).
	Label string
}

// Diagnostics receives human-oriented progress, separate from the result.
type Diagnostics interface {
	StepResult(step int, text string)
	Verbosef(format string, args ...any)
}

type nopDiagnostics struct{}

func (nopDiagnostics) StepResult(int, string)  {}
func (nopDiagnostics) Verbosef(string, ...any) {}

// Env bundles the collaborators shared by every runner in a run.
type Env struct {
	Completer completion.Completer
	Sink      *events.Sink
	Diag      Diagnostics
	Batches   BatchObserver
}

func (e Env) diag() Diagnostics {
	if e.Diag == nil {
		return nopDiagnostics{}
	}
	return e.Diag
}

// finish emits the terminal event and fills in the status from err.
func finish(sink *events.Sink, res Result, err error) (Result, error) {
	if err != nil {
		if res.Status == "" || res.Status == StatusSuccess {
			res.Status = StatusOf(err)
		}
		sink.Log("error", map[string]any{
			"status":     string(res.Status),
			"error":      err.Error(),
			"iterations": res.Iterations,
		})
		return res, err
	}
	if res.Status == "" {
		res.Status = StatusSuccess
	}
	sink.Log("done", map[string]any{
		"status":     string(res.Status),
		"iterations": res.Iterations,
		"output":     res.Output,
	})
	return res, nil
}
