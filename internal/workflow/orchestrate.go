package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"llmflow/internal/completion"
	"llmflow/internal/tokens"
)

// Decomposition is the orchestrator's plan for one iteration.
type Decomposition struct {
	Tasks           []Task `json:"tasks"`
	AggregatePrompt string `json:"aggregate_prompt,omitempty"`
}

type rawDecomposition struct {
	Tasks           *[]rawTask `json:"tasks"`
	AggregatePrompt string     `json:"aggregate_prompt"`
}

type rawTask struct {
	ID     json.RawMessage `json:"id"`
	Prompt *string         `json:"prompt"`
}

// ParseDecomposition decodes the orchestrator response.
//
// The response must be a JSON object with a "tasks" array. Each task needs a
// "prompt"; its "id" may be an integer or a string and defaults to the task's
// 1-based position. Ids must be unique. Any violation wraps
// [ErrInvalidDecomposition].
func ParseDecomposition(text string) (Decomposition, error) {
	var raw rawDecomposition
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(text)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Decomposition{}, fmt.Errorf("%w: %w", ErrInvalidDecomposition, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Decomposition{}, fmt.Errorf("%w: unexpected data after the JSON object", ErrInvalidDecomposition)
	}
	if raw.Tasks == nil {
		return Decomposition{}, fmt.Errorf("%w: missing \"tasks\" list", ErrInvalidDecomposition)
	}

	d := Decomposition{
		Tasks:           make([]Task, 0, len(*raw.Tasks)),
		AggregatePrompt: strings.TrimSpace(raw.AggregatePrompt),
	}
	seen := make(map[string]bool)
	for i, rt := range *raw.Tasks {
		id, err := taskID(rt.ID, i+1)
		if err != nil {
			return Decomposition{}, fmt.Errorf("%w: task %d: %w", ErrInvalidDecomposition, i+1, err)
		}
		if rt.Prompt == nil || strings.TrimSpace(*rt.Prompt) == "" {
			return Decomposition{}, fmt.Errorf("%w: task %s has no prompt", ErrInvalidDecomposition, id)
		}
		if seen[id] {
			return Decomposition{}, fmt.Errorf("%w: duplicate task id %s", ErrInvalidDecomposition, id)
		}
		seen[id] = true
		d.Tasks = append(d.Tasks, Task{ID: id, Prompt: *rt.Prompt})
	}
	return d, nil
}

func taskID(raw json.RawMessage, position int) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Sprint(position), nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch id := v.(type) {
	case string:
		if id == "" {
			return fmt.Sprint(position), nil
		}
		return id, nil
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return "", fmt.Errorf("id %s is not an integer", id)
		}
		return fmt.Sprint(n), nil
	}
	return "", fmt.Errorf("id must be an integer or a string, got %s", raw)
}

// OrchestratorOptions configures an [OrchestratorRunner].
type OrchestratorOptions struct {
	Model  string
	Stream bool

	// System is the decomposition instruction; AggregatorSystem the synthesis one.
	System           string
	AggregatorSystem string

	MaxWorkers int
	Timeout    time.Duration

	// Iterations is the number of decompose/dispatch/synthesize rounds.
	Iterations int

	// MaxOutputTokens drops worker outputs whose estimated token count
	// exceeds it. Zero disables the cap.
	MaxOutputTokens int

	// Estimator counts tokens for the cap. Nil uses [tokens.Heuristic].
	Estimator tokens.Estimator

	Progress ProgressCallback
}

// OrchestratorRunner decomposes a request into tasks, runs them in parallel
// and synthesizes the results, optionally over several iterations.
type OrchestratorRunner struct {
	env  Env
	opts OrchestratorOptions
}

// NewOrchestratorRunner creates an orchestrator runner.
func NewOrchestratorRunner(env Env, opts OrchestratorOptions) *OrchestratorRunner {
	if opts.Iterations < 1 {
		opts.Iterations = 1
	}
	if opts.Estimator == nil {
		opts.Estimator = tokens.Heuristic{}
	}
	return &OrchestratorRunner{env: env, opts: opts}
}

func (r *OrchestratorRunner) dispatcher() *Dispatcher {
	d := &Dispatcher{
		Completer:  r.env.Completer,
		Sink:       r.env.Sink,
		Step:       "worker",
		Model:      r.opts.Model,
		MaxWorkers: r.opts.MaxWorkers,
		Timeout:    r.opts.Timeout,
		Observer:   r.env.Batches,
		Progress:   r.opts.Progress,
	}
	if limit := r.opts.MaxOutputTokens; limit > 0 {
		est := r.opts.Estimator
		d.Filter = func(out string) string {
			if est.Count(out) > limit {
				return DropTokenLimit
			}
			return ""
		}
	}
	return d
}

// SynthesisPrompt combines the aggregate instruction with the worker outputs.
// Without an instruction the outputs alone are used.
func SynthesisPrompt(aggregatePrompt string, outputs []string) string {
	joined := strings.Join(outputs, "\n\n")
	if aggregatePrompt == "" {
		return joined
	}
	return aggregatePrompt + "\n\n" + joined
}

// Run executes the orchestrator loop.
//
// An empty task list ends the loop. If that happens before any synthesis the
// result has [StatusNoResult] and no error. The synthesized output of one
// iteration is the request for the next.
func (r *OrchestratorRunner) Run(ctx context.Context, request string) (Result, error) {
	sink := r.env.Sink
	diag := r.env.diag()
	if strings.TrimSpace(request) == "" {
		return finish(sink, Result{}, ErrMissingPrompt)
	}

	var final string
	produced := 0
	current := request

	for iter := 1; iter <= r.opts.Iterations; iter++ {
		sink.Log("orchestrator", map[string]any{"iteration": iter, "prompt": current})

		resp, err := r.env.Completer.Complete(ctx, completion.Request{
			Prompt: current,
			System: r.opts.System,
			Model:  r.opts.Model,
		})
		if err != nil {
			return finish(sink, Result{Output: final, Iterations: produced}, fmt.Errorf("decomposition: %w", err))
		}

		plan, err := ParseDecomposition(resp)
		if err != nil {
			sink.Log("orchestrator_result", map[string]any{"iteration": iter, "raw": resp, "error": err.Error()})
			return finish(sink, Result{Output: final, Iterations: produced}, err)
		}
		sink.Log("orchestrator_result", map[string]any{
			"iteration":        iter,
			"tasks":            plan.Tasks,
			"aggregate_prompt": plan.AggregatePrompt,
		})

		if len(plan.Tasks) == 0 {
			diag.Verbosef("Iteration %d: no tasks, stopping", iter)
			break
		}
		diag.Verbosef("Iteration %d: dispatching %d tasks", iter, len(plan.Tasks))

		outcomes, err := r.dispatcher().Run(ctx, plan.Tasks)
		if err != nil {
			return finish(sink, Result{Output: final, Iterations: produced}, err)
		}
		sink.Log("worker_results", map[string]any{
			"iteration": iter,
			"results":   outcomes,
			"estimator": r.opts.Estimator.Name(),
		})

		kept := Kept(outcomes)
		if len(kept) == 0 {
			return finish(sink, Result{Output: final, Iterations: produced},
				fmt.Errorf("%w in iteration %d (%d tasks)", ErrAllWorkersDropped, iter, len(outcomes)))
		}

		synthesis := SynthesisPrompt(plan.AggregatePrompt, kept)
		out, err := r.env.Completer.Complete(ctx, completion.Request{
			Prompt: synthesis,
			System: r.opts.AggregatorSystem,
			Model:  r.opts.Model,
			Stream: r.opts.Stream,
		})
		if err != nil {
			return finish(sink, Result{Output: final, Iterations: produced}, fmt.Errorf("synthesis: %w", err))
		}
		sink.Log("aggregate", map[string]any{
			"iteration": iter,
			"prompt":    synthesis,
			"result":    out,
		})

		final = out
		produced = iter
		current = out
	}

	if produced == 0 {
		return finish(sink, Result{Status: StatusNoResult}, nil)
	}
	return finish(sink, Result{Output: final, Status: StatusSuccess, Iterations: produced}, nil)
}
