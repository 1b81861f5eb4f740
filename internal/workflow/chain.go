package workflow

import (
	"context"
	"fmt"

	"llmflow/internal/completion"
)

// Gate checks an intermediate output. [schema.Gate] implements it.
type Gate interface {
	Check(output string) error
}

// ChainOptions configures a [ChainRunner].
type ChainOptions struct {
	Model  string
	Stream bool

	// Gate, when set, validates every intermediate output. The final
	// output is returned as-is.
	Gate Gate
}

// ChainRunner executes prompts sequentially, feeding each output into the next step.
type ChainRunner struct {
	env  Env
	opts ChainOptions
}

// NewChainRunner creates a chain runner.
func NewChainRunner(env Env, opts ChainOptions) *ChainRunner {
	return &ChainRunner{env: env, opts: opts}
}

// StepInput builds the input for one step: the prompt alone, or the prompt
// followed by a blank line and the previous output when there is one.
func StepInput(prompt, previous string) string {
	if previous == "" {
		return prompt
	}
	return prompt + "\n\n" + previous
}

// Run executes the chain and returns the final step's output.
//
// Intermediate outputs go to the diagnostic channel between step markers.
// Any failed call or gate rejection stops the chain immediately.
func (r *ChainRunner) Run(ctx context.Context, prompts []string) (Result, error) {
	sink := r.env.Sink
	if len(prompts) < 2 {
		return finish(sink, Result{}, fmt.Errorf("%w: got %d", ErrTooFewPrompts, len(prompts)))
	}

	diag := r.env.diag()
	var previous string
	last := len(prompts) - 1

	for i, prompt := range prompts {
		step := i + 1
		input := StepInput(prompt, previous)
		diag.Verbosef("Chain step %d/%d", step, len(prompts))

		out, err := r.env.Completer.Complete(ctx, completion.Request{
			Prompt: input,
			Model:  r.opts.Model,
			Stream: r.opts.Stream,
		})
		if err != nil {
			return finish(sink, Result{Output: previous, Iterations: i}, fmt.Errorf("chain step %d: %w", step, err))
		}

		sink.Log(fmt.Sprintf("chain_step_%d", step), map[string]any{
			"prompt": input,
			"result": out,
		})

		if i == last {
			return finish(sink, Result{Output: out, Status: StatusSuccess, Iterations: step}, nil)
		}

		diag.StepResult(step, out)

		if r.opts.Gate != nil {
			if err := r.opts.Gate.Check(out); err != nil {
				sink.Log("gate_failure", map[string]any{
					"step":   step,
					"output": out,
					"error":  err.Error(),
				})
				return finish(sink, Result{Output: out, Status: StatusGateFailed, Iterations: step},
					fmt.Errorf("%w at step %d: %w", ErrGateFailure, step, err))
			}
		}
		previous = out
	}

	// Unreachable: the loop returns on the final step.
	return finish(sink, Result{}, ErrTooFewPrompts)
}
