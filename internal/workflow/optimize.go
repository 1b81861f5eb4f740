package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"llmflow/internal/completion"
)

// Evaluation is the evaluator's verdict on one candidate.
type Evaluation struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// ParseEvaluation decodes {score, feedback}.
//
// A missing or non-numeric score, or one outside [0,1], wraps
// [ErrInvalidEvaluation]. Scores are never clamped.
func ParseEvaluation(text string) (Evaluation, error) {
	var raw struct {
		Score    *float64 `json:"score"`
		Feedback string   `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %w", ErrInvalidEvaluation, err)
	}
	if raw.Score == nil {
		return Evaluation{}, fmt.Errorf("%w: missing score", ErrInvalidEvaluation)
	}
	if s := *raw.Score; s < 0 || s > 1 {
		return Evaluation{}, fmt.Errorf("%w: score %v outside [0,1]", ErrInvalidEvaluation, s)
	}
	return Evaluation{Score: *raw.Score, Feedback: raw.Feedback}, nil
}

// EvaluationPrompt builds the evaluator prompt for a candidate and rubric.
func EvaluationPrompt(output, rubric string) string {
	return fmt.Sprintf("Output to evaluate:\n%s\n\nRubric:\n%s", output, rubric)
}

// OptimizerOptions configures an [OptimizerRunner].
type OptimizerOptions struct {
	Model  string
	Stream bool

	// EvaluatorSystem is the instruction for evaluation calls.
	EvaluatorSystem string

	// Revise builds the revision prompt from a candidate and its feedback.
	Revise PromptBuilder

	MaxIters int
	Target   float64
}

// OptimizerRunner iterates generate, evaluate and revise until the score
// reaches the target or the iteration budget runs out.
type OptimizerRunner struct {
	env  Env
	opts OptimizerOptions
}

// NewOptimizerRunner creates an optimizer runner.
func NewOptimizerRunner(env Env, opts OptimizerOptions) *OptimizerRunner {
	if opts.MaxIters < 1 {
		opts.MaxIters = 1
	}
	return &OptimizerRunner{env: env, opts: opts}
}

func (r *OptimizerRunner) revisePrompt(output, feedback string) (string, error) {
	if r.opts.Revise == nil {
		return fmt.Sprintf("Revise the following output based on this feedback:\n\nFeedback: %s\n\nOutput:\n%s", feedback, output), nil
	}
	return r.opts.Revise(output, feedback)
}

// Run executes the loop for prompt, judged against rubric.
//
// Each iteration makes one evaluation; a revision follows only when the score
// is below target and budget remains. Running out of budget is not an error:
// the last candidate is returned with [StatusBudgetExhausted].
func (r *OptimizerRunner) Run(ctx context.Context, prompt, rubric string) (Result, error) {
	sink := r.env.Sink
	diag := r.env.diag()
	if strings.TrimSpace(prompt) == "" {
		return finish(sink, Result{}, ErrMissingPrompt)
	}

	candidate, err := r.env.Completer.Complete(ctx, completion.Request{
		Prompt: prompt,
		Model:  r.opts.Model,
		Stream: r.opts.Stream,
	})
	if err != nil {
		return finish(sink, Result{}, fmt.Errorf("generate: %w", err))
	}
	sink.Log("generate", map[string]any{"iteration": 0, "prompt": prompt, "output": candidate})

	var eval Evaluation
	for iter := 1; iter <= r.opts.MaxIters; iter++ {
		resp, err := r.env.Completer.Complete(ctx, completion.Request{
			Prompt: EvaluationPrompt(candidate, rubric),
			System: r.opts.EvaluatorSystem,
			Model:  r.opts.Model,
		})
		if err != nil {
			return finish(sink, Result{Output: candidate, Iterations: iter, Score: eval.Score},
				fmt.Errorf("evaluate: %w", err))
		}

		eval, err = ParseEvaluation(resp)
		if err != nil {
			sink.Log("evaluate", map[string]any{"iteration": iter, "raw": resp, "error": err.Error()})
			return finish(sink, Result{Output: candidate, Iterations: iter}, err)
		}
		sink.Log("evaluate", map[string]any{
			"iteration": iter,
			"score":     eval.Score,
			"feedback":  eval.Feedback,
		})
		diag.Verbosef("Iteration %d: score %.2f (target %.2f)", iter, eval.Score, r.opts.Target)

		if eval.Score >= r.opts.Target {
			sink.Log("success", map[string]any{"iteration": iter, "score": eval.Score})
			return finish(sink, Result{Output: candidate, Status: StatusSuccess, Iterations: iter, Score: eval.Score}, nil)
		}
		if iter == r.opts.MaxIters {
			break
		}

		revise, err := r.revisePrompt(candidate, eval.Feedback)
		if err != nil {
			return finish(sink, Result{Output: candidate, Status: StatusConfigError, Iterations: iter, Score: eval.Score},
				fmt.Errorf("revise prompt: %w", err))
		}
		revised, err := r.env.Completer.Complete(ctx, completion.Request{
			Prompt: revise,
			Model:  r.opts.Model,
			Stream: r.opts.Stream,
		})
		if err != nil {
			return finish(sink, Result{Output: candidate, Iterations: iter, Score: eval.Score}, fmt.Errorf("revise: %w", err))
		}
		candidate = revised
		sink.Log("revise", map[string]any{"iteration": iter, "prompt": revise, "output": candidate})
	}

	sink.Log("max_iters", map[string]any{"iterations": r.opts.MaxIters, "score": eval.Score})
	return finish(sink, Result{
		Output:     candidate,
		Status:     StatusBudgetExhausted,
		Iterations: r.opts.MaxIters,
		Score:      eval.Score,
	}, nil)
}
