package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Sectioning splits one input into chunks, processes each independently and
// aggregates the outputs. Exactly one of Size or Regex is set.
type Sectioning struct {
	Size      int
	Regex     string
	Aggregate AggregateMode
}

// Voting sends the same prompt Count times and picks a winner.
type Voting struct {
	Count  int
	Mode   VoteMode
	Dedupe bool
}

// ParallelOptions configures a [ParallelRunner].
type ParallelOptions struct {
	System     string
	Model      string
	MaxWorkers int
	Timeout    time.Duration
	Progress   ProgressCallback
}

// ParallelRequest describes one parallel run.
// Exactly one of Section or Vote is set.
type ParallelRequest struct {
	Prompt  string
	Input   string
	Section *Sectioning
	Vote    *Voting
}

// Validate checks the mode combination before any call is made.
func (req ParallelRequest) Validate() error {
	switch {
	case strings.TrimSpace(req.Prompt) == "":
		return ErrMissingPrompt
	case req.Section != nil && req.Vote != nil:
		return ErrConflictingModes
	case req.Section == nil && req.Vote == nil:
		return ErrNoMode
	case req.Vote != nil && req.Vote.Count < 2:
		return fmt.Errorf("%w: got %d", ErrTooFewVotes, req.Vote.Count)
	}
	if s := req.Section; s != nil {
		if s.Size > 0 && s.Regex != "" {
			return fmt.Errorf("%w: section size and section regex", ErrConflictingModes)
		}
		if s.Size <= 0 && s.Regex == "" {
			return fmt.Errorf("%w: sectioning needs a size or a regex", ErrNoMode)
		}
		if s.Aggregate == "" {
			return ErrAggregateRequired
		}
	}
	return nil
}

// ParallelRunner fans one logical request out to a batch of independent calls.
type ParallelRunner struct {
	env  Env
	opts ParallelOptions
}

// NewParallelRunner creates a parallel runner.
func NewParallelRunner(env Env, opts ParallelOptions) *ParallelRunner {
	return &ParallelRunner{env: env, opts: opts}
}

func (r *ParallelRunner) dispatcher() *Dispatcher {
	return &Dispatcher{
		Completer:  r.env.Completer,
		Sink:       r.env.Sink,
		Step:       "parallel_task",
		System:     r.opts.System,
		Model:      r.opts.Model,
		MaxWorkers: r.opts.MaxWorkers,
		Timeout:    r.opts.Timeout,
		Observer:   r.env.Batches,
		Progress:   r.opts.Progress,
	}
}

// Tasks builds the batch for req. Tasks are numbered from 1.
func (req ParallelRequest) Tasks() ([]Task, error) {
	var prompts []string
	if req.Vote != nil {
		prompt := StepInput(req.Prompt, req.Input)
		for i := 0; i < req.Vote.Count; i++ {
			prompts = append(prompts, prompt)
		}
	} else {
		var chunks []string
		var err error
		if req.Section.Size > 0 {
			chunks, err = SectionBySize(req.Input, req.Section.Size)
		} else {
			chunks, err = SectionByRegex(req.Input, req.Section.Regex)
		}
		if err != nil {
			return nil, err
		}
		if len(chunks) == 0 {
			return nil, ErrNoSections
		}
		for _, c := range chunks {
			prompts = append(prompts, req.Prompt+"\n\n"+c)
		}
	}

	tasks := make([]Task, len(prompts))
	for i, p := range prompts {
		tasks[i] = Task{ID: fmt.Sprint(i + 1), Prompt: p}
	}
	return tasks, nil
}

// Run executes the batch and combines the surviving outputs.
//
// Failed calls are dropped from aggregation and voting. If every call fails,
// [ErrAllWorkersDropped] is returned.
func (r *ParallelRunner) Run(ctx context.Context, req ParallelRequest) (Result, error) {
	sink := r.env.Sink
	if err := req.Validate(); err != nil {
		return finish(sink, Result{}, err)
	}
	tasks, err := req.Tasks()
	if err != nil {
		return finish(sink, Result{Status: StatusConfigError}, err)
	}
	r.env.diag().Verbosef("Dispatching %d tasks", len(tasks))

	outcomes, err := r.dispatcher().Run(ctx, tasks)
	if err != nil {
		return finish(sink, Result{}, err)
	}

	kept := Kept(outcomes)
	if dropped := len(outcomes) - len(kept); dropped > 0 {
		r.env.diag().Verbosef("%d of %d tasks failed and were dropped", dropped, len(outcomes))
	}
	if len(kept) == 0 {
		return finish(sink, Result{Iterations: 1}, fmt.Errorf("%w (%d tasks)", ErrAllWorkersDropped, len(outcomes)))
	}

	var out string
	if req.Vote != nil {
		candidates := kept
		if req.Vote.Dedupe {
			candidates = Dedupe(kept)
		}
		out = Vote(req.Vote.Mode, candidates)
		sink.Log("vote", map[string]any{
			"mode":       string(req.Vote.Mode),
			"candidates": candidates,
			"winner":     out,
		})
	} else {
		out, err = Aggregate(req.Section.Aggregate, kept)
		if err != nil {
			return finish(sink, Result{}, err)
		}
		sink.Log("aggregate", map[string]any{
			"mode":     string(req.Section.Aggregate),
			"sections": len(kept),
		})
	}

	return finish(sink, Result{Output: out, Status: StatusSuccess, Iterations: 1}, nil)
}
