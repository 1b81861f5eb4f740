package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"llmflow/internal/completion"
	"llmflow/internal/events"
)

// DefaultMaxWorkers bounds a batch when no limit is configured.
const DefaultMaxWorkers = 5

// Batch outcomes reported to a [BatchObserver].
const (
	BatchCompleted = "completed"
	BatchTimedOut  = "timeout"
	BatchCanceled  = "canceled"
)

// Task is one unit of independent work in a batch.
type Task struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// Outcome is the result of one [Task].
//
// A dropped outcome carries no usable output. When the completion call failed,
// Output holds the failure description and Error repeats it.
type Outcome struct {
	TaskID     string `json:"task_id"`
	Output     string `json:"output"`
	Dropped    bool   `json:"dropped"`
	DropReason string `json:"drop_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Drop reasons recorded on an [Outcome].
const (
	DropFailed     = "failed"
	DropTokenLimit = "token_limit"
)

// BatchObserver is notified once per batch. [metrics.Metrics] implements it.
type BatchObserver interface {
	ObserveBatch(elapsed time.Duration, tasks, dropped int, outcome string)
}

// ProgressCallback is invoked after each task finishes.
//
// completed counts finished tasks so far (1-based) out of total. The callback
// runs on worker goroutines and must be safe for concurrent use.
type ProgressCallback func(completed, total int, outcome Outcome)

// Dispatcher runs a batch of tasks under bounded concurrency.
//
// Results come back in submission order regardless of completion order. A
// task whose call fails is dropped rather than aborting the batch. Workers
// only write their own outcome slot; shared state is touched only through the
// event sink and the progress counter.
type Dispatcher struct {
	Completer completion.Completer
	Sink      *events.Sink

	// Step names the per-task event, suffixed with the task id.
	Step string

	System     string
	Model      string
	MaxWorkers int

	// Timeout bounds the whole batch. Zero means no bound.
	Timeout time.Duration

	// Filter inspects a successful output and returns a non-empty drop reason
	// to discard it. Nil keeps every output.
	Filter func(output string) string

	Observer BatchObserver
	Progress ProgressCallback
}

func (d *Dispatcher) workers() int {
	if d.MaxWorkers < 1 {
		return DefaultMaxWorkers
	}
	return d.MaxWorkers
}

func (d *Dispatcher) step() string {
	if d.Step == "" {
		return "task"
	}
	return d.Step
}

// Run executes tasks and returns one outcome per task in submission order.
//
// The only errors are batch-level: [ErrBatchTimeout] when Timeout elapses, or
// the parent context's error when it is canceled. Outstanding calls are
// canceled through the context; Run waits for them to return and discards
// their results.
func (d *Dispatcher) Run(ctx context.Context, tasks []Task) ([]Outcome, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	start := time.Now()
	outcomes := make([]Outcome, len(tasks))
	var completed atomic.Int64
	var aborted atomic.Bool

	done := make(chan struct{})
	p := pool.New().WithMaxGoroutines(d.workers())
	go func() {
		defer close(done)
		for i, task := range tasks {
			i, task := i, task
			p.Go(func() {
				outcomes[i] = d.runTask(ctx, task, &aborted)
				if d.Progress != nil && !aborted.Load() {
					d.Progress(int(completed.Add(1)), len(tasks), outcomes[i])
				}
			})
		}
		p.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
			// Finished at the same instant the deadline fired.
		default:
			// Workers see the canceled context; wait for them so nothing is
			// logged after the batch's own terminal event.
			aborted.Store(true)
			<-done
			return nil, d.abort(ctx, start, len(tasks))
		}
	}

	dropped := 0
	for _, o := range outcomes {
		if o.Dropped {
			dropped++
		}
	}
	d.observe(time.Since(start), len(tasks), dropped, BatchCompleted)
	return outcomes, nil
}

func (d *Dispatcher) abort(ctx context.Context, start time.Time, total int) error {
	elapsed := time.Since(start)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && d.Timeout > 0 {
		d.observe(elapsed, total, total, BatchTimedOut)
		d.Sink.Log(d.step()+"_timeout", map[string]any{
			"tasks":   total,
			"timeout": d.Timeout.String(),
		})
		return fmt.Errorf("%w after %s (%d tasks)", ErrBatchTimeout, d.Timeout, total)
	}
	d.observe(elapsed, total, total, BatchCanceled)
	return fmt.Errorf("batch canceled: %w", ctx.Err())
}

func (d *Dispatcher) observe(elapsed time.Duration, tasks, dropped int, outcome string) {
	if d.Observer != nil {
		d.Observer.ObserveBatch(elapsed, tasks, dropped, outcome)
	}
}

func (d *Dispatcher) runTask(ctx context.Context, task Task, aborted *atomic.Bool) Outcome {
	o := Outcome{TaskID: task.ID}
	if err := ctx.Err(); err != nil {
		o.Dropped, o.DropReason, o.Error = true, DropFailed, err.Error()
		o.Output = o.Error
		return o
	}

	out, err := d.Completer.Complete(ctx, completion.Request{
		Prompt: task.Prompt,
		System: d.System,
		Model:  d.Model,
		Stream: false,
	})
	if err != nil {
		o.Dropped, o.DropReason, o.Error = true, DropFailed, err.Error()
		o.Output = o.Error
	} else if reason := d.filter(out); reason != "" {
		o.Dropped, o.DropReason = true, reason
	} else {
		o.Output = out
	}

	if aborted.Load() {
		return o
	}
	d.Sink.Log(d.step()+"_"+task.ID, map[string]any{
		"task_id":     task.ID,
		"prompt":      task.Prompt,
		"result":      o.Output,
		"dropped":     o.Dropped,
		"drop_reason": o.DropReason,
	})
	return o
}

func (d *Dispatcher) filter(out string) string {
	if d.Filter == nil {
		return ""
	}
	return d.Filter(out)
}

// Kept returns the outputs of non-dropped outcomes, preserving order.
func Kept(outcomes []Outcome) []string {
	var out []string
	for _, o := range outcomes {
		if !o.Dropped {
			out = append(out, o.Output)
		}
	}
	return out
}
