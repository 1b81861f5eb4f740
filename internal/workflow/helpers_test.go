package workflow

import (
	"fmt"
	"sync"
	"time"

	"llmflow/internal/completion"
	"llmflow/internal/events"
)

type recordingDiag struct {
	mu    sync.Mutex
	steps []int
	texts []string
	lines []string
}

func (d *recordingDiag) StepResult(step int, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.steps = append(d.steps, step)
	d.texts = append(d.texts, text)
}

func (d *recordingDiag) Verbosef(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines, fmt.Sprintf(format, args...))
}

type batchRecord struct {
	tasks, dropped int
	outcome        string
}

type fakeObserver struct {
	mu      sync.Mutex
	batches []batchRecord
}

func (o *fakeObserver) ObserveBatch(_ time.Duration, tasks, dropped int, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, batchRecord{tasks: tasks, dropped: dropped, outcome: outcome})
}

// newEnv returns an Env wired to an in-memory sink and the given completer.
func newEnv(c completion.Completer) (Env, *events.Sink, *recordingDiag) {
	sink := events.NewSink(nil)
	diag := &recordingDiag{}
	return Env{Completer: c, Sink: sink, Diag: diag}, sink, diag
}

func lastStep(sink *events.Sink) string {
	steps := sink.Steps()
	if len(steps) == 0 {
		return ""
	}
	return steps[len(steps)-1]
}

func prompts(reqs []completion.Request) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Prompt
	}
	return out
}
