// Package events records workflow steps in an append-only log.
//
// A [Sink] is created once per run and shared by reference with every component
// that emits events, including concurrently running worker tasks. Records are
// kept in memory in emission order and, when a writer is attached, written as
// one JSON object per line.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reserved record keys. Payload fields with these names are overridden.
const (
	KeyTimestamp = "timestamp"
	KeyStep      = "step"
	KeyRunID     = "run_id"
)

// Event is a single recorded workflow step.
type Event struct {
	Timestamp time.Time
	Step      string
	Data      map[string]any
}

// Record returns the flat JSON object written for the event.
func (e Event) Record(runID string) map[string]any {
	rec := make(map[string]any, len(e.Data)+3)
	for k, v := range e.Data {
		rec[k] = v
	}
	rec[KeyTimestamp] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	rec[KeyStep] = e.Step
	if runID != "" {
		rec[KeyRunID] = runID
	}
	return rec
}

// Sink is an append-only, concurrency-safe event recorder.
//
// A nil *Sink is valid and discards everything, so components can log
// unconditionally.
type Sink struct {
	mu     sync.Mutex
	runID  string
	w      io.Writer
	events []Event
	err    error
	now    func() time.Time
}

// NewSink creates a [Sink] with a fresh run id that writes JSONL records to w.
// A nil w keeps events in memory only.
func NewSink(w io.Writer) *Sink {
	return &Sink{
		runID: uuid.NewString(),
		w:     w,
		now:   time.Now,
	}
}

// OpenFile creates a [Sink] appending to the file at path.
//
// The returned close function must be called when the run ends.
func OpenFile(path string) (*Sink, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event log: %w", err)
	}
	return NewSink(f), f.Close, nil
}

// RunID returns the identifier stamped on every record of this run.
func (s *Sink) RunID() string {
	if s == nil {
		return ""
	}
	return s.runID
}

// Log appends an event for step with the given payload.
//
// The payload map is copied; later changes by the caller do not affect the
// recorded event. Write failures do not interrupt the run: the first one is
// kept and reported by [Sink.Err].
func (s *Sink) Log(step string, data map[string]any) {
	if s == nil {
		return
	}

	payload := make(map[string]any, len(data))
	for k, v := range data {
		payload[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev := Event{Timestamp: s.now(), Step: step, Data: payload}
	s.events = append(s.events, ev)

	if s.w == nil {
		return
	}
	line, err := json.Marshal(ev.Record(s.runID))
	if err != nil {
		s.keepErr(fmt.Errorf("failed to encode event %q: %w", step, err))
		return
	}
	// One Write per record keeps lines whole under concurrent Log calls.
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		s.keepErr(fmt.Errorf("failed to write event %q: %w", step, err))
	}
}

func (s *Sink) keepErr(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Events returns a copy of all recorded events in emission order.
func (s *Sink) Events() []Event {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Steps returns the step names of all recorded events in emission order.
func (s *Sink) Steps() []string {
	evs := s.Events()
	steps := make([]string, len(evs))
	for i, ev := range evs {
		steps[i] = ev.Step
	}
	return steps
}

// Err returns the first write error, if any.
func (s *Sink) Err() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
