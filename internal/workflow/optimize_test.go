package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmflow/internal/completion"
	"llmflow/internal/config"
)

func TestParseEvaluation(t *testing.T) {
	ev, err := ParseEvaluation(` {"score": 0.75, "feedback": "tighten the intro"} `)
	require.NoError(t, err)
	assert.Equal(t, Evaluation{Score: 0.75, Feedback: "tighten the intro"}, ev)

	ev, err = ParseEvaluation(`{"score": 1}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ev.Score)
}

func TestParseEvaluation_Invalid(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "not json", text: "Looks great!"},
		{name: "missing score", text: `{"feedback":"ok"}`},
		{name: "string score", text: `{"score":"0.8","feedback":"ok"}`},
		{name: "above one", text: `{"score":1.2,"feedback":"ok"}`},
		{name: "negative", text: `{"score":-0.1,"feedback":"ok"}`},
		{name: "null score", text: `{"score":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvaluation(tt.text)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidEvaluation)
		})
	}
}

func TestEvaluationPrompt(t *testing.T) {
	assert.Equal(t, "Output to evaluate:\nOUT\n\nRubric:\nRUB", EvaluationPrompt("OUT", "RUB"))
}

// scriptedOptimizer serves candidates for generate/revise calls and scores for evaluator calls.
func scriptedOptimizer(scores []float64) *completion.MockCompleter {
	var evals, gens int
	return &completion.MockCompleter{
		Func: func(_ context.Context, req completion.Request) (string, error) {
			if req.System == "evaluator" {
				s := scores[evals]
				evals++
				return fmt.Sprintf(`{"score": %v, "feedback": "feedback %d"}`, s, evals), nil
			}
			gens++
			return fmt.Sprintf("candidate %d", gens), nil
		},
	}
}

func countBySystem(reqs []completion.Request, system string) int {
	n := 0
	for _, r := range reqs {
		if r.System == system {
			n++
		}
	}
	return n
}

func TestOptimizerRunner_ReachesTarget(t *testing.T) {
	cfg := config.DefaultConfig()
	mock := scriptedOptimizer([]float64{0.5, 0.95})
	env, sink, _ := newEnv(mock)
	r := NewOptimizerRunner(env, OptimizerOptions{
		EvaluatorSystem: "evaluator",
		Revise:          cfg.RevisePrompt,
		MaxIters:        3,
		Target:          0.9,
	})

	res, err := r.Run(context.Background(), "write a haiku", "must be 5-7-5")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 0.95, res.Score)
	assert.Equal(t, "candidate 2", res.Output)

	reqs := mock.Requests()
	assert.Len(t, reqs, 4, "generate, evaluate, revise, evaluate")
	assert.Equal(t, 2, countBySystem(reqs, "evaluator"))

	revise := reqs[2]
	assert.Contains(t, revise.Prompt, "candidate 1")
	assert.Contains(t, revise.Prompt, "feedback 1")
	assert.Equal(t, EvaluationPrompt("candidate 1", "must be 5-7-5"), reqs[1].Prompt)

	assert.Equal(t, []string{"generate", "evaluate", "revise", "evaluate", "success", "done"}, sink.Steps())
}

func TestOptimizerRunner_BudgetExhausted(t *testing.T) {
	mock := scriptedOptimizer([]float64{0.1, 0.2, 0.3, 0.99})
	env, sink, _ := newEnv(mock)
	r := NewOptimizerRunner(env, OptimizerOptions{EvaluatorSystem: "evaluator", MaxIters: 3, Target: 0.9})

	res, err := r.Run(context.Background(), "p", "rubric")
	require.NoError(t, err)
	assert.Equal(t, StatusBudgetExhausted, res.Status)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 0.3, res.Score)
	assert.Equal(t, "candidate 3", res.Output, "last candidate is returned")

	reqs := mock.Requests()
	assert.Equal(t, 3, countBySystem(reqs, "evaluator"), "exactly max_iters evaluations")
	assert.Len(t, reqs, 6, "one generate, three evaluations, two revisions")

	steps := sink.Steps()
	assert.Equal(t, "max_iters", steps[len(steps)-2])
	assert.Equal(t, "done", lastStep(sink))
}

func TestOptimizerRunner_FirstCandidateGoodEnough(t *testing.T) {
	mock := scriptedOptimizer([]float64{0.9})
	env, _, _ := newEnv(mock)
	r := NewOptimizerRunner(env, OptimizerOptions{EvaluatorSystem: "evaluator", MaxIters: 5, Target: 0.9})

	res, err := r.Run(context.Background(), "p", "rubric")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 2, mock.Calls())
}

func TestOptimizerRunner_InvalidEvaluation(t *testing.T) {
	mock := &completion.MockCompleter{Responses: []string{"draft", `{"score": 7, "feedback": "great"}`}}
	env, sink, _ := newEnv(mock)
	r := NewOptimizerRunner(env, OptimizerOptions{EvaluatorSystem: "evaluator", MaxIters: 3, Target: 0.9})

	res, err := r.Run(context.Background(), "p", "rubric")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEvaluation)
	assert.Equal(t, StatusInvalidEvaluation, res.Status)
	assert.Equal(t, 2, mock.Calls(), "no revision after an invalid evaluation")
	assert.Equal(t, "error", lastStep(sink))
}

func TestOptimizerRunner_ReviseFailureKeepsLastCandidate(t *testing.T) {
	mock := &completion.MockCompleter{
		Responses: []string{"draft", `{"score": 0.2, "feedback": "tighten"}`},
		Errors:    map[int]error{2: errors.New("llm exited 1")},
	}
	env, sink, _ := newEnv(mock)
	r := NewOptimizerRunner(env, OptimizerOptions{EvaluatorSystem: "evaluator", MaxIters: 3, Target: 0.9})

	res, err := r.Run(context.Background(), "p", "rubric")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revise")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "draft", res.Output)
	assert.Equal(t, 0.2, res.Score)
	assert.Equal(t, "error", lastStep(sink))
}

func TestOptimizerRunner_DefaultRevisePrompt(t *testing.T) {
	mock := scriptedOptimizer([]float64{0.1, 0.95})
	env, _, _ := newEnv(mock)
	r := NewOptimizerRunner(env, OptimizerOptions{EvaluatorSystem: "evaluator", MaxIters: 2, Target: 0.9})

	_, err := r.Run(context.Background(), "p", "rubric")
	require.NoError(t, err)
	revise := mock.Requests()[2].Prompt
	assert.True(t, strings.HasPrefix(revise, "Revise the following output"))
	assert.Contains(t, revise, "feedback 1")
}

func TestOptimizerRunner_EmptyPrompt(t *testing.T) {
	mock := &completion.MockCompleter{}
	env, _, _ := newEnv(mock)

	_, err := NewOptimizerRunner(env, OptimizerOptions{}).Run(context.Background(), "", "rubric")
	assert.ErrorIs(t, err, ErrMissingPrompt)
	assert.Zero(t, mock.Calls())
}
