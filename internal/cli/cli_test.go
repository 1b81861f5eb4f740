package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmflow/internal/completion"
	"llmflow/internal/config"
	"llmflow/internal/workflow"
)

func assertExitCode(t *testing.T, err error, want int) {
	t.Helper()
	if want == ExitSuccess {
		assert.NoError(t, err)
		return
	}
	require.Error(t, err)
	code, ok := IsExitError(err)
	require.True(t, ok, "error should be an ExitError: %v", err)
	assert.Equal(t, want, code)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status workflow.Status
		want   int
	}{
		{name: "success", want: ExitSuccess},
		{name: "no result", status: workflow.StatusNoResult, want: ExitSuccess},
		{name: "transport failure", err: errors.New("llm exited"), want: ExitGeneral},
		{name: "config error", err: workflow.ErrTooFewPrompts, want: ExitGeneral},
		{name: "invalid decomposition", err: workflow.ErrInvalidDecomposition, want: ExitInvalidOutput},
		{name: "invalid classification", err: workflow.ErrInvalidClassification, want: ExitInvalidOutput},
		{name: "invalid evaluation", err: workflow.ErrInvalidEvaluation, want: ExitInvalidEvaluation},
		{name: "all dropped", err: workflow.ErrAllWorkersDropped, want: ExitInvalidEvaluation},
		{name: "budget exhausted", status: workflow.StatusBudgetExhausted, want: ExitBudgetExhausted},
		{name: "timeout", err: fmt.Errorf("wrapped: %w", workflow.ErrBatchTimeout), want: ExitTimeout},
		{name: "gate failure", err: workflow.ErrGateFailure, status: workflow.StatusGateFailed, want: ExitGateFailure},
		{name: "error with success status", err: errors.New("late failure"), status: workflow.StatusSuccess, want: ExitGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err, tt.status))
		})
	}
}

func TestExitCodesAreDistinct(t *testing.T) {
	codes := []int{ExitSuccess, ExitGeneral, ExitInvalidOutput, ExitInvalidEvaluation, ExitBudgetExhausted, ExitTimeout, ExitGateFailure}
	seen := make(map[int]bool)
	for _, c := range codes {
		assert.False(t, seen[c], "duplicate exit code %d", c)
		seen[c] = true
	}
}

func TestExitError(t *testing.T) {
	cause := workflow.ErrGateFailure
	err := fmt.Errorf("run: %w", &ExitError{Code: ExitGateFailure, Err: cause})

	code, ok := IsExitError(err)
	assert.True(t, ok)
	assert.Equal(t, ExitGateFailure, code)
	assert.ErrorIs(t, err, workflow.ErrGateFailure)
	assert.Equal(t, "exit status 3", NewExitError(3).Error())

	_, ok = IsExitError(errors.New("plain"))
	assert.False(t, ok)
	_, ok = IsExitError(nil)
	assert.False(t, ok)
}

func TestChainCommand(t *testing.T) {
	t.Setenv(completion.ModelEnvVar, "")
	h := newTestHarness(&completion.MockCompleter{Responses: []string{"facts", "haiku"}})

	err := h.run("chain", "-p", "List facts", "-p", "Write a haiku", "--no-stream", "-m", "gpt-test")
	assertExitCode(t, err, ExitSuccess)

	assert.Equal(t, "haiku\n", h.Out.String())
	assert.Contains(t, h.Diag.String(), "--- Step 1 Result ---")
	assert.Contains(t, h.Diag.String(), "facts")
	assert.NotContains(t, h.Diag.String(), "--- Step 2 Result ---")

	reqs := h.Mock.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Write a haiku\n\nfacts", reqs[1].Prompt)
	assert.Equal(t, "gpt-test", reqs[1].Model)
	assert.False(t, reqs[1].Stream)
}

func TestChainCommand_PromptsFileReplacesOtherPrompts(t *testing.T) {
	path := writeFile(t, "prompts.txt", "first\nsecond\n\n  third  \n")
	h := newTestHarness(&completion.MockCompleter{Responses: []string{"1", "2", "3"}})

	err := h.run("chain", "ignored-arg", "-p", "ignored-flag", "--prompts-file", path)
	assertExitCode(t, err, ExitSuccess)
	assert.Equal(t, []string{"first", "second\n\n1", "third\n\n2"}, promptsOf(h.Mock.Requests()))
}

func TestChainCommand_TooFewPrompts(t *testing.T) {
	h := newTestHarness(&completion.MockCompleter{})

	err := h.run("chain", "-p", "only one")
	assertExitCode(t, err, ExitGeneral)
	assert.Zero(t, h.Mock.Calls())
	assert.Contains(t, h.Diag.String(), "at least 2 prompts")
}

func TestChainCommand_GateFailure(t *testing.T) {
	h := newTestHarness(&completion.MockCompleter{Responses: []string{"not json", "never"}})

	err := h.run("chain", "-p", "a", "-p", "b", "--gate-json")
	assertExitCode(t, err, ExitGateFailure)
	assert.Empty(t, h.Out.String())
	assert.Equal(t, 1, h.Mock.Calls())
}

func TestChainCommand_GateSchema(t *testing.T) {
	schemaPath := writeFile(t, "gate.json", `{"type":"object","required":["items"]}`)
	h := newTestHarness(&completion.MockCompleter{Responses: []string{`{"items":[1]}`, "done"}})

	err := h.run("chain", "-p", "a", "-p", "b", "--gate-schema", schemaPath)
	assertExitCode(t, err, ExitSuccess)
	assert.Equal(t, "done\n", h.Out.String())
}

func TestRouteCommand(t *testing.T) {
	routes := writeFile(t, "routes.yaml", `
billing:
  system: Billing desk.
  template: "Billing: {input}"
support:
  system: Support desk.
  template: "Support: {input}"
`)

	t.Run("dispatches to the label", func(t *testing.T) {
		h := newTestHarness(&completion.MockCompleter{Responses: []string{"support\n", "Try restarting."}})

		err := h.run("route", "-f", routes, "--print-label", "My app crashes")
		assertExitCode(t, err, ExitSuccess)
		assert.Equal(t, "[support] Try restarting.\n", h.Out.String())

		reqs := h.Mock.Requests()
		require.Len(t, reqs, 2)
		assert.Contains(t, reqs[0].Prompt, "billing, support")
		assert.Equal(t, "Support: My app crashes", reqs[1].Prompt)
		assert.Equal(t, "Support desk.", reqs[1].System)
	})

	t.Run("reads input from stdin", func(t *testing.T) {
		h := newTestHarness(&completion.MockCompleter{Responses: []string{"billing", "Refunded."}})
		h.App.Stdin = strings.NewReader("Where is my refund?\n")

		err := h.run("route", "--routes-file", routes, "--classifier-prompt", "Labels={{.Labels}} Text={{.Input}}")
		assertExitCode(t, err, ExitSuccess)
		assert.Equal(t, "Labels=billing, support Text=Where is my refund?", h.Mock.Requests()[0].Prompt)
	})

	t.Run("invalid label", func(t *testing.T) {
		h := newTestHarness(&completion.MockCompleter{Responses: []string{"sales", "unused"}})

		err := h.run("route", "-f", routes, "hello")
		assertExitCode(t, err, ExitInvalidOutput)
		assert.Equal(t, 1, h.Mock.Calls())
		assert.Empty(t, h.Out.String())
	})

	t.Run("missing routes file flag", func(t *testing.T) {
		h := newTestHarness(&completion.MockCompleter{})

		err := h.run("route", "hello")
		require.Error(t, err)
		_, isExit := IsExitError(err)
		assert.False(t, isExit)
	})
}

func TestParallelCommand_Voting(t *testing.T) {
	h := newTestHarness(&completion.MockCompleter{Responses: []string{"yes", "no", "yes"}})

	err := h.run("parallel", "--prompt", "Is it prime?", "--vote", "3", "--max-workers", "1")
	assertExitCode(t, err, ExitSuccess)
	assert.Equal(t, "yes\n", h.Out.String())
	for _, req := range h.Mock.Requests() {
		assert.False(t, req.Stream, "parallel calls never stream")
	}
}

func TestParallelCommand_SectioningFromStdin(t *testing.T) {
	h := newTestHarness(&completion.MockCompleter{
		Func: func(_ context.Context, req completion.Request) (string, error) {
			return strings.ToUpper(strings.TrimPrefix(req.Prompt, "Up:\n\n")), nil
		},
	})
	h.App.Stdin = strings.NewReader("abcdef")

	err := h.run("parallel", "--prompt", "Up:", "--section", "4", "--aggregate", "json", "--system", "S")
	assertExitCode(t, err, ExitSuccess)
	assert.Equal(t, "[\n  \"ABCD\",\n  \"EF\"\n]\n", h.Out.String())
	for _, req := range h.Mock.Requests() {
		assert.Equal(t, "S", req.System)
	}
}

func TestParallelCommand_InvalidModes(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no mode", args: []string{"parallel", "--prompt", "p"}},
		{name: "single vote", args: []string{"parallel", "--prompt", "p", "--vote", "1"}},
		{name: "sectioning without aggregate", args: []string{"parallel", "--prompt", "p", "--section", "3", "-i", "abcdef"}},
		{name: "both modes", args: []string{"parallel", "--prompt", "p", "--section", "3", "--aggregate", "concat", "-i", "abc", "--vote", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness(&completion.MockCompleter{})
			err := h.run(tt.args...)
			assertExitCode(t, err, ExitGeneral)
			assert.Zero(t, h.Mock.Calls())
		})
	}
}

func TestParallelCommand_AllWorkersFail(t *testing.T) {
	h := newTestHarness(&completion.MockCompleter{
		Func: func(context.Context, completion.Request) (string, error) { return "", errors.New("down") },
	})

	err := h.run("parallel", "--prompt", "p", "--vote", "2")
	assertExitCode(t, err, ExitInvalidEvaluation)
}

func TestParallelCommand_Timeout(t *testing.T) {
	h := newTestHarness(&completion.MockCompleter{
		Func: func(ctx context.Context, _ completion.Request) (string, error) {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return "", ctx.Err()
		},
	})

	err := h.run("parallel", "--prompt", "p", "--vote", "2", "--timeout", "20ms")
	assertExitCode(t, err, ExitTimeout)
}

func TestOrchestrateCommand(t *testing.T) {
	cfg := config.DefaultConfig()

	t.Run("synthesizes worker outputs", func(t *testing.T) {
		mock := bySystem(map[string][]string{
			cfg.Prompts.Orchestrator: {`{"tasks":[{"id":1,"prompt":"a"},{"id":2,"prompt":"b"}],"aggregate_prompt":"Join."}`},
			cfg.Prompts.Aggregator:   {"final answer"},
		}, func(req completion.Request) (string, error) { return "w-" + req.Prompt, nil })
		h := newTestHarness(mock)

		err := h.run("orchestrate", "--prompt", "big job", "--max-workers", "2")
		assertExitCode(t, err, ExitSuccess)
		assert.Equal(t, "final answer\n", h.Out.String())
	})

	t.Run("empty decomposition", func(t *testing.T) {
		mock := bySystem(map[string][]string{cfg.Prompts.Orchestrator: {`{"tasks":[]}`}}, nil)
		h := newTestHarness(mock)

		err := h.run("orchestrate", "--prompt", "nothing")
		assertExitCode(t, err, ExitSuccess)
		assert.Empty(t, h.Out.String())
		assert.Contains(t, h.Diag.String(), "No result.")
		assert.Equal(t, 1, mock.Calls())
	})

	t.Run("invalid decomposition", func(t *testing.T) {
		mock := bySystem(map[string][]string{cfg.Prompts.Orchestrator: {"I'd be happy to help!"}}, nil)
		h := newTestHarness(mock)

		err := h.run("orchestrate", "--prompt", "x")
		assertExitCode(t, err, ExitInvalidOutput)
	})

	t.Run("prompt from stdin", func(t *testing.T) {
		mock := bySystem(map[string][]string{cfg.Prompts.Orchestrator: {`{"tasks":[]}`}}, nil)
		h := newTestHarness(mock)
		h.App.Stdin = strings.NewReader("from stdin\n")

		err := h.run("orchestrate")
		assertExitCode(t, err, ExitSuccess)
		assert.Equal(t, "from stdin", mock.Requests()[0].Prompt)
	})
}

func TestOptimizeCommand(t *testing.T) {
	cfg := config.DefaultConfig()

	t.Run("reaches target", func(t *testing.T) {
		mock := bySystem(map[string][]string{
			cfg.Prompts.Evaluator: {`{"score":0.4,"feedback":"more detail"}`, `{"score":0.95,"feedback":"good"}`},
		}, func(req completion.Request) (string, error) {
			if strings.Contains(req.Prompt, "more detail") {
				return "revised draft", nil
			}
			return "first draft", nil
		})
		h := newTestHarness(mock)

		err := h.run("optimize", "--prompt", "write", "--max-iters", "3", "--rubric", "be clear")
		assertExitCode(t, err, ExitSuccess)
		assert.Equal(t, "revised draft\n", h.Out.String())

		var evalPrompts []string
		for _, req := range mock.Requests() {
			if req.System == cfg.Prompts.Evaluator {
				evalPrompts = append(evalPrompts, req.Prompt)
			}
		}
		require.Len(t, evalPrompts, 2)
		assert.True(t, strings.HasSuffix(evalPrompts[0], "Rubric:\nbe clear"))
	})

	t.Run("budget exhausted prints last candidate", func(t *testing.T) {
		mock := bySystem(map[string][]string{
			cfg.Prompts.Evaluator: {`{"score":0.1,"feedback":"f"}`, `{"score":0.2,"feedback":"f"}`},
		}, func(completion.Request) (string, error) { return "draft", nil })
		h := newTestHarness(mock)

		err := h.run("optimize", "--prompt", "write", "--max-iters", "2")
		assertExitCode(t, err, ExitBudgetExhausted)
		assert.Equal(t, "draft\n", h.Out.String())
		assert.Contains(t, h.Diag.String(), "Target score not reached")
	})

	t.Run("invalid evaluation", func(t *testing.T) {
		mock := bySystem(map[string][]string{
			cfg.Prompts.Evaluator: {`{"score": "high"}`},
		}, func(completion.Request) (string, error) { return "draft", nil })
		h := newTestHarness(mock)

		err := h.run("optimize", "--prompt", "write")
		assertExitCode(t, err, ExitInvalidEvaluation)
	})

	t.Run("rubric from file", func(t *testing.T) {
		rubric := writeFile(t, "rubric.txt", "Must rhyme.\n")
		mock := bySystem(map[string][]string{
			cfg.Prompts.Evaluator: {`{"score":1,"feedback":""}`},
		}, func(completion.Request) (string, error) { return "draft", nil })
		h := newTestHarness(mock)

		err := h.run("optimize", "--prompt", "write", "--rubric", rubric)
		assertExitCode(t, err, ExitSuccess)
		assert.True(t, strings.HasSuffix(mock.Requests()[1].Prompt, "Rubric:\nMust rhyme."))
	})

	t.Run("invalid target", func(t *testing.T) {
		h := newTestHarness(&completion.MockCompleter{})

		err := h.run("optimize", "--prompt", "write", "--target", "1.5")
		require.Error(t, err)
		assert.Zero(t, h.Mock.Calls())
	})
}

func TestEventLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.jsonl")
	h := newTestHarness(&completion.MockCompleter{Responses: []string{"a", "b"}})

	err := h.run("chain", "-p", "x", "-p", "y", "--log", logPath)
	assertExitCode(t, err, ExitSuccess)

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	var steps []string
	runIDs := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		steps = append(steps, rec["step"].(string))
		runIDs[rec["run_id"].(string)] = true
		assert.NotEmpty(t, rec["timestamp"])
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, []string{"chain_step_1", "chain_step_2", "done"}, steps)
	assert.Len(t, runIDs, 1, "one run id per run")
}

func TestVerboseEchoesEvents(t *testing.T) {
	h := newTestHarness(&completion.MockCompleter{Responses: []string{"a", "b"}})

	err := h.run("chain", "-p", "x", "-p", "y", "-v", "--no-color")
	assertExitCode(t, err, ExitSuccess)
	assert.Contains(t, h.Diag.String(), `"step":"chain_step_1"`)
	assert.Contains(t, h.Diag.String(), "Workflow: chain")
	assert.Equal(t, "b\n", h.Out.String())
}

func TestMetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llmflow.prom")
	h := newTestHarness(&completion.MockCompleter{Responses: []string{"yes", "yes"}})

	err := h.run("parallel", "--prompt", "p", "--vote", "2", "--metrics-file", path)
	assertExitCode(t, err, ExitSuccess)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `llmflow_completion_calls_total{status="ok",workflow="parallel"} 2`)
	assert.Contains(t, string(data), "llmflow_batch_duration_seconds")
}

func TestConfigFlag(t *testing.T) {
	t.Setenv(completion.ModelEnvVar, "")
	path := writeFile(t, "llmflow.yaml", "model: from-config\n")
	h := newTestHarness(&completion.MockCompleter{Responses: []string{"a", "b"}})

	err := h.run("chain", "-p", "x", "-p", "y", "--config", path)
	assertExitCode(t, err, ExitSuccess)
	assert.Equal(t, "from-config", h.Mock.Requests()[0].Model)
}

func TestModelFromEnvironment(t *testing.T) {
	t.Setenv(completion.ModelEnvVar, "env-model")
	h := newTestHarness(&completion.MockCompleter{Responses: []string{"a", "b"}})

	require.NoError(t, h.run("chain", "-p", "x", "-p", "y"))
	assert.Equal(t, "env-model", h.Mock.Requests()[0].Model)
}

func promptsOf(reqs []completion.Request) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Prompt
	}
	return out
}
