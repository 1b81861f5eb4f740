package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"llmflow/internal/completion"
	"llmflow/internal/config"
	"llmflow/internal/output"
)

// testHarness bundles an App wired to a mock completer and captured channels.
type testHarness struct {
	App  *App
	Mock *completion.MockCompleter
	Out  *bytes.Buffer
	Diag *bytes.Buffer
}

func newTestHarness(mock *completion.MockCompleter) *testHarness {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	printer := output.NewPrinterWithWriters(out, diag)
	return &testHarness{
		App: &App{
			Config:    config.DefaultConfig(),
			Completer: mock,
			Printer:   printer,
			Stdin:     strings.NewReader(""),
		},
		Mock: mock,
		Out:  out,
		Diag: diag,
	}
}

// run executes the root command with args and returns its error.
func (h *testHarness) run(args ...string) error {
	rootCmd := NewRootCommand(h.App)
	rootCmd.SetOut(h.Diag)
	rootCmd.SetErr(h.Diag)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

// bySystem answers requests by their system prompt; prompts without a match get fallback.
func bySystem(answers map[string][]string, fallback func(req completion.Request) (string, error)) *completion.MockCompleter {
	served := make(map[string]int)
	return &completion.MockCompleter{
		Func: func(_ context.Context, req completion.Request) (string, error) {
			if list, ok := answers[req.System]; ok {
				i := served[req.System]
				if i >= len(list) {
					return "", fmt.Errorf("no answer left for system %q", req.System)
				}
				served[req.System] = i + 1
				return list[i], nil
			}
			return fallback(req)
		},
	}
}
