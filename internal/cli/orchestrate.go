package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"llmflow/internal/tokens"
	"llmflow/internal/workflow"
)

func newOrchestrateCommand(app *App) *cobra.Command {
	var (
		prompt         string
		maxWorkers     int
		iterations     int
		maxInputTokens int
	)

	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Break a request into tasks, run them in parallel and synthesize the results",
		Long: `Ask an orchestrator to decompose the request into JSON tasks, run the tasks
concurrently, and synthesize their outputs with the orchestrator's aggregate
prompt. With --iterations N the synthesis becomes the next request, until N
rounds have run or the orchestrator returns no tasks.

Worker outputs longer than --max-input-tokens are dropped before synthesis.
An orchestrator response that is not a valid task list exits with status 10;
if every worker fails the exit status is 20.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := readInput(app.Stdin, prompt)
			if err != nil {
				return err
			}
			if request == "" {
				return errors.New("--prompt is required")
			}

			cfg := app.Config
			workers := cfg.Parallel.MaxWorkers
			if cmd.Flags().Changed("max-workers") {
				workers = maxWorkers
			}
			rounds := cfg.Orchestrator.Iterations
			if cmd.Flags().Changed("iterations") {
				rounds = iterations
			}

			return app.execute(cmd, "orchestrate", func(ctx context.Context, s *session) (workflow.Result, error) {
				opts := workflow.OrchestratorOptions{
					Model:            s.model,
					Stream:           s.stream,
					System:           cfg.Prompts.Orchestrator,
					AggregatorSystem: cfg.Prompts.Aggregator,
					MaxWorkers:       workers,
					Timeout:          cfg.Parallel.Timeout,
					Iterations:       rounds,
					MaxOutputTokens:  maxInputTokens,
					Progress:         progressReporter(app),
				}
				if maxInputTokens > 0 {
					opts.Estimator = tokens.Select(tokenModel(cfg.Orchestrator.TokenModel, s.model))
					app.Printer.Verbosef("Token estimator: %s", opts.Estimator.Name())
				}
				return workflow.NewOrchestratorRunner(s.env, opts).Run(ctx, request)
			})
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Request to orchestrate (default: stdin)")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", workflow.DefaultMaxWorkers, "Maximum concurrent worker calls")
	cmd.Flags().IntVar(&iterations, "iterations", 1, "Maximum orchestrator rounds")
	cmd.Flags().IntVar(&maxInputTokens, "max-input-tokens", 0, "Drop worker outputs longer than N tokens (0 = no limit)")

	return cmd
}

// tokenModel prefers the configured tokenizer model over the run model.
func tokenModel(configured, run string) string {
	if configured != "" {
		return configured
	}
	return run
}
