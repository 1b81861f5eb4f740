package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"llmflow/internal/workflow"
)

func newOptimizeCommand(app *App) *cobra.Command {
	var (
		prompt   string
		target   float64
		maxIters int
		rubric   string
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Generate, evaluate and revise until a target score is reached",
		Long: `Generate an output, score it against a rubric, and revise it with the
evaluator's feedback until the score reaches --target or --max-iters
evaluations have run.

--rubric accepts a file path or literal text. When the budget runs out the
last candidate is still printed and the exit status is 30. An evaluator reply
that is not {"score": 0..1, "feedback": "..."} exits with status 20.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(app.Stdin, prompt)
			if err != nil {
				return err
			}
			if text == "" {
				return errors.New("a prompt is required (--prompt or stdin)")
			}

			cfg := *app.Config
			if cmd.Flags().Changed("target") {
				cfg.Optimizer.Target = target
			}
			if cmd.Flags().Changed("max-iters") {
				cfg.Optimizer.MaxIters = maxIters
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			rubricText, err := resolveRubric(rubric, cfg.Prompts.Rubric)
			if err != nil {
				return err
			}

			return app.execute(cmd, "optimize", func(ctx context.Context, s *session) (workflow.Result, error) {
				return workflow.NewOptimizerRunner(s.env, workflow.OptimizerOptions{
					Model:           s.model,
					Stream:          s.stream,
					EvaluatorSystem: cfg.Prompts.Evaluator,
					Revise:          cfg.RevisePrompt,
					MaxIters:        cfg.Optimizer.MaxIters,
					Target:          cfg.Optimizer.Target,
				}).Run(ctx, text, rubricText)
			})
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Initial prompt (default: stdin)")
	cmd.Flags().Float64Var(&target, "target", 0.9, "Score in [0,1] that ends the loop")
	cmd.Flags().IntVar(&maxIters, "max-iters", 5, "Maximum evaluations")
	cmd.Flags().StringVar(&rubric, "rubric", "", "Rubric text or path to a rubric file")

	return cmd
}
