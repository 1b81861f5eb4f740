package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"llmflow/internal/router"
	"llmflow/internal/workflow"
)

func newRouteCommand(app *App) *cobra.Command {
	var (
		routesFile       string
		classifierSystem string
		classifierPrompt string
		printLabel       bool
	)

	cmd := &cobra.Command{
		Use:   "route [input]",
		Short: "Classify input and dispatch it to a matching route",
		Long: `Classify the input with one completion call, then process it with the
handler configured for the chosen label. Input is read from stdin when no
argument is given.

The routes file maps each label to a system prompt, an optional model and a
template containing {input}:

  billing:
    system: You are a billing specialist.
    template: "Customer question: {input}"

A label outside the routes file exits with status 10 without calling a handler.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if routesFile == "" {
				return errors.New("--routes-file is required")
			}
			routes, err := router.LoadRoutes(routesFile)
			if err != nil {
				return err
			}

			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			input, err := readInput(app.Stdin, arg)
			if err != nil {
				return err
			}

			cfg := *app.Config
			if classifierSystem != "" {
				cfg.Prompts.Classifier = classifierSystem
			}
			if classifierPrompt != "" {
				cfg.Prompts.ClassifierPrompt = classifierPrompt
			}

			return app.execute(cmd, "route", func(ctx context.Context, s *session) (workflow.Result, error) {
				res, err := workflow.NewRouteDispatcher(s.env, routes, workflow.RouteOptions{
					Model:            s.model,
					Stream:           s.stream,
					ClassifierSystem: cfg.Prompts.Classifier,
					ClassifierPrompt: cfg.ClassifierPromptFor,
				}).Run(ctx, input)
				if err == nil && printLabel {
					res.Output = fmt.Sprintf("[%s] %s", res.Label, res.Output)
				}
				return res, err
			})
		},
	}

	cmd.Flags().StringVarP(&routesFile, "routes-file", "f", "", "YAML or JSON file mapping labels to routes (required)")
	cmd.Flags().StringVar(&classifierSystem, "classifier-system", "", "System prompt for the classifier")
	cmd.Flags().StringVar(&classifierPrompt, "classifier-prompt", "", "Classifier prompt template using {{.Labels}} and {{.Input}}")
	cmd.Flags().BoolVar(&printLabel, "print-label", false, "Prefix the response with the chosen label")

	return cmd
}
