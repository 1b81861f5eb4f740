package cli

import (
	"context"

	"github.com/spf13/cobra"

	"llmflow/internal/schema"
	"llmflow/internal/workflow"
)

func newChainCommand(app *App) *cobra.Command {
	var (
		prompts     []string
		promptsFile string
		gateSchema  string
		gateJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "chain [prompt...]",
		Short: "Run prompts in sequence, feeding each output into the next",
		Long: `Run a sequential chain. Each step's input is its prompt followed by a blank
line and the previous step's output. Intermediate outputs are shown on stderr
between step markers; the final output goes to stdout.

Prompts come from --prompt flags followed by positional arguments. A
--prompts-file replaces them with the file's non-blank lines.

With --gate-schema, every intermediate output must be JSON matching the schema.
With --gate-json, it only has to be well-formed JSON.

Example:
  llmflow chain -p "List three facts about Go" -p "Turn them into a haiku"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := append(append([]string{}, prompts...), args...)
			if promptsFile != "" {
				fromFile, err := readPromptsFile(promptsFile)
				if err != nil {
					return err
				}
				all = fromFile
			}

			opts := workflow.ChainOptions{}
			switch {
			case gateSchema != "":
				gate, err := schema.LoadFile(gateSchema)
				if err != nil {
					return err
				}
				opts.Gate = gate
			case gateJSON:
				// A nil *schema.Gate checks well-formedness only.
				opts.Gate = (*schema.Gate)(nil)
			}

			return app.execute(cmd, "chain", func(ctx context.Context, s *session) (workflow.Result, error) {
				opts.Model, opts.Stream = s.model, s.stream
				return workflow.NewChainRunner(s.env, opts).Run(ctx, all)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&prompts, "prompt", "p", nil, "Prompt for one step (repeatable, in order)")
	cmd.Flags().StringVar(&promptsFile, "prompts-file", "", "File with one prompt per line (replaces --prompt and arguments)")
	cmd.Flags().StringVar(&gateSchema, "gate-schema", "", "JSON Schema every intermediate output must satisfy")
	cmd.Flags().BoolVar(&gateJSON, "gate-json", false, "Require every intermediate output to be valid JSON")
	cmd.MarkFlagsMutuallyExclusive("gate-schema", "gate-json")

	return cmd
}
