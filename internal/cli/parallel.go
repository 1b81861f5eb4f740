package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"llmflow/internal/workflow"
)

func newParallelCommand(app *App) *cobra.Command {
	var (
		prompt       string
		system       string
		input        string
		sectionSize  int
		sectionRegex string
		aggregate    string
		votes        int
		voteMode     string
		dedupe       bool
		maxWorkers   int
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "parallel",
		Short: "Fan a prompt out over sections of the input or across votes",
		Long: `Run independent completions concurrently and combine the results.

Sectioning splits the input (--input or stdin) into chunks by size or regex,
prefixes each chunk with --prompt and aggregates the outputs in input order:

  llmflow parallel --prompt "Summarize:" --section 2000 --aggregate concat < doc.txt

Voting sends the same prompt several times and picks a winner:

  llmflow parallel --prompt "Is 1009 prime? Answer yes or no." --vote 5

Calls never stream in this mode.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := workflow.ParallelRequest{Prompt: prompt}

			if sectionSize > 0 || sectionRegex != "" {
				mode, err := workflow.ParseAggregateMode(aggregate)
				if err != nil {
					return err
				}
				text, err := readInput(app.Stdin, input)
				if err != nil {
					return err
				}
				req.Input = text
				req.Section = &workflow.Sectioning{Size: sectionSize, Regex: sectionRegex, Aggregate: mode}
			}
			if cmd.Flags().Changed("vote") {
				mode, err := workflow.ParseVoteMode(voteMode)
				if err != nil {
					return err
				}
				req.Input = input
				req.Vote = &workflow.Voting{Count: votes, Mode: mode, Dedupe: dedupe}
			}

			workers := app.Config.Parallel.MaxWorkers
			if cmd.Flags().Changed("max-workers") {
				workers = maxWorkers
			}
			limit := app.Config.Parallel.Timeout
			if cmd.Flags().Changed("timeout") {
				limit = timeout
			}

			return app.execute(cmd, "parallel", func(ctx context.Context, s *session) (workflow.Result, error) {
				return workflow.NewParallelRunner(s.env, workflow.ParallelOptions{
					System:     system,
					Model:      s.model,
					MaxWorkers: workers,
					Timeout:    limit,
					Progress:   progressReporter(app),
				}).Run(ctx, req)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&prompt, "prompt", "", "Instruction applied to every task (required)")
	f.StringVar(&system, "system", "", "System prompt for every task")
	f.StringVarP(&input, "input", "i", "", "Input text (default: stdin when sectioning)")
	f.IntVar(&sectionSize, "section", 0, "Split the input into chunks of N characters")
	f.StringVar(&sectionRegex, "section-regex", "", "Start a new chunk at every match of this regex")
	f.StringVar(&aggregate, "aggregate", "", "Combine sectioned outputs: concat or json")
	f.IntVar(&votes, "vote", 0, "Send the prompt N times and vote (N >= 2)")
	f.StringVar(&voteMode, "vote-mode", string(workflow.VoteMajority), "Vote policy: majority or max-tokens")
	f.BoolVar(&dedupe, "dedupe", false, "Drop duplicate outputs before voting")
	f.IntVar(&maxWorkers, "max-workers", workflow.DefaultMaxWorkers, "Maximum concurrent calls")
	f.DurationVar(&timeout, "timeout", 0, "Time limit for the whole batch (e.g. 90s)")

	return cmd
}

// progressReporter prints a verbose line as each task finishes.
func progressReporter(app *App) workflow.ProgressCallback {
	return func(completed, total int, o workflow.Outcome) {
		if o.Dropped {
			app.Printer.Verbosef("Task %s dropped (%s) [%d/%d]", o.TaskID, o.DropReason, completed, total)
			return
		}
		app.Printer.Verbosef("Task %s done [%d/%d]", o.TaskID, completed, total)
	}
}
