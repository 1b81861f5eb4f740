// Package cli provides the Cobra-based command-line interface for llmflow.
//
// Each workflow is a subcommand: chain, route, parallel, orchestrate and
// optimize. Commands share a set of persistent flags (model, streaming, event
// log, verbosity, config file, metrics file, color) and one execution path
// that wires the completion client, event sink, metrics and printer before
// handing off to a runner in the workflow package.
//
// Results go to stdout; everything else goes to stderr. Commands signal
// failure by returning an [ExitError] so exit codes are testable.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"llmflow/internal/completion"
	"llmflow/internal/config"
	"llmflow/internal/events"
	"llmflow/internal/metrics"
	"llmflow/internal/output"
	"llmflow/internal/workflow"
)

// App holds the dependencies shared by all commands.
//
// Completer is normally nil, in which case each run talks to the llm CLI
// configured in Config. Tests set it to a [completion.MockCompleter].
type App struct {
	Config    *config.Config
	Completer completion.Completer
	Printer   *output.Printer
	Stdin     io.Reader

	flags globalFlags
}

type globalFlags struct {
	model       string
	stream      bool
	noStream    bool
	logPath     string
	verbose     bool
	configPath  string
	metricsPath string
	noColor     bool
}

// NewApp creates an [App] with production dependencies.
func NewApp(cfg *config.Config) *App {
	return &App{
		Config:  cfg,
		Printer: output.NewPrinter(),
		Stdin:   os.Stdin,
	}
}

// NewRootCommand creates the root command with every workflow subcommand attached.
func NewRootCommand(app *App) *cobra.Command {
	if app.Config == nil {
		app.Config = config.DefaultConfig()
	}
	if app.Printer == nil {
		app.Printer = output.NewPrinter()
	}
	if app.Stdin == nil {
		app.Stdin = os.Stdin
	}

	rootCmd := &cobra.Command{
		Use:   "llmflow",
		Short: "Compose LLM calls into workflows",
		Long: `llmflow composes single completions from the llm CLI into multi-step workflows:
sequential chains, classify-and-dispatch routing, parallel fan-out,
orchestrator-workers decomposition and evaluator-optimizer refinement.

Results are written to stdout; progress and diagnostics to stderr.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.flags.configPath == "" {
				return nil
			}
			cfg, err := config.NewLoader().LoadFromFile(app.flags.configPath)
			if err != nil {
				return err
			}
			app.Config = cfg
			return nil
		},
	}

	f := rootCmd.PersistentFlags()
	f.StringVarP(&app.flags.model, "model", "m", "", "Model for all calls (default: $LLM_MODEL, then config)")
	f.BoolVar(&app.flags.stream, "stream", true, "Stream completions to stderr as they arrive")
	f.BoolVar(&app.flags.noStream, "no-stream", false, "Disable streaming")
	f.StringVar(&app.flags.logPath, "log", "", "Append a JSONL event log to this file")
	f.BoolVarP(&app.flags.verbose, "verbose", "v", false, "Show progress and echo events to stderr")
	f.StringVar(&app.flags.configPath, "config", "", "Config file (YAML or JSON)")
	f.StringVar(&app.flags.metricsPath, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	f.BoolVar(&app.flags.noColor, "no-color", false, "Disable colored diagnostics")

	rootCmd.AddCommand(
		newChainCommand(app),
		newRouteCommand(app),
		newParallelCommand(app),
		newOrchestrateCommand(app),
		newOptimizeCommand(app),
	)

	return rootCmd
}

// session carries per-run settings resolved from flags and config.
type session struct {
	env    workflow.Env
	model  string
	stream bool
}

type runFunc func(ctx context.Context, s *session) (workflow.Result, error)

func (app *App) completer() completion.Completer {
	if app.Completer != nil {
		return app.Completer
	}
	c := completion.NewCLIClient(app.Config.LLM.BinaryPath)
	c.Timeout = app.Config.LLM.Timeout
	// Streamed text is a live view; stdout only receives the final result.
	c.StreamTo = app.Printer.Diag()
	return c
}

func (app *App) openSink() (*events.Sink, func() error, error) {
	if app.flags.logPath != "" {
		return events.OpenFile(app.flags.logPath)
	}
	if app.flags.verbose {
		return events.NewSink(app.Printer.Diag()), func() error { return nil }, nil
	}
	return events.NewSink(nil), func() error { return nil }, nil
}

// execute wires a run for the named workflow, reports its outcome and maps
// it to an exit code.
func (app *App) execute(cmd *cobra.Command, name string, fn runFunc) error {
	cmd.SilenceUsage = true
	p := app.Printer
	p.SetVerbose(app.flags.verbose)
	p.SetColor(app.Config.Output.Color && !app.flags.noColor)

	sink, closeLog, err := app.openSink()
	if err != nil {
		p.Errorf("%v", err)
		return &ExitError{Code: ExitGeneral, Err: err}
	}

	m := metrics.New(name)
	s := &session{
		env: workflow.Env{
			Completer: m.Instrument(app.completer()),
			Sink:      sink,
			Diag:      p,
			Batches:   m,
		},
		model:  completion.ResolveModel(app.flags.model, app.Config.Model),
		stream: app.flags.stream && !app.flags.noStream,
	}
	p.Verbosef("Run %s: %s with model %s", sink.RunID(), name, s.model)

	start := time.Now()
	res, runErr := fn(cmd.Context(), s)
	app.report(name, res, runErr, time.Since(start))

	if app.flags.metricsPath != "" {
		if err := m.WriteTextfile(app.flags.metricsPath); err != nil {
			p.Warnf("failed to write metrics: %v", err)
		}
	}
	if err := sink.Err(); err != nil {
		p.Warnf("event log: %v", err)
	}
	if err := closeLog(); err != nil {
		p.Warnf("failed to close event log: %v", err)
	}

	if code := ExitCodeFor(runErr, res.Status); code != ExitSuccess {
		return &ExitError{Code: code, Err: runErr}
	}
	return nil
}

func (app *App) report(name string, res workflow.Result, err error, elapsed time.Duration) {
	p := app.Printer
	switch {
	case err != nil:
		p.Errorf("[%s] %v", name, err)
	case res.Status == workflow.StatusNoResult:
		p.Warnf("[%s] No result.", name)
	case res.Status == workflow.StatusBudgetExhausted:
		p.Result(res.Output)
		p.Warnf("[%s] Target score not reached after %d iterations (last score %.2f)", name, res.Iterations, res.Score)
	default:
		p.Result(res.Output)
	}
	status := res.Status
	if status == "" {
		status = workflow.StatusOf(err)
	}
	p.Summary(name, string(status), status.OK(), elapsed)
}

// ExecuteResult contains the result of command execution.
type ExecuteResult struct {
	ExitCode int
	Err      error
}

// RunWithConfig builds the command tree for cfg and runs it with os.Args.
//
// SIGINT and SIGTERM cancel the run's context.
func RunWithConfig(cfg *config.Config) ExecuteResult {
	app := NewApp(cfg)
	rootCmd := NewRootCommand(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if code, ok := IsExitError(err); ok {
			return ExecuteResult{ExitCode: code, Err: err}
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExecuteResult{ExitCode: ExitGeneral, Err: err}
	}
	return ExecuteResult{ExitCode: ExitSuccess}
}

// Execute loads configuration, runs the CLI and exits with the mapped code.
func Execute() {
	cfg, err := config.NewLoader().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(ExitGeneral)
	}
	os.Exit(RunWithConfig(cfg).ExitCode)
}
