// Package config provides configuration loading and management for llmflow.
//
// Configuration is loaded using Viper, supporting YAML or JSON config files and
// environment variable overrides. Every run-level default used by the workflow
// runners lives here (model, fixed system instructions, concurrency and
// iteration budgets) and is passed to each runner at construction, so
// concurrent runs with different settings never share ambient state.
//
// Key types:
//   - [Config] is the root configuration container with all settings
//   - [Loader] handles Viper-based configuration loading
//   - [PromptsConfig] holds the fixed instructions used by the runners
//
// Configuration priority (highest to lowest):
//  1. Environment variables (LLMFLOW_ prefix)
//  2. Config file specified by LLMFLOW_CONFIG_PATH
//  3. User config directory (platform-standard), e.g. ~/.config/llmflow/config.yaml
//  4. ./llmflow.yaml
//  5. [DefaultConfig] defaults
package config

import (
	"fmt"
	"time"
)

// Config represents the root configuration structure.
//
// This is the main configuration container loaded by [Loader]. Use
// [DefaultConfig] to get sensible defaults.
type Config struct {
	// Model is the default model when neither a flag nor $LLM_MODEL is set.
	Model string `mapstructure:"model"`

	// LLM contains llm CLI binary settings.
	LLM LLMConfig `mapstructure:"llm"`

	// Prompts contains the fixed instructions used by the runners.
	Prompts PromptsConfig `mapstructure:"prompts"`

	// Parallel contains worker batch settings shared by parallel and orchestrate.
	Parallel ParallelConfig `mapstructure:"parallel"`

	// Orchestrator contains orchestrate loop settings.
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`

	// Optimizer contains evaluator-optimizer loop settings.
	Optimizer OptimizerConfig `mapstructure:"optimizer"`

	// Output contains terminal output settings.
	Output OutputConfig `mapstructure:"output"`
}

// LLMConfig contains llm CLI configuration.
type LLMConfig struct {
	// BinaryPath is the path to the llm CLI binary.
	// Default: "llm" (assumes llm is in PATH).
	// Can be overridden with LLMFLOW_LLM_PATH environment variable.
	BinaryPath string `mapstructure:"binary_path"`

	// Timeout bounds each completion call. Zero means no limit.
	Timeout time.Duration `mapstructure:"timeout"`
}

// PromptsConfig holds the fixed system instructions and templates.
//
// ClassifierPrompt and Revise are Go templates. ClassifierPrompt sees
// {{.Labels}} and {{.Input}}; Revise sees {{.Output}} and {{.Feedback}}.
type PromptsConfig struct {
	Classifier       string `mapstructure:"classifier"`
	ClassifierPrompt string `mapstructure:"classifier_prompt"`
	Orchestrator     string `mapstructure:"orchestrator"`
	Aggregator       string `mapstructure:"aggregator"`
	Evaluator        string `mapstructure:"evaluator"`
	Revise           string `mapstructure:"revise"`

	// Rubric is the default evaluation rubric when none is supplied.
	Rubric string `mapstructure:"rubric"`
}

// ParallelConfig contains worker batch settings.
type ParallelConfig struct {
	// MaxWorkers bounds concurrent completion calls in a batch.
	// Default: 5
	MaxWorkers int `mapstructure:"max_workers"`

	// Timeout bounds a whole batch. Zero means no limit.
	Timeout time.Duration `mapstructure:"timeout"`
}

// OrchestratorConfig contains orchestrate loop settings.
type OrchestratorConfig struct {
	// Iterations is the maximum number of decompose/dispatch/synthesize rounds.
	// Default: 1
	Iterations int `mapstructure:"iterations"`

	// TokenModel names the tokenizer used for the worker output token cap.
	// Default: "gpt-4o-mini"
	TokenModel string `mapstructure:"token_model"`
}

// OptimizerConfig contains evaluator-optimizer loop settings.
type OptimizerConfig struct {
	// MaxIters is the evaluation budget.
	// Default: 5
	MaxIters int `mapstructure:"max_iters"`

	// Target is the score in [0,1] that ends the loop successfully.
	// Default: 0.9
	Target float64 `mapstructure:"target"`
}

// OutputConfig contains terminal output settings.
type OutputConfig struct {
	// Color enables lipgloss styling on the diagnostic channel.
	// Default: true
	Color bool `mapstructure:"color"`
}

// Default instructions, matching the behavior users of the llm CLI workflows expect.
const (
	DefaultModel = "gpt-4.1-mini"

	DefaultClassifierSystem = "You are a classifier. Respond with exactly one of the provided labels, nothing else."

	DefaultClassifierPrompt = "Classify the following input into one of these categories: {{.Labels}}\n\nInput: {{.Input}}"

	DefaultOrchestratorSystem = "You are an expert orchestrator. Given a user request, break it down into a list of JSON tasks " +
		"(each with a unique id and a prompt) and an aggregate_prompt for synthesizing the results. " +
		`Return a JSON object: {"tasks": [{"id": 1, "prompt": "..."}], "aggregate_prompt": "..."}. ` +
		"If no further tasks are needed, return an empty list for 'tasks'."

	DefaultAggregatorSystem = "Synthesize the following worker results."

	DefaultEvaluatorSystem = `You are an evaluator. Given the following output and rubric, return a JSON object: {"score": float, "feedback": str}. ` +
		"Score must be between 0 and 1."

	DefaultReviseTemplate = "Revise the following output based on this feedback.\n\nOutput:\n{{.Output}}\n\nFeedback:\n{{.Feedback}}\n\nReturn the improved output only."

	DefaultRubric = "Evaluate the quality, clarity, and completeness of the output."
)

// DefaultConfig returns a new [Config] with sensible defaults.
//
// These defaults work out of the box without any configuration file.
func DefaultConfig() *Config {
	return &Config{
		Model: DefaultModel,
		LLM: LLMConfig{
			BinaryPath: "llm",
		},
		Prompts: PromptsConfig{
			Classifier:       DefaultClassifierSystem,
			ClassifierPrompt: DefaultClassifierPrompt,
			Orchestrator:     DefaultOrchestratorSystem,
			Aggregator:       DefaultAggregatorSystem,
			Evaluator:        DefaultEvaluatorSystem,
			Revise:           DefaultReviseTemplate,
			Rubric:           DefaultRubric,
		},
		Parallel: ParallelConfig{
			MaxWorkers: 5,
		},
		Orchestrator: OrchestratorConfig{
			Iterations: 1,
			TokenModel: "gpt-4o-mini",
		},
		Optimizer: OptimizerConfig{
			MaxIters: 5,
			Target:   0.9,
		},
		Output: OutputConfig{
			Color: true,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Optimizer.Target < 0 || c.Optimizer.Target > 1:
		return fmt.Errorf("optimizer.target must be between 0 and 1, got %v", c.Optimizer.Target)
	case c.Optimizer.MaxIters < 1:
		return fmt.Errorf("optimizer.max_iters must be at least 1, got %d", c.Optimizer.MaxIters)
	case c.Parallel.MaxWorkers < 1:
		return fmt.Errorf("parallel.max_workers must be at least 1, got %d", c.Parallel.MaxWorkers)
	case c.Parallel.Timeout < 0:
		return fmt.Errorf("parallel.timeout must not be negative, got %s", c.Parallel.Timeout)
	case c.Orchestrator.Iterations < 1:
		return fmt.Errorf("orchestrator.iterations must be at least 1, got %d", c.Orchestrator.Iterations)
	}
	return nil
}

// ReviseData contains data for the revise template.
type ReviseData struct {
	Output   string
	Feedback string
}

// ClassifierData contains data for the classifier prompt template.
type ClassifierData struct {
	// Labels is the comma-separated list of configured route labels.
	Labels string
	Input  string
}

// RevisePrompt expands the revise template for a candidate and its feedback.
func (c *Config) RevisePrompt(output, feedback string) (string, error) {
	return expandTemplate(c.Prompts.Revise, ReviseData{Output: output, Feedback: feedback})
}

// ClassifierPromptFor expands the classifier prompt template.
func (c *Config) ClassifierPromptFor(labels, input string) (string, error) {
	return expandTemplate(c.Prompts.ClassifierPrompt, ClassifierData{Labels: labels, Input: input})
}
