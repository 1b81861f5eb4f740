package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "LLMFLOW"

// ConfigPathEnv names an explicit config file.
const ConfigPathEnv = "LLMFLOW_CONFIG_PATH"

// Loader handles Viper-based configuration loading.
//
// Create instances using [NewLoader]. Each Loader owns its own Viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new [Loader] with defaults and environment bindings applied.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases for the most common overrides.
	_ = v.BindEnv("llm.binary_path", "LLMFLOW_LLM_PATH")
	_ = v.BindEnv("parallel.max_workers", "LLMFLOW_MAX_WORKERS")

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("model", d.Model)
	v.SetDefault("llm.binary_path", d.LLM.BinaryPath)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("prompts.classifier", d.Prompts.Classifier)
	v.SetDefault("prompts.classifier_prompt", d.Prompts.ClassifierPrompt)
	v.SetDefault("prompts.orchestrator", d.Prompts.Orchestrator)
	v.SetDefault("prompts.aggregator", d.Prompts.Aggregator)
	v.SetDefault("prompts.evaluator", d.Prompts.Evaluator)
	v.SetDefault("prompts.revise", d.Prompts.Revise)
	v.SetDefault("prompts.rubric", d.Prompts.Rubric)
	v.SetDefault("parallel.max_workers", d.Parallel.MaxWorkers)
	v.SetDefault("parallel.timeout", d.Parallel.Timeout)
	v.SetDefault("orchestrator.iterations", d.Orchestrator.Iterations)
	v.SetDefault("orchestrator.token_model", d.Orchestrator.TokenModel)
	v.SetDefault("optimizer.max_iters", d.Optimizer.MaxIters)
	v.SetDefault("optimizer.target", d.Optimizer.Target)
	v.SetDefault("output.color", d.Output.Color)
}

// Load discovers and reads the configuration.
//
// The file named by LLMFLOW_CONFIG_PATH must exist when the variable is set.
// Otherwise the first existing file among [DefaultConfigPath] and ./llmflow.yaml
// is used, and defaults apply when none exists.
func (l *Loader) Load() (*Config, error) {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return l.LoadFromFile(path)
	}

	for _, candidate := range searchPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return l.LoadFromFile(candidate)
		}
	}

	return l.unmarshal()
}

// LoadFromFile reads the configuration file at path. The format is inferred
// from the extension (.yaml, .yml or .json).
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads the configuration and panics on error.
func MustLoad() *Config {
	cfg, err := NewLoader().Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func searchPaths() []string {
	var paths []string
	if p, err := DefaultConfigPath(); err == nil {
		paths = append(paths, p)
	}
	return append(paths, "llmflow.yaml")
}

// ConfigDir returns the platform-standard llmflow configuration directory.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "llmflow"), nil
}

// DefaultConfigPath returns the path of the user-level config file.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// expandTemplate executes a Go text/template with data.
func expandTemplate(tmpl string, data any) (string, error) {
	if tmpl == "" {
		return "", errors.New("empty template")
	}
	t, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}
