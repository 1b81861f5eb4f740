package workflow

import (
	"context"
	"fmt"
	"strings"

	"llmflow/internal/completion"
	"llmflow/internal/router"
)

// PromptBuilder expands a prompt template. [config.Config.ClassifierPromptFor]
// and [config.Config.RevisePrompt] have this shape.
type PromptBuilder func(a, b string) (string, error)

// RouteOptions configures a [RouteDispatcher].
type RouteOptions struct {
	Model  string
	Stream bool

	// ClassifierSystem is the system instruction for the classification call.
	ClassifierSystem string

	// ClassifierPrompt builds the classification prompt from the
	// comma-separated labels and the input.
	ClassifierPrompt PromptBuilder
}

// RouteDispatcher classifies input and hands it to the matching route.
type RouteDispatcher struct {
	env    Env
	routes *router.Table
	opts   RouteOptions
}

// NewRouteDispatcher creates a route dispatcher over a route table.
func NewRouteDispatcher(env Env, routes *router.Table, opts RouteOptions) *RouteDispatcher {
	return &RouteDispatcher{env: env, routes: routes, opts: opts}
}

func (d *RouteDispatcher) classifierPrompt(labels, input string) (string, error) {
	if d.opts.ClassifierPrompt == nil {
		return fmt.Sprintf("Available routes: %s\nInput: %s\nRespond with only the route name.", labels, input), nil
	}
	return d.opts.ClassifierPrompt(labels, input)
}

// Run classifies input with one completion call, then processes it with the
// chosen route's handler.
//
// The classifier's answer is trimmed and must exactly match a configured
// label; otherwise [ErrInvalidClassification] is returned and no handler call
// is made.
func (d *RouteDispatcher) Run(ctx context.Context, input string) (Result, error) {
	sink := d.env.Sink
	labels := d.routes.Labels()
	joined := strings.Join(labels, ", ")

	prompt, err := d.classifierPrompt(joined, input)
	if err != nil {
		return finish(sink, Result{Status: StatusConfigError}, fmt.Errorf("classifier prompt: %w", err))
	}

	answer, err := d.env.Completer.Complete(ctx, completion.Request{
		Prompt: prompt,
		System: d.opts.ClassifierSystem,
		Model:  d.opts.Model,
	})
	if err != nil {
		return finish(sink, Result{}, fmt.Errorf("classification: %w", err))
	}

	label := strings.TrimSpace(answer)
	sink.Log("classify", map[string]any{
		"input":  input,
		"labels": labels,
		"label":  label,
	})

	route, err := d.routes.Lookup(label)
	if err != nil {
		return finish(sink, Result{Label: label},
			fmt.Errorf("%w: %q is not one of [%s]", ErrInvalidClassification, label, joined))
	}
	d.env.diag().Verbosef("Routing to %q", label)

	handlerPrompt := route.Render(input)
	out, err := d.env.Completer.Complete(ctx, completion.Request{
		Prompt: handlerPrompt,
		System: route.System,
		Model:  route.ModelOr(d.opts.Model),
		Stream: d.opts.Stream,
	})
	if err != nil {
		return finish(sink, Result{Label: label}, fmt.Errorf("route %q: %w", label, err))
	}

	sink.Log("handle", map[string]any{
		"label":  label,
		"prompt": handlerPrompt,
		"result": out,
	})
	return finish(sink, Result{Output: out, Status: StatusSuccess, Iterations: 1, Label: label}, nil)
}
