// Package router holds the label-to-route table used by the route workflow.
//
// A route table maps each classification label to the handler that processes
// input carrying that label: a system prompt, an optional model override and a
// prompt template with an {input} placeholder. Tables are loaded from YAML or
// JSON files and keep the file's label order, which is the order labels are
// offered to the classifier.
//
// Key types:
//   - [Route] - Handler configuration for one label
//   - [Table] - Ordered label-to-route mapping
package router

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// InputPlaceholder is replaced by the routed input in a route template.
const InputPlaceholder = "{input}"

// Sentinel errors for route tables.
var (
	// ErrUnknownLabel indicates the label is not present in the table.
	ErrUnknownLabel = errors.New("unknown route label")

	// ErrNoRoutes indicates the routes file defines no routes.
	ErrNoRoutes = errors.New("no routes defined")
)

// Route configures the handler for one label.
type Route struct {
	System   string `yaml:"system" json:"system"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
	Template string `yaml:"template" json:"template"`
}

// Render substitutes input into the route's template.
func (r Route) Render(input string) string {
	return strings.ReplaceAll(r.Template, InputPlaceholder, input)
}

// ModelOr returns the route's model override, or fallback when none is set.
func (r Route) ModelOr(fallback string) string {
	if r.Model != "" {
		return r.Model
	}
	return fallback
}

// Table maps labels to routes, keeping insertion order.
type Table struct {
	labels []string
	routes map[string]Route
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{routes: make(map[string]Route)}
}

// Add registers a route. A repeated label replaces the earlier route but keeps its position.
func (t *Table) Add(label string, r Route) {
	if _, ok := t.routes[label]; !ok {
		t.labels = append(t.labels, label)
	}
	t.routes[label] = r
}

// Labels returns the labels in table order.
func (t *Table) Labels() []string {
	out := make([]string, len(t.labels))
	copy(out, t.labels)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.labels)
}

// Lookup returns the route for label.
//
// Matching is exact; callers trim surrounding whitespace first.
// Returns [ErrUnknownLabel] when the label is absent.
func (t *Table) Lookup(label string) (Route, error) {
	r, ok := t.routes[label]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	return r, nil
}

// Validate checks that every route has a template with the input placeholder.
func (t *Table) Validate() error {
	if len(t.labels) == 0 {
		return ErrNoRoutes
	}
	for _, label := range t.labels {
		if strings.TrimSpace(label) == "" {
			return errors.New("route label must not be empty")
		}
		r := t.routes[label]
		if !strings.Contains(r.Template, InputPlaceholder) {
			return fmt.Errorf("route %q: template must contain %s", label, InputPlaceholder)
		}
	}
	return nil
}

// Parse decodes a route table from YAML or JSON.
//
// The document must be a mapping of label to route. JSON is accepted because
// it is a subset of YAML, so both formats keep their key order.
func Parse(data []byte) (*Table, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse routes: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, ErrNoRoutes
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("failed to parse routes: expected a mapping of label to route")
	}

	t := NewTable()
	for i := 0; i+1 < len(root.Content); i += 2 {
		label := root.Content[i].Value
		var r Route
		if err := root.Content[i+1].Decode(&r); err != nil {
			return nil, fmt.Errorf("failed to parse route %q: %w", label, err)
		}
		t.Add(label, r)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadRoutes reads a route table from a YAML or JSON file.
func LoadRoutes(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes: %w", err)
	}
	return Parse(data)
}
