// Package schema implements the structural gate applied to intermediate chain outputs.
//
// A [Gate] first requires the output to be well-formed JSON and then, when a
// schema is configured, validates the decoded value against it.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrNotJSON is returned when the output is not well-formed JSON.
var ErrNotJSON = errors.New("output is not valid JSON")

// ErrSchemaMismatch is returned when the output does not satisfy the schema.
var ErrSchemaMismatch = errors.New("output does not match schema")

const resourceURL = "mem://gate-schema.json"

// Gate checks intermediate outputs.
type Gate struct {
	schema *jsonschema.Schema
}

// Compile builds a [Gate] from raw JSON Schema bytes.
func Compile(raw []byte) (*Gate, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse gate schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceURL, doc); err != nil {
		return nil, fmt.Errorf("failed to load gate schema: %w", err)
	}
	sch, err := c.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile gate schema: %w", err)
	}
	return &Gate{schema: sch}, nil
}

// LoadFile reads and compiles the JSON Schema at path.
func LoadFile(path string) (*Gate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gate schema: %w", err)
	}
	return Compile(raw)
}

// Check validates output. Errors wrap [ErrNotJSON] or [ErrSchemaMismatch].
func (g *Gate) Check(output string) error {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(output))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if g == nil || g.schema == nil {
		return nil
	}
	if err := g.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return nil
}
