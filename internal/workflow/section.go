package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// AggregateMode selects how sectioned outputs are combined.
type AggregateMode string

const (
	AggregateConcat AggregateMode = "concat"
	AggregateJSON   AggregateMode = "json"
)

// ParseAggregateMode validates an aggregate mode name. Empty means none.
func ParseAggregateMode(s string) (AggregateMode, error) {
	switch m := AggregateMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", AggregateConcat, AggregateJSON:
		return m, nil
	}
	return "", fmt.Errorf("unknown aggregate mode %q (want concat or json)", s)
}

// SectionBySize splits text into consecutive chunks of size characters.
//
// The last chunk may be shorter. Concatenating the chunks reproduces text.
func SectionBySize(text string, size int) ([]string, error) {
	if size < 1 {
		return nil, fmt.Errorf("section size must be at least 1, got %d", size)
	}
	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks, nil
}

// SectionByRegex splits text so that every match of pattern begins a new chunk.
//
// The matched text stays at the start of its chunk. Text before the first
// match becomes its own chunk. Empty chunks are dropped.
func SectionByRegex(text, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid section regex: %w", err)
	}

	bounds := []int{0}
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if loc[0] != bounds[len(bounds)-1] {
			bounds = append(bounds, loc[0])
		}
	}
	bounds = append(bounds, len(text))

	var chunks []string
	for i := 0; i+1 < len(bounds); i++ {
		if chunk := text[bounds[i]:bounds[i+1]]; chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// Aggregate combines sectioned outputs.
//
// Concat joins them with a blank line. JSON renders them as an indented array
// of strings.
func Aggregate(mode AggregateMode, outputs []string) (string, error) {
	switch mode {
	case AggregateConcat:
		return strings.Join(outputs, "\n\n"), nil
	case AggregateJSON:
		if outputs == nil {
			outputs = []string{}
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outputs); err != nil {
			return "", fmt.Errorf("failed to aggregate: %w", err)
		}
		return strings.TrimSuffix(buf.String(), "\n"), nil
	}
	return "", fmt.Errorf("%w: got %q", ErrAggregateRequired, mode)
}
