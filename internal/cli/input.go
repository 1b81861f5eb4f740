package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// readInput returns arg when given, otherwise all of stdin.
func readInput(stdin io.Reader, arg string) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if stdin == nil {
		return "", errors.New("no input provided")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// readPromptsFile returns the non-blank lines of path, trimmed.
func readPromptsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	defer f.Close()

	var prompts []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			prompts = append(prompts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	return prompts, nil
}

// resolveRubric treats value as a file path when such a file exists and as
// literal rubric text otherwise. Empty falls back to def.
func resolveRubric(value, def string) (string, error) {
	if value == "" {
		return def, nil
	}
	info, err := os.Stat(value)
	if err != nil || info.IsDir() {
		return value, nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return "", fmt.Errorf("failed to read rubric: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
