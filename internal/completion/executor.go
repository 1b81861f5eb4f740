package completion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"
)

// CLIClient implements [Completer] by running the llm CLI as a subprocess.
//
// Each call runs `llm prompt [--model M] [--system S] [--no-stream] <prompt>` and
// returns the trimmed standard output. When a request asks for streaming and
// StreamTo is set, stdout is copied to StreamTo as it arrives while still being
// captured for the return value.
//
// Create instances using [NewCLIClient] to get default values.
type CLIClient struct {
	// BinaryPath is the llm executable. Defaults to "llm".
	BinaryPath string

	// Timeout bounds a single call. Zero means no per-call limit.
	Timeout time.Duration

	// StreamTo receives streamed output for requests with Stream set.
	// Nil disables streaming output regardless of the request.
	StreamTo io.Writer
}

// NewCLIClient creates a [CLIClient] for the given binary path.
//
// An empty binaryPath falls back to "llm" on PATH.
func NewCLIClient(binaryPath string) *CLIClient {
	if binaryPath == "" {
		binaryPath = "llm"
	}
	return &CLIClient{BinaryPath: binaryPath}
}

// Args returns the command-line arguments used for req, excluding the binary.
func (c *CLIClient) Args(req Request) []string {
	args := []string{"prompt"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.System != "" {
		args = append(args, "--system", req.System)
	}
	if !req.Stream {
		args = append(args, "--no-stream")
	}
	// Terminate flag parsing so prompts starting with "-" are not read as options.
	return append(args, "--", req.Prompt)
}

// Complete runs the llm CLI for req and returns its trimmed stdout.
//
// A non-zero exit status, a missing binary, or a cancelled context are all
// reported as a [*CallError].
func (c *CLIClient) Complete(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrEmptyPrompt
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	binary := c.BinaryPath
	if binary == "" {
		binary = "llm"
	}

	cmd := exec.CommandContext(ctx, binary, c.Args(req)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if req.Stream && c.StreamTo != nil {
		cmd.Stdout = io.MultiWriter(&stdout, c.StreamTo)
	}
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return "", &CallError{Code: code, Stderr: stderr.String(), Err: err}
	}

	if req.Stream && c.StreamTo != nil {
		// Streamed text does not end with a newline of its own.
		_, _ = io.WriteString(c.StreamTo, "\n")
	}

	return strings.TrimSpace(stdout.String()), nil
}
