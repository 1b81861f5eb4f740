// Package output renders workflow output to the terminal.
//
// A [Printer] owns two channels: the primary channel carries only the workflow
// result so it can be piped, and the diagnostic channel carries step markers,
// progress and summaries. Diagnostic lines are styled with lipgloss when the
// destination supports color.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Printer writes results and diagnostics.
//
// Writes to each channel are serialized, so a Printer may be shared with
// concurrently running tasks. Create instances using [NewPrinter] or
// [NewPrinterWithWriters].
type Printer struct {
	out     io.Writer
	diag    io.Writer
	rawDiag io.Writer
	verbose bool

	marker  lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
	box     lipgloss.Style
}

// NewPrinter creates a [Printer] writing results to stdout and diagnostics to stderr.
func NewPrinter() *Printer {
	return NewPrinterWithWriters(os.Stdout, os.Stderr)
}

// NewPrinterWithWriters creates a [Printer] with explicit channels.
func NewPrinterWithWriters(out, diag io.Writer) *Printer {
	p := &Printer{out: &lockedWriter{w: out}, diag: &lockedWriter{w: diag}, rawDiag: diag}
	p.SetColor(true)
	return p
}

// SetColor toggles styling of diagnostic output.
//
// Styling also stays off when the diagnostic writer is not a color terminal.
func (p *Printer) SetColor(enabled bool) {
	if !enabled {
		p.marker, p.success, p.failure, p.muted, p.box =
			lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle()
		return
	}
	// The renderer inspects the underlying writer for terminal support.
	r := lipgloss.NewRenderer(p.rawDiag)
	p.marker = r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	p.success = r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	p.failure = r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	p.muted = r.NewStyle().Foreground(lipgloss.Color("8"))
	p.box = r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
}

// SetVerbose enables [Printer.Verbosef] output.
func (p *Printer) SetVerbose(verbose bool) {
	p.verbose = verbose
}

// Verbose reports whether verbose output is enabled.
func (p *Printer) Verbose() bool {
	return p.verbose
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}

// Out returns the primary channel.
func (p *Printer) Out() io.Writer {
	return p.out
}

// Diag returns the diagnostic channel.
func (p *Printer) Diag() io.Writer {
	return p.diag
}

// Result writes the workflow result to the primary channel.
func (p *Printer) Result(text string) {
	fmt.Fprintln(p.out, text)
}

// StepResult writes an intermediate step output to the diagnostic channel,
// bracketed by start and end markers.
func (p *Printer) StepResult(step int, text string) {
	fmt.Fprintf(p.diag, "\n%s\n", p.marker.Render(fmt.Sprintf("--- Step %d Result ---", step)))
	fmt.Fprintln(p.diag, text)
	fmt.Fprintf(p.diag, "%s\n\n", p.marker.Render(fmt.Sprintf("--- End Step %d Result ---", step)))
}

// Verbosef writes a progress line to the diagnostic channel when verbose.
func (p *Printer) Verbosef(format string, args ...any) {
	if !p.verbose {
		return
	}
	fmt.Fprintln(p.diag, p.muted.Render(fmt.Sprintf(format, args...)))
}

// Warnf writes a notice to the diagnostic channel.
func (p *Printer) Warnf(format string, args ...any) {
	fmt.Fprintln(p.diag, fmt.Sprintf(format, args...))
}

// Errorf writes an error line to the diagnostic channel.
func (p *Printer) Errorf(format string, args ...any) {
	fmt.Fprintln(p.diag, p.failure.Render("✗ "+fmt.Sprintf(format, args...)))
}

// Summary writes the run summary box to the diagnostic channel when verbose.
func (p *Printer) Summary(workflow, status string, ok bool, elapsed time.Duration) {
	if !p.verbose {
		return
	}
	mark := p.success.Render("✓ " + strings.ToUpper(status))
	if !ok {
		mark = p.failure.Render("✗ " + strings.ToUpper(status))
	}
	body := fmt.Sprintf("%s\nWorkflow: %s\nDuration: %s", mark, workflow, elapsed.Round(time.Millisecond))
	fmt.Fprintln(p.diag, p.box.Render(body))
}
