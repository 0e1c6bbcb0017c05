// Package progress renders transfer and polling progress on the terminal.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Reporter receives progress for a single transfer.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
}

// Kind distinguishes uploads from downloads.
type Kind int

const (
	Upload Kind = iota
	Download
)

// Sink hands out a reporter per transfer.
type Sink interface {
	NewReporter(kind Kind) Reporter
}

// Terminal renders uploads with progressbar and downloads with mpb when out
// is a terminal, and prints one summary line per transfer otherwise.
type Terminal struct {
	out        *os.File
	isTerminal bool
}

// NewTerminal creates a sink writing to out (normally os.Stderr).
func NewTerminal(out *os.File) *Terminal {
	isTerminal := term.IsTerminal(int(out.Fd()))
	if isTerminal {
		enableWindowsANSI(out)
	}
	return &Terminal{out: out, isTerminal: isTerminal}
}

// NewReporter implements Sink.
func (t *Terminal) NewReporter(kind Kind) Reporter {
	if !t.isTerminal {
		return &textReporter{out: t.out, kind: kind}
	}
	if kind == Upload {
		return NewCLIProgress(t.out)
	}
	return newDownloadBar(t.out)
}

// IsTerminal returns whether output is to a terminal.
func (t *Terminal) IsTerminal() bool {
	return t.isTerminal
}

// CLIProgress implements progress reporting using a single progressbar.
type CLIProgress struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a new CLI progress reporter.
func NewCLIProgress(out io.Writer) *CLIProgress {
	return &CLIProgress{out: out}
}

// Start initializes the progress bar with total size and description.
// A non-positive total renders a spinner.
func (p *CLIProgress) Start(total int64, description string) {
	if total <= 0 {
		total = -1
	}
	out := p.out
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update updates the progress bar to the current position.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		if p.bar != nil {
			_ = p.bar.Exit()
		}
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// textReporter prints a line when a transfer ends. Used when output is not a terminal.
type textReporter struct {
	out     io.Writer
	kind    Kind
	desc    string
	current int64
}

func (r *textReporter) Start(total int64, description string) { r.desc = description }
func (r *textReporter) Update(current int64)                  { r.current = current }

func (r *textReporter) Finish() {
	verb := "Downloaded"
	if r.kind == Upload {
		verb = "Uploaded"
	}
	fmt.Fprintf(r.out, "%s %s (%.1f MiB)\n", verb, r.desc, float64(r.current)/(1024*1024))
}

func (r *textReporter) Error(err error) {
	fmt.Fprintf(r.out, "Transfer of %s failed: %v\n", r.desc, err)
}

// NoOpProgress implements Reporter with no output.
type NoOpProgress struct{}

// NewNoOpProgress creates a no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (p *NoOpProgress) Start(total int64, description string) {}
func (p *NoOpProgress) Update(current int64)                  {}
func (p *NoOpProgress) Finish()                               {}
func (p *NoOpProgress) Error(err error)                       {}

// NoOp is a Sink whose reporters discard everything.
type NoOp struct{}

// NewReporter implements Sink.
func (NoOp) NewReporter(Kind) Reporter { return NewNoOpProgress() }

// ProgressReader wraps an io.Reader to report progress.
type ProgressReader struct {
	reader   io.Reader
	reporter Reporter
	current  int64
}

// NewProgressReader creates a new progress-reporting reader.
func NewProgressReader(reader io.Reader, reporter Reporter) *ProgressReader {
	return &ProgressReader{
		reader:   reader,
		reporter: reporter,
	}
}

// Read implements io.Reader interface with progress reporting.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	pr.reporter.Update(pr.current)
	return n, err
}

// ProgressWriter wraps an io.Writer to report progress.
type ProgressWriter struct {
	writer   io.Writer
	reporter Reporter
	current  int64
}

// NewProgressWriter creates a new progress-reporting writer.
func NewProgressWriter(writer io.Writer, reporter Reporter) *ProgressWriter {
	return &ProgressWriter{writer: writer, reporter: reporter}
}

// Write implements io.Writer interface with progress reporting.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.current += int64(n)
	pw.reporter.Update(pw.current)
	return n, err
}

// Written returns the number of bytes written so far.
func (pw *ProgressWriter) Written() int64 {
	return pw.current
}
