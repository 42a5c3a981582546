// Package ui renders user-facing terminal output: progress notices,
// downloaded photo paths and archive summaries.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Printer writes styled messages. Results go to Out and notices go to Err.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	Quiet bool
	Plain bool
}

// NewPrinter returns a Printer bound to stdout and stderr
func NewPrinter(quiet bool) *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr, Quiet: quiet}
}

func (p *Printer) render(style lipgloss.Style, s string) string {
	if p.Plain {
		return s
	}
	return style.Render(s)
}

// Success prints a success notice unless quiet
func (p *Printer) Success(format string, args ...interface{}) {
	if p.Quiet {
		return
	}
	fmt.Fprintln(p.Err, p.render(successStyle, fmt.Sprintf(format, args...)))
}

// Info prints a label/value notice unless quiet
func (p *Printer) Info(label, value string) {
	if p.Quiet {
		return
	}
	fmt.Fprintf(p.Err, "%s: %s\n", p.render(labelStyle, label), p.render(valueStyle, value))
}

// Warning prints a warning. Warnings are shown even in quiet mode.
func (p *Printer) Warning(format string, args ...interface{}) {
	fmt.Fprintln(p.Err, p.render(warningStyle, fmt.Sprintf(format, args...)))
}

// Error prints an error
func (p *Printer) Error(format string, args ...interface{}) {
	fmt.Fprintln(p.Err, p.render(errorStyle, fmt.Sprintf(format, args...)))
}

// Path prints a finalized file path on its own line
func (p *Printer) Path(path string) {
	fmt.Fprintln(p.Out, p.render(pathStyle, path))
}

// Stat is one row of a summary panel
type Stat struct {
	Label string
	Value string
}

// Panel renders a titled box of label/value rows
func (p *Printer) Panel(title string, stats []Stat) {
	width := 0
	for _, s := range stats {
		if len(s.Label) > width {
			width = len(s.Label)
		}
	}

	var rows []string
	for _, s := range stats {
		label := s.Label + strings.Repeat(" ", width-len(s.Label))
		rows = append(rows, p.render(labelStyle, label)+"  "+p.render(valueStyle, s.Value))
	}

	if p.Plain {
		fmt.Fprintln(p.Out, title)
		for _, r := range rows {
			fmt.Fprintln(p.Out, "  "+r)
		}
		return
	}

	body := lipgloss.JoinVertical(lipgloss.Left, rows...)
	fmt.Fprintln(p.Out, lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		panelStyle.Render(body),
	))
}

// Count formats n with a singular or plural noun, e.g. "1 record", "3 records"
func Count(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
