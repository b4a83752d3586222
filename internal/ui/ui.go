// Package ui renders styled terminal output for the command line. Styles
// degrade to plain text when the writer is not a terminal or color is
// turned off.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color modes accepted by --color.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Options configures a UI.
type Options struct {
	Stdout io.Writer // defaults to os.Stdout
	Stderr io.Writer // defaults to os.Stderr
	Color  string    // auto, always, or never; empty means auto
}

// UI writes command output with a small fixed palette.
type UI struct {
	stdout io.Writer
	stderr io.Writer

	accent lipgloss.Style
	pass   lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	dim    lipgloss.Style
}

// New builds a UI for the given writers and color mode. The renderer is
// scoped to the stdout writer, so two UIs with different writers never
// share a color profile.
func New(opts Options) (*UI, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	r := lipgloss.NewRenderer(opts.Stdout)
	switch opts.Color {
	case "", ColorAuto:
		if termenv.EnvNoColor() {
			r.SetColorProfile(termenv.Ascii)
		}
	case ColorAlways:
		r.SetColorProfile(termenv.ANSI256)
	case ColorNever:
		r.SetColorProfile(termenv.Ascii)
	default:
		return nil, fmt.Errorf("invalid color mode %q (want auto, always, or never)", opts.Color)
	}

	return &UI{
		stdout: opts.Stdout,
		stderr: opts.Stderr,
		accent: r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		pass:   r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("11")),
		fail:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		dim:    r.NewStyle().Faint(true),
	}, nil
}

// Accent styles a heading or emphasized value.
func (u *UI) Accent(s string) string { return u.accent.Render(s) }

// Pass styles a success marker.
func (u *UI) Pass(s string) string { return u.pass.Render(s) }

// Warn styles a warning.
func (u *UI) Warn(s string) string { return u.warn.Render(s) }

// Fail styles an error marker.
func (u *UI) Fail(s string) string { return u.fail.Render(s) }

// Dim styles secondary detail.
func (u *UI) Dim(s string) string { return u.dim.Render(s) }

// Printf writes formatted output to stdout.
func (u *UI) Printf(format string, args ...any) {
	fmt.Fprintf(u.stdout, format, args...)
}

// Println writes a line to stdout.
func (u *UI) Println(args ...any) {
	fmt.Fprintln(u.stdout, args...)
}

// Errorf writes formatted output to stderr.
func (u *UI) Errorf(format string, args ...any) {
	fmt.Fprintf(u.stderr, format, args...)
}

// Stdout returns the output writer for callers that stream directly.
func (u *UI) Stdout() io.Writer { return u.stdout }
