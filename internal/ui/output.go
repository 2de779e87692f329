// Package ui prints human-facing progress for the CLI. Structured logs go
// through slog; this package is only for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

const lineLength = 60

// Out is where all ui output goes.
var Out io.Writer = os.Stdout

var (
	bold   = color.New(color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow)
	blue   = color.New(color.FgBlue)
	faint  = color.New(color.Faint)
)

func center(text string, width int) string {
	n := len([]rune(text))
	if n >= width {
		return text
	}
	return strings.Repeat(" ", (width-n)/2) + text
}

// Header prints a boxed section title.
func Header(text string) {
	line := strings.Repeat("=", lineLength)
	fmt.Fprintln(Out)
	cyan.Fprintln(Out, line)
	cyan.Fprintln(Out, center(text, lineLength))
	cyan.Fprintln(Out, line)
}

// Step prints "[n/total] text".
func Step(n, total int, text string) {
	bold.Fprintf(Out, "\n[%d/%d] ", n, total)
	fmt.Fprintln(Out, text)
}

func Success(text string) {
	green.Fprintf(Out, "✓ %s\n", text)
}

func Info(text string) {
	fmt.Fprintf(Out, "  %s\n", text)
}

func Warning(text string) {
	yellow.Fprintf(Out, "⚠ %s\n", text)
}

func Error(text string) {
	red.Fprintf(Out, "✗ %s\n", text)
}

// KeyValue prints an aligned "label: value" line.
func KeyValue(label string, value interface{}) {
	faint.Fprintf(Out, "  %-22s", label+":")
	fmt.Fprintf(Out, " %v\n", value)
}

func BlueText(text string) string {
	return blue.Sprint(text)
}

func YellowText(text string) string {
	return yellow.Sprint(text)
}
