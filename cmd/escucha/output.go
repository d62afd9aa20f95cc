package main

import (
	"fmt"
	"os"
)

// ANSI escape codes for terminal output. Color is suppressed by the
// --no-color flag or the NO_COLOR environment variable.
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func colorize(color, text string) string {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return text
	}
	return color + text + colorReset
}

// note prints a marker-prefixed line to stderr, keeping stdout clean for
// lesson and quiz content that callers may pipe elsewhere.
func note(color, marker, format string, args ...any) {
	line := marker + " " + fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(color, line))
}

func printSuccess(format string, args ...any) { note(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { note(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { note(colorYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { note(colorCyan, "→", format, args...) }

// printStatus renders one "  Label: value" row, as used by the status
// command for the server and engine lines.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n",
		colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}
