package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warningColor = color.New(color.FgYellow)
)

// success writes a green "✓ " line to w.
func success(w io.Writer, format string, a ...any) {
	successColor.Fprintf(w, "✓ "+format+"\n", a...)
}

// failure writes a red "✗ " line to w.
func failure(w io.Writer, format string, a ...any) {
	errorColor.Fprintf(w, "✗ "+format+"\n", a...)
}

// warnf writes a "warning: " line to stderr.
func warnf(format string, a ...any) {
	warningColor.Fprintf(os.Stderr, "warning: "+format+"\n", a...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
