package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
)

// clipboardText returns the text of a {"text": ...} payload, or the payload
// JSON as stored.
func clipboardText(payload json.RawMessage) string {
	var p struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(payload, &p); err == nil && p.Text != nil {
		return *p.Text
	}
	return string(payload)
}

func copyToClipboard(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	return nil
}

// clearClipboardAfter blocks for d, then clears the clipboard unless
// something other than text was copied in the meantime.
func clearClipboardAfter(ctx context.Context, text string, d time.Duration) error {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
	if current, err := clipboard.ReadAll(); err == nil && current == text {
		return clipboard.WriteAll("")
	}
	return nil
}
