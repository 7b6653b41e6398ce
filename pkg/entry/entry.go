// Package entry defines the entry model, its validation rules and the
// query filter types.
package entry

import (
	"encoding/json"
	"time"
)

// SchemaVersion is written into every new entry and bound into its AAD.
const SchemaVersion = 1

// TimeLayout is RFC 3339 with fixed-width nanoseconds. Timestamps are always
// stored in UTC with this layout so that string order equals time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Type is the kind of an entry.
type Type string

const (
	TypeText     Type = "text"
	TypeMarkdown Type = "markdown"
	TypeMetrics  Type = "metrics"
	TypeMediaRef Type = "media_ref"
	TypeEvent    Type = "event"
	TypeLog      Type = "log"
)

// Types lists every valid entry type.
func Types() []Type {
	return []Type{TypeText, TypeMarkdown, TypeMetrics, TypeMediaRef, TypeEvent, TypeLog}
}

// Valid reports whether t is a known entry type.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeMarkdown, TypeMetrics, TypeMediaRef, TypeEvent, TypeLog:
		return true
	}
	return false
}

// Meta keys with validation rules. Other keys are kept as given.
const (
	MetaConfidence  = "confidence"
	MetaVisibility  = "visibility"
	MetaSensitivity = "sensitivity"
)

// Meta is free-form entry metadata.
type Meta map[string]any

// Sensitivity returns the sensitivity level, or "" if unset.
func (m Meta) Sensitivity() string {
	s, _ := m[MetaSensitivity].(string)
	return s
}

// SensitivityRank orders sensitivity levels: low=1, medium=2, high=3.
// Unknown or empty levels rank 0.
func SensitivityRank(level string) int {
	switch level {
	case "low":
		return 1
	case "medium":
		return 2
	case "high":
		return 3
	}
	return 0
}

// New is the caller-supplied part of an entry. The store assigns the id and
// timestamps.
type New struct {
	Type     Type            `json:"type"`
	Tags     []string        `json:"tags,omitempty"`
	Source   string          `json:"source,omitempty"`
	DeviceID string          `json:"device_id,omitempty"`
	Meta     Meta            `json:"meta,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Entry is a stored entry with its payload decrypted.
type Entry struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	SchemaVersion int             `json:"schema_version"`
	Tags          []string        `json:"tags,omitempty"`
	Source        string          `json:"source,omitempty"`
	DeviceID      string          `json:"device_id,omitempty"`
	Meta          Meta            `json:"meta,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// FormatTime renders t in UTC with TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
