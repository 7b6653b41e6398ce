package entry

import (
	"time"
)

// TimeRange bounds created_at, both ends inclusive. Either end may be empty.
type TimeRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Filter selects entries. All set predicates must hold.
type Filter struct {
	Type Type      `json:"type,omitempty"`
	Time TimeRange `json:"time"`
	// Tags lists tags an entry must all carry.
	Tags []string `json:"tags,omitempty"`
}

// Pagination applies after ordering. A zero Limit means no limit.
type Pagination struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Validate rejects negative values.
func (p Pagination) Validate() error {
	if p.Limit < 0 {
		return invalid(RulePaginationLimit, "limit must not be negative")
	}
	if p.Offset < 0 {
		return invalid(RulePaginationOff, "offset must not be negative")
	}
	return nil
}

// Normalize validates f and rewrites its bounds into TimeLayout so they
// compare correctly against stored timestamps. A date-only To covers the
// whole day.
func (f Filter) Normalize() (Filter, error) {
	if f.Type != "" && !f.Type.Valid() {
		return Filter{}, invalid(RuleType, "unknown entry type %q", f.Type)
	}

	tags, err := NormalizeTags(f.Tags)
	if err != nil {
		return Filter{}, err
	}
	f.Tags = tags

	if f.Time.From != "" {
		t, _, err := parseBound(f.Time.From)
		if err != nil {
			return Filter{}, invalid(RuleTimeFrom, "%q is not an RFC 3339 time or date", f.Time.From)
		}
		f.Time.From = FormatTime(t)
	}
	if f.Time.To != "" {
		t, dateOnly, err := parseBound(f.Time.To)
		if err != nil {
			return Filter{}, invalid(RuleTimeTo, "%q is not an RFC 3339 time or date", f.Time.To)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.Time.To = FormatTime(t)
	}
	return f, nil
}

func parseBound(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
