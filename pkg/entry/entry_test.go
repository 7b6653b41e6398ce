package entry

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func validNew() New {
	return New{Type: TypeText, Payload: json.RawMessage(`{"text":"hello"}`)}
}

func TestValidateRules(t *testing.T) {
	tags21 := make([]string, 21)
	for i := range tags21 {
		tags21[i] = string(rune('a' + i))
	}

	tests := []struct {
		name   string
		modify func(*New)
		rule   string
	}{
		{"unknown type", func(n *New) { n.Type = "invalid_type" }, RuleType},
		{"empty type", func(n *New) { n.Type = "" }, RuleType},
		{"21 tags", func(n *New) { n.Tags = tags21 }, RuleTagsCount},
		{"long tag", func(n *New) { n.Tags = []string{strings.Repeat("x", 51)} }, RuleTagsLength},
		{"empty tag", func(n *New) { n.Tags = []string{"ok", "  "} }, RuleTagsEmpty},
		{"long source", func(n *New) { n.Source = strings.Repeat("s", 51) }, RuleSourceLength},
		{"long device id", func(n *New) { n.DeviceID = strings.Repeat("d", 101) }, RuleDeviceIDLength},
		{"confidence above 1", func(n *New) { n.Meta = Meta{"confidence": 1.5} }, RuleMetaConfidence},
		{"confidence negative", func(n *New) { n.Meta = Meta{"confidence": -0.1} }, RuleMetaConfidence},
		{"confidence string", func(n *New) { n.Meta = Meta{"confidence": "high"} }, RuleMetaConfidence},
		{"confidence NaN", func(n *New) { n.Meta = Meta{"confidence": math.NaN()} }, RuleMetaConfidence},
		{"confidence infinite", func(n *New) { n.Meta = Meta{"confidence": math.Inf(1)} }, RuleMetaConfidence},
		{"meta NaN value", func(n *New) { n.Meta = Meta{"score": math.NaN()} }, RuleMetaJSON},
		{"meta unencodable value", func(n *New) { n.Meta = Meta{"ch": make(chan int)} }, RuleMetaJSON},
		{"visibility unknown", func(n *New) { n.Meta = Meta{"visibility": "everyone"} }, RuleMetaVisibility},
		{"visibility number", func(n *New) { n.Meta = Meta{"visibility": 1} }, RuleMetaVisibility},
		{"sensitivity unknown", func(n *New) { n.Meta = Meta{"sensitivity": "extreme"} }, RuleMetaSensitivity},
		{"missing payload", func(n *New) { n.Payload = nil }, RulePayloadRequired},
		{"null payload", func(n *New) { n.Payload = json.RawMessage(" null ") }, RulePayloadRequired},
		{"invalid payload", func(n *New) { n.Payload = json.RawMessage(`{"text":`) }, RulePayloadJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := validNew()
			tt.modify(&n)
			_, err := Validate(n)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want %v", err, ErrValidation)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error is %T, want *ValidationError", err)
			}
			if ve.Rule != tt.rule {
				t.Errorf("Rule = %q, want %q", ve.Rule, tt.rule)
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*New)
	}{
		{"minimal", func(n *New) {}},
		{"every type", func(n *New) { n.Type = TypeMediaRef }},
		{"20 tags", func(n *New) {
			for i := 0; i < MaxTagCount; i++ {
				n.Tags = append(n.Tags, strings.Repeat("t", i+1))
			}
		}},
		{"50 rune tag", func(n *New) { n.Tags = []string{strings.Repeat("é", 50)} }},
		{"limits", func(n *New) {
			n.Source = strings.Repeat("s", MaxSourceLength)
			n.DeviceID = strings.Repeat("d", MaxDeviceIDLength)
		}},
		{"meta bounds", func(n *New) {
			n.Meta = Meta{"confidence": 0, "visibility": "friends", "sensitivity": "high", "mood": "ok"}
		}},
		{"meta json number", func(n *New) { n.Meta = Meta{"confidence": json.Number("1")} }},
		{"empty object payload", func(n *New) { n.Payload = json.RawMessage(`{}`) }},
		{"scalar payload", func(n *New) { n.Payload = json.RawMessage(`"just text"`) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := validNew()
			tt.modify(&n)
			if _, err := Validate(n); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestValidateNormalizesTags(t *testing.T) {
	n := validNew()
	// "e" + combining acute accent normalizes to the precomposed "é".
	n.Tags = []string{" work ", "cafe\u0301", "work", "caf\u00e9"}

	got, err := Validate(n)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	want := []string{"work", "caf\u00e9"}
	if len(got.Tags) != len(want) {
		t.Fatalf("Tags = %q, want %q", got.Tags, want)
	}
	for i := range want {
		if got.Tags[i] != want[i] {
			t.Errorf("Tags[%d] = %q, want %q", i, got.Tags[i], want[i])
		}
	}
}

func TestFilterNormalize(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		wantFrom string
		wantTo   string
		rule     string
	}{
		{
			name:     "rfc3339 with offset",
			filter:   Filter{Time: TimeRange{From: "2024-03-01T10:00:00+02:00"}},
			wantFrom: "2024-03-01T08:00:00.000000000Z",
		},
		{
			name:     "date only",
			filter:   Filter{Time: TimeRange{From: "2024-03-01", To: "2024-03-01"}},
			wantFrom: "2024-03-01T00:00:00.000000000Z",
			wantTo:   "2024-03-01T23:59:59.999999999Z",
		},
		{
			name:   "nanoseconds kept",
			filter: Filter{Time: TimeRange{To: "2024-03-01T00:00:00.5Z"}},
			wantTo: "2024-03-01T00:00:00.500000000Z",
		},
		{name: "bad from", filter: Filter{Time: TimeRange{From: "yesterday"}}, rule: RuleTimeFrom},
		{name: "bad to", filter: Filter{Time: TimeRange{To: "03/01/2024"}}, rule: RuleTimeTo},
		{name: "bad type", filter: Filter{Type: "note"}, rule: RuleType},
		{name: "empty tag", filter: Filter{Tags: []string{""}}, rule: RuleTagsEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.filter.Normalize()
			if tt.rule != "" {
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.Rule != tt.rule {
					t.Fatalf("Normalize() error = %v, want rule %q", err, tt.rule)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got.Time.From != tt.wantFrom {
				t.Errorf("From = %q, want %q", got.Time.From, tt.wantFrom)
			}
			if got.Time.To != tt.wantTo {
				t.Errorf("To = %q, want %q", got.Time.To, tt.wantTo)
			}
		})
	}
}

func TestPaginationValidate(t *testing.T) {
	if err := (Pagination{Limit: 10, Offset: 5}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := (Pagination{Offset: 5}).Validate(); err != nil {
		t.Errorf("Validate() offset only error = %v", err)
	}
	if err := (Pagination{Limit: -1}).Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("Validate() negative limit error = %v", err)
	}
	if err := (Pagination{Offset: -1}).Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("Validate() negative offset error = %v", err)
	}
}

func TestFormatTimeSortsLexicographically(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := FormatTime(base)
	b := FormatTime(base.Add(time.Nanosecond))
	c := FormatTime(base.Add(time.Second))
	if !(a < b && b < c) {
		t.Errorf("timestamps do not sort: %q %q %q", a, b, c)
	}
	if len(a) != len(c) {
		t.Errorf("timestamps are not fixed width: %q %q", a, c)
	}

	parsed, err := ParseTime(b)
	if err != nil || !parsed.Equal(base.Add(time.Nanosecond)) {
		t.Errorf("ParseTime(%q) = %v, %v", b, parsed, err)
	}
}

func TestTypesAndSensitivity(t *testing.T) {
	for _, typ := range Types() {
		if !typ.Valid() {
			t.Errorf("%q.Valid() = false", typ)
		}
	}
	if Type("note").Valid() {
		t.Error(`"note".Valid() = true`)
	}
	if SensitivityRank("low") >= SensitivityRank("medium") || SensitivityRank("medium") >= SensitivityRank("high") {
		t.Error("sensitivity ranks are not ordered")
	}
	if got := (Meta{"sensitivity": "high"}).Sensitivity(); got != "high" {
		t.Errorf("Sensitivity() = %q", got)
	}
}
