package entry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Limits on entry fields. Lengths count runes after NFC normalization.
const (
	MaxTagCount       = 20
	MaxTagLength      = 50
	MaxSourceLength   = 50
	MaxDeviceIDLength = 100
)

// Validation rule names carried by ValidationError.
const (
	RuleType            = "type"
	RuleTagsCount       = "tags.count"
	RuleTagsLength      = "tags.length"
	RuleTagsEmpty       = "tags.empty"
	RuleSourceLength    = "source.length"
	RuleDeviceIDLength  = "device_id.length"
	RuleMetaConfidence  = "meta.confidence"
	RuleMetaVisibility  = "meta.visibility"
	RuleMetaSensitivity = "meta.sensitivity"
	RuleMetaJSON        = "meta.json"
	RulePayloadRequired = "payload.required"
	RulePayloadJSON     = "payload.json"
	RulePaginationLimit = "pagination.limit"
	RulePaginationOff   = "pagination.offset"
	RuleTimeFrom        = "time.from"
	RuleTimeTo          = "time.to"
)

// ErrValidation is wrapped by every ValidationError.
var ErrValidation = errors.New("entry: validation failed")

// ValidationError names the rule an input violated.
type ValidationError struct {
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %s", ErrValidation, e.Rule)
	}
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Rule, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

var (
	visibilities  = map[string]bool{"public": true, "private": true, "friends": true}
	sensitivities = map[string]bool{"low": true, "medium": true, "high": true}
)

// Validate checks n and returns it with tags normalized: NFC, surrounding
// whitespace trimmed, duplicates removed in first-seen order.
func Validate(n New) (New, error) {
	if !n.Type.Valid() {
		return New{}, invalid(RuleType, "unknown entry type %q", n.Type)
	}

	tags, err := NormalizeTags(n.Tags)
	if err != nil {
		return New{}, err
	}
	n.Tags = tags

	if l := utf8.RuneCountInString(n.Source); l > MaxSourceLength {
		return New{}, invalid(RuleSourceLength, "source is %d characters, max %d", l, MaxSourceLength)
	}
	if l := utf8.RuneCountInString(n.DeviceID); l > MaxDeviceIDLength {
		return New{}, invalid(RuleDeviceIDLength, "device_id is %d characters, max %d", l, MaxDeviceIDLength)
	}

	if err := validateMeta(n.Meta); err != nil {
		return New{}, err
	}

	payload := bytes.TrimSpace(n.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return New{}, invalid(RulePayloadRequired, "payload is required")
	}
	if !json.Valid(payload) {
		return New{}, invalid(RulePayloadJSON, "payload is not valid JSON")
	}
	n.Payload = payload

	return n, nil
}

// NormalizeTags applies the tag rules shared by entries and filters.
func NormalizeTags(tags []string) ([]string, error) {
	if len(tags) > MaxTagCount {
		return nil, invalid(RuleTagsCount, "%d tags, max %d", len(tags), MaxTagCount)
	}
	if len(tags) == 0 {
		return nil, nil
	}

	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		t := norm.NFC.String(strings.TrimSpace(tag))
		if t == "" {
			return nil, invalid(RuleTagsEmpty, "empty tag")
		}
		if l := utf8.RuneCountInString(t); l > MaxTagLength {
			return nil, invalid(RuleTagsLength, "tag %q is %d characters, max %d", t, l, MaxTagLength)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

func validateMeta(m Meta) error {
	if v, ok := m[MetaConfidence]; ok {
		c, isNum := toFloat(v)
		if !isNum {
			return invalid(RuleMetaConfidence, "confidence must be a number")
		}
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 || c > 1 {
			return invalid(RuleMetaConfidence, "confidence %v out of range [0,1]", c)
		}
	}
	if v, ok := m[MetaVisibility]; ok {
		s, isStr := v.(string)
		if !isStr || !visibilities[s] {
			return invalid(RuleMetaVisibility, "visibility must be one of public, private, friends")
		}
	}
	if v, ok := m[MetaSensitivity]; ok {
		s, isStr := v.(string)
		if !isStr || !sensitivities[s] {
			return invalid(RuleMetaSensitivity, "sensitivity must be one of low, medium, high")
		}
	}
	if len(m) > 0 {
		if _, err := json.Marshal(m); err != nil {
			return invalid(RuleMetaJSON, "meta cannot be encoded as JSON: %v", err)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
