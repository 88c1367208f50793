// Package moderation defines the decision model for the content-safety
// engine: requests, severities, categories, and stage results, plus the
// validation, merge, and response-composition stages that operate on them.
package moderation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity is the ordinal risk level of a decision. Comparisons always use
// the numeric rank; the lowercase label exists only at the JSON boundary.
type Severity int

const (
	SeveritySafe Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityLabels = [...]string{"safe", "low", "medium", "high", "critical"}

// String returns the lowercase wire label for s.
func (s Severity) String() string {
	if s < SeveritySafe || int(s) >= len(severityLabels) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityLabels[s]
}

// ParseSeverity maps a wire label back to its ordinal value.
func ParseSeverity(label string) (Severity, error) {
	for i, l := range severityLabels {
		if l == label {
			return Severity(i), nil
		}
	}
	return SeveritySafe, fmt.Errorf("moderation: unknown severity %q", label)
}

// MarshalJSON renders the lowercase label.
func (s Severity) MarshalJSON() ([]byte, error) {
	if s < SeveritySafe || int(s) >= len(severityLabels) {
		return nil, fmt.Errorf("moderation: severity out of range: %d", int(s))
	}
	return json.Marshal(severityLabels[s])
}

// UnmarshalJSON parses the lowercase label.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return fmt.Errorf("moderation: severity: %w", err)
	}
	parsed, err := ParseSeverity(label)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Category tags why content was flagged. Values are the fixed snake_case
// vocabulary used on the wire.
type Category string

const (
	CategoryProfanity        Category = "profanity"
	CategoryViolence         Category = "violence"
	CategoryAdultContent     Category = "adult_content"
	CategoryPersonalInfo     Category = "personal_info"
	CategoryScaryContent     Category = "scary_content"
	CategoryAgeInappropriate Category = "age_inappropriate"
	CategoryHarmfulContent   Category = "harmful_content"
	CategoryCyberbullying    Category = "cyberbullying"
	CategoryHateSpeech       Category = "hate_speech"
	CategorySexual           Category = "sexual"
)

// categorySet holds every valid category for membership checks.
var categorySet = map[Category]struct{}{
	CategoryProfanity:        {},
	CategoryViolence:         {},
	CategoryAdultContent:     {},
	CategoryPersonalInfo:     {},
	CategoryScaryContent:     {},
	CategoryAgeInappropriate: {},
	CategoryHarmfulContent:   {},
	CategoryCyberbullying:    {},
	CategoryHateSpeech:       {},
	CategorySexual:           {},
}

// ValidCategory reports whether c belongs to the fixed vocabulary.
func ValidCategory(c Category) bool {
	_, ok := categorySet[c]
	return ok
}

// Request carries one utterance and its context through the pipeline.
// It is built once per inbound check and never mutated by the stages;
// Validate normalizes it before the pipeline starts.
type Request struct {
	Content   string   `json:"content"`
	UserID    string   `json:"user_id,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Age       int      `json:"age,omitempty"`
	Language  string   `json:"language,omitempty"`
	Context   []string `json:"context,omitempty"`
}

// Result is one stage's verdict on a request. Stages build new Results and
// never edit one they received; Merge combines them into the final decision.
type Result struct {
	Safe       bool                 `json:"safe"`
	Severity   Severity             `json:"severity"`
	Categories []Category           `json:"categories,omitempty"`
	Confidence map[Category]float64 `json:"confidence,omitempty"`
	Rules      []string             `json:"rules,omitempty"`
	Notes      []string             `json:"notes,omitempty"`
}

// SafeResult returns the canonical safe verdict carrying a provenance note.
func SafeResult(note string) Result {
	r := Result{Safe: true, Severity: SeveritySafe}
	if note != "" {
		r.Notes = []string{note}
	}
	return r
}

// HasCategory reports whether c appears in the result's category set.
func (r Result) HasCategory(c Category) bool {
	for _, rc := range r.Categories {
		if rc == c {
			return true
		}
	}
	return false
}

// OverallConfidence flattens the per-category confidences to the single
// float the check response carries: the maximum observed confidence, or
// 1.0 for a safe result (full confidence that nothing was found).
func (r Result) OverallConfidence() float64 {
	if r.Safe {
		return 1.0
	}
	var max float64
	for _, v := range r.Confidence {
		if v > max {
			max = v
		}
	}
	return max
}

// Response is the wire answer for one check. Reason and AlternativeResponse
// are present only when the content was blocked.
type Response struct {
	RequestID           string     `json:"request_id"`
	Allowed             bool       `json:"allowed"`
	Severity            Severity   `json:"severity"`
	Categories          []Category `json:"categories"`
	Confidence          float64    `json:"confidence"`
	Reason              string     `json:"reason,omitempty"`
	AlternativeResponse string     `json:"alternative_response,omitempty"`
	Rules               []string   `json:"triggered_rules,omitempty"`
	Note                string     `json:"note,omitempty"`
	ProcessingTimeMS    int64      `json:"processing_time_ms"`
	Timestamp           time.Time  `json:"timestamp"`
	CacheHit            bool       `json:"cache_hit"`
}
