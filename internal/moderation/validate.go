package moderation

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Request normalization bounds. Content longer than MaxContentLength is
// rejected as age-inappropriate rather than failing the call; an age outside
// [MinAge, MaxAge] is clamped to DefaultAge.
const (
	MaxContentLength = 10000
	MinAge           = 1
	MaxAge           = 18
	DefaultAge       = 10
	DefaultLanguage  = "en"
)

// ErrNilRequest is returned when there is no request to validate. It is the
// only validation failure: every other malformed input coerces to a verdict.
var ErrNilRequest = errors.New("moderation: nil request")

// Rule names attached to validator verdicts, kept stable for audit records.
const (
	RuleEmptyContent   = "empty_content"
	RuleContentTooLong = "content_too_long"
)

// Validate normalizes req in place and decides whether the pipeline can stop
// early. It returns a non-nil verdict for the two inputs that resolve without
// any checking: empty or whitespace-only content is trivially safe, and
// oversized content is blocked as age-inappropriate. A nil verdict means the
// request is normalized and the pipeline should run in full.
func Validate(req *Request) (*Result, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	if req.Age < MinAge || req.Age > MaxAge {
		req.Age = DefaultAge
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = DefaultLanguage
	}

	if strings.TrimSpace(req.Content) == "" {
		v := SafeResult("validator: empty content")
		v.Rules = []string{RuleEmptyContent}
		return &v, nil
	}

	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return &Result{
			Safe:       false,
			Severity:   SeverityMedium,
			Categories: []Category{CategoryAgeInappropriate},
			Confidence: map[Category]float64{CategoryAgeInappropriate: 1.0},
			Rules:      []string{RuleContentTooLong},
			Notes:      []string{"validator: content exceeds maximum length"},
		}, nil
	}

	return nil, nil
}
