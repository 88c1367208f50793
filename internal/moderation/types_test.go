package moderation

import (
	"encoding/json"
	"testing"
)

func TestSeverityOrdering(t *testing.T) {
	ordered := []Severity{SeveritySafe, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

	for i := 1; i < len(ordered); i++ {
		if !(ordered[i-1] < ordered[i]) {
			t.Errorf("expected %s < %s by ordinal rank", ordered[i-1], ordered[i])
		}
	}

	// The labels must never be what gets compared: "critical" < "low"
	// lexically, but CRITICAL outranks LOW.
	if SeverityCritical < SeverityLow {
		t.Error("SeverityCritical ranked below SeverityLow")
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		label   string
		want    Severity
		wantErr bool
	}{
		{"safe", SeveritySafe, false},
		{"low", SeverityLow, false},
		{"medium", SeverityMedium, false},
		{"high", SeverityHigh, false},
		{"critical", SeverityCritical, false},
		{"HIGH", 0, true},
		{"", 0, true},
		{"extreme", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := ParseSeverity(tt.label)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSeverity(%q) error = %v, wantErr %v", tt.label, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSeverity(%q) = %v, want %v", tt.label, got, tt.want)
			}
		})
	}
}

func TestSeverityJSONRoundTrip(t *testing.T) {
	for _, s := range []Severity{SeveritySafe, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var back Severity
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != s {
			t.Errorf("round trip %v -> %s -> %v", s, data, back)
		}
	}

	var s Severity
	if err := json.Unmarshal([]byte(`"loud"`), &s); err == nil {
		t.Error("expected error unmarshaling unknown severity label")
	}
}

func TestValidCategory(t *testing.T) {
	for _, c := range []Category{
		CategoryProfanity, CategoryViolence, CategoryAdultContent,
		CategoryPersonalInfo, CategoryScaryContent, CategoryAgeInappropriate,
		CategoryHarmfulContent, CategoryCyberbullying, CategoryHateSpeech,
		CategorySexual,
	} {
		if !ValidCategory(c) {
			t.Errorf("ValidCategory(%q) = false, want true", c)
		}
	}

	if ValidCategory("spam") {
		t.Error(`ValidCategory("spam") = true, want false`)
	}
}

func TestOverallConfidence(t *testing.T) {
	safe := SafeResult("test")
	if got := safe.OverallConfidence(); got != 1.0 {
		t.Errorf("safe OverallConfidence = %v, want 1.0", got)
	}

	unsafe := Result{
		Safe:     false,
		Severity: SeverityHigh,
		Categories: []Category{
			CategoryProfanity, CategoryViolence,
		},
		Confidence: map[Category]float64{
			CategoryProfanity: 0.9,
			CategoryViolence:  0.75,
		},
	}
	if got := unsafe.OverallConfidence(); got != 0.9 {
		t.Errorf("unsafe OverallConfidence = %v, want 0.9", got)
	}
}
