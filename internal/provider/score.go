package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/kidsafe/guardian/internal/moderation"
)

// scoreCategoryTable maps the score provider's native category names to the
// canonical vocabulary. Unmapped names are ignored.
var scoreCategoryTable = map[string]moderation.Category{
	"sexual":                 moderation.CategorySexual,
	"sexual/minors":          moderation.CategoryAgeInappropriate,
	"hate":                   moderation.CategoryHateSpeech,
	"hate/threatening":       moderation.CategoryHateSpeech,
	"harassment":             moderation.CategoryCyberbullying,
	"harassment/threatening": moderation.CategoryCyberbullying,
	"violence":               moderation.CategoryViolence,
	"violence/graphic":       moderation.CategoryViolence,
	"self-harm":              moderation.CategoryViolence,
}

// scoreSeverity buckets the strongest flagged score into a severity.
// Flagged content is never below LOW, so an unsafe result cannot carry the
// safe severity.
func scoreSeverity(max float64) moderation.Severity {
	switch {
	case max >= 0.95:
		return moderation.SeverityCritical
	case max >= 0.8:
		return moderation.SeverityHigh
	case max >= 0.5:
		return moderation.SeverityMedium
	default:
		return moderation.SeverityLow
	}
}

// ScoreAPI adapts a moderation-score classifier: the provider flags content
// and reports a 0..1 score per native category.
type ScoreAPI struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewScoreAPI creates the adapter. An empty endpoint or key leaves the
// provider unavailable.
func NewScoreAPI(endpoint, apiKey string) *ScoreAPI {
	return &ScoreAPI{endpoint: endpoint, apiKey: apiKey, client: &http.Client{}}
}

func (s *ScoreAPI) Name() string { return "score" }

func (s *ScoreAPI) Available() bool { return s.endpoint != "" && s.apiKey != "" }

type scoreRequest struct {
	Input string `json:"input"`
}

type scoreResponse struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

// Check posts the content and translates the first result to the canonical
// model.
func (s *ScoreAPI) Check(ctx context.Context, req *moderation.Request) (moderation.Result, error) {
	var parsed scoreResponse
	if err := s.post(ctx, scoreRequest{Input: req.Content}, &parsed); err != nil {
		return moderation.Result{}, err
	}
	if len(parsed.Results) == 0 {
		return moderation.Result{}, fmt.Errorf("%w: score: empty results", ErrBadResponse)
	}

	native := parsed.Results[0]
	if !native.Flagged {
		return moderation.SafeResult("provider:score"), nil
	}

	conf := make(map[moderation.Category]float64)
	var maxScore float64
	for name, flagged := range native.Categories {
		if !flagged {
			continue
		}
		canonical, ok := scoreCategoryTable[name]
		if !ok {
			continue
		}
		score := native.CategoryScores[name]
		if score > conf[canonical] {
			conf[canonical] = score
		}
		if score > maxScore {
			maxScore = score
		}
	}
	if len(conf) == 0 {
		// Flagged, but only for categories outside our vocabulary.
		return moderation.SafeResult("provider:score flagged unmapped categories"), nil
	}

	cats := make([]moderation.Category, 0, len(conf))
	for c := range conf {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	return moderation.Result{
		Safe:       false,
		Severity:   scoreSeverity(maxScore),
		Categories: cats,
		Confidence: conf,
		Rules:      []string{"provider_score"},
		Notes:      []string{"provider:score"},
	}, nil
}

func (s *ScoreAPI) post(ctx context.Context, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("provider: score: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("provider: score: request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("provider: score: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return fmt.Errorf("provider: score: status %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: score: status %d", ErrBadResponse, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: score: decode: %v", ErrBadResponse, err)
	}
	return nil
}
