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

// Sentiment heuristics: a document sentiment below bullyingThreshold reads
// as bullying, and person/contact entities in child speech read as personal
// information disclosure.
const (
	bullyingThreshold = -0.5
	entityConfidence  = 0.8
)

// sentimentEntityTypes are the entity types treated as personal information.
var sentimentEntityTypes = map[string]struct{}{
	"PERSON":       {},
	"PHONE_NUMBER": {},
	"ADDRESS":      {},
}

// SentimentAPI adapts a sentiment/entity analysis service used heuristically:
// it has no native moderation categories, so strongly negative sentiment and
// personal-data entities stand in for bullying and disclosure signals.
type SentimentAPI struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewSentimentAPI creates the adapter. An empty endpoint or key leaves the
// provider unavailable.
func NewSentimentAPI(endpoint, apiKey string) *SentimentAPI {
	return &SentimentAPI{endpoint: endpoint, apiKey: apiKey, client: &http.Client{}}
}

func (s *SentimentAPI) Name() string { return "sentiment" }

func (s *SentimentAPI) Available() bool { return s.endpoint != "" && s.apiKey != "" }

type sentimentRequest struct {
	Document struct {
		Content string `json:"content"`
	} `json:"document"`
}

type sentimentResponse struct {
	DocumentSentiment struct {
		Score float64 `json:"score"`
	} `json:"documentSentiment"`
	Entities []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"entities"`
}

// Check posts the content and applies the heuristics. Any signal maps to a
// MEDIUM verdict; none maps to safe.
func (s *SentimentAPI) Check(ctx context.Context, req *moderation.Request) (moderation.Result, error) {
	var body sentimentRequest
	body.Document.Content = req.Content

	data, err := json.Marshal(body)
	if err != nil {
		return moderation.Result{}, fmt.Errorf("provider: sentiment: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return moderation.Result{}, fmt.Errorf("provider: sentiment: request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return moderation.Result{}, fmt.Errorf("provider: sentiment: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return moderation.Result{}, fmt.Errorf("provider: sentiment: status %d", resp.StatusCode)
	default:
		return moderation.Result{}, fmt.Errorf("%w: sentiment: status %d", ErrBadResponse, resp.StatusCode)
	}

	var parsed sentimentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return moderation.Result{}, fmt.Errorf("%w: sentiment: decode: %v", ErrBadResponse, err)
	}

	conf := make(map[moderation.Category]float64)
	if score := parsed.DocumentSentiment.Score; score < bullyingThreshold {
		conf[moderation.CategoryCyberbullying] = -score
	}
	for _, e := range parsed.Entities {
		if _, ok := sentimentEntityTypes[e.Type]; ok {
			if entityConfidence > conf[moderation.CategoryPersonalInfo] {
				conf[moderation.CategoryPersonalInfo] = entityConfidence
			}
		}
	}
	if len(conf) == 0 {
		return moderation.SafeResult("provider:sentiment"), nil
	}

	cats := make([]moderation.Category, 0, len(conf))
	for c := range conf {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	return moderation.Result{
		Safe:       false,
		Severity:   moderation.SeverityMedium,
		Categories: cats,
		Confidence: conf,
		Rules:      []string{"provider_sentiment"},
		Notes:      []string{"provider:sentiment"},
	}, nil
}
