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

// Band thresholds for the 0-6 severity scale: bands at or below
// bandSafeMax are treated as clean, bands up to bandMediumMax map to
// MEDIUM, anything above to HIGH.
const (
	bandSafeMax   = 2
	bandMediumMax = 4
	bandScale     = 6
)

// bandCategoryTable maps the band provider's native category names to the
// canonical vocabulary.
var bandCategoryTable = map[string]moderation.Category{
	"Hate":     moderation.CategoryHateSpeech,
	"SelfHarm": moderation.CategoryViolence,
	"Sexual":   moderation.CategorySexual,
	"Violence": moderation.CategoryViolence,
}

// BandAPI adapts a content-safety classifier that scores each native
// category on an integer severity band from 0 to 6.
type BandAPI struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewBandAPI creates the adapter. An empty endpoint or key leaves the
// provider unavailable.
func NewBandAPI(endpoint, apiKey string) *BandAPI {
	return &BandAPI{endpoint: endpoint, apiKey: apiKey, client: &http.Client{}}
}

func (b *BandAPI) Name() string { return "band" }

func (b *BandAPI) Available() bool { return b.endpoint != "" && b.apiKey != "" }

type bandRequest struct {
	Text string `json:"text"`
}

type bandResponse struct {
	CategoriesAnalysis []struct {
		Category string `json:"category"`
		Severity int    `json:"severity"`
	} `json:"categoriesAnalysis"`
}

// Check posts the content and translates the per-category bands. Content is
// unsafe only when some category scores above bandSafeMax; those categories
// carry confidence band/6.
func (b *BandAPI) Check(ctx context.Context, req *moderation.Request) (moderation.Result, error) {
	data, err := json.Marshal(bandRequest{Text: req.Content})
	if err != nil {
		return moderation.Result{}, fmt.Errorf("provider: band: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(data))
	if err != nil {
		return moderation.Result{}, fmt.Errorf("provider: band: request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return moderation.Result{}, fmt.Errorf("provider: band: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return moderation.Result{}, fmt.Errorf("provider: band: status %d", resp.StatusCode)
	default:
		return moderation.Result{}, fmt.Errorf("%w: band: status %d", ErrBadResponse, resp.StatusCode)
	}

	var parsed bandResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return moderation.Result{}, fmt.Errorf("%w: band: decode: %v", ErrBadResponse, err)
	}

	conf := make(map[moderation.Category]float64)
	maxBand := 0
	for _, ca := range parsed.CategoriesAnalysis {
		if ca.Severity <= bandSafeMax {
			continue
		}
		canonical, ok := bandCategoryTable[ca.Category]
		if !ok {
			continue
		}
		c := float64(ca.Severity) / bandScale
		if c > conf[canonical] {
			conf[canonical] = c
		}
		if ca.Severity > maxBand {
			maxBand = ca.Severity
		}
	}
	if len(conf) == 0 {
		return moderation.SafeResult("provider:band"), nil
	}

	severity := moderation.SeverityHigh
	if maxBand <= bandMediumMax {
		severity = moderation.SeverityMedium
	}

	cats := make([]moderation.Category, 0, len(conf))
	for c := range conf {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	return moderation.Result{
		Safe:       false,
		Severity:   severity,
		Categories: cats,
		Confidence: conf,
		Rules:      []string{"provider_band"},
		Notes:      []string{"provider:band"},
	}, nil
}
