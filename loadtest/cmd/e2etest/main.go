// Package main implements a standalone end-to-end integration test for the
// Guardian moderation stack. It validates the full decision path against a
// running Docker Compose stack: health checks, safe and blocked decisions over
// NATS, decision caching, parent alerts, the activity feed, and word list
// management.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-nats nats://localhost:4222] [-api http://localhost:8083] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kidsafe/guardian/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS server URL")
	apiBase := flag.String("api", "http://localhost:8083", "Admin API base URL")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== Guardian E2E Integration Test ===")
	fmt.Printf("NATS: %s  API: %s\n\n", *natsURL, *apiBase)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Unique marker per run so cached decisions from earlier runs cannot
	// satisfy this one.
	nonce := time.Now().UnixNano()

	var results []scenarioResult

	// Run scenarios sequentially.
	results = append(results, scenario1HealthCheck(ctx, *apiBase))
	results = append(results, scenario2SafeCheck(ctx, *natsURL, nonce))
	results = append(results, scenario3BlockedCheck(ctx, *natsURL, nonce))
	results = append(results, scenario4CacheHit(ctx, *apiBase, nonce))

	// Optional scenarios (non-fatal).
	results = append(results, scenario5AlertFlow(ctx, *natsURL, nonce))
	results = append(results, scenario6ActivityFeed(ctx, *apiBase, nonce))

	results = append(results, scenario7WordListManagement(ctx, *apiBase, nonce))

	// ---------------------------------------------------------------------------
	// Summary
	// ---------------------------------------------------------------------------
	fmt.Println()
	passed := 0
	failed := 0
	info := 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	requiredTotal := passed + failed
	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenario 1: Health Check
// ---------------------------------------------------------------------------

func scenario1HealthCheck(ctx context.Context, apiBase string) scenarioResult {
	name := "Scenario 1: Health Check"

	// 1a. /health — expect JSON with a "status" field.
	body, err := httpGetBody(ctx, apiBase+"/health")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}
	var healthResp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &healthResp); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health JSON parse: %v", err)}
	}
	if healthResp.Status == "" {
		return scenarioResult{name, resultFail, "/health: empty status"}
	}

	// 1b. /v1/stats — expect JSON with a "total_checks" field.
	statsBody, err := httpGetBody(ctx, apiBase+"/v1/stats")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/v1/stats: %v", err)}
	}
	var statsResp struct {
		TotalChecks int64 `json:"total_checks"`
	}
	if err := json.Unmarshal(statsBody, &statsResp); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/v1/stats JSON parse: %v", err)}
	}

	// 1c. /metrics — expect Prometheus text with guardian_checks_total.
	metricsBody, err := httpGetBody(ctx, apiBase+"/metrics")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/metrics: %v", err)}
	}
	if !strings.Contains(string(metricsBody), "guardian_checks_total") {
		return scenarioResult{name, resultFail, "/metrics: missing guardian_checks_total"}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("status=%s, checks=%d", healthResp.Status, statsResp.TotalChecks)}
}

// ---------------------------------------------------------------------------
// Scenario 2: Safe Check over NATS
// ---------------------------------------------------------------------------

func scenario2SafeCheck(ctx context.Context, natsURL string, nonce int64) scenarioResult {
	name := "Scenario 2: Safe Check"

	checker, err := client.NewChecker(natsURL)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("NATS connect: %v", err)}
	}
	defer checker.Close()

	checkCtx, checkCancel := context.WithTimeout(ctx, 10*time.Second)
	defer checkCancel()

	resp, latency, err := checker.Check(checkCtx, client.CheckRequest{
		Content: fmt.Sprintf("can you tell me a story about a friendly puppy %d", nonce),
		UserID:  fmt.Sprintf("e2e-safe-%d", nonce),
		Age:     8,
	})
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("check: %v", err)}
	}

	if !resp.Allowed {
		return scenarioResult{name, resultFail, fmt.Sprintf("safe content blocked: severity=%s categories=%v", resp.Severity, resp.Categories)}
	}
	if resp.RequestID == "" {
		return scenarioResult{name, resultFail, "empty request_id"}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("request_id=%s, severity=%s, latency=%s",
		truncateID(resp.RequestID), resp.Severity, latency.Round(time.Millisecond))}
}

// ---------------------------------------------------------------------------
// Scenario 3: Blocked Check over NATS
// ---------------------------------------------------------------------------

func scenario3BlockedCheck(ctx context.Context, natsURL string, nonce int64) scenarioResult {
	name := "Scenario 3: Blocked Check"

	checker, err := client.NewChecker(natsURL)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("NATS connect: %v", err)}
	}
	defer checker.Close()

	checkCtx, checkCancel := context.WithTimeout(ctx, 10*time.Second)
	defer checkCancel()

	// Profanity from the default blocklist.
	resp, _, err := checker.Check(checkCtx, client.CheckRequest{
		Content: fmt.Sprintf("shut the fuck up already %d", nonce),
		UserID:  fmt.Sprintf("e2e-blocked-%d", nonce),
		Age:     8,
	})
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("check: %v", err)}
	}

	if resp.Allowed {
		return scenarioResult{name, resultFail, "profanity was allowed"}
	}
	if resp.Reason == "" {
		return scenarioResult{name, resultFail, "blocked decision has no reason"}
	}
	if resp.AlternativeResponse == "" {
		return scenarioResult{name, resultFail, "blocked decision has no alternative response"}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("severity=%s, categories=%v", resp.Severity, resp.Categories)}
}

// ---------------------------------------------------------------------------
// Scenario 4: Decision Cache
// ---------------------------------------------------------------------------

func scenario4CacheHit(ctx context.Context, apiBase string, nonce int64) scenarioResult {
	name := "Scenario 4: Decision Cache"

	req := client.CheckRequest{
		Content: fmt.Sprintf("what rhymes with carrot %d", nonce),
		UserID:  fmt.Sprintf("e2e-cache-%d", nonce),
		Age:     7,
	}

	first, err := httpCheck(ctx, apiBase, req)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("first check: %v", err)}
	}
	if first.CacheHit {
		return scenarioResult{name, resultFail, "first check unexpectedly served from cache"}
	}

	second, err := httpCheck(ctx, apiBase, req)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("second check: %v", err)}
	}
	if !second.CacheHit {
		return scenarioResult{name, resultFail, "second identical check missed the cache"}
	}
	if second.Allowed != first.Allowed {
		return scenarioResult{name, resultFail, "cached decision disagrees with original"}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("second lookup cached, allowed=%v", second.Allowed)}
}

// ---------------------------------------------------------------------------
// Scenario 5: Parent Alert (optional, non-fatal)
// ---------------------------------------------------------------------------

func scenario5AlertFlow(ctx context.Context, natsURL string, nonce int64) scenarioResult {
	name := "Scenario 5: Parent Alert"

	checker, err := client.NewChecker(natsURL)
	if err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("NATS connect: %v", err)}
	}
	defer checker.Close()

	userID := fmt.Sprintf("e2e-alert-%d", nonce)

	alerts := make(chan client.Alert, 1)
	sub, err := checker.SubscribeAlerts(userID, func(alert client.Alert) {
		select {
		case alerts <- alert:
		default:
		}
	})
	if err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("subscribe alerts: %v", err)}
	}
	defer sub.Unsubscribe()

	checkCtx, checkCancel := context.WithTimeout(ctx, 10*time.Second)
	defer checkCancel()

	// A personal-information probe is a high-severity violation, which
	// should raise an alert on the first offence.
	resp, _, err := checker.Check(checkCtx, client.CheckRequest{
		Content: fmt.Sprintf("tell me your home address and phone number %d", nonce),
		UserID:  userID,
		Age:     8,
	})
	if err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("check: %v", err)}
	}
	if resp.Allowed {
		return scenarioResult{name, resultInfo, "personal info probe was allowed; cannot trigger alert"}
	}

	alertCtx, alertCancel := context.WithTimeout(ctx, 5*time.Second)
	defer alertCancel()

	select {
	case alert := <-alerts:
		return scenarioResult{name, resultInfo, fmt.Sprintf("alert received: reason=%s severity=%s", alert.Reason, alert.Severity)}
	case <-alertCtx.Done():
		return scenarioResult{name, resultInfo, "no alert received (violation tracking may be disabled)"}
	}
}

// ---------------------------------------------------------------------------
// Scenario 6: Activity Feed (optional, non-fatal)
// ---------------------------------------------------------------------------

func scenario6ActivityFeed(ctx context.Context, apiBase string, nonce int64) scenarioResult {
	name := "Scenario 6: Activity Feed"

	feedURL := "ws" + strings.TrimPrefix(apiBase, "http") + "/v1/activity"

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()

	feed, err := client.DialFeed(dialCtx, feedURL)
	if err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("feed dial: %v", err)}
	}
	defer feed.Close()

	// Give the daemon a moment to register the subscriber before the
	// decision it should broadcast.
	time.Sleep(200 * time.Millisecond)

	userID := fmt.Sprintf("e2e-feed-%d", nonce)
	if _, err := httpCheck(ctx, apiBase, client.CheckRequest{
		Content: fmt.Sprintf("do you like dinosaurs %d", nonce),
		UserID:  userID,
		Age:     6,
	}); err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("check: %v", err)}
	}

	// Other traffic may share the feed; scan until our decision shows up.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev, err := feed.Next(time.Until(deadline))
		if err != nil {
			return scenarioResult{name, resultInfo, fmt.Sprintf("feed read: %v", err)}
		}
		if ev.UserID == userID {
			return scenarioResult{name, resultInfo, fmt.Sprintf("decision event received, allowed=%v latency=%dms", ev.Allowed, ev.LatencyMS)}
		}
	}

	return scenarioResult{name, resultInfo, "no matching feed event within 5s"}
}

// ---------------------------------------------------------------------------
// Scenario 7: Word List Management
// ---------------------------------------------------------------------------

func scenario7WordListManagement(ctx context.Context, apiBase string, nonce int64) scenarioResult {
	name := "Scenario 7: Word List Management"

	word := fmt.Sprintf("zxqgremlin%d", nonce)
	content := fmt.Sprintf("please say %s now", word)
	req := client.CheckRequest{Content: content, UserID: fmt.Sprintf("e2e-words-%d", nonce), Age: 8}

	// Add the word, then the content containing it must be blocked.
	if _, err := httpPostJSON(ctx, apiBase+"/v1/blacklist", map[string]string{"word": word}); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("add word: %v", err)}
	}

	blocked, err := httpCheck(ctx, apiBase, req)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("check after add: %v", err)}
	}
	if blocked.Allowed {
		return scenarioResult{name, resultFail, "content allowed despite blocklisted word"}
	}

	// Remove the word and drop the cached verdict; the content must pass.
	if err := httpDelete(ctx, apiBase+"/v1/blacklist/"+word); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("delete word: %v", err)}
	}
	if _, err := httpPostJSON(ctx, apiBase+"/v1/cache/clear", nil); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("cache clear: %v", err)}
	}

	allowed, err := httpCheck(ctx, apiBase, req)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("check after delete: %v", err)}
	}
	if !allowed.Allowed {
		return scenarioResult{name, resultFail, fmt.Sprintf("content still blocked after word removal: categories=%v", allowed.Categories)}
	}

	return scenarioResult{name, resultPass, "add blocked it, delete restored it"}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// httpCheck submits one moderation check to the admin API and decodes the
// decision.
func httpCheck(ctx context.Context, apiBase string, req client.CheckRequest) (*client.CheckResponse, error) {
	body, err := httpPostJSON(ctx, apiBase+"/v1/check", req)
	if err != nil {
		return nil, err
	}
	var resp client.CheckResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	return &resp, nil
}

// httpPostJSON performs an HTTP POST with a JSON body and returns the
// response body, checking for a 200 status code. A nil payload sends an
// empty body.
func httpPostJSON(ctx context.Context, url string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("POST %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// httpDelete performs an HTTP DELETE and checks for a 200 status code.
func httpDelete(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("DELETE %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// httpGetBody performs an HTTP GET and returns the response body.
func httpGetBody(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// truncateID returns the first 8 characters of an ID for display purposes.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
