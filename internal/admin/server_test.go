package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/kidsafe/guardian/internal/cache"
	"github.com/kidsafe/guardian/internal/engine"
	"github.com/kidsafe/guardian/internal/moderation"
	"github.com/kidsafe/guardian/internal/provider"
	"github.com/kidsafe/guardian/internal/rules"
	"github.com/kidsafe/guardian/internal/stats"
)

// newTestServer builds a Server over a local-only pipeline (no providers, no
// rate limiter) and an httptest server on its routes.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	agg := provider.NewAggregator(provider.AggregatorConfig{
		CallTimeout:    500 * time.Millisecond,
		OverallTimeout: time.Second,
		MaxInFlight:    8,
	})
	checker := rules.NewChecker()
	decisions := cache.New(cache.Config{TTL: time.Minute, MaxEntries: 100})
	collector := stats.NewCollector()
	eng := engine.New(checker, decisions, agg, collector)

	s := NewServer(DefaultConfig(), eng, checker, decisions, collector, nil, NewFeed())
	s.startedAt = time.Now()

	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("build %s %s: %v", method, url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status      string `json:"status"`
		Uptime      string `json:"uptime"`
		Checks      int64  `json:"checks"`
		Subscribers int    `json:"subscribers"`
	}
	decodeBody(t, resp, &body)

	if body.Status != stats.HealthHealthy {
		t.Errorf("status = %q, want %q", body.Status, stats.HealthHealthy)
	}
	if body.Checks != 0 {
		t.Errorf("checks = %d, want 0", body.Checks)
	}
	if body.Subscribers != 0 {
		t.Errorf("subscribers = %d, want 0", body.Subscribers)
	}
}

func TestCheckEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/check", moderation.Request{
		Content: "hello teddy, want to play a game?",
		UserID:  "user-1",
		Age:     8,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out moderation.Response
	decodeBody(t, resp, &out)

	if !out.Allowed {
		t.Fatalf("friendly content blocked: %+v", out)
	}
	if out.RequestID == "" {
		t.Error("response missing request id")
	}
	if out.Severity != moderation.SeveritySafe {
		t.Errorf("severity = %v, want safe", out.Severity)
	}
}

func TestCheckEndpointRejectsMalformedBody(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/check", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST /v1/check: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCheckEndpointMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/check")
	if err != nil {
		t.Fatalf("GET /v1/check: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestBlacklistManagement(t *testing.T) {
	_, ts := newTestServer(t)

	// A word not on the default list passes.
	resp := postJSON(t, ts.URL+"/v1/check", moderation.Request{Content: "the zorblax is friendly", Age: 8})
	var first moderation.Response
	decodeBody(t, resp, &first)
	if !first.Allowed {
		t.Fatalf("unlisted word blocked: %+v", first)
	}

	resp = postJSON(t, ts.URL+"/v1/blacklist", map[string]string{"word": "zorblax"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("blacklist add status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	var list struct {
		Words []string `json:"words"`
		Count int      `json:"count"`
	}
	decodeBody(t, doRequest(t, http.MethodGet, ts.URL+"/v1/blacklist"), &list)
	found := false
	for _, w := range list.Words {
		if w == "zorblax" {
			found = true
		}
	}
	if !found {
		t.Fatalf("added word missing from list of %d words", list.Count)
	}

	// The earlier clean verdict is cached; clear it so the new rule applies.
	resp = postJSON(t, ts.URL+"/v1/cache/clear", nil)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/check", moderation.Request{Content: "the zorblax is friendly", Age: 8})
	var second moderation.Response
	decodeBody(t, resp, &second)
	if second.Allowed {
		t.Fatalf("blacklisted word allowed: %+v", second)
	}
	if !hasCategory(second.Categories, moderation.CategoryProfanity) {
		t.Errorf("categories = %v, want profanity", second.Categories)
	}

	resp = doRequest(t, http.MethodDelete, ts.URL+"/v1/blacklist/zorblax")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("blacklist delete status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/cache/clear", nil)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/check", moderation.Request{Content: "the zorblax is friendly", Age: 8})
	var third moderation.Response
	decodeBody(t, resp, &third)
	if !third.Allowed {
		t.Fatalf("word still blocked after removal: %+v", third)
	}
}

func TestWhitelistOverridesBlacklist(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/blacklist", map[string]string{"word": "grapefruit"})
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/v1/whitelist", map[string]string{"word": "grapefruit"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("whitelist add status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/check", moderation.Request{Content: "grapefruit for breakfast", Age: 8})
	var out moderation.Response
	decodeBody(t, resp, &out)
	if !out.Allowed {
		t.Fatalf("whitelisted word blocked: %+v", out)
	}
}

func TestWordEndpointsRejectEmptyWord(t *testing.T) {
	_, ts := newTestServer(t)

	for _, path := range []string{"/v1/blacklist", "/v1/whitelist"} {
		t.Run(path, func(t *testing.T) {
			resp := postJSON(t, ts.URL+path, map[string]string{"word": ""})
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestCacheEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	req := moderation.Request{Content: "tell me a story about dragons", Age: 9}
	for i := 0; i < 2; i++ {
		resp := postJSON(t, ts.URL+"/v1/check", req)
		resp.Body.Close()
	}

	var counters cache.Counters
	decodeBody(t, doRequest(t, http.MethodGet, ts.URL+"/v1/cache"), &counters)
	if counters.Hits != 1 {
		t.Errorf("hits = %d, want 1", counters.Hits)
	}
	if counters.Misses != 1 {
		t.Errorf("misses = %d, want 1", counters.Misses)
	}
	if counters.Entries != 1 {
		t.Errorf("entries = %d, want 1", counters.Entries)
	}

	var cleared struct {
		Cleared int `json:"cleared"`
	}
	resp := postJSON(t, ts.URL+"/v1/cache/clear", nil)
	decodeBody(t, resp, &cleared)
	if cleared.Cleared != 1 {
		t.Errorf("cleared = %d, want 1", cleared.Cleared)
	}

	decodeBody(t, doRequest(t, http.MethodGet, ts.URL+"/v1/cache"), &counters)
	if counters.Entries != 0 {
		t.Errorf("entries after clear = %d, want 0", counters.Entries)
	}
}

func TestStatsEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/check", moderation.Request{Content: "good morning", UserID: "user-7", Age: 6})
	resp.Body.Close()

	var snap stats.Snapshot
	decodeBody(t, doRequest(t, http.MethodGet, ts.URL+"/v1/stats"), &snap)
	if snap.TotalChecks != 1 {
		t.Fatalf("total_checks = %d, want 1", snap.TotalChecks)
	}
	if snap.SafeCount != 1 {
		t.Errorf("safe_count = %d, want 1", snap.SafeCount)
	}

	var recent struct {
		Count   int           `json:"count"`
		Entries []stats.Entry `json:"entries"`
	}
	decodeBody(t, doRequest(t, http.MethodGet, ts.URL+"/v1/stats/recent?n=5"), &recent)
	if recent.Count != 1 {
		t.Fatalf("recent count = %d, want 1", recent.Count)
	}
	if recent.Entries[0].UserID != "user-7" {
		t.Errorf("recent entry user = %q, want user-7", recent.Entries[0].UserID)
	}

	badN, err := http.Get(ts.URL + "/v1/stats/recent?n=zero")
	if err != nil {
		t.Fatalf("GET recent: %v", err)
	}
	badN.Body.Close()
	if badN.StatusCode != http.StatusBadRequest {
		t.Errorf("bad n status = %d, want 400", badN.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/v1/stats/reset", nil)
	resp.Body.Close()

	decodeBody(t, doRequest(t, http.MethodGet, ts.URL+"/v1/stats"), &snap)
	if snap.TotalChecks != 0 {
		t.Errorf("total_checks after reset = %d, want 0", snap.TotalChecks)
	}
}

// TestActivityFeed subscribes over WebSocket and asserts a completed check is
// broadcast as a feed event.
func TestActivityFeed(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/activity"
	conn, _, _, err := ws.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer conn.Close()

	// Registration happens just after the handshake; wait for it before
	// publishing so the broadcast cannot race the subscribe.
	deadline := time.Now().Add(2 * time.Second)
	for s.feed.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("feed subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp := postJSON(t, ts.URL+"/v1/check", moderation.Request{
		Content:   "hello there",
		UserID:    "user-22",
		SessionID: "session-9",
		Age:       7,
	})
	resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("read feed event: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.UserID != "user-22" {
		t.Errorf("event user = %q, want user-22", ev.UserID)
	}
	if ev.SessionID != "session-9" {
		t.Errorf("event session = %q, want session-9", ev.SessionID)
	}
	if !ev.Allowed {
		t.Errorf("event allowed = false, want true")
	}
	if ev.RequestID == "" || ev.Timestamp.IsZero() {
		t.Error("event missing request id or timestamp")
	}
}

func TestFeedDropsDeadSubscriber(t *testing.T) {
	s, _ := newTestServer(t)

	srv := httptest.NewServer(http.HandlerFunc(s.feed.Subscribe))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, _, err := ws.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.feed.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("feed subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	// The drain goroutine notices the close and removes the client.
	deadline = time.Now().Add(2 * time.Second)
	for s.feed.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not removed after close, count = %d", s.feed.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Broadcasting to an empty feed is a no-op.
	s.feed.Broadcast([]byte(`{"ping":true}`))
}

func TestFeedPingDropsClosedConnection(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	server, client := net.Pipe()
	f.mu.Lock()
	f.clients["pipe-client"] = &feedClient{id: "pipe-client", conn: server}
	f.mu.Unlock()

	client.Close()
	server.Close()

	f.pingAll()
	if n := f.Count(); n != 0 {
		t.Fatalf("count after ping on closed connection = %d, want 0", n)
	}
}

func hasCategory(cats []moderation.Category, want moderation.Category) bool {
	for _, c := range cats {
		if c == want {
			return true
		}
	}
	return false
}
