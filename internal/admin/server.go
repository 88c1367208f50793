// Package admin exposes the management surface of the moderation daemon: a
// JSON HTTP API for health, direct checks, statistics, cache and word-list
// management, the Prometheus endpoint, and a WebSocket activity feed that
// streams completed decisions to ops dashboards.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kidsafe/guardian/internal/cache"
	"github.com/kidsafe/guardian/internal/engine"
	"github.com/kidsafe/guardian/internal/metrics"
	"github.com/kidsafe/guardian/internal/moderation"
	"github.com/kidsafe/guardian/internal/ratelimit"
	"github.com/kidsafe/guardian/internal/rules"
	"github.com/kidsafe/guardian/internal/stats"
)

// Config holds tunable parameters for the admin HTTP server.
type Config struct {
	ListenAddr string         // address to listen on, e.g. ":8083"
	CheckRule  ratelimit.Rule // per-user budget for the direct check endpoint
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8083",
		CheckRule:  ratelimit.RuleCheck,
	}
}

// Server is the management HTTP server. It fronts the same engine the NATS
// worker uses, so direct checks go through the full pipeline and show up in
// stats, metrics, and the activity feed like any other request.
type Server struct {
	config  Config
	engine  *engine.Engine
	rules   *rules.Checker
	cache   *cache.Cache
	stats   *stats.Collector
	limiter *ratelimit.Limiter // nil disables rate limiting on /v1/check
	feed    *Feed

	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates a Server over the shared pipeline collaborators. A nil
// limiter disables rate limiting on the direct check endpoint.
func NewServer(config Config, eng *engine.Engine, checker *rules.Checker, decisions *cache.Cache, collector *stats.Collector, limiter *ratelimit.Limiter, feed *Feed) *Server {
	if config.CheckRule.Limit <= 0 {
		config.CheckRule = ratelimit.RuleCheck
	}
	return &Server{
		config:  config,
		engine:  eng,
		rules:   checker,
		cache:   decisions,
		stats:   collector,
		limiter: limiter,
		feed:    feed,
	}
}

// Start begins serving the management API. It blocks until the server stops.
func (s *Server) Start() error {
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.routes(),
	}

	log.Printf("[admin] listening on %s", s.config.ListenAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin: http server error: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and disconnects all feed subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /v1/check", s.handleCheck)

	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/stats/recent", s.handleStatsRecent)
	mux.HandleFunc("POST /v1/stats/reset", s.handleStatsReset)

	mux.HandleFunc("GET /v1/cache", s.handleCache)
	mux.HandleFunc("POST /v1/cache/clear", s.handleCacheClear)

	mux.HandleFunc("GET /v1/blacklist", s.handleBlacklist)
	mux.HandleFunc("POST /v1/blacklist", s.handleBlacklistAdd)
	mux.HandleFunc("DELETE /v1/blacklist/{word}", s.handleBlacklistRemove)

	mux.HandleFunc("GET /v1/whitelist", s.handleWhitelist)
	mux.HandleFunc("POST /v1/whitelist", s.handleWhitelistAdd)
	mux.HandleFunc("DELETE /v1/whitelist/{word}", s.handleWhitelistRemove)

	mux.HandleFunc("GET /v1/activity", s.handleActivity)

	return mux
}

// handleHealth responds with the daemon's health as JSON: the stats-derived
// classification plus uptime and volume counters. Used by load balancer
// health checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()

	resp := struct {
		Status      string `json:"status"`
		Uptime      string `json:"uptime"`
		Checks      int64  `json:"checks"`
		Subscribers int    `json:"subscribers"`
	}{
		Status:      s.stats.Health(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Checks:      snap.TotalChecks,
		Subscribers: s.feed.Count(),
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCheck runs one moderation check through the pipeline and returns the
// wire response. Checks are rate limited per user, falling back to the
// client address when the request carries no user ID.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req moderation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), s.limitKey(&req, r), s.config.CheckRule)
		if err != nil {
			log.Printf("[admin] rate limit check failed: %v", err)
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	resp, err := s.engine.Check(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.feed.PublishDecision(&req, resp)
	writeJSON(w, http.StatusOK, resp)
}

// limitKey picks the rate-limit identity for a direct check: the user ID
// when present, the remote host otherwise.
func (s *Server) limitKey(req *moderation.Request, r *http.Request) string {
	if req.UserID != "" {
		return req.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// handleStatsRecent returns the most recent decisions, oldest first. The n
// query parameter bounds the count and defaults to 50.
func (s *Server) handleStatsRecent(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}

	entries := s.stats.Recent(n)
	writeJSON(w, http.StatusOK, struct {
		Count   int           `json:"count"`
		Entries []stats.Entry `json:"entries"`
	}{
		Count:   len(entries),
		Entries: entries,
	})
}

func (s *Server) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	s.stats.Reset()
	log.Printf("[admin] stats reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Counters())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	cleared := s.cache.Clear()
	log.Printf("[admin] cache cleared (%d entries)", cleared)
	writeJSON(w, http.StatusOK, struct {
		Cleared int `json:"cleared"`
	}{Cleared: cleared})
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	writeWordList(w, s.rules.Blacklist())
}

func (s *Server) handleBlacklistAdd(w http.ResponseWriter, r *http.Request) {
	word, ok := decodeWord(w, r)
	if !ok {
		return
	}
	s.rules.AddBlacklist(word)
	log.Printf("[admin] blacklist add %q", word)
	writeJSON(w, http.StatusOK, map[string]string{"added": word})
}

func (s *Server) handleBlacklistRemove(w http.ResponseWriter, r *http.Request) {
	word := r.PathValue("word")
	s.rules.RemoveBlacklist(word)
	log.Printf("[admin] blacklist remove %q", word)
	writeJSON(w, http.StatusOK, map[string]string{"removed": word})
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	writeWordList(w, s.rules.Whitelist())
}

func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	word, ok := decodeWord(w, r)
	if !ok {
		return
	}
	s.rules.AddWhitelist(word)
	log.Printf("[admin] whitelist add %q", word)
	writeJSON(w, http.StatusOK, map[string]string{"added": word})
}

func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	word := r.PathValue("word")
	s.rules.RemoveWhitelist(word)
	log.Printf("[admin] whitelist remove %q", word)
	writeJSON(w, http.StatusOK, map[string]string{"removed": word})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	s.feed.Subscribe(w, r)
}

// decodeWord reads a {"word": ...} body and writes the error response itself
// when the body is malformed or empty.
func decodeWord(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		Word string `json:"word"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if body.Word == "" {
		writeError(w, http.StatusBadRequest, "word is required")
		return "", false
	}
	return body.Word, true
}

func writeWordList(w http.ResponseWriter, words []string) {
	writeJSON(w, http.StatusOK, struct {
		Words []string `json:"words"`
		Count int      `json:"count"`
	}{
		Words: words,
		Count: len(words),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
