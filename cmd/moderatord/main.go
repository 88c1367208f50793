package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	"unicode/utf8"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/kidsafe/guardian/internal/admin"
	"github.com/kidsafe/guardian/internal/audit"
	"github.com/kidsafe/guardian/internal/cache"
	"github.com/kidsafe/guardian/internal/engine"
	"github.com/kidsafe/guardian/internal/messaging"
	"github.com/kidsafe/guardian/internal/moderation"
	"github.com/kidsafe/guardian/internal/provider"
	"github.com/kidsafe/guardian/internal/ratelimit"
	"github.com/kidsafe/guardian/internal/rules"
	"github.com/kidsafe/guardian/internal/stats"
	"github.com/kidsafe/guardian/internal/tracker"
)

func main() {
	log.Println("Starting guardian moderation daemon...")

	raiseFileLimit()

	// --- Configuration ---
	adminConfig := admin.DefaultConfig()
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		adminConfig.ListenAddr = v
	}
	if v := os.Getenv("RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			adminConfig.CheckRule = ratelimit.CheckRule(n)
		}
	}

	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}

	cacheConfig := cache.DefaultConfig()
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cacheConfig.TTL = d
		}
	}
	if v := os.Getenv("CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cacheConfig.MaxEntries = n
		}
	}

	aggConfig := provider.DefaultAggregatorConfig()
	if v := os.Getenv("PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			aggConfig.CallTimeout = d
		}
	}
	if v := os.Getenv("CHECK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			aggConfig.OverallTimeout = d
		}
	}
	if v := os.Getenv("PROVIDER_MAX_INFLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			aggConfig.MaxInFlight = int64(n)
		}
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Audit store (optional) ---
	var (
		db         *sql.DB
		auditStore *audit.Store
	)
	auditDSN := os.Getenv("AUDIT_DB_DSN")
	if auditDSN != "" {
		db, err = sql.Open("postgres", auditDSN)
		if err != nil {
			log.Fatalf("failed to open audit database: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(ctx); err != nil {
			cancel()
			log.Fatalf("failed to connect to audit database: %v", err)
		}
		cancel()
		if err := audit.RunMigrations(db); err != nil {
			log.Fatalf("failed to run audit migrations: %v", err)
		}
		auditStore = audit.NewStore(db)
	} else {
		log.Printf("[moderatord] audit log disabled (AUDIT_DB_DSN not set)")
	}

	// --- External providers ---
	// A provider with no endpoint or key configured reports unavailable and
	// is skipped by the aggregator.
	providers := []provider.Provider{
		provider.NewScoreAPI(os.Getenv("SCORE_API_URL"), os.Getenv("SCORE_API_KEY")),
		provider.NewBandAPI(os.Getenv("BAND_API_URL"), os.Getenv("BAND_API_KEY")),
		provider.NewSentimentAPI(os.Getenv("SENTIMENT_API_URL"), os.Getenv("SENTIMENT_API_KEY")),
	}
	agg := provider.NewAggregator(aggConfig, providers...)

	// --- Pipeline ---
	checker := rules.NewChecker()
	decisions := cache.New(cacheConfig)
	collector := stats.NewCollector()
	eng := engine.New(checker, decisions, agg, collector)

	trk := tracker.New(rdb)
	limiter := ratelimit.NewLimiter(rdb)
	feed := admin.NewFeed()

	adminServer := admin.NewServer(adminConfig, eng, checker, decisions, collector, limiter, feed)

	// --- NATS check worker ---
	err = natsClient.SubscribeChecks(func(data []byte) {
		var req moderation.Request
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[moderatord] failed to unmarshal check request: %v", err)
			return
		}

		resp, err := eng.Check(context.Background(), &req)
		if err != nil {
			log.Printf("[moderatord] check failed: %v", err)
			return
		}

		if req.SessionID != "" {
			respData, err := json.Marshal(resp)
			if err != nil {
				log.Printf("[moderatord] failed to marshal result: %v", err)
			} else if err := natsClient.PublishResult(req.SessionID, respData); err != nil {
				log.Printf("[moderatord] failed to publish result: %v", err)
			}
		}

		feed.PublishDecision(&req, resp)

		if !resp.Allowed {
			log.Printf("[moderatord] BLOCKED user=%s session=%s severity=%s categories=%v",
				req.UserID, req.SessionID, resp.Severity, resp.Categories)

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			alert, err := trk.RecordViolation(ctx, req.UserID, resp.Severity, resp.Categories)
			cancel()
			if err != nil {
				log.Printf("[moderatord] violation tracking failed: %v", err)
			} else if alert != nil {
				alertData, err := json.Marshal(alert)
				if err != nil {
					log.Printf("[moderatord] failed to marshal alert: %v", err)
				} else if err := natsClient.PublishAlert(req.UserID, alertData); err != nil {
					log.Printf("[moderatord] failed to publish alert: %v", err)
				} else {
					log.Printf("[moderatord] ALERT user=%s reason=%s hour_count=%d",
						alert.UserID, alert.Reason, alert.HourCount)
				}
			}
		}

		if auditStore != nil {
			go func(req moderation.Request, resp *moderation.Response) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				err := auditStore.Record(ctx, &audit.Decision{
					RequestID:     resp.RequestID,
					UserID:        req.UserID,
					SessionID:     req.SessionID,
					Fingerprint:   cache.Fingerprint(req.Content, req.Age, req.Language),
					ContentLength: utf8.RuneCountInString(req.Content),
					Allowed:       resp.Allowed,
					Severity:      resp.Severity,
					Categories:    resp.Categories,
					Confidence:    resp.Confidence,
					Rules:         resp.Rules,
					CacheHit:      resp.CacheHit,
					ProcessingMS:  resp.ProcessingTimeMS,
				})
				if err != nil {
					log.Printf("[moderatord] audit write failed: %v", err)
				}
			}(req, resp)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to check requests: %v", err)
	}

	// --- Admin HTTP server ---
	go func() {
		if err := adminServer.Start(); err != nil {
			log.Fatalf("admin server error: %v", err)
		}
	}()

	available := agg.Providers()
	log.Printf("Guardian moderation daemon running")
	log.Printf("  listen_addr:    %s", adminConfig.ListenAddr)
	log.Printf("  nats_url:       %s", natsConfig.URL)
	log.Printf("  redis_addr:     %s", redisAddr)
	log.Printf("  audit_log:      %v", auditStore != nil)
	log.Printf("  cache:          ttl=%s max_entries=%d", cacheConfig.TTL, cacheConfig.MaxEntries)
	log.Printf("  providers:      %d available %v", len(available), available)
	log.Printf("  provider_calls: timeout=%s overall=%s max_inflight=%d",
		aggConfig.CallTimeout, aggConfig.OverallTimeout, aggConfig.MaxInFlight)
	log.Printf("  rate_limit:     %d/min", adminConfig.CheckRule.Limit)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := adminServer.Shutdown(ctx); err != nil {
		log.Printf("admin shutdown error: %v", err)
	}
	cancel()

	rdb.Close()
	if db != nil {
		db.Close()
	}
}
