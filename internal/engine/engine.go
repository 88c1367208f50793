// Package engine sequences one moderation check through the pipeline:
// validation, cache lookup, local rules, provider fan-out, merge, and
// response composition. A table-driven state machine governs the stage
// order, and concurrent identical requests collapse to one computation.
package engine

import (
	"context"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kidsafe/guardian/internal/cache"
	"github.com/kidsafe/guardian/internal/metrics"
	"github.com/kidsafe/guardian/internal/moderation"
	"github.com/kidsafe/guardian/internal/provider"
	"github.com/kidsafe/guardian/internal/rules"
	"github.com/kidsafe/guardian/internal/stats"
	"golang.org/x/sync/singleflight"
)

// fallbackNote annotates responses produced by the panic recovery path.
// Internal faults resolve to an allowed response rather than blocking the
// user; documented fail-open policy.
const fallbackNote = "processing error, content allowed"

// Engine owns one pipeline's collaborators. Construct once at startup and
// share across all inbound checks.
type Engine struct {
	rules     *rules.Checker
	cache     *cache.Cache
	providers *provider.Aggregator
	stats     *stats.Collector
	group     singleflight.Group
}

// New wires an Engine from its stages.
func New(checker *rules.Checker, c *cache.Cache, agg *provider.Aggregator, collector *stats.Collector) *Engine {
	return &Engine{
		rules:     checker,
		cache:     c,
		providers: agg,
		stats:     collector,
	}
}

// decision is the shared outcome of one fingerprint's computation.
// localConclusive records whether the verdict was settled before the
// provider stage, so every collapsed caller can walk the same machine path.
type decision struct {
	result          moderation.Result
	localConclusive bool
}

// Check runs one request through the pipeline and returns the wire
// response. The error is non-nil only for input the validator cannot
// coerce; everything else resolves to a response, including internal
// panics, which recover into the fail-open fallback.
func (e *Engine) Check(ctx context.Context, req *moderation.Request) (resp *moderation.Response, err error) {
	start := time.Now()
	m := NewMachine()

	metrics.ActiveChecks.Inc()
	defer metrics.ActiveChecks.Dec()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[engine] pipeline panic recovered: %v", r)
			e.stats.RecordFailure()
			metrics.ChecksTotal.WithLabelValues("failed").Inc()
			resp = e.fallback(start)
			err = nil
		}
	}()

	must(m.Fire(EventBegin))

	verdict, verr := moderation.Validate(req)
	if verr != nil {
		must(m.Fire(EventRejected))
		e.stats.RecordFailure()
		metrics.ChecksTotal.WithLabelValues("rejected").Inc()
		return nil, verr
	}
	must(m.Fire(EventValidated))

	fp := cache.Fingerprint(req.Content, req.Age, req.Language)
	if cached, ok := e.cache.Get(fp); ok {
		must(m.Fire(EventCacheHit))
		metrics.CacheHits.Inc()
		e.observe(cached, time.Since(start))
		e.record(req, cached, time.Since(start))
		return e.respond(cached, start, true), nil
	}
	metrics.CacheMisses.Inc()
	must(m.Fire(EventCacheMiss))

	v, _, _ := e.group.Do(fp, func() (interface{}, error) {
		d := e.decide(ctx, req, verdict)
		e.cache.Set(fp, d.result)
		return d, nil
	})
	d := v.(decision)

	// Replay the path the shared computation took, so collapsed callers'
	// machines stay in step with the leader's.
	if d.localConclusive {
		must(m.Fire(EventLocalVerdict))
	} else {
		must(m.Fire(EventLocalClean))
		must(m.Fire(EventProvidersDone))
		must(m.Fire(EventMerged))
	}

	resp = e.respond(d.result, start, false)
	must(m.Fire(EventComposed))

	e.observe(d.result, time.Since(start))
	e.record(req, d.result, time.Since(start))
	return resp, nil
}

// decide computes a fresh verdict for one fingerprint. The validator's
// short verdict, when present, settles the local stage without consulting
// the rule checker.
func (e *Engine) decide(ctx context.Context, req *moderation.Request, verdict *moderation.Result) decision {
	if verdict != nil {
		return decision{result: *verdict, localConclusive: true}
	}

	local := e.rules.Check(req)
	if !local.Safe {
		return decision{result: local, localConclusive: true}
	}

	partials := e.providers.Check(ctx, req)
	return decision{result: moderation.Merge(append(partials, local)...)}
}

// respond builds the wire response for a final result.
func (e *Engine) respond(result moderation.Result, start time.Time, hit bool) *moderation.Response {
	reason, alternative := moderation.Compose(result)

	cats := result.Categories
	if cats == nil {
		cats = []moderation.Category{}
	}

	return &moderation.Response{
		RequestID:           uuid.NewString(),
		Allowed:             result.Safe,
		Severity:            result.Severity,
		Categories:          cats,
		Confidence:          result.OverallConfidence(),
		Reason:              reason,
		AlternativeResponse: alternative,
		Rules:               result.Rules,
		ProcessingTimeMS:    time.Since(start).Milliseconds(),
		Timestamp:           time.Now().UTC(),
		CacheHit:            hit,
	}
}

// fallback is the overall-safe response returned when the pipeline itself
// faults. Confidence stays zero because no decision was actually made.
func (e *Engine) fallback(start time.Time) *moderation.Response {
	return &moderation.Response{
		RequestID:        uuid.NewString(),
		Allowed:          true,
		Severity:         moderation.SeveritySafe,
		Categories:       []moderation.Category{},
		Note:             fallbackNote,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}
}

func (e *Engine) record(req *moderation.Request, result moderation.Result, latency time.Duration) {
	e.stats.Record(stats.Entry{
		Timestamp:     time.Now(),
		UserID:        req.UserID,
		ContentLength: utf8.RuneCountInString(req.Content),
		Safe:          result.Safe,
		Severity:      result.Severity,
		Categories:    result.Categories,
		Confidence:    result.OverallConfidence(),
		Latency:       latency,
	})
}

func (e *Engine) observe(result moderation.Result, latency time.Duration) {
	metrics.CheckDuration.Observe(latency.Seconds())
	if result.Safe {
		metrics.ChecksTotal.WithLabelValues("allowed").Inc()
		return
	}
	metrics.ChecksTotal.WithLabelValues("blocked").Inc()
	for _, cat := range result.Categories {
		metrics.BlockedTotal.WithLabelValues(string(cat)).Inc()
	}
}

// must panics on a transition the table does not allow. The recover at the
// Check boundary converts that into the fallback response.
func must(err error) {
	if err != nil {
		panic(err)
	}
}
