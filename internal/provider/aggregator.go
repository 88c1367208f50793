package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kidsafe/guardian/internal/metrics"
	"github.com/kidsafe/guardian/internal/moderation"
)

// retryBackoff is the pause before the single retry of a transient failure.
const retryBackoff = 100 * time.Millisecond

// AggregatorConfig bounds the provider fan-out.
type AggregatorConfig struct {
	// CallTimeout caps one provider call including its retry.
	CallTimeout time.Duration
	// OverallTimeout caps the whole fan-out for one request.
	OverallTimeout time.Duration
	// MaxInFlight bounds provider calls across all requests, protecting
	// external quotas from traffic spikes.
	MaxInFlight int64
}

// DefaultAggregatorConfig returns the standard fan-out bounds.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		CallTimeout:    3 * time.Second,
		OverallTimeout: 5 * time.Second,
		MaxInFlight:    32,
	}
}

// Aggregator invokes every available provider concurrently and collects
// their partial results. It never returns an error: a provider that is
// unavailable, times out, errors, or panics contributes a safe fail-open
// result with a note instead.
type Aggregator struct {
	cfg       AggregatorConfig
	providers []Provider
	sem       *semaphore.Weighted
}

// NewAggregator creates an Aggregator over the given providers.
// Non-positive config fields fall back to defaults.
func NewAggregator(cfg AggregatorConfig, providers ...Provider) *Aggregator {
	def := DefaultAggregatorConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = def.OverallTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	return &Aggregator{
		cfg:       cfg,
		providers: providers,
		sem:       semaphore.NewWeighted(cfg.MaxInFlight),
	}
}

// Providers returns the names of the currently available providers.
func (a *Aggregator) Providers() []string {
	var names []string
	for _, p := range a.providers {
		if p.Available() {
			names = append(names, p.Name())
		}
	}
	return names
}

// Check fans out to every available provider and returns one partial result
// per provider. The slice is empty when no provider is configured.
func (a *Aggregator) Check(ctx context.Context, req *moderation.Request) []moderation.Result {
	var active []Provider
	for _, p := range a.providers {
		if p.Available() {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.OverallTimeout)
	defer cancel()

	results := make([]moderation.Result, len(active))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range active {
		g.Go(func() error {
			results[i] = a.checkOne(gctx, p, req)
			return nil
		})
	}
	// Goroutines convert every failure to a fail-open result, so Wait
	// cannot return an error.
	_ = g.Wait()

	return results
}

// checkOne runs a single provider call under the in-flight bound, with one
// retry on transient failures and a per-call timeout. Every failure path
// converts to a safe result.
func (a *Aggregator) checkOne(ctx context.Context, p Provider, req *moderation.Request) (res moderation.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[provider] %s panicked: %v", p.Name(), r)
			metrics.ProviderCalls.WithLabelValues(p.Name(), "panic").Inc()
			res = failOpen(p.Name(), fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := a.sem.Acquire(ctx, 1); err != nil {
		metrics.ProviderCalls.WithLabelValues(p.Name(), "rejected").Inc()
		return failOpen(p.Name(), "in-flight limit: "+err.Error())
	}
	defer a.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	var result moderation.Result
	err := retry.Do(callCtx, retry.WithMaxRetries(1, retry.NewConstant(retryBackoff)), func(ctx context.Context) error {
		r, cerr := p.Check(ctx, req)
		if cerr != nil {
			return markRetryable(cerr)
		}
		result = r
		return nil
	})
	metrics.ProviderDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Printf("[provider] %s failed open: %v", p.Name(), err)
		metrics.ProviderCalls.WithLabelValues(p.Name(), "error").Inc()
		return failOpen(p.Name(), err.Error())
	}

	metrics.ProviderCalls.WithLabelValues(p.Name(), "ok").Inc()
	return canonicalize(result)
}

// markRetryable wraps transient failures so retry.Do tries once more.
// Uninterpretable responses and context expiry are permanent.
func markRetryable(err error) error {
	if errors.Is(err, ErrBadResponse) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return retry.RetryableError(err)
}
