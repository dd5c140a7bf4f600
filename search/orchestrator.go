package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/use-agent/casefinder/cache"
	"github.com/use-agent/casefinder/extractor"
	"github.com/use-agent/casefinder/metrics"
	"github.com/use-agent/casefinder/models"
	"github.com/use-agent/casefinder/resilience"
)

// Navigator fetches the rendered result page for a plate.
type Navigator interface {
	Search(ctx context.Context, plate, driverHint string) (*models.RenderedPage, error)
}

// Options configures an Orchestrator.
type Options struct {
	Policy         resilience.RetryPolicy
	OverallTimeout time.Duration // default: 120s
	Cache          *cache.Cache  // nil disables caching
	Sink           metrics.Sink  // nil discards
}

// Cache lookup results reported in Outcome.CacheStatus.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Outcome is the result of Run plus how it was produced.
type Outcome struct {
	Result *models.MatchResult
	// CacheStatus is CacheHit, CacheMiss, or empty when caching is disabled.
	CacheStatus string
	Attempts    int
}

// Orchestrator composes breaker, retry policy, navigator and extractor into
// one search. It is safe for concurrent use; the breaker is the only state
// shared between calls.
type Orchestrator struct {
	nav       Navigator
	extractor *extractor.Extractor
	breaker   *resilience.Breaker
	policy    resilience.RetryPolicy
	timeout   time.Duration
	cache     *cache.Cache
	sink      metrics.Sink

	lastSuccess atomic.Int64 // unix nanos, 0 = never
}

// New creates an Orchestrator.
func New(nav Navigator, ex *extractor.Extractor, breaker *resilience.Breaker, opts Options) *Orchestrator {
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 120 * time.Second
	}
	if opts.Policy.MaxAttempts < 1 {
		opts.Policy = resilience.NewRetryPolicy(3, time.Second, 30*time.Second)
	}
	if opts.Sink == nil {
		opts.Sink = metrics.Discard
	}
	return &Orchestrator{
		nav:       nav,
		extractor: ex,
		breaker:   breaker,
		policy:    opts.Policy,
		timeout:   opts.OverallTimeout,
		cache:     opts.Cache,
		sink:      opts.Sink,
	}
}

// Execute runs one search and returns the caller-facing result.
func (o *Orchestrator) Execute(ctx context.Context, req models.SearchRequest) (*models.MatchResult, error) {
	out, err := o.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

// attemptContext is the retry record of one call.
type attemptContext struct {
	number   int
	waited   time.Duration
	lastKind models.ErrorKind
}

// Run is Execute with cache and attempt details.
//
// Steps (numbered to match the inline comments):
//
//  1. Normalize   – INVALID_INPUT before anything else is touched
//  2. Cache       – fresh cached results skip the target entirely
//  3. Admission   – the breaker grants a permit or the call fails fast
//  4. Navigate    – retried per the policy under the overall deadline
//  5. Settle      – report exactly once to the permit
//  6. Extract     – parse the page and match the driver
func (o *Orchestrator) Run(ctx context.Context, req models.SearchRequest) (*Outcome, error) {
	start := time.Now()
	ctx, id := metrics.EnsureCorrelationID(ctx)
	rec := metrics.NewRecorder(o.sink).With(metrics.LabelCorrelationID, id)
	log := slog.With(metrics.LabelCorrelationID, id)

	// ── 1. Normalize ──────────────────────────────────────────────────
	norm, err := req.Normalize()
	if err != nil {
		o.finish(rec, start, "invalid_input")
		return nil, err
	}
	log = log.With("plate", norm.Plate)

	// ── 2. Cache ──────────────────────────────────────────────────────
	var key string
	if o.cache != nil {
		key = cache.Key(norm)
		if res, ok := o.cache.Get(key); ok {
			rec.Count(metrics.EventCacheLookup, "result", "hit")
			o.finish(rec, start, "cache_hit")
			return &Outcome{Result: res, CacheStatus: CacheHit}, nil
		}
		rec.Count(metrics.EventCacheLookup, "result", "miss")
	}

	// ── 3. Admission ──────────────────────────────────────────────────
	permit, err := o.breaker.Allow(ctx)
	if err != nil {
		rec.Count(metrics.EventCircuitDecision, "decision", "rejected", "trial", "false")
		log.Warn("search rejected by circuit breaker", "error", err)
		o.finish(rec, start, "circuit_open")
		return nil, models.NewSearchError(models.ErrCodeServiceUnavailable, models.KindCircuitOpen,
			"target temporarily unavailable", err)
	}
	rec.Count(metrics.EventCircuitDecision, "decision", "allowed", "trial", strconv.FormatBool(permit.Probe()))
	if permit.Probe() {
		log.Info("admitted as half-open trial call")
	}

	// ── 4. Navigate ───────────────────────────────────────────────────
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	attempt := &attemptContext{}
	page, navErr := o.navigate(callCtx, rec, log, norm, attempt)

	// ── 5. Settle ─────────────────────────────────────────────────────
	if navErr != nil {
		switch {
		case ctx.Err() != nil:
			permit.Release()
			log.Info("search abandoned by caller", "attempts", attempt.number)
			o.finish(rec, start, "canceled")
			return nil, models.NewSearchError(models.ErrCodeTimeout, models.KindTimeout, "request canceled", ctx.Err())

		case callCtx.Err() != nil:
			permit.Failure()
			log.Warn("search exceeded overall deadline", "attempts", attempt.number, "timeout", o.timeout)
			o.finish(rec, start, "timeout")
			return nil, models.NewSearchError(models.ErrCodeTimeout, models.KindTimeout,
				fmt.Sprintf("search exceeded %s", o.timeout), navErr)

		case attempt.lastKind == models.KindNotFound:
			permit.Success()
			o.markSuccess()
			log.Info("no case report for plate")
			o.finish(rec, start, "not_found")
			return nil, models.NewSearchError(models.ErrCodeSearchFailed, models.KindNotFound,
				"no case report found for plate", navErr)

		default:
			permit.Failure()
			log.Warn("search failed", "attempts", attempt.number, "kind", attempt.lastKind, "error", navErr)
			o.finish(rec, start, "failed")
			return nil, models.NewSearchError(models.ErrCodeSearchFailed, attempt.lastKind,
				fmt.Sprintf("search failed after %d attempt(s)", attempt.number), navErr)
		}
	}
	permit.Success()
	o.markSuccess()

	// ── 6. Extract ────────────────────────────────────────────────────
	record, err := o.extractor.ParseWith(rec, page)
	if err != nil {
		log.Warn("result page could not be parsed", "url", page.URL, "error", err)
		o.finish(rec, start, "extraction_failed")
		return nil, models.NewSearchError(models.ErrCodeSearchFailed, models.KindNoParseableContent,
			"result page could not be parsed", err)
	}

	result := extractor.BuildResult(record, norm)
	cacheStatus := ""
	if o.cache != nil {
		o.cache.Set(key, result)
		cacheStatus = CacheMiss
	}

	log.Info("search completed",
		"report", result.ReportNumber,
		"match_tier", result.MatchTier,
		"attempts", attempt.number,
		"waited", attempt.waited,
	)
	o.finish(rec, start, "success")
	return &Outcome{Result: result, CacheStatus: cacheStatus, Attempts: attempt.number}, nil
}

// navigate calls the navigator until it succeeds, the policy says stop, or
// ctx is done.
func (o *Orchestrator) navigate(ctx context.Context, rec metrics.Recorder, log *slog.Logger,
	req models.SearchRequest, attempt *attemptContext) (*models.RenderedPage, error) {
	for attempt.number = 1; ; attempt.number++ {
		n := strconv.Itoa(attempt.number)

		page, err := o.nav.Search(metrics.WithAttempt(ctx, attempt.number), req.Plate, req.DriverName)
		if err == nil {
			rec.Count(metrics.EventSearchAttempt, "outcome", "ok", "attempt", n)
			return page, nil
		}

		attempt.lastKind = models.KindOf(err)
		rec.Count(metrics.EventSearchAttempt, "outcome", strings.ToLower(string(attempt.lastKind)), "attempt", n)
		if ctx.Err() != nil {
			return nil, err
		}

		decision := o.policy.Decide(attempt.number, attempt.lastKind)
		if !decision.Retry {
			return nil, err
		}

		rec.Count(metrics.EventSearchRetry, "kind", string(attempt.lastKind), "attempt", n)
		log.Warn("search attempt failed, retrying",
			"attempt", attempt.number,
			"kind", attempt.lastKind,
			"delay", decision.Delay,
			"error", err,
		)
		if waitErr := wait(ctx, decision.Delay); waitErr != nil {
			return nil, errors.Join(err, waitErr)
		}
		attempt.waited += decision.Delay
	}
}

func (o *Orchestrator) finish(rec metrics.Recorder, start time.Time, outcome string) {
	rec.Count(metrics.EventSearchOutcome, "outcome", outcome)
	rec.Observe(metrics.EventSearchDuration, time.Since(start).Seconds(), "outcome", outcome)
}

func (o *Orchestrator) markSuccess() {
	o.lastSuccess.Store(time.Now().UnixNano())
}

// LastSuccess returns when the target last answered a search, or nil.
func (o *Orchestrator) LastSuccess() *time.Time {
	ns := o.lastSuccess.Load()
	if ns == 0 {
		return nil
	}
	t := time.Unix(0, ns)
	return &t
}

// Circuit returns the breaker state for the health surface.
func (o *Orchestrator) Circuit() models.CircuitStats {
	snap := o.breaker.Snapshot()
	return models.CircuitStats{
		State:               snap.State.String(),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		LastTransition:      snap.LastTransition,
	}
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
