package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/casefinder/cache"
	"github.com/use-agent/casefinder/extractor"
	"github.com/use-agent/casefinder/metrics"
	"github.com/use-agent/casefinder/models"
	"github.com/use-agent/casefinder/resilience"
)

// scriptedNavigator returns results[i] on the i-th call (the last repeats).
type scriptedNavigator struct {
	calls   atomic.Int32
	results []func(ctx context.Context) (*models.RenderedPage, error)
}

func (n *scriptedNavigator) Search(ctx context.Context, plate, driverHint string) (*models.RenderedPage, error) {
	i := int(n.calls.Add(1)) - 1
	if i >= len(n.results) {
		i = len(n.results) - 1
	}
	return n.results[i](ctx)
}

func returnsPage(html string) func(context.Context) (*models.RenderedPage, error) {
	return func(context.Context) (*models.RenderedPage, error) {
		return &models.RenderedPage{URL: "https://siaf.test/result", HTML: html, CapturedAt: time.Now()}, nil
	}
}

func failsWith(kind models.ErrorKind) func(context.Context) (*models.RenderedPage, error) {
	return func(context.Context) (*models.RenderedPage, error) {
		return nil, models.NewTargetError(kind, "scripted failure", nil)
	}
}

func blocksUntilDone(ctx context.Context) (*models.RenderedPage, error) {
	<-ctx.Done()
	return nil, models.NewTargetError(models.KindTimeout, "scripted hang", ctx.Err())
}

type eventLog struct {
	mu     sync.Mutex
	events []metrics.Event
}

func (l *eventLog) Emit(e metrics.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) named(name string) []metrics.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []metrics.Event
	for _, e := range l.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func fixture(t *testing.T) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "extractor", "testdata", "case_report.html"))
	require.NoError(t, err)
	return string(raw)
}

type harness struct {
	orch    *Orchestrator
	nav     *scriptedNavigator
	breaker *resilience.Breaker
	log     *eventLog
}

func newHarness(threshold int, opts Options, results ...func(context.Context) (*models.RenderedPage, error)) *harness {
	log := &eventLog{}
	nav := &scriptedNavigator{results: results}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "siaf",
		FailureThreshold: threshold,
		Cooldown:         time.Minute,
	}, log)
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = resilience.NewRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
	}
	opts.Sink = log
	return &harness{
		orch:    New(nav, extractor.New(log), breaker, opts),
		nav:     nav,
		breaker: breaker,
		log:     log,
	}
}

func request() models.SearchRequest {
	return models.SearchRequest{Plate: "pcj-8619", DriverName: " jose   tuquerez "}
}

func TestExecute_EndToEnd(t *testing.T) {
	h := newHarness(5, Options{}, returnsPage(fixture(t)))

	ctx := metrics.WithCorrelationID(context.Background(), "corr-1")
	res, err := h.orch.Execute(ctx, request())
	require.NoError(t, err)

	assert.True(t, res.SearchSuccessful)
	assert.True(t, res.MatchFound)
	assert.Equal(t, models.TierPartial, res.MatchTier)
	assert.Equal(t, "PCJ8619", res.SearchedPlate)
	assert.Equal(t, "JOSE TUQUEREZ", res.SearchedDriver)
	assert.Equal(t, "100301816010030", res.ReportNumber)
	assert.Equal(t, "IMBABURA - COTACACHI", res.Location)
	assert.Equal(t, "2016-01-27", res.Date)
	assert.Equal(t, "RECEPTACIÓN(3575)", res.Offense)
	assert.Equal(t, []string{"TUQUEREZ JOSE FAUSTO", "SANCHEZ ALDAZ JOSE ANTONIO"}, res.Processed)

	assert.Equal(t, resilience.StateClosed, h.breaker.State())
	assert.NotNil(t, h.orch.LastSuccess())

	outcomes := h.log.named(metrics.EventSearchOutcome)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "success", outcomes[0].Labels["outcome"])
	assert.Equal(t, "corr-1", outcomes[0].Labels[metrics.LabelCorrelationID])
	require.Len(t, h.log.named(metrics.EventSearchDuration), 1)
	for _, e := range h.log.named(metrics.EventExtraction) {
		assert.Equal(t, "corr-1", e.Labels[metrics.LabelCorrelationID])
	}
}

func TestExecute_NameTiers(t *testing.T) {
	tests := []struct {
		driver string
		tier   models.MatchTier
		found  bool
	}{
		{"TUQUEREZ JOSE FAUSTO", models.TierExact, true},
		{"JOSE TUQUEREZ", models.TierPartial, true},
		{"FAUSTO", models.TierContains, true},
		{"MARIA", models.TierNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			h := newHarness(5, Options{}, returnsPage(fixture(t)))
			res, err := h.orch.Execute(context.Background(), models.SearchRequest{Plate: "PCJ8619", DriverName: tt.driver})
			require.NoError(t, err)
			assert.Equal(t, tt.tier, res.MatchTier)
			assert.Equal(t, tt.found, res.MatchFound)
			assert.True(t, res.SearchSuccessful)
		})
	}
}

func TestExecute_GeneratesCorrelationID(t *testing.T) {
	h := newHarness(5, Options{}, returnsPage(fixture(t)))
	_, err := h.orch.Execute(context.Background(), request())
	require.NoError(t, err)

	outcomes := h.log.named(metrics.EventSearchOutcome)
	require.Len(t, outcomes, 1)
	assert.NotEmpty(t, outcomes[0].Labels[metrics.LabelCorrelationID])
}

func TestExecute_InvalidInput(t *testing.T) {
	h := newHarness(1, Options{}, returnsPage(fixture(t)))

	for _, req := range []models.SearchRequest{
		{Plate: "P1", DriverName: "JOSE"},
		{Plate: "PCJ8619", DriverName: "J"},
	} {
		_, err := h.orch.Execute(context.Background(), req)
		assert.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err))
	}
	assert.Zero(t, h.nav.calls.Load())
	assert.Equal(t, resilience.StateClosed, h.breaker.State())
	assert.Zero(t, h.breaker.Snapshot().ConsecutiveFailures)
}

func TestExecute_RetriesTransientFailures(t *testing.T) {
	h := newHarness(5, Options{},
		failsWith(models.KindTimeout),
		failsWith(models.KindConnectionReset),
		returnsPage(fixture(t)),
	)

	out, err := h.orch.Run(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, int32(3), h.nav.calls.Load())
	assert.Len(t, h.log.named(metrics.EventSearchRetry), 2)
	assert.Len(t, h.log.named(metrics.EventSearchAttempt), 3)
	assert.Zero(t, h.breaker.Snapshot().ConsecutiveFailures)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	h := newHarness(5, Options{}, failsWith(models.KindBlocked))

	_, err := h.orch.Execute(context.Background(), request())
	require.Error(t, err)

	assert.Equal(t, models.ErrCodeSearchFailed, models.CodeOf(err))
	assert.Equal(t, models.KindBlocked, models.KindOf(err))
	assert.Equal(t, int32(3), h.nav.calls.Load())
	assert.Equal(t, 1, h.breaker.Snapshot().ConsecutiveFailures)
}

func TestExecute_NeverExceedsMaxAttempts(t *testing.T) {
	for _, max := range []int{1, 2, 5} {
		h := newHarness(100, Options{Policy: resilience.NewRetryPolicy(max, 0, 0)}, failsWith(models.KindNavigation))
		_, err := h.orch.Execute(context.Background(), request())
		require.Error(t, err)
		assert.Equal(t, int32(max), h.nav.calls.Load())
	}
}

func TestExecute_NotFoundIsNotACircuitFailure(t *testing.T) {
	h := newHarness(1, Options{}, failsWith(models.KindNotFound))

	for i := 0; i < 3; i++ {
		_, err := h.orch.Execute(context.Background(), request())
		assert.Equal(t, models.ErrCodeSearchFailed, models.CodeOf(err))
		assert.Equal(t, models.KindNotFound, models.KindOf(err))
	}
	assert.Equal(t, int32(3), h.nav.calls.Load())
	assert.Equal(t, resilience.StateClosed, h.breaker.State())
	assert.NotNil(t, h.orch.LastSuccess())
}

func TestExecute_ExtractionFailureIsNotACircuitFailure(t *testing.T) {
	h := newHarness(1, Options{}, returnsPage(`<html><body><p>NOTICIA DEL DELITO</p></body></html>`))

	_, err := h.orch.Execute(context.Background(), request())
	require.Error(t, err)

	assert.Equal(t, models.ErrCodeSearchFailed, models.CodeOf(err))
	assert.Equal(t, models.KindNoParseableContent, models.KindOf(err))
	assert.Equal(t, int32(1), h.nav.calls.Load())
	assert.Equal(t, resilience.StateClosed, h.breaker.State())
}

func TestExecute_OpenCircuitFailsFast(t *testing.T) {
	h := newHarness(2, Options{Policy: resilience.NewRetryPolicy(1, 0, 0)}, failsWith(models.KindBlocked))

	for i := 0; i < 2; i++ {
		_, err := h.orch.Execute(context.Background(), request())
		assert.Equal(t, models.ErrCodeSearchFailed, models.CodeOf(err))
	}
	require.Equal(t, resilience.StateOpen, h.breaker.State())

	start := time.Now()
	_, err := h.orch.Execute(context.Background(), request())
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	assert.Equal(t, models.ErrCodeServiceUnavailable, models.CodeOf(err))
	assert.Equal(t, models.KindCircuitOpen, models.KindOf(err))
	var open *resilience.CircuitOpenError
	assert.ErrorAs(t, err, &open)
	assert.Equal(t, int32(2), h.nav.calls.Load())
	assert.Len(t, h.log.named(metrics.EventCircuitOpened), 1)
	assert.Len(t, h.log.named(metrics.EventCircuitRejected), 1)
}

func TestExecute_CircuitDecisionsAreCorrelated(t *testing.T) {
	h := newHarness(1, Options{Policy: resilience.NewRetryPolicy(1, 0, 0)}, failsWith(models.KindBlocked))

	_, err := h.orch.Execute(metrics.WithCorrelationID(context.Background(), "req-a"), request())
	require.Error(t, err)
	require.Equal(t, resilience.StateOpen, h.breaker.State())

	_, err = h.orch.Execute(metrics.WithCorrelationID(context.Background(), "req-b"), request())
	assert.Equal(t, models.KindCircuitOpen, models.KindOf(err))

	decisions := h.log.named(metrics.EventCircuitDecision)
	require.Len(t, decisions, 2)
	assert.Equal(t, "req-a", decisions[0].Labels[metrics.LabelCorrelationID])
	assert.Equal(t, "allowed", decisions[0].Labels["decision"])
	assert.Equal(t, "false", decisions[0].Labels["trial"])
	assert.Equal(t, "req-b", decisions[1].Labels[metrics.LabelCorrelationID])
	assert.Equal(t, "rejected", decisions[1].Labels["decision"])

	opened := h.log.named(metrics.EventCircuitOpened)
	require.Len(t, opened, 1)
	assert.Equal(t, "req-a", opened[0].Labels[metrics.LabelCorrelationID])

	rejected := h.log.named(metrics.EventCircuitRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "req-b", rejected[0].Labels[metrics.LabelCorrelationID])
}

func TestExecute_HalfOpenTrialIsLabelled(t *testing.T) {
	log := &eventLog{}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "siaf",
		FailureThreshold: 1,
		Cooldown:         time.Millisecond,
	}, log)
	breaker.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	nav := &scriptedNavigator{results: []func(context.Context) (*models.RenderedPage, error){returnsPage(fixture(t))}}
	orch := New(nav, extractor.New(log), breaker, Options{Sink: log})

	_, err := orch.Execute(metrics.WithCorrelationID(context.Background(), "req-trial"), request())
	require.NoError(t, err)
	assert.Equal(t, resilience.StateClosed, breaker.State())

	decisions := log.named(metrics.EventCircuitDecision)
	require.Len(t, decisions, 1)
	assert.Equal(t, "allowed", decisions[0].Labels["decision"])
	assert.Equal(t, "true", decisions[0].Labels["trial"])
	assert.Equal(t, "req-trial", decisions[0].Labels[metrics.LabelCorrelationID])

	closed := log.named(metrics.EventCircuitClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "req-trial", closed[0].Labels[metrics.LabelCorrelationID])
}

func TestExecute_OverallDeadline(t *testing.T) {
	h := newHarness(5, Options{OverallTimeout: 30 * time.Millisecond}, blocksUntilDone)

	_, err := h.orch.Execute(context.Background(), request())
	require.Error(t, err)

	assert.Equal(t, models.ErrCodeTimeout, models.CodeOf(err))
	assert.Equal(t, models.KindTimeout, models.KindOf(err))
	assert.Equal(t, 1, h.breaker.Snapshot().ConsecutiveFailures)
}

func TestExecute_CallerCancellationReleasesPermit(t *testing.T) {
	h := newHarness(1, Options{}, blocksUntilDone)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := h.orch.Execute(ctx, request())
	require.Error(t, err)

	assert.Equal(t, models.ErrCodeTimeout, models.CodeOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, resilience.StateClosed, h.breaker.State())
	assert.Zero(t, h.breaker.Snapshot().ConsecutiveFailures)
	assert.Equal(t, int32(1), h.nav.calls.Load())
}

func TestExecute_CancelDuringRetryWait(t *testing.T) {
	h := newHarness(5, Options{Policy: resilience.NewRetryPolicy(3, time.Hour, time.Hour)}, failsWith(models.KindTimeout))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.orch.Execute(ctx, request())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.ErrCodeTimeout, models.CodeOf(err))
	assert.LessOrEqual(t, h.nav.calls.Load(), int32(1))
}

func TestRun_ServesFromCache(t *testing.T) {
	c := cache.New(10, time.Minute)
	defer c.Close()
	h := newHarness(5, Options{Cache: c}, returnsPage(fixture(t)))

	first, err := h.orch.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, first.CacheStatus)

	second, err := h.orch.Run(context.Background(), models.SearchRequest{Plate: "PCJ 8619", DriverName: "jose tuquerez"})
	require.NoError(t, err)
	assert.Equal(t, CacheHit, second.CacheStatus)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, int32(1), h.nav.calls.Load())

	lookups := h.log.named(metrics.EventCacheLookup)
	require.Len(t, lookups, 2)
	assert.Equal(t, "miss", lookups[0].Labels["result"])
	assert.Equal(t, "hit", lookups[1].Labels["result"])
}

func TestExecute_ConcurrentCallsShareBreaker(t *testing.T) {
	h := newHarness(100, Options{Policy: resilience.NewRetryPolicy(1, 0, 0)}, failsWith(models.KindBlocked))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Execute(context.Background(), request())
			assert.Error(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, h.breaker.Snapshot().ConsecutiveFailures)
}

func TestCircuit_ReportsSnapshot(t *testing.T) {
	h := newHarness(5, Options{Policy: resilience.NewRetryPolicy(1, 0, 0)}, failsWith(models.KindBlocked))
	_, _ = h.orch.Execute(context.Background(), request())

	stats := h.orch.Circuit()
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, 1, stats.ConsecutiveFailures)
	assert.False(t, stats.LastTransition.IsZero())
	assert.Nil(t, h.orch.LastSuccess())
}

func TestWait_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(wait(ctx, time.Hour), context.Canceled))
	assert.NoError(t, wait(context.Background(), time.Millisecond))
}
