package handler

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/casefinder/models"
	"github.com/use-agent/casefinder/resilience"
	"golang.org/x/sync/singleflight"
)

// Version is reported by the health endpoint. Overridden at build time with
// -ldflags "-X github.com/use-agent/casefinder/api/handler.Version=...".
var Version = "0.1.0"

const (
	probeTimeout = 10 * time.Second
	// probeTTL bounds how often the public endpoint reaches the target.
	probeTTL = 30 * time.Second
)

// StatusSource exposes the pipeline state. *search.Orchestrator implements it.
type StatusSource interface {
	Circuit() models.CircuitStats
	LastSuccess() *time.Time
}

// Prober checks the target without a browser. *probe.Prober implements it.
type Prober interface {
	Check(ctx context.Context) *models.ProbeResult
}

// probeCache shares one target check between all health callers for ttl.
// Concurrent misses collapse into a single Check.
type probeCache struct {
	prober Prober
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu        sync.Mutex
	result    *models.ProbeResult
	checkedAt time.Time
}

func newProbeCache(prober Prober, ttl time.Duration) *probeCache {
	return &probeCache{prober: prober, ttl: ttl, now: time.Now}
}

func (pc *probeCache) check(ctx context.Context) *models.ProbeResult {
	pc.mu.Lock()
	if pc.result != nil && pc.now().Sub(pc.checkedAt) < pc.ttl {
		res := *pc.result
		pc.mu.Unlock()
		res.Cached = true
		return &res
	}
	pc.mu.Unlock()

	v, _, _ := pc.group.Do("check", func() (any, error) {
		// Detached so one caller hanging up does not fail the shared check.
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
		defer cancel()
		res := pc.prober.Check(checkCtx)

		pc.mu.Lock()
		pc.result, pc.checkedAt = res, pc.now()
		pc.mu.Unlock()
		return res, nil
	})
	res := *v.(*models.ProbeResult)
	return &res
}

// Health returns a handler for GET /api/v1/health.
//
// Status follows the circuit: open is unhealthy, half-open is degraded.
// With ?probe=true and a non-nil prober the target is also checked, at most
// once per probeTTL.
func Health(src StatusSource, prober Prober, startTime time.Time) gin.HandlerFunc {
	var probes *probeCache
	if prober != nil {
		probes = newProbeCache(prober, probeTTL)
	}
	return health(src, probes, startTime)
}

func health(src StatusSource, probes *probeCache, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		circuit := src.Circuit()

		status := "healthy"
		switch circuit.State {
		case resilience.StateOpen.String():
			status = "unhealthy"
		case resilience.StateHalfOpen.String():
			status = "degraded"
		}

		resp := models.HealthResponse{
			Status:               status,
			Uptime:               time.Since(startTime).Round(time.Second).String(),
			Version:              Version,
			Circuit:              circuit,
			LastSuccessfulSearch: src.LastSuccess(),
		}

		if wantProbe, _ := strconv.ParseBool(c.Query("probe")); wantProbe && probes != nil {
			resp.Probe = probes.check(c.Request.Context())
			if status == "healthy" && !resp.Probe.Reachable {
				resp.Status = "degraded"
			}
		}

		c.JSON(http.StatusOK, resp)
	}
}
