package models

import "time"

// MatchTier is the confidence level of a driver-name match.
type MatchTier string

const (
	TierExact    MatchTier = "EXACT"
	TierPartial  MatchTier = "PARTIAL"
	TierContains MatchTier = "CONTAINS"
	TierNone     MatchTier = "NONE"
)

// RenderedPage is what the navigator hands to the extractor.
type RenderedPage struct {
	URL        string
	HTML       string
	Title      string
	StatusCode int
	CapturedAt time.Time
}

// CaseRecord is one crime report extracted from the target.
type CaseRecord struct {
	ReportNumber string   `json:"crime_report_number"`
	Location     string   `json:"lugar"`
	Date         string   `json:"fecha"` // YYYY-MM-DD
	Offense      string   `json:"delito"`
	Processed    []string `json:"procesados"`
}

// Complete reports whether every required field is present.
func (r *CaseRecord) Complete() bool {
	return r != nil &&
		r.ReportNumber != "" &&
		r.Location != "" &&
		r.Date != "" &&
		r.Offense != ""
}

// MatchResult is the caller-facing payload of a search.
type MatchResult struct {
	CaseRecord

	MatchFound       bool      `json:"name_match_found"`
	MatchTier        MatchTier `json:"match_tier"`
	SearchSuccessful bool      `json:"search_successful"`
	SearchedPlate    string    `json:"searched_plate"`
	SearchedDriver   string    `json:"searched_driver"`
}

// SearchResponse is the HTTP body for the search endpoints.
type SearchResponse struct {
	MatchResult

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching disabled).
	CacheStatus string `json:"cache_status,omitempty"`

	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// ErrorMessage is a human-readable reason when SearchSuccessful is false.
	ErrorMessage string `json:"error_message,omitempty"`

	// Error is populated only on failures.
	Error *ErrorDetail `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status               string       `json:"status"` // "healthy", "degraded" or "unhealthy"
	Uptime               string       `json:"uptime"`
	Version              string       `json:"version"`
	Circuit              CircuitStats `json:"circuit"`
	LastSuccessfulSearch *time.Time   `json:"last_successful_search,omitempty"`
	Probe                *ProbeResult `json:"probe,omitempty"`
}

// CircuitStats reports the state of the target circuit breaker.
type CircuitStats struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastTransition      time.Time `json:"last_transition"`
}

// ProbeResult reports a lightweight reachability check of the target.
type ProbeResult struct {
	Reachable  bool   `json:"reachable"`
	Blocked    bool   `json:"blocked"`
	StatusCode int    `json:"status_code,omitempty"`
	Title      string `json:"title,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
	// Cached marks a result reused from a recent check.
	Cached bool `json:"cached,omitempty"`
}
