package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/casefinder/models"
	"github.com/use-agent/casefinder/resilience"
	"github.com/use-agent/casefinder/search"
)

// Searcher runs one search. *search.Orchestrator implements it.
type Searcher interface {
	Run(ctx context.Context, req models.SearchRequest) (*search.Outcome, error)
}

// Search returns a handler for POST /api/v1/search.
func Search(s Searcher) gin.HandlerFunc {
	return searchHandler(s, func(c *gin.Context, p *models.SearchPayload) error {
		return c.ShouldBindJSON(p)
	})
}

// Complaints returns a handler for GET /api/v1/complaints, the query-string
// form of Search.
func Complaints(s Searcher) gin.HandlerFunc {
	return searchHandler(s, func(c *gin.Context, p *models.SearchPayload) error {
		return c.ShouldBindQuery(p)
	})
}

// searchHandler is shared by both routes.
//
// Flow:
//  1. Bind and validate the payload.
//  2. Run the search on the request context.
//  3. Map the outcome to a status and respond.
func searchHandler(s Searcher, bind func(*gin.Context, *models.SearchPayload) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse request ────────────────────────────────────────
		var payload models.SearchPayload
		if err := bind(c, &payload); err != nil {
			respondError(c, models.NewInvalidInputError(err.Error()), payload, totalStart)
			return
		}

		// ── 2. Search ───────────────────────────────────────────────
		out, err := s.Run(c.Request.Context(), models.SearchRequest{
			Plate:      payload.LicensePlate,
			DriverName: payload.DriverName,
		})
		if err != nil {
			respondError(c, err, payload, totalStart)
			return
		}

		// ── 3. Respond ──────────────────────────────────────────────
		c.JSON(http.StatusOK, models.SearchResponse{
			MatchResult: *out.Result,
			CacheStatus: out.CacheStatus,
			TotalMs:     time.Since(totalStart).Milliseconds(),
		})
	}
}

// respondError maps a SearchError to the correct HTTP status code and writes
// a structured JSON error response echoing what was searched.
func respondError(c *gin.Context, err error, payload models.SearchPayload, start time.Time) {
	var searchErr *models.SearchError
	if !errors.As(err, &searchErr) {
		searchErr = models.NewSearchError(models.ErrCodeInternal, models.KindUnknown, err.Error(), err)
	}

	var openErr *resilience.CircuitOpenError
	if errors.As(err, &openErr) {
		secs := int(math.Ceil(openErr.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	}

	resp := models.SearchResponse{
		MatchResult: models.MatchResult{
			SearchedPlate:  models.NormalizePlate(payload.LicensePlate),
			SearchedDriver: strings.ToUpper(models.CollapseSpaces(payload.DriverName)),
		},
		TotalMs:      time.Since(start).Milliseconds(),
		ErrorMessage: searchErr.Message,
		Error:        searchErr.ToDetail(),
	}
	if searchErr.Kind == models.KindNotFound {
		resp.MatchTier = models.TierNone
	}
	c.JSON(mapErrorToStatus(searchErr), resp)
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.SearchError) int {
	switch e.Code {
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeSearchFailed:
		if e.Kind == models.KindNotFound {
			return http.StatusOK // a clean negative answer
		}
		return http.StatusBadGateway // 502
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
