package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/casefinder/models"
	"github.com/use-agent/casefinder/resilience"
	"github.com/use-agent/casefinder/search"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	RegisterValidators()
	m.Run()
}

type fakeSearcher struct {
	got models.SearchRequest
	out *search.Outcome
	err error
}

func (f *fakeSearcher) Run(_ context.Context, req models.SearchRequest) (*search.Outcome, error) {
	f.got = req
	return f.out, f.err
}

func matched() *search.Outcome {
	return &search.Outcome{
		Result: &models.MatchResult{
			CaseRecord: models.CaseRecord{
				ReportNumber: "100301816010030",
				Location:     "IMBABURA - COTACACHI",
				Date:         "2016-01-27",
				Offense:      "RECEPTACIÓN(3575)",
				Processed:    []string{"TUQUEREZ JOSE FAUSTO"},
			},
			MatchFound:       true,
			MatchTier:        models.TierPartial,
			SearchSuccessful: true,
			SearchedPlate:    "PCJ8619",
			SearchedDriver:   "JOSE TUQUEREZ",
		},
		CacheStatus: search.CacheMiss,
		Attempts:    1,
	}
}

func newEngine(s Searcher) *gin.Engine {
	r := gin.New()
	r.POST("/search", Search(s))
	r.GET("/complaints", Complaints(s))
	return r
}

func postSearch(t *testing.T, r *gin.Engine, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestSearch_Success(t *testing.T) {
	s := &fakeSearcher{out: matched()}
	w, body := postSearch(t, newEngine(s), `{"license_plate":"pcj-8619","driver_name":"Jose Tuquerez"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pcj-8619", s.got.Plate)
	assert.Equal(t, "Jose Tuquerez", s.got.DriverName)

	assert.Equal(t, "100301816010030", body["crime_report_number"])
	assert.Equal(t, "IMBABURA - COTACACHI", body["lugar"])
	assert.Equal(t, "2016-01-27", body["fecha"])
	assert.Equal(t, "RECEPTACIÓN(3575)", body["delito"])
	assert.Equal(t, []any{"TUQUEREZ JOSE FAUSTO"}, body["procesados"])
	assert.Equal(t, true, body["name_match_found"])
	assert.Equal(t, "PARTIAL", body["match_tier"])
	assert.Equal(t, true, body["search_successful"])
	assert.Equal(t, "miss", body["cache_status"])
	assert.NotContains(t, body, "error")
}

func TestComplaints_QueryString(t *testing.T) {
	s := &fakeSearcher{out: matched()}
	r := newEngine(s)

	q := url.Values{"license_plate": {"PCJ8619"}, "driver_name": {"JOSE TUQUEREZ"}}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/complaints?"+q.Encode(), nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PCJ8619", s.got.Plate)
	assert.Equal(t, "JOSE TUQUEREZ", s.got.DriverName)
}

func TestSearch_BindingErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"license_plate":`},
		{"missing plate", `{"driver_name":"JOSE"}`},
		{"bad plate", `{"license_plate":"P1","driver_name":"JOSE"}`},
		{"plate with symbols", `{"license_plate":"PC*8619","driver_name":"JOSE"}`},
		{"short name", `{"license_plate":"PCJ8619","driver_name":"J"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSearcher{out: matched()}
			w, body := postSearch(t, newEngine(s), tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, models.ErrCodeInvalidInput, body["error"].(map[string]any)["code"])
			assert.Equal(t, false, body["search_successful"])
			assert.Empty(t, s.got.Plate, "searcher must not be called")
		})
	}
}

func TestSearch_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid input", models.NewInvalidInputError("bad"), http.StatusBadRequest},
		{"circuit open", models.NewSearchError(models.ErrCodeServiceUnavailable, models.KindCircuitOpen, "unavailable", nil), http.StatusServiceUnavailable},
		{"not found", models.NewSearchError(models.ErrCodeSearchFailed, models.KindNotFound, "no case", nil), http.StatusOK},
		{"blocked", models.NewSearchError(models.ErrCodeSearchFailed, models.KindBlocked, "blocked", nil), http.StatusBadGateway},
		{"unparseable", models.NewSearchError(models.ErrCodeSearchFailed, models.KindNoParseableContent, "parse", nil), http.StatusBadGateway},
		{"timeout", models.NewSearchError(models.ErrCodeTimeout, models.KindTimeout, "slow", nil), http.StatusGatewayTimeout},
		{"unclassified", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSearcher{err: tt.err}
			w, body := postSearch(t, newEngine(s), `{"license_plate":"pcj 8619","driver_name":"  jose   tuquerez "}`)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, false, body["search_successful"])
			assert.Equal(t, false, body["name_match_found"])
			assert.Equal(t, "PCJ8619", body["searched_plate"])
			assert.Equal(t, "JOSE TUQUEREZ", body["searched_driver"])
			assert.NotEmpty(t, body["error_message"])
			assert.Equal(t, models.CodeOf(tt.err), body["error"].(map[string]any)["code"])
		})
	}
}

func TestSearch_NotFoundBody(t *testing.T) {
	s := &fakeSearcher{err: models.NewSearchError(models.ErrCodeSearchFailed, models.KindNotFound, "no case report found for plate", nil)}
	w, body := postSearch(t, newEngine(s), `{"license_plate":"PCJ8619","driver_name":"JOSE"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NONE", body["match_tier"])
	assert.Equal(t, "no case report found for plate", body["error_message"])
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["kind"])
}

func TestSearch_RetryAfterOnOpenCircuit(t *testing.T) {
	open := &resilience.CircuitOpenError{Name: "siaf", RetryAfter: 41500 * time.Millisecond}
	s := &fakeSearcher{err: models.NewSearchError(models.ErrCodeServiceUnavailable, models.KindCircuitOpen, "unavailable", open)}
	w, _ := postSearch(t, newEngine(s), `{"license_plate":"PCJ8619","driver_name":"JOSE"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
}

func TestMapErrorToStatus_RateLimitAndAuth(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests,
		mapErrorToStatus(models.NewSearchError(models.ErrCodeRateLimited, models.KindUnknown, "", nil)))
	assert.Equal(t, http.StatusUnauthorized,
		mapErrorToStatus(models.NewSearchError(models.ErrCodeUnauthorized, models.KindUnknown, "", nil)))
}
