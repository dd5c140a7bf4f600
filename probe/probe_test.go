package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Chrome/")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheck_Reachable(t *testing.T) {
	srv := serve(t, http.StatusOK, `<html><head><title> Noticias del Delito </title></head><body></body></html>`)

	res := New(srv.URL, srv.Client()).Check(context.Background())

	assert.True(t, res.Reachable)
	assert.False(t, res.Blocked)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Noticias del Delito", res.Title)
	assert.Empty(t, res.Error)
}

func TestCheck_Blocked(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"forbidden", http.StatusForbidden, "<html></html>"},
		{"marker", http.StatusOK, `<html><body>Request blocked by Incapsula</body></html>`},
		{"session cookie", http.StatusOK, `<html><script>document.cookie="_incap_ses_77=abc"</script></html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body)
			res := New(srv.URL, srv.Client()).Check(context.Background())
			assert.True(t, res.Blocked)
			assert.False(t, res.Reachable)
		})
	}
}

func TestCheck_ServerError(t *testing.T) {
	srv := serve(t, http.StatusBadGateway, "<html><title>oops</title></html>")
	res := New(srv.URL, srv.Client()).Check(context.Background())
	assert.False(t, res.Reachable)
	assert.False(t, res.Blocked)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
}

func TestCheck_Unreachable(t *testing.T) {
	srv := serve(t, http.StatusOK, "")
	url := srv.URL
	srv.Close()

	res := New(url, nil).Check(context.Background())
	assert.False(t, res.Reachable)
	assert.NotEmpty(t, res.Error)
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "Hola", extractTitle("<html><head><title>Hola</title></head></html>"))
	assert.Equal(t, "", extractTitle("<html><head><title></title></head></html>"))
	assert.Equal(t, "", extractTitle("<p>no title</p>"))
}
