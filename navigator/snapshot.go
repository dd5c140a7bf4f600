package navigator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/casefinder/metrics"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Snapshotter writes the current HTML and a full-page PNG of a session to
// dir, named <correlation-id>_a<attempt>_<stage>_<unix-millis>.{html,png}.
// Capture failures are logged and never fail the search.
type Snapshotter struct {
	dir string
	now func() time.Time
}

// NewSnapshotter creates dir if needed.
func NewSnapshotter(dir string) (*Snapshotter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("navigator: create diagnostics dir: %w", err)
	}
	return &Snapshotter{dir: dir, now: time.Now}, nil
}

// Capture stores HTML and PNG for stage. The attempt number on ctx and the
// capture time keep retries of one request from overwriting each other.
func (s *Snapshotter) Capture(ctx context.Context, id, stage string, sess Session) {
	base := filepath.Join(s.dir, s.name(ctx, id, stage))

	if html, err := sess.Content(ctx); err == nil {
		if err := os.WriteFile(base+".html", []byte(html), 0o644); err != nil {
			slog.Warn("diagnostic html write failed", "path", base+".html", "error", err)
		}
	}

	png, err := sess.Screenshot(ctx)
	if err != nil {
		slog.Debug("diagnostic screenshot failed", "stage", stage, "error", err)
		return
	}
	if err := os.WriteFile(base+".png", png, 0o644); err != nil {
		slog.Warn("diagnostic png write failed", "path", base+".png", "error", err)
	}
}

func (s *Snapshotter) name(ctx context.Context, id, stage string) string {
	parts := make([]string, 0, 4)
	if id != "" {
		parts = append(parts, unsafeName.ReplaceAllString(id, "_"))
	}
	if n := metrics.Attempt(ctx); n > 0 {
		parts = append(parts, "a"+strconv.Itoa(n))
	}
	parts = append(parts, unsafeName.ReplaceAllString(stage, "_"), strconv.FormatInt(s.now().UnixMilli(), 10))
	return strings.Join(parts, "_")
}
