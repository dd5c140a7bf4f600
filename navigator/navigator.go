package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/use-agent/casefinder/config"
	"github.com/use-agent/casefinder/metrics"
	"github.com/use-agent/casefinder/models"
	"github.com/use-agent/casefinder/target"
)

type pageState int

const (
	statePending pageState = iota
	stateResult
	stateBlocked
	stateNoResults
)

// classifyContent checks the result marker first: a rendered report is
// usable even when the protection vendor's script tags are on the page.
func classifyContent(html string) pageState {
	switch {
	case target.HasResult(html):
		return stateResult
	case target.Blocked(html):
		return stateBlocked
	case target.NoResults(html):
		return stateNoResults
	default:
		return statePending
	}
}

// Navigator drives one fresh browser session per search through the index
// page and the result endpoint, and hands the rendered result page back.
// It holds no per-call state and is safe for concurrent use.
type Navigator struct {
	cfg      config.SearchConfig
	factory  SessionFactory
	shaper   Shaper
	snapshot *Snapshotter
}

// New creates a Navigator. snapshot may be nil to disable diagnostics.
func New(cfg config.SearchConfig, factory SessionFactory, shaper Shaper, snapshot *Snapshotter) *Navigator {
	if shaper == nil {
		shaper = RandomShaper{}
	}
	return &Navigator{cfg: cfg, factory: factory, shaper: shaper, snapshot: snapshot}
}

// Search loads the index page, submits plate and waits for the result page.
//
// Failures are *models.SearchError values whose Kind is one of TIMEOUT,
// BLOCKED, CONNECTION_RESET, NAVIGATION_ERROR or NOT_FOUND. NOT_FOUND is only
// returned for a page that finished loading without a result.
//
// Steps (numbered to match the inline comments):
//
//  1. Open session        – new isolated context shaped by the Shaper
//  2. Index page          – load, check status and block markers
//  3. Block recovery      – pause, reload once, give up if still blocked
//  4. Human pause         – idle before submitting
//  5. Submit              – navigate to the result endpoint for plate
//  6. Readiness           – poll until a result, block or no-results marker
func (n *Navigator) Search(ctx context.Context, plate, driverHint string) (*models.RenderedPage, error) {
	id := metrics.CorrelationID(ctx)
	log := slog.With(metrics.LabelCorrelationID, id, "plate", plate)

	// ── 1. Open session ───────────────────────────────────────────────
	sess, err := n.factory.Open(ctx, n.shaper.Fingerprint())
	if err != nil {
		return nil, classifyError(err, "failed to open browser session")
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			log.Warn("session close failed", "error", closeErr)
		}
	}()

	// ── 2. Index page ─────────────────────────────────────────────────
	if err := n.navigate(ctx, sess, n.cfg.IndexURL); err != nil {
		n.capture(ctx, id, "index-failure", sess)
		return nil, err
	}
	html, err := sess.Content(ctx)
	if err != nil {
		return nil, classifyError(err, "failed to read index page")
	}

	// ── 3. Block recovery ─────────────────────────────────────────────
	if target.Blocked(html) {
		log.Warn("block marker on index page, reloading once")
		n.capture(ctx, id, "index-blocked", sess)
		if err := n.shaper.Pause(ctx, n.cfg.BlockPauseMin, n.cfg.BlockPauseMax); err != nil {
			return nil, classifyError(err, "interrupted while backing off from block")
		}
		if err := n.reload(ctx, sess); err != nil {
			return nil, err
		}
		if html, err = sess.Content(ctx); err != nil {
			return nil, classifyError(err, "failed to read reloaded index page")
		}
		if target.Blocked(html) {
			return nil, models.NewTargetError(models.KindBlocked, "index page still blocked after reload", nil)
		}
	}
	n.capture(ctx, id, "index", sess)

	// ── 4. Human pause ────────────────────────────────────────────────
	if err := n.shaper.Pause(ctx, n.cfg.IndexPauseMin, n.cfg.IndexPauseMax); err != nil {
		return nil, classifyError(err, "interrupted before submitting search")
	}

	// ── 5. Submit ─────────────────────────────────────────────────────
	resultURL, err := SearchURL(n.cfg.SearchURL, plate)
	if err != nil {
		return nil, models.NewTargetError(models.KindNavigation, "invalid search endpoint", err)
	}
	log.Debug("submitting search", "url", resultURL, "driver_hint", driverHint != "")
	if err := n.navigate(ctx, sess, resultURL); err != nil {
		n.capture(ctx, id, "result-failure", sess)
		return nil, err
	}

	// ── 6. Readiness ──────────────────────────────────────────────────
	html, err = n.awaitResult(ctx, sess)
	if err != nil {
		if models.KindOf(err) != models.KindNotFound {
			n.capture(ctx, id, "result-failure", sess)
		}
		return nil, err
	}
	n.capture(ctx, id, "result", sess)

	return &models.RenderedPage{
		URL:        sess.URL(ctx),
		HTML:       html,
		Title:      sess.Title(ctx),
		StatusCode: sess.StatusCode(ctx),
		CapturedAt: time.Now(),
	}, nil
}

// navigate loads url under the navigation timeout and checks the HTTP status.
func (n *Navigator) navigate(ctx context.Context, sess Session, url string) error {
	navCtx := ctx
	if n.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, n.cfg.NavigationTimeout)
		defer cancel()
	}
	if err := sess.Navigate(navCtx, url); err != nil {
		return classifyError(err, "navigation failed")
	}
	return checkStatus(sess.StatusCode(ctx))
}

func (n *Navigator) reload(ctx context.Context, sess Session) error {
	navCtx := ctx
	if n.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, n.cfg.NavigationTimeout)
		defer cancel()
	}
	if err := sess.Reload(navCtx); err != nil {
		return classifyError(err, "reload failed")
	}
	return checkStatus(sess.StatusCode(ctx))
}

// awaitResult polls the page until it shows a result, a block or an
// explicit no-results message, or until a fully loaded page stops changing.
func (n *Navigator) awaitResult(ctx context.Context, sess Session) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()

	var (
		previous string
		polled   bool
	)
	for {
		html, err := sess.Content(ctx)
		if err != nil {
			return "", classifyError(err, "failed to read result page")
		}

		switch classifyContent(html) {
		case stateResult:
			return html, nil
		case stateBlocked:
			return "", models.NewTargetError(models.KindBlocked, "result page blocked", nil)
		case stateNoResults:
			return "", models.NewTargetError(models.KindNotFound, "no case report for plate", nil)
		}

		if state, err := sess.ReadyState(ctx); err == nil && state == "complete" && polled && html == previous {
			return "", settledWithoutMarker(html)
		}
		previous, polled = html, true

		select {
		case <-ctx.Done():
			return "", classifyError(ctx.Err(), "result page did not become ready")
		case <-ticker.C:
		}
	}
}

// settledWithoutMarker classifies a loaded, stable page that carries no
// marker. Only the site's own result frame is a clean NOT_FOUND; an empty
// body or someone else's error page is treated as a soft block.
func settledWithoutMarker(html string) error {
	if target.SiteShell(html) {
		return models.NewTargetError(models.KindNotFound, "result page loaded without a case report", nil)
	}
	return models.NewTargetError(models.KindBlocked, "result page loaded without the site frame", nil)
}

func (n *Navigator) capture(ctx context.Context, id, stage string, sess Session) {
	if n.snapshot == nil {
		return
	}
	n.snapshot.Capture(ctx, id, stage, sess)
}

// checkStatus maps HTTP status codes to failure kinds. 0 means unknown.
func checkStatus(code int) error {
	switch {
	case code == http.StatusForbidden || code == http.StatusTooManyRequests:
		return models.NewTargetError(models.KindBlocked, fmt.Sprintf("target answered %d", code), nil)
	case code >= 500:
		return models.NewTargetError(models.KindNavigation, fmt.Sprintf("target answered %d", code), nil)
	default:
		return nil
	}
}

// classifyError wraps raw session errors into typed SearchErrors so the
// orchestrator can decide whether to retry.
func classifyError(err error, msg string) error {
	var se *models.SearchError
	if errors.As(err, &se) {
		return err
	}

	var navErr *rod.NavigationError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewTargetError(models.KindTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewTargetError(models.KindTimeout, "request canceled", err)
	case errors.As(err, &navErr) && isConnectionReset(navErr.Reason):
		return models.NewTargetError(models.KindConnectionReset, msg, err)
	case isConnectionReset(err.Error()):
		return models.NewTargetError(models.KindConnectionReset, msg, err)
	default:
		return models.NewTargetError(models.KindNavigation, msg, err)
	}
}

func isConnectionReset(reason string) bool {
	r := strings.ToUpper(reason)
	return strings.Contains(r, "CONNECTION_RESET") ||
		strings.Contains(r, "CONNECTION_CLOSED") ||
		strings.Contains(r, "CONNECTION RESET")
}
