package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/casefinder/config"
)

// webdriverPatch removes the automation flag stealth.JS leaves on the prototype.
const webdriverPatch = `(() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	delete Object.getPrototypeOf(navigator).webdriver;
})();`

// RodFactory owns one Chrome process and opens every session in its own
// incognito browser context, so no cookies or storage leak between searches.
// It is safe for concurrent use.
type RodFactory struct {
	browser *rod.Browser
	blocked map[proto.NetworkResourceType]struct{}
}

// NewRodFactory launches a headless browser with the stealth flag set.
func NewRodFactory(cfg config.BrowserConfig) (*RodFactory, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("navigator: launch browser: %w", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("navigator: connect to browser: %w", err)
	}

	return &RodFactory{
		browser: browser,
		blocked: blockedSet(cfg.BlockedResourceTypes),
	}, nil
}

// Open creates a fresh incognito context with one page shaped by fp.
//
// Shaping happens before the first navigation: stealth scripts and the
// hijack router only take effect for documents loaded after they are
// installed.
func (f *RodFactory) Open(ctx context.Context, fp Fingerprint) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	incognito, err := f.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("navigator: create incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("navigator: create page: %w", err)
	}

	s := &rodSession{browser: incognito, page: page}
	if err := s.shape(fp); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.router = setupHijack(page, f.blocked)
	return s, nil
}

// Close kills the browser process.
func (f *RodFactory) Close() error {
	slog.Info("navigator shutting down: closing browser")
	return f.browser.Close()
}

type rodSession struct {
	browser *rod.Browser
	page    *rod.Page
	router  *rod.HijackRouter
}

func (s *rodSession) shape(fp Fingerprint) error {
	if _, err := s.page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}
	if _, err := s.page.EvalOnNewDocument(webdriverPatch); err != nil {
		slog.Warn("webdriver patch failed", "error", err)
	}

	if err := s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      fp.UserAgent,
		AcceptLanguage: fp.AcceptLanguage,
		Platform:       fp.Platform,
	}); err != nil {
		return fmt.Errorf("navigator: set user agent: %w", err)
	}
	if len(fp.Headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(fp.Headers)}).Call(s.page); err != nil {
			return fmt.Errorf("navigator: set headers: %w", err)
		}
	}
	if fp.Width > 0 && fp.Height > 0 {
		if err := s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             fp.Width,
			Height:            fp.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("navigator: set viewport: %w", err)
		}
	}
	return nil
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *rodSession) Reload(ctx context.Context) error {
	p := s.page.Context(ctx)
	if err := p.Reload(); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *rodSession) Content(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) ReadyState(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.readyState`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// StatusCode reads the navigation timing entry; CDP response events
// conflict with the hijack router's Fetch domain.
func (s *rodSession) StatusCode(ctx context.Context) int {
	res, err := s.page.Context(ctx).Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

func (s *rodSession) Title(ctx context.Context) string {
	return evalStringOrEmpty(s.page.Context(ctx), `() => document.title`)
}

func (s *rodSession) URL(ctx context.Context) string {
	return evalStringOrEmpty(s.page.Context(ctx), `() => window.location.href`)
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Close stops the router, closes the page and disposes the incognito
// context. It uses the page without a request context so cleanup works
// after the caller's deadline has passed.
func (s *rodSession) Close() error {
	var errs []error
	if s.router != nil {
		if err := s.router.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.page.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors.
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
