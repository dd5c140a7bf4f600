package navigator

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

// Fingerprint is the outward identity of one browser session.
type Fingerprint struct {
	UserAgent      string
	AcceptLanguage string
	Platform       string
	Headers        map[string]string
	Width          int
	Height         int
}

// Session is one isolated browser session. It is owned by a single Search
// call and closed on every exit path.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Content(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (string, error)
	// StatusCode is the HTTP status of the last document load, 0 if unknown.
	StatusCode(ctx context.Context) int
	Title(ctx context.Context) string
	URL(ctx context.Context) string
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// SessionFactory opens fresh sessions shaped by fp.
type SessionFactory interface {
	Open(ctx context.Context, fp Fingerprint) (Session, error)
}

// Shaper decides how a session presents itself and how long it idles
// between steps.
type Shaper interface {
	Fingerprint() Fingerprint
	// Pause blocks for a random duration in [min, max] or until ctx is done.
	Pause(ctx context.Context, min, max time.Duration) error
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
}

const (
	minWidth, maxWidth   = 1280, 1920
	minHeight, maxHeight = 720, 1080
	acceptLanguage       = "es-EC,es;q=0.9,en-US;q=0.8,en;q=0.7"
)

// RandomShaper draws a Chrome user agent, a desktop viewport and an
// Ecuadorian Spanish header set for every session.
type RandomShaper struct{}

func (RandomShaper) Fingerprint() Fingerprint {
	ua := userAgents[rand.IntN(len(userAgents))]
	return Fingerprint{
		UserAgent:      ua,
		AcceptLanguage: acceptLanguage,
		Platform:       platformOf(ua),
		Headers: map[string]string{
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language":           acceptLanguage,
			"DNT":                       "1",
			"Upgrade-Insecure-Requests": "1",
			"Cache-Control":             "max-age=0",
		},
		Width:  minWidth + rand.IntN(maxWidth-minWidth+1),
		Height: minHeight + rand.IntN(maxHeight-minHeight+1),
	}
}

func (RandomShaper) Pause(ctx context.Context, min, max time.Duration) error {
	return sleep(ctx, randomBetween(min, max))
}

func platformOf(ua string) string {
	switch {
	case strings.Contains(ua, "Macintosh"):
		return "MacIntel"
	case strings.Contains(ua, "Linux"):
		return "Linux x86_64"
	default:
		return "Win32"
	}
}

func randomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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
