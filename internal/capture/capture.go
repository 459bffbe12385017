// Package capture observes the manifest URL a live player page requests.
// A real rendering engine loads the iframe page, a simulated interaction
// starts playback, and a request observer records the first URL that looks
// like an adaptive-streaming manifest.
package capture

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/flexstream/flex-stream/internal/config"
	"github.com/flexstream/flex-stream/internal/metrics"
)

// ErrCaptureTimeout means no manifest request was observed within the full
// attempt budget. Definitive: the caller must not retry further.
var ErrCaptureTimeout = errors.New("no manifest URL captured")

// manifestExt marks a request URL as an adaptive-streaming manifest.
const manifestExt = ".m3u8"

// Session is one isolated browser page. Never shared across invocations and
// never reused: a stale session could hold a stale observer or a half-loaded
// page.
type Session interface {
	// Navigate loads url and returns when the page fires load or the timeout
	// elapses. The observer passed at session creation is already armed.
	Navigate(url string, timeout time.Duration) error
	// Click clicks the first element matching selector. found is false when
	// no element matches; err reports driver-level failures.
	Click(selector string) (found bool, err error)
	// ClickAt clicks a viewport coordinate.
	ClickAt(x, y int64) error
	// Close releases the page and its browser context. Idempotent.
	Close()
}

// Browser opens sessions whose outgoing network requests are reported to
// observe. The production implementation drives a real rendering engine;
// tests substitute a scripted fake.
type Browser interface {
	NewSession(ctx context.Context, observe func(requestURL string)) (Session, error)
}

// Capturer runs the bounded observe-interact-poll cycle against a page URL.
type Capturer struct {
	Browser         Browser
	PageLoadTimeout time.Duration
	Retries         int // full fresh-session attempts
	PollInterval    time.Duration
	PollBudget      int // poll iterations per attempt
	Selectors       []string
}

// NewCapturer builds a Capturer from config.
func NewCapturer(b Browser, cfg *config.Config) *Capturer {
	return &Capturer{
		Browser:         b,
		PageLoadTimeout: cfg.PageLoadTimeout,
		Retries:         cfg.CaptureRetryCount,
		PollInterval:    cfg.CapturePollInterval,
		PollBudget:      cfg.CapturePollBudget,
		Selectors:       cfg.InteractionSelectors,
	}
}

// FirstManifestURL returns the first manifest URL requested by a live
// rendering of pageURL. Each attempt gets a brand-new isolated session; all
// attempts exhausted means ErrCaptureTimeout.
func (c *Capturer) FirstManifestURL(ctx context.Context, pageURL string) (string, error) {
	retries := c.Retries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 1; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		log.Printf("capture: attempt %d/%d for %s", attempt, retries, pageURL)
		metrics.CaptureAttempts.Inc()
		url, err := c.attempt(ctx, pageURL)
		if err != nil {
			log.Printf("capture: attempt %d failed: %v", attempt, err)
			continue
		}
		if url != "" {
			metrics.CaptureSuccess.Inc()
			log.Printf("capture: manifest URL observed: %s", url)
			return url, nil
		}
	}
	metrics.CaptureTimeouts.Inc()
	return "", ErrCaptureTimeout
}

// attempt runs one full session cycle. An empty URL with nil error means the
// polling budget ran out without a capture.
func (c *Capturer) attempt(ctx context.Context, pageURL string) (string, error) {
	var latch Latch
	sess, err := c.Browser.NewSession(ctx, func(requestURL string) {
		if strings.Contains(requestURL, manifestExt) {
			latch.Set(requestURL)
		}
	})
	if err != nil {
		return "", err
	}
	defer sess.Close()

	// Navigation errors are not fatal for the attempt: some players begin
	// requesting the manifest before load fires.
	if err := sess.Navigate(pageURL, c.PageLoadTimeout); err != nil {
		log.Printf("capture: page load error (continuing): %v", err)
	}

	c.interact(sess)

	for i := 0; i < c.PollBudget; i++ {
		if url, ok := latch.Get(); ok {
			return url, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
	if url, ok := latch.Get(); ok {
		return url, nil
	}
	return "", nil
}

// interact simulates the user action that starts playback: the first
// matching selector is clicked and interaction stops; with no match, a
// single click lands at a fixed coordinate inside the expected video region.
func (c *Capturer) interact(sess Session) {
	for _, sel := range c.Selectors {
		found, err := sess.Click(sel)
		if err != nil {
			continue
		}
		if found {
			return
		}
	}
	if err := sess.ClickAt(640, 360); err != nil {
		log.Printf("capture: coordinate click failed: %v", err)
	}
}
