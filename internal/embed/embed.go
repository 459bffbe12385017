// Package embed locates the inner player iframe on a third-party embed page.
// The page's markup is not under our control and may change at any time, so
// extraction fails soft: unexpected markup means ErrNoIframe, never a panic.
package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flexstream/flex-stream/internal/httpclient"
)

// ErrNoIframe means the embed page contained no iframe element. Terminal for
// the request: refetching the same page yields the same markup.
var ErrNoIframe = errors.New("no iframe src found in embed page")

var iframeSrc = regexp.MustCompile(`<iframe[^>]+src=["']([^"']+)["']`)

// Locator builds embed URLs and extracts the player iframe from them.
type Locator struct {
	BaseURL   string // embed source root, e.g. https://vsrc.su
	UserAgent string
	Client    *http.Client // nil = shared default
	Timeout   time.Duration
}

// URL constructs the embed page URL for a resolved target. Series targets
// carry season and episode; movies ignore both.
func (l *Locator) URL(externalID, mediaType string, season, episode int) string {
	base := strings.TrimSuffix(l.BaseURL, "/")
	if mediaType == "tv" && season > 0 && episode > 0 {
		return base + "/embed/tv?imdb=" + url.QueryEscape(externalID) +
			"&season=" + strconv.Itoa(season) +
			"&episode=" + strconv.Itoa(episode) + "&dts=dd"
	}
	return base + "/embed/movie?imdb=" + url.QueryEscape(externalID) + "&dts=dd"
}

// PlayerIframe fetches the embed page and returns the first iframe's src,
// normalized to an absolute URL: protocol-relative becomes https, a
// root-relative path is joined against the embed page's own URL.
func (l *Locator) PlayerIframe(ctx context.Context, embedURL string) (string, error) {
	client := l.Client
	if client == nil {
		client = httpclient.WithTimeout(l.timeout())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, embedURL, nil)
	if err != nil {
		return "", err
	}
	httpclient.BrowserHeaders(req, l.UserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch embed page: %w", err)
	}
	body, err := httpclient.ReadAll(resp)
	if err != nil {
		return "", fmt.Errorf("read embed page: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch embed page: %w", httpclient.StatusError(resp))
	}
	return Normalize(embedURL, extractIframeSrc(string(body)))
}

// extractIframeSrc returns the first iframe src attribute, or "".
func extractIframeSrc(markup string) string {
	m := iframeSrc.FindStringSubmatch(markup)
	if m == nil {
		return ""
	}
	return m[1]
}

// Normalize resolves an iframe src against its page URL. Empty src maps to
// ErrNoIframe.
func Normalize(pageURL, src string) (string, error) {
	switch {
	case src == "":
		return "", ErrNoIframe
	case strings.HasPrefix(src, "//"):
		return "https:" + src, nil
	case strings.HasPrefix(src, "/"):
		page, err := url.Parse(pageURL)
		if err != nil {
			return "", fmt.Errorf("embed page URL: %w", err)
		}
		rel, err := url.Parse(src)
		if err != nil {
			return "", fmt.Errorf("iframe src: %w", err)
		}
		return page.ResolveReference(rel).String(), nil
	}
	return src, nil
}

func (l *Locator) timeout() time.Duration {
	if l.Timeout > 0 {
		return l.Timeout
	}
	return httpclient.DefaultTimeout
}
