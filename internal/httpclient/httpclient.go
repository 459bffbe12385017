// Package httpclient is the shared outbound HTTP layer for the embed
// locator, the variant selector, and the playlist/segment relays. Every
// fetch to the embed source or a manifest/segment origin goes through
// BrowserRequest so the identifying header set stays consistent.
package httpclient

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	DefaultTimeout         = 15 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
)

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
	}
}

// Default returns the shared tuned HTTP client.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout sharing Default's transport.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}

// BrowserHeaders applies the identifying header set resembling an ordinary
// browser. Compatibility with bot-blocking origins, not a security measure.
func BrowserHeaders(req *http.Request, userAgent string) {
	if userAgent == "" {
		userAgent = "Mozilla/5.0"
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, br")
}

// Body returns the decoded response body reader. Setting Accept-Encoding
// ourselves disables the transport's automatic gzip handling, so both
// encodings are inflated here.
func Body(resp *http.Response) io.Reader {
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		return brotli.NewReader(resp.Body)
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp.Body
		}
		return zr
	}
	return resp.Body
}

// ReadAll drains and decodes resp's body and closes it.
func ReadAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(Body(resp))
}

// StatusError reports a non-200 upstream status as an error.
func StatusError(resp *http.Response) error {
	return fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
}
