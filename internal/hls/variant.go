// Package hls selects the best rendition from a multivariant manifest.
package hls

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flexstream/flex-stream/internal/httpclient"
)

var resolution = regexp.MustCompile(`RESOLUTION=(\d+)x(\d+)`)

// Variant is one rendition entry from a multivariant manifest. Height 0
// means the stream-info carried no RESOLUTION attribute; such variants stay
// eligible, just ranked last.
type Variant struct {
	Height int
	URI    string
}

// Variants extracts every (stream-info, playlist URI) pair from a manifest
// body. A manifest without stream-info lines yields nil.
func Variants(body string) []Variant {
	lines := strings.Split(body, "\n")
	var out []Variant
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			continue
		}
		uri := nextURI(lines, i+1)
		if uri == "" {
			continue
		}
		height := 0
		if m := resolution.FindStringSubmatch(line); m != nil {
			height, _ = strconv.Atoi(m[2])
		}
		out = append(out, Variant{Height: height, URI: uri})
	}
	return out
}

// nextURI returns the first non-blank, non-directive line at or after idx.
func nextURI(lines []string, idx int) string {
	for ; idx < len(lines); idx++ {
		l := strings.TrimSpace(lines[idx])
		if l == "" {
			continue
		}
		if strings.HasPrefix(l, "#") {
			return ""
		}
		return l
	}
	return ""
}

// BestVariant picks the media-playlist URL with the largest vertical
// resolution, resolved absolute against manifestURL. First-encountered wins
// ties. When body has no variants the input URL is itself already a media
// playlist and is returned unchanged.
func BestVariant(manifestURL, body string) (string, error) {
	variants := Variants(body)
	if len(variants) == 0 {
		return manifestURL, nil
	}
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Height > best.Height {
			best = v
		}
	}
	return Resolve(manifestURL, best.URI)
}

// Resolve joins a possibly-relative playlist reference against its manifest.
func Resolve(manifestURL, ref string) (string, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return "", fmt.Errorf("manifest URL: %w", err)
	}
	rel, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("playlist reference: %w", err)
	}
	return base.ResolveReference(rel).String(), nil
}

// Selector fetches manifests and applies BestVariant.
type Selector struct {
	UserAgent string
	Client    *http.Client // nil = shared default
	Timeout   time.Duration
}

// FetchBest fetches manifestURL and returns the absolute URL of its
// highest-resolution media playlist.
func (s *Selector) FetchBest(ctx context.Context, manifestURL string) (string, error) {
	client := s.Client
	if client == nil {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = httpclient.DefaultTimeout
		}
		client = httpclient.WithTimeout(timeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return "", err
	}
	httpclient.BrowserHeaders(req, s.UserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch manifest: %w", err)
	}
	body, err := httpclient.ReadAll(resp)
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch manifest: %w", httpclient.StatusError(resp))
	}
	return BestVariant(manifestURL, string(body))
}
