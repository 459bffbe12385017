// Package relay serves rewritten media playlists and proxies their segments
// so the client player never talks to the origin site directly.
package relay

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flexstream/flex-stream/internal/cache"
	"github.com/flexstream/flex-stream/internal/httpclient"
	"github.com/flexstream/flex-stream/internal/metrics"
	"github.com/flexstream/flex-stream/internal/safeurl"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/MP2T"
)

// Relay proxies playlists and segments. The cache is the only shared mutable
// state; everything else is per-request.
type Relay struct {
	UserAgent string
	Client    *http.Client // nil = shared default at 15s
	Cache     *cache.TTLText
	HostSem   *httpclient.HostSemaphore // nil = process-global
}

func New(userAgent string, requestTimeout, cacheTTL time.Duration) *Relay {
	return &Relay{
		UserAgent: userAgent,
		Client:    httpclient.WithTimeout(requestTimeout),
		Cache:     cache.New(cacheTTL),
		HostSem:   httpclient.GlobalHostSem,
	}
}

// Rewrite replaces every segment reference in a media playlist with a
// same-origin proxy path carrying the absolute original URL and its line
// position. Directive and blank lines pass through byte-identical. The
// sequence number is debugging metadata; segment identity rides entirely in
// the embedded URL.
func Rewrite(playlistURL, body string) (string, error) {
	base, err := url.Parse(playlistURL)
	if err != nil {
		return "", fmt.Errorf("playlist URL: %w", err)
	}
	lines := strings.Split(body, "\n")
	out := make([]string, len(lines))
	seq := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			out[i] = line
			continue
		}
		ref, err := url.Parse(trimmed)
		if err != nil {
			out[i] = line
			continue
		}
		abs := base.ResolveReference(ref).String()
		out[i] = "/segment?u=" + url.QueryEscape(abs) + "&i=" + strconv.Itoa(seq)
		seq++
	}
	return strings.Join(out, "\n"), nil
}

// ServePlaylist handles GET /manifest?url=<absolute-manifest-url>. The
// rewritten text is cached per exact URL string; concurrent misses coalesce
// into one upstream fetch.
func (rl *Relay) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "missing url param", http.StatusBadRequest)
		return
	}
	if !safeurl.IsHTTPOrHTTPS(target) {
		http.Error(w, "unsupported url scheme", http.StatusBadRequest)
		return
	}
	text, hit, err := rl.Cache.GetOrFill(target, func() (string, error) {
		body, err := rl.fetchText(r.Context(), target)
		if err != nil {
			return "", err
		}
		return Rewrite(target, body)
	})
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("playlist").Inc()
		log.Printf("relay: playlist fetch failed for %s: %v", target, err)
		http.Error(w, "failed to fetch playlist", http.StatusBadGateway)
		return
	}
	if hit {
		metrics.PlaylistCacheHits.Inc()
	} else {
		metrics.PlaylistCacheMisses.Inc()
	}
	w.Header().Set("Content-Type", playlistContentType)
	_, _ = w.Write([]byte(text))
}

// ServeSegment handles GET /segment?u=<encoded-absolute-url>&i=<seq>. Raw
// bytes, no cache, no retry: live segments expire too fast for either to pay.
func (rl *Relay) ServeSegment(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("u")
	if target == "" {
		http.Error(w, "missing u param", http.StatusBadRequest)
		return
	}
	if !safeurl.IsHTTPOrHTTPS(target) {
		http.Error(w, "unsupported url scheme", http.StatusBadRequest)
		return
	}
	body, err := rl.fetchBytes(r.Context(), target)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("segment").Inc()
		log.Printf("relay: segment fetch failed for %s: %v", target, err)
		http.Error(w, "failed to fetch segment", http.StatusBadGateway)
		return
	}
	metrics.SegmentBytes.Add(float64(len(body)))
	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write(body)
}

// fetchText fetches a playlist with a single retry on 429/5xx.
func (rl *Relay) fetchText(ctx context.Context, target string) (string, error) {
	release := rl.sem().Acquire(target)
	defer release()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	httpclient.BrowserHeaders(req, rl.UserAgent)
	resp, err := httpclient.DoWithRetry(ctx, rl.client(), req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return "", err
	}
	body, err := httpclient.ReadAll(resp)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", httpclient.StatusError(resp)
	}
	return string(body), nil
}

// fetchBytes fetches a segment with no retry.
func (rl *Relay) fetchBytes(ctx context.Context, target string) ([]byte, error) {
	release := rl.sem().Acquire(target)
	defer release()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	httpclient.BrowserHeaders(req, rl.UserAgent)
	resp, err := rl.client().Do(req)
	if err != nil {
		return nil, err
	}
	body, err := httpclient.ReadAll(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.StatusError(resp)
	}
	return body, nil
}

func (rl *Relay) client() *http.Client {
	if rl.Client != nil {
		return rl.Client
	}
	return httpclient.Default()
}

func (rl *Relay) sem() *httpclient.HostSemaphore {
	if rl.HostSem != nil {
		return rl.HostSem
	}
	return httpclient.GlobalHostSem
}
