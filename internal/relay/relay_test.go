package relay

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flexstream/flex-stream/internal/cache"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXTINF:6.000,
seg0.ts
#EXTINF:6.000,
seg1.ts
#EXTINF:6.000,
https://other.example/seg2.ts

#EXT-X-ENDLIST`

func newTestRelay(upstream *httptest.Server) *Relay {
	return &Relay{
		UserAgent: "TestUA/1.0",
		Client:    upstream.Client(),
		Cache:     cache.New(5 * time.Second),
	}
}

func TestRewrite(t *testing.T) {
	got, err := Rewrite("https://cdn.example/v/pl.m3u8", mediaPlaylist)
	if err != nil {
		t.Fatal(err)
	}
	gotLines := strings.Split(got, "\n")
	origLines := strings.Split(mediaPlaylist, "\n")
	if len(gotLines) != len(origLines) {
		t.Fatalf("line count changed: %d vs %d", len(gotLines), len(origLines))
	}
	// Directive and blank lines byte-identical.
	for i, orig := range origLines {
		trimmed := strings.TrimSpace(orig)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			if gotLines[i] != orig {
				t.Errorf("line %d changed: %q -> %q", i, orig, gotLines[i])
			}
		}
	}
	wantSegs := []string{
		"https://cdn.example/v/seg0.ts",
		"https://cdn.example/v/seg1.ts",
		"https://other.example/seg2.ts",
	}
	var seen int
	for _, line := range gotLines {
		if !strings.HasPrefix(line, "/segment?") {
			continue
		}
		q, err := url.ParseQuery(strings.TrimPrefix(line, "/segment?"))
		if err != nil {
			t.Fatalf("bad proxy line %q: %v", line, err)
		}
		if got := q.Get("u"); got != wantSegs[seen] {
			t.Errorf("segment %d decodes to %q, want %q", seen, got, wantSegs[seen])
		}
		if got := q.Get("i"); got != strconv.Itoa(seen) {
			t.Errorf("segment %d sequence = %q", seen, got)
		}
		seen++
	}
	if seen != 3 {
		t.Errorf("rewritten segments = %d, want 3", seen)
	}
}

func TestServePlaylist_rewritesAndCaches(t *testing.T) {
	var fetches atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write([]byte(mediaPlaylist))
	}))
	defer upstream.Close()

	rl := newTestRelay(upstream)
	target := upstream.URL + "/v/pl.m3u8"

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/manifest?url="+url.QueryEscape(target), nil)
		w := httptest.NewRecorder()
		rl.ServePlaylist(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("code = %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
			t.Errorf("content type = %q", ct)
		}
		if !strings.Contains(w.Body.String(), "/segment?u=") {
			t.Errorf("body not rewritten:\n%s", w.Body.String())
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("upstream fetches = %d, want 1 (TTL cache)", n)
	}
}

func TestServePlaylist_concurrentSingleFetch(t *testing.T) {
	var fetches atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(mediaPlaylist))
	}))
	defer upstream.Close()

	rl := newTestRelay(upstream)
	target := url.QueryEscape(upstream.URL + "/v/pl.m3u8")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/manifest?url="+target, nil)
			w := httptest.NewRecorder()
			rl.ServePlaylist(w, req)
			if w.Code != http.StatusOK {
				t.Errorf("code = %d", w.Code)
			}
		}()
	}
	wg.Wait()
	if n := fetches.Load(); n != 1 {
		t.Errorf("upstream fetches = %d, want exactly 1 (coalesced)", n)
	}
}

func TestServePlaylist_missingParam(t *testing.T) {
	rl := &Relay{Cache: cache.New(time.Second)}
	w := httptest.NewRecorder()
	rl.ServePlaylist(w, httptest.NewRequest(http.MethodGet, "/manifest", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d", w.Code)
	}
}

func TestServePlaylist_rejectsNonHTTPScheme(t *testing.T) {
	rl := &Relay{Cache: cache.New(time.Second)}
	w := httptest.NewRecorder()
	rl.ServePlaylist(w, httptest.NewRequest(http.MethodGet, "/manifest?url="+url.QueryEscape("file:///etc/passwd"), nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d", w.Code)
	}
}

func TestServePlaylist_upstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	rl := newTestRelay(upstream)
	req := httptest.NewRequest(http.MethodGet, "/manifest?url="+url.QueryEscape(upstream.URL), nil)
	w := httptest.NewRecorder()
	rl.ServePlaylist(w, req)
	if w.Code != http.StatusBadGateway {
		t.Errorf("code = %d, want 502", w.Code)
	}
}

func TestServeSegment(t *testing.T) {
	payload := []byte{0x47, 0x40, 0x11, 0x10, 0x00, 0x42}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v/seg0.ts" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("User-Agent") != "TestUA/1.0" {
			t.Errorf("UA = %q", r.Header.Get("User-Agent"))
		}
		w.Write(payload)
	}))
	defer upstream.Close()

	rl := newTestRelay(upstream)
	seg := url.QueryEscape(upstream.URL + "/v/seg0.ts")
	req := httptest.NewRequest(http.MethodGet, "/segment?u="+seg+"&i=0", nil)
	w := httptest.NewRecorder()
	rl.ServeSegment(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/MP2T" {
		t.Errorf("content type = %q", ct)
	}
	if cl := w.Header().Get("Content-Length"); cl != "6" {
		t.Errorf("content length = %q", cl)
	}
	if got := w.Body.Bytes(); string(got) != string(payload) {
		t.Errorf("bytes modified in transit: %v", got)
	}
}

func TestServeSegment_upstreamFailureIs502(t *testing.T) {
	var fetches atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer upstream.Close()

	rl := newTestRelay(upstream)
	req := httptest.NewRequest(http.MethodGet, "/segment?u="+url.QueryEscape(upstream.URL+"/s.ts"), nil)
	w := httptest.NewRecorder()
	rl.ServeSegment(w, req)
	if w.Code != http.StatusBadGateway {
		t.Errorf("code = %d, want 502", w.Code)
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("segment fetches must never retry; got %d", n)
	}
}

func TestServeSegment_missingParam(t *testing.T) {
	rl := &Relay{Cache: cache.New(time.Second)}
	w := httptest.NewRecorder()
	rl.ServeSegment(w, httptest.NewRequest(http.MethodGet, "/segment", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d", w.Code)
	}
}
