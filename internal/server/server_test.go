package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/flexstream/flex-stream/internal/capture"
	"github.com/flexstream/flex-stream/internal/embed"
	"github.com/flexstream/flex-stream/internal/relay"
	"github.com/flexstream/flex-stream/internal/resolver"
	"github.com/flexstream/flex-stream/internal/tmdb"
)

type fakeCatalog struct {
	candidates []tmdb.Candidate
	externalID string
	seasons    []tmdb.Season
	episodes   []tmdb.Episode
}

func (f *fakeCatalog) Search(ctx context.Context, query string) ([]tmdb.Candidate, error) {
	return f.candidates, nil
}

func (f *fakeCatalog) ExternalID(ctx context.Context, id int, mediaType string) (string, error) {
	return f.externalID, nil
}

func (f *fakeCatalog) Seasons(ctx context.Context, id int) ([]tmdb.Season, error) {
	return f.seasons, nil
}

func (f *fakeCatalog) EpisodesForSeason(ctx context.Context, id, season int) ([]tmdb.Episode, error) {
	return f.episodes, nil
}

type fakeCapturer struct {
	manifestURL string
	err         error
	gotPage     string
}

func (f *fakeCapturer) FirstManifestURL(ctx context.Context, pageURL string) (string, error) {
	f.gotPage = pageURL
	return f.manifestURL, f.err
}

type fakeSelector struct {
	finalURL string
	err      error
}

func (f *fakeSelector) FetchBest(ctx context.Context, manifestURL string) (string, error) {
	return f.finalURL, f.err
}

func newTestServer(cat *fakeCatalog, embedBase string, capt ManifestCapturer, sel VariantSelector) *Server {
	return &Server{
		Catalog:  cat,
		Resolver: resolver.New(cat),
		Embed:    &embed.Locator{BaseURL: embedBase, UserAgent: "UA"},
		Capture:  capt,
		Variants: sel,
		Relay:    relay.New("UA", 5*time.Second, 5*time.Second),
	}
}

func TestResolve_endToEnd(t *testing.T) {
	// The embed origin serves a page whose iframe points at the player.
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/tv" {
			t.Errorf("embed path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("imdb") != "tt0042" || q.Get("season") != "1" || q.Get("episode") != "2" {
			t.Errorf("embed query = %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, `<html><iframe src="https://player.example/watch"></iframe></html>`)
	}))
	defer origin.Close()

	cat := &fakeCatalog{
		candidates: []tmdb.Candidate{{ID: 7, Name: "Example Show", MediaType: "tv"}},
		externalID: "tt0042",
	}
	capt := &fakeCapturer{manifestURL: "https://cdn.example/master.m3u8"}
	sel := &fakeSelector{finalURL: "https://cdn.example/1080p/index.m3u8"}
	srv := newTestServer(cat, origin.URL, capt, sel)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/resolve?title=Example+Show&season=1&episode=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := readAll(t, resp)
	if body != "https://cdn.example/1080p/index.m3u8" {
		t.Fatalf("body = %q", body)
	}
	if capt.gotPage != "https://player.example/watch" {
		t.Fatalf("capture page = %q", capt.gotPage)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestResolve_missingTitle(t *testing.T) {
	srv := newTestServer(&fakeCatalog{}, "http://unused", &fakeCapturer{}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resolve", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestResolve_noMatchIs404(t *testing.T) {
	cat := &fakeCatalog{candidates: []tmdb.Candidate{{ID: 1, Name: "Entirely Different", MediaType: "movie"}}}
	srv := newTestServer(cat, "http://unused", &fakeCapturer{}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resolve?title=zzzz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestResolve_captureTimeoutIs404(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<iframe src="https://player.example/watch"></iframe>`)
	}))
	defer origin.Close()

	cat := &fakeCatalog{
		candidates: []tmdb.Candidate{{ID: 7, Name: "Example Show", MediaType: "movie"}},
		externalID: "tt0042",
	}
	srv := newTestServer(cat, origin.URL, &fakeCapturer{err: capture.ErrCaptureTimeout}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resolve?title=Example+Show", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestResolve_noIframeIs404(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><p>nothing here</p></html>`)
	}))
	defer origin.Close()

	cat := &fakeCatalog{
		candidates: []tmdb.Candidate{{ID: 7, Name: "Example Show", MediaType: "movie"}},
		externalID: "tt0042",
	}
	srv := newTestServer(cat, origin.URL, &fakeCapturer{}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resolve?title=Example+Show", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestManifest_rewritesThroughRelay(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:4.0,\nseg0.ts\n#EXTINF:4.0,\nseg1.ts\n#EXT-X-ENDLIST\n")
	}))
	defer upstream.Close()

	srv := newTestServer(&fakeCatalog{}, "http://unused", &fakeCapturer{}, &fakeSelector{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/manifest?url=" + url.QueryEscape(upstream.URL+"/index.m3u8"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/vnd.apple.mpegurl" {
		t.Fatalf("content type = %q", got)
	}
	body := readAll(t, resp)
	if !strings.Contains(body, "/segment?u=") {
		t.Fatalf("playlist not rewritten:\n%s", body)
	}
	want := url.QueryEscape(upstream.URL + "/seg1.ts")
	if !strings.Contains(body, want) {
		t.Fatalf("playlist missing %s:\n%s", want, body)
	}
}

func TestAutocomplete_topFive(t *testing.T) {
	cat := &fakeCatalog{candidates: []tmdb.Candidate{
		{ID: 1, Name: "Alpha One", MediaType: "movie"},
		{ID: 2, Name: "Alpha Two", MediaType: "tv"},
		{ID: 3, Name: "Alpha Three", MediaType: "movie"},
		{ID: 4, Name: "Alpha Four", MediaType: "tv"},
		{ID: 5, Name: "Alpha Five", MediaType: "movie"},
		{ID: 6, Name: "Alpha Six", MediaType: "tv"},
	}}
	srv := newTestServer(cat, "http://unused", &fakeCapturer{}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/autocomplete?q=alpha", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var names []string
	if err := json.Unmarshal(rec.Body.Bytes(), &names); err != nil {
		t.Fatal(err)
	}
	if len(names) != 5 {
		t.Fatalf("got %d names, want 5: %v", len(names), names)
	}
}

func TestAutocomplete_emptyQuery(t *testing.T) {
	srv := newTestServer(&fakeCatalog{}, "http://unused", &fakeCapturer{}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/autocomplete?q=", nil))
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %q", got)
	}
}

func TestSeasons_tvShow(t *testing.T) {
	cat := &fakeCatalog{
		candidates: []tmdb.Candidate{{ID: 9, Name: "Example Show", MediaType: "tv"}},
		externalID: "tt0042",
		seasons:    []tmdb.Season{{Number: 1, Name: "Season 1"}, {Number: 2, Name: "Season 2"}},
	}
	srv := newTestServer(cat, "http://unused", &fakeCapturer{}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/seasons?title=Example+Show", nil))
	var got seasonsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.TMDBID != 9 || len(got.Seasons) != 2 {
		t.Fatalf("response = %+v", got)
	}
}

func TestSeasons_movieIsEmpty(t *testing.T) {
	cat := &fakeCatalog{
		candidates: []tmdb.Candidate{{ID: 9, Name: "Example Film", MediaType: "movie"}},
		externalID: "tt0042",
	}
	srv := newTestServer(cat, "http://unused", &fakeCapturer{}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/seasons?title=Example+Film", nil))
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %q", got)
	}
}

func TestEpisodes_badParamsAreEmpty(t *testing.T) {
	srv := newTestServer(&fakeCatalog{}, "http://unused", &fakeCapturer{}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/episodes?tmdb_id=abc&season_number=1", nil))
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %q", got)
	}
}

func TestEpisodes_listsAired(t *testing.T) {
	cat := &fakeCatalog{episodes: []tmdb.Episode{
		{Number: 1, Name: "Pilot", AirDate: "2024-01-01"},
		{Number: 2, Name: "Next", AirDate: "2024-01-08"},
	}}
	srv := newTestServer(cat, "http://unused", &fakeCapturer{}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/episodes?tmdb_id=9&season_number=1", nil))
	var eps []tmdb.Episode
	if err := json.Unmarshal(rec.Body.Bytes(), &eps); err != nil {
		t.Fatal(err)
	}
	if len(eps) != 2 || eps[0].Name != "Pilot" {
		t.Fatalf("episodes = %+v", eps)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeCatalog{}, "http://unused", &fakeCapturer{}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "ok" {
		t.Fatalf("status field = %q", got["status"])
	}
}

func TestOptionsPreflight(t *testing.T) {
	srv := newTestServer(&fakeCatalog{}, "http://unused", &fakeCapturer{}, &fakeSelector{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/manifest", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
