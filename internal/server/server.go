// Package server exposes the capture-and-relay pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flexstream/flex-stream/internal/capture"
	"github.com/flexstream/flex-stream/internal/embed"
	"github.com/flexstream/flex-stream/internal/relay"
	"github.com/flexstream/flex-stream/internal/resolver"
	"github.com/flexstream/flex-stream/internal/tmdb"
)

// ManifestCapturer observes a player page and reports the first manifest URL
// it requests. Satisfied by *capture.Capturer.
type ManifestCapturer interface {
	FirstManifestURL(ctx context.Context, pageURL string) (string, error)
}

// VariantSelector picks the best media playlist out of a manifest. Satisfied
// by *hls.Selector.
type VariantSelector interface {
	FetchBest(ctx context.Context, manifestURL string) (string, error)
}

// Catalog is the metadata surface the season/episode endpoints need beyond
// what resolver.Catalog covers. Satisfied by *tmdb.Client.
type Catalog interface {
	resolver.Catalog
	Seasons(ctx context.Context, id int) ([]tmdb.Season, error)
	EpisodesForSeason(ctx context.Context, id, season int) ([]tmdb.Episode, error)
}

// Server wires resolution, capture, variant selection and the relay behind
// one mux. All fields must be set before Run.
type Server struct {
	Addr     string
	Catalog  Catalog
	Resolver *resolver.Resolver
	Embed    *embed.Locator
	Capture  ManifestCapturer
	Variants VariantSelector
	Relay    *relay.Relay

	// health state; set once Run has bound the listener.
	healthMu    sync.RWMutex
	healthSince time.Time
}

// Handler builds the request mux. Split from Run so tests can drive the
// endpoints through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest", s.Relay.ServePlaylist)
	mux.HandleFunc("/segment", s.Relay.ServeSegment)
	mux.HandleFunc("/resolve", s.handleResolve)
	mux.HandleFunc("/autocomplete", s.handleAutocomplete)
	mux.HandleFunc("/seasons", s.handleSeasons)
	mux.HandleFunc("/episodes", s.handleEpisodes)
	mux.Handle("/healthz", s.serveHealth())
	mux.Handle("/metrics", promhttp.Handler())
	return logRequests(cors(mux))
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = ":5000"
	}

	s.healthMu.Lock()
	s.healthSince = time.Now()
	s.healthMu.Unlock()

	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Print("Shutting down ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
		<-serverErr
		return nil
	}
}

// handleResolve runs the whole pipeline for one title and answers with the
// final media-playlist URL as plain text. Every stage that comes up empty is
// a 404: the title may be valid and simply not carried by the embed source.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		http.Error(w, "missing title param", http.StatusBadRequest)
		return
	}
	season, _ := strconv.Atoi(r.URL.Query().Get("season"))
	episode, _ := strconv.Atoi(r.URL.Query().Get("episode"))

	ctx := r.Context()
	target, err := s.Resolver.Resolve(ctx, title)
	if err != nil {
		if errors.Is(err, resolver.ErrNoMatch) {
			http.Error(w, "no match", http.StatusNotFound)
			return
		}
		log.Printf("Resolve %q: catalog lookup failed: %v", title, err)
		http.Error(w, "catalog lookup failed", http.StatusBadGateway)
		return
	}

	embedURL := s.Embed.URL(target.ExternalID, target.MediaType, season, episode)
	pageURL, err := s.Embed.PlayerIframe(ctx, embedURL)
	if err != nil {
		log.Printf("Resolve %q: player page not found: %v", title, err)
		http.Error(w, "player page not found", http.StatusNotFound)
		return
	}

	manifestURL, err := s.Capture.FirstManifestURL(ctx, pageURL)
	if err != nil {
		if errors.Is(err, capture.ErrCaptureTimeout) {
			http.Error(w, "no stream observed", http.StatusNotFound)
			return
		}
		log.Printf("Resolve %q: capture failed: %v", title, err)
		http.Error(w, "capture failed", http.StatusBadGateway)
		return
	}

	final, err := s.Variants.FetchBest(ctx, manifestURL)
	if err != nil {
		log.Printf("Resolve %q: variant selection failed: %v", title, err)
		http.Error(w, "variant selection failed", http.StatusBadGateway)
		return
	}

	log.Printf("Resolved %q to %s", title, final)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(final))
}

// handleAutocomplete suggests up to five catalog names for a partial query.
// An empty query answers an empty array rather than an error.
func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, []string{})
		return
	}
	names, err := s.Resolver.Autocomplete(r.Context(), query, 5)
	if err != nil {
		log.Printf("Autocomplete %q: %v", query, err)
		writeJSON(w, []string{})
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, names)
}

type seasonsResponse struct {
	TMDBID  int           `json:"tmdb_id"`
	Seasons []tmdb.Season `json:"seasons"`
}

// handleSeasons resolves a title and lists its seasons, specials excluded.
// Titles that miss or resolve to a movie answer an empty array.
func (s *Server) handleSeasons(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeJSON(w, []tmdb.Season{})
		return
	}
	ctx := r.Context()
	target, err := s.Resolver.Resolve(ctx, title)
	if err != nil || target.MediaType != "tv" {
		writeJSON(w, []tmdb.Season{})
		return
	}
	seasons, err := s.Catalog.Seasons(ctx, target.CatalogID)
	if err != nil {
		log.Printf("Seasons for %q (id %d): %v", title, target.CatalogID, err)
		writeJSON(w, []tmdb.Season{})
		return
	}
	if seasons == nil {
		seasons = []tmdb.Season{}
	}
	writeJSON(w, seasonsResponse{TMDBID: target.CatalogID, Seasons: seasons})
}

// handleEpisodes lists the already-aired episodes of one season. Missing or
// non-numeric params answer an empty array.
func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	id, errID := strconv.Atoi(r.URL.Query().Get("tmdb_id"))
	season, errSeason := strconv.Atoi(r.URL.Query().Get("season_number"))
	if errID != nil || errSeason != nil {
		writeJSON(w, []tmdb.Episode{})
		return
	}
	episodes, err := s.Catalog.EpisodesForSeason(r.Context(), id, season)
	if err != nil {
		log.Printf("Episodes for id %d season %d: %v", id, season, err)
		writeJSON(w, []tmdb.Episode{})
		return
	}
	if episodes == nil {
		episodes = []tmdb.Episode{}
	}
	writeJSON(w, episodes)
}

func (s *Server) serveHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.healthMu.RLock()
		since := s.healthSince
		s.healthMu.RUnlock()
		if since.IsZero() {
			since = time.Now()
		}
		writeJSON(w, map[string]any{
			"status": "ok",
			"since":  since.Format(time.RFC3339),
		})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}
