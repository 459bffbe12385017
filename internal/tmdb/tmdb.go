// Package tmdb is the metadata catalog client. The resolver consumes it
// through an interface; this is the concrete implementation against the
// TMDb v3 API.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/flexstream/flex-stream/internal/httpclient"
)

// Candidate is one multi-search result. MediaType is "movie" or "tv".
type Candidate struct {
	ID        int
	Name      string // title for movies, name for series
	MediaType string
}

// Season is one series season.
type Season struct {
	Number int    `json:"season_number"`
	Name   string `json:"name"`
}

// Episode is one aired episode of a season.
type Episode struct {
	Number  int    `json:"episode_number"`
	Name    string `json:"name"`
	AirDate string `json:"air_date"`
}

// Client talks to the TMDb API. Zero value is not usable; use New.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// New returns a Client against baseURL with the given key and per-request
// timeout. TMDb allows ~50 req/s per key; 20/s with a small burst keeps a
// busy relay well clear of 429s.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    httpclient.WithTimeout(timeout),
		limiter: rate.NewLimiter(rate.Limit(20), 10),
		now:     time.Now,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	u := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog %s: %w", path, httpclient.StatusError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("catalog %s: decode: %w", path, err)
	}
	return nil
}

// Search runs a multi-type title search. Results other than movie/tv
// (people, collections) are dropped.
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	var payload struct {
		Results []struct {
			ID        int    `json:"id"`
			Title     string `json:"title"`
			Name      string `json:"name"`
			MediaType string `json:"media_type"`
		} `json:"results"`
	}
	q := url.Values{}
	q.Set("query", query)
	if err := c.get(ctx, "/search/multi", q, &payload); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(payload.Results))
	for _, r := range payload.Results {
		switch r.MediaType {
		case "movie":
			out = append(out, Candidate{ID: r.ID, Name: r.Title, MediaType: "movie"})
		case "tv":
			out = append(out, Candidate{ID: r.ID, Name: r.Name, MediaType: "tv"})
		}
	}
	return out, nil
}

// ExternalID returns the IMDb cross-reference id for a catalog entry, or ""
// when the catalog has none.
func (c *Client) ExternalID(ctx context.Context, id int, mediaType string) (string, error) {
	var payload struct {
		IMDBID string `json:"imdb_id"`
	}
	path := fmt.Sprintf("/%s/%d/external_ids", mediaType, id)
	if err := c.get(ctx, path, nil, &payload); err != nil {
		return "", err
	}
	return payload.IMDBID, nil
}

// Seasons lists a series' seasons with specials (season 0) pruned.
func (c *Client) Seasons(ctx context.Context, id int) ([]Season, error) {
	var payload struct {
		Seasons []Season `json:"seasons"`
	}
	if err := c.get(ctx, fmt.Sprintf("/tv/%d", id), nil, &payload); err != nil {
		return nil, err
	}
	out := make([]Season, 0, len(payload.Seasons))
	for _, s := range payload.Seasons {
		if s.Number != 0 {
			out = append(out, s)
		}
	}
	return out, nil
}

// EpisodesForSeason returns the season's episodes that have already aired.
// Episodes with no air date are treated as unaired.
func (c *Client) EpisodesForSeason(ctx context.Context, id, season int) ([]Episode, error) {
	var payload struct {
		Episodes []Episode `json:"episodes"`
	}
	path := fmt.Sprintf("/tv/%d/season/%d", id, season)
	if err := c.get(ctx, path, nil, &payload); err != nil {
		return nil, err
	}
	today := c.today()
	out := make([]Episode, 0, len(payload.Episodes))
	for _, ep := range payload.Episodes {
		if ep.AirDate == "" {
			continue
		}
		air, err := time.Parse("2006-01-02", ep.AirDate)
		if err != nil {
			continue
		}
		if !air.After(today) {
			out = append(out, ep)
		}
	}
	return out, nil
}

// SeriesReleased reports whether any season of the series has at least one
// aired episode. Deliberately coarse: it does not check the requested
// episode, only that something somewhere has aired.
func (c *Client) SeriesReleased(ctx context.Context, id int) (bool, error) {
	seasons, err := c.Seasons(ctx, id)
	if err != nil {
		return false, err
	}
	for _, s := range seasons {
		eps, err := c.EpisodesForSeason(ctx, id, s.Number)
		if err != nil {
			return false, err
		}
		if len(eps) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) today() time.Time {
	t := c.now().UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
