// Package resolver matches free-text titles against the metadata catalog.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	levenshtein "github.com/ka-weihe/fast-levenshtein"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/flexstream/flex-stream/internal/tmdb"
)

// ErrNoMatch means the catalog returned nothing scoring above the acceptance
// threshold. Surfaced to callers as "not found", not a server error.
var ErrNoMatch = errors.New("no acceptable catalog match")

// AcceptScore is the minimum similarity (exclusive) for a candidate to win.
const AcceptScore = 60

// Catalog is the external metadata lookup the resolver consumes.
type Catalog interface {
	Search(ctx context.Context, query string) ([]tmdb.Candidate, error)
	ExternalID(ctx context.Context, id int, mediaType string) (string, error)
}

// Target identifies the media a user asked for, resolved far enough to build
// an embed URL. Season/Episode stay zero for movies.
type Target struct {
	CatalogID  int
	MediaType  string // "movie" or "tv"
	ExternalID string // IMDb id, e.g. tt0042
	Season     int
	Episode    int
}

// Resolver scores catalog candidates against user queries.
type Resolver struct {
	catalog Catalog
}

func New(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve finds the best catalog candidate for query and its external id.
// Returns ErrNoMatch when nothing scores above AcceptScore or the winning
// entry has no external cross-reference.
func (r *Resolver) Resolve(ctx context.Context, query string) (Target, error) {
	cands, err := r.catalog.Search(ctx, query)
	if err != nil {
		return Target{}, fmt.Errorf("resolve %q: %w", query, err)
	}
	best, score := bestCandidate(query, cands)
	if score <= AcceptScore {
		return Target{}, ErrNoMatch
	}
	ext, err := r.catalog.ExternalID(ctx, best.ID, best.MediaType)
	if err != nil {
		return Target{}, fmt.Errorf("resolve %q: %w", query, err)
	}
	if ext == "" {
		return Target{}, ErrNoMatch
	}
	return Target{CatalogID: best.ID, MediaType: best.MediaType, ExternalID: ext}, nil
}

// Autocomplete returns up to k distinct candidate names for a partial query,
// best-scoring first. No acceptance threshold: suggestions may be weak.
func (r *Resolver) Autocomplete(ctx context.Context, query string, k int) ([]string, error) {
	cands, err := r.catalog.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("autocomplete %q: %w", query, err)
	}
	type scored struct {
		name  string
		score int
		sub   bool // query is a subsequence of the name
		idx   int
	}
	seen := make(map[string]bool, len(cands))
	list := make([]scored, 0, len(cands))
	for i, c := range cands {
		key := strings.ToLower(c.Name)
		if c.Name == "" || seen[key] {
			continue
		}
		seen[key] = true
		list = append(list, scored{
			name:  c.Name,
			score: TokenSortRatio(query, c.Name),
			sub:   fuzzy.MatchNormalizedFold(query, c.Name),
			idx:   i,
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		if list[i].sub != list[j].sub {
			return list[i].sub
		}
		return list[i].idx < list[j].idx
	})
	if k > 0 && len(list) > k {
		list = list[:k]
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.name
	}
	return out, nil
}

// bestCandidate returns the top-scoring candidate and its score, or score 0
// when cands is empty. First-encountered wins ties.
func bestCandidate(query string, cands []tmdb.Candidate) (tmdb.Candidate, int) {
	var best tmdb.Candidate
	bestScore := -1
	for _, c := range cands {
		if s := TokenSortRatio(query, c.Name); s > bestScore {
			best, bestScore = c, s
		}
	}
	if bestScore < 0 {
		bestScore = 0
	}
	return best, bestScore
}

// TokenSortRatio is a token-order-insensitive similarity on a 0-100 scale:
// both strings are lowercased, split into words, sorted, rejoined, and
// compared by Levenshtein distance. "show example" scores 100 against
// "Example Show".
func TokenSortRatio(a, b string) int {
	na, nb := sortTokens(a), sortTokens(b)
	if na == nb {
		return 100
	}
	longest := max(len([]rune(na)), len([]rune(nb)))
	if longest == 0 {
		return 100
	}
	d := levenshtein.Distance(na, nb)
	return (longest - d) * 100 / longest
}

func sortTokens(s string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	sort.Strings(fields)
	return strings.Join(fields, " ")
}
