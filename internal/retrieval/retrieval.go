// Package retrieval answers similarity queries with optional tempo and
// harmonic constraints applied on top of the raw index ranking.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/franz/crate-digger/internal/index"
	"github.com/franz/crate-digger/internal/store"
	"github.com/franz/crate-digger/internal/theory"
	"github.com/franz/crate-digger/internal/util"
)

// OverFetch is the candidate multiplier applied before filtering. Filtering
// may still leave fewer than K results.
const OverFetch = 3

// DefaultBPMTolerance is the tempo window half-width used when none is given
const DefaultBPMTolerance = 6.0

// ErrNoFeatures is returned when a seed track has no stored vector
var ErrNoFeatures = errors.New("no features for track")

// Searcher is the similarity index
type Searcher interface {
	Search(vec []float32, k int) ([]index.Match, error)
}

// Catalog is the metadata lookup used for filtering
type Catalog interface {
	GetTrack(id string) (*store.Track, error)
	GetTrackByPath(path string) (*store.Track, error)
	GetTracks(ids []string) (map[string]*store.Track, error)
}

// Vectors reads stored feature vectors
type Vectors interface {
	Get(id string) ([]float32, error)
}

// Ranker predicts a preference score per feature vector. Results are
// re-ordered by (prediction, similarity) when a ranker is configured.
type Ranker interface {
	Score(vecs [][]float32) ([]float64, error)
}

// Filter constrains a query. Nil BPMCenter and empty Camelot disable the
// respective predicate.
type Filter struct {
	K            int
	BPMCenter    *float64
	BPMTolerance float64
	Camelot      string
	CamelotMode  string // theory.ModeSame or theory.ModeCompatible (default)
}

// Hit is one retrieval result
type Hit struct {
	ID        string
	Score     float64
	Predicted *float64 // set when re-ranked
	Track     *store.Track
}

// Config holds engine dependencies
type Config struct {
	Index   Searcher
	Catalog Catalog
	Vectors Vectors
	Ranker  Ranker // optional
}

// Engine combines the index with catalog metadata
type Engine struct {
	index   Searcher
	catalog Catalog
	vectors Vectors
	ranker  Ranker
}

// New creates a retrieval engine
func New(cfg *Config) *Engine {
	return &Engine{
		index:   cfg.Index,
		catalog: cfg.Catalog,
		vectors: cfg.Vectors,
		ranker:  cfg.Ranker,
	}
}

type predicate func(t *store.Track) bool

func buildPredicates(f Filter) ([]predicate, error) {
	var preds []predicate

	if f.BPMCenter != nil {
		if f.BPMTolerance < 0 || math.IsNaN(f.BPMTolerance) {
			return nil, fmt.Errorf("invalid bpm tolerance %v", f.BPMTolerance)
		}
		center, tol := *f.BPMCenter, f.BPMTolerance
		preds = append(preds, func(t *store.Track) bool {
			return t.BPM != nil && math.Abs(*t.BPM-center) <= tol
		})
	}

	if f.Camelot != "" {
		mode := f.CamelotMode
		if mode == "" {
			mode = theory.ModeCompatible
		}
		match, err := theory.CamelotMatcher(f.Camelot, mode)
		if err != nil {
			return nil, err
		}
		preds = append(preds, func(t *store.Track) bool {
			return match(t.Camelot)
		})
	}

	return preds, nil
}

// QueryFiltered returns at most f.K hits for vec, best first. Candidates are
// over-fetched, filtered conjunctively and truncated, so the index ranking
// is preserved among survivors. With a ranker the final hits are re-ordered.
func (e *Engine) QueryFiltered(ctx context.Context, vec []float32, f Filter) ([]Hit, error) {
	hits, err := e.filtered(ctx, vec, f)
	if err != nil {
		return nil, err
	}
	e.applyRanker(hits)
	return hits, nil
}

// filtered is QueryFiltered without re-ranking
func (e *Engine) filtered(ctx context.Context, vec []float32, f Filter) ([]Hit, error) {
	if f.K <= 0 {
		return []Hit{}, nil
	}

	preds, err := buildPredicates(f)
	if err != nil {
		return nil, err
	}

	fetch := f.K
	if len(preds) > 0 {
		fetch = f.K * OverFetch
	}
	matches, err := e.index.Search(vec, fetch)
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	meta, err := e.catalog.GetTracks(ids)
	if err != nil {
		return nil, fmt.Errorf("metadata lookup failed: %w", err)
	}

	hits := make([]Hit, 0, f.K)
	for _, m := range matches {
		t := meta[m.ID]
		if !accept(t, preds) {
			continue
		}
		hits = append(hits, Hit{ID: m.ID, Score: m.Score, Track: t})
		if len(hits) == f.K {
			break
		}
	}

	return hits, nil
}

// applyRanker re-orders the final result set. A failing ranker leaves the
// similarity order in place.
func (e *Engine) applyRanker(hits []Hit) {
	if e.ranker == nil {
		return
	}
	if err := e.rerank(hits); err != nil {
		util.WarnLog("Re-ranking disabled for this query: %v", err)
	}
}

// accept applies every predicate. Tracks missing from the catalog only pass
// when nothing is filtered.
func accept(t *store.Track, preds []predicate) bool {
	if len(preds) == 0 {
		return true
	}
	if t == nil {
		return false
	}
	for _, p := range preds {
		if !p(t) {
			return false
		}
	}
	return true
}

// rerank orders hits by predicted score then similarity, both descending
func (e *Engine) rerank(hits []Hit) error {
	if len(hits) == 0 {
		return nil
	}

	vecs := make([][]float32, len(hits))
	for i, h := range hits {
		v, err := e.vectors.Get(h.ID)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNoFeatures, h.ID)
		}
		vecs[i] = v
	}

	preds, err := e.ranker.Score(vecs)
	if err != nil {
		return err
	}
	if len(preds) != len(hits) {
		return fmt.Errorf("ranker returned %d scores for %d hits", len(preds), len(hits))
	}

	for i := range hits {
		p := preds[i]
		hits[i].Predicted = &p
	}
	sort.SliceStable(hits, func(i, j int) bool {
		pi, pj := *hits[i].Predicted, *hits[j].Predicted
		if pi != pj {
			return pi > pj
		}
		return hits[i].Score > hits[j].Score
	})
	return nil
}

// SimilarOptions configures a seed query
type SimilarOptions struct {
	Filter
	Harmonic    bool // apply the Camelot predicate, defaulting to the seed's label
	ExcludeSeed bool
}

// SimilarTo finds tracks like the seed track. When Harmonic is set and no
// Camelot label is given, the seed track's own label is used; a seed without
// a label disables the harmonic predicate.
func (e *Engine) SimilarTo(ctx context.Context, seedID string, opts SimilarOptions) ([]Hit, error) {
	vec, err := e.vectors.Get(seedID)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed vector: %w", err)
	}
	if vec == nil {
		return nil, fmt.Errorf("%w: %s (re-run build to include it)", ErrNoFeatures, seedID)
	}

	f := opts.Filter
	if !opts.Harmonic {
		f.Camelot = ""
	} else if f.Camelot == "" {
		seed, err := e.catalog.GetTrack(seedID)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed track: %w", err)
		}
		if seed != nil && seed.Camelot != "" {
			f.Camelot = seed.Camelot
		} else {
			util.WarnLog("Seed %s has no key estimate, harmonic filter skipped", seedID)
		}
	}

	want := f.K
	if opts.ExcludeSeed {
		f.K++
	}

	hits, err := e.filtered(ctx, vec, f)
	if err != nil {
		return nil, err
	}

	if opts.ExcludeSeed {
		out := hits[:0]
		for _, h := range hits {
			if h.ID != seedID {
				out = append(out, h)
			}
		}
		hits = out
		if len(hits) > want {
			hits = hits[:want]
		}
	}

	e.applyRanker(hits)
	return hits, nil
}

// ResolveSeed accepts a track ID or a cataloged path and returns the ID
func (e *Engine) ResolveSeed(seed string) (string, error) {
	if util.IsTrackID(seed) {
		return seed, nil
	}

	t, err := e.catalog.GetTrackByPath(seed)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", fmt.Errorf("%s is not in the catalog: %w", seed, util.ErrNotFound)
	}
	return t.ID, nil
}
