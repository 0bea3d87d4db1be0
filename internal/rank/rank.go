// Package rank predicts star ratings for unrated tracks from the ratings of
// their nearest rated neighbours in feature space.
package rank

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/franz/crate-digger/internal/store"
)

// ErrTooFewRatings is returned when fewer than MinRatings tracks are usable
var ErrTooFewRatings = errors.New("not enough rated tracks")

// Config controls neighbour selection
type Config struct {
	// K is the number of rated neighbours averaged per prediction
	K int

	// MinRatings is the number of rated tracks with features required
	// before predictions are made at all
	MinRatings int

	// MinSimilarity drops neighbours at or below this cosine similarity
	MinSimilarity float64
}

// DefaultConfig returns the default ranker configuration
func DefaultConfig() Config {
	return Config{
		K:             10,
		MinRatings:    20,
		MinSimilarity: 0,
	}
}

// Vectors reads stored feature vectors
type Vectors interface {
	Get(id string) ([]float32, error)
}

// Example is one rated feature vector
type Example struct {
	Vector []float32
	Stars  int
}

// Ranker is a similarity-weighted k-nearest-neighbour rating predictor.
//
// For a query q the prediction is
//
//	sum_{n in N(q)} sim(q, n) * stars(n) / sum_{n in N(q)} sim(q, n)
//
// where N(q) holds the K most similar rated tracks above MinSimilarity.
// Queries without any such neighbour get the mean rating.
type Ranker struct {
	cfg   Config
	vecs  [][]float64 // unit length
	stars []float64
	mean  float64
}

type neighbour struct {
	stars      float64
	similarity float64
}

// New builds a ranker from rated examples. Zero vectors carry no direction
// and are ignored.
func New(cfg Config, examples []Example) (*Ranker, error) {
	if cfg.K <= 0 {
		cfg.K = DefaultConfig().K
	}
	if cfg.MinRatings <= 0 {
		cfg.MinRatings = 1
	}

	r := &Ranker{cfg: cfg}
	dim := -1
	for _, ex := range examples {
		if ex.Stars < store.MinStars || ex.Stars > store.MaxStars {
			return nil, fmt.Errorf("%w: %d", store.ErrInvalidRating, ex.Stars)
		}
		if dim == -1 {
			dim = len(ex.Vector)
		} else if len(ex.Vector) != dim {
			return nil, fmt.Errorf("example dimension %d does not match %d", len(ex.Vector), dim)
		}

		v := unit(ex.Vector)
		if v == nil {
			continue
		}
		r.vecs = append(r.vecs, v)
		r.stars = append(r.stars, float64(ex.Stars))
	}

	if len(r.vecs) < cfg.MinRatings {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewRatings, len(r.vecs), cfg.MinRatings)
	}
	r.mean = floats.Sum(r.stars) / float64(len(r.stars))

	return r, nil
}

// FromCatalog builds a ranker from rated catalog tracks and their stored
// vectors. Rated tracks without features are skipped.
func FromCatalog(cfg Config, rated []*store.Track, vectors Vectors) (*Ranker, error) {
	examples := make([]Example, 0, len(rated))
	for _, t := range rated {
		if t.Stars == nil {
			continue
		}
		v, err := vectors.Get(t.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read features for %s: %w", t.ID, err)
		}
		if v == nil {
			continue
		}
		examples = append(examples, Example{Vector: v, Stars: *t.Stars})
	}
	return New(cfg, examples)
}

// Len returns the number of rated examples in use
func (r *Ranker) Len() int {
	return len(r.vecs)
}

// Score predicts a star rating for every vector
func (r *Ranker) Score(vecs [][]float32) ([]float64, error) {
	dim := len(r.vecs[0])
	out := make([]float64, len(vecs))

	for i, q := range vecs {
		if len(q) != dim {
			return nil, fmt.Errorf("query dimension %d does not match %d", len(q), dim)
		}
		out[i] = r.predict(unit(q))
	}

	return out, nil
}

func (r *Ranker) predict(q []float64) float64 {
	if q == nil {
		return r.mean
	}

	neighbours := make([]neighbour, 0, len(r.vecs))
	for i, v := range r.vecs {
		sim := floats.Dot(q, v)
		if sim <= r.cfg.MinSimilarity {
			continue
		}
		neighbours = append(neighbours, neighbour{stars: r.stars[i], similarity: sim})
	}
	if len(neighbours) == 0 {
		return r.mean
	}

	sort.Slice(neighbours, func(i, j int) bool {
		return neighbours[i].similarity > neighbours[j].similarity
	})
	if len(neighbours) > r.cfg.K {
		neighbours = neighbours[:r.cfg.K]
	}

	var num, den float64
	for _, n := range neighbours {
		num += n.similarity * n.stars
		den += n.similarity
	}
	return num / den
}

// unit converts v to float64 and scales it to unit length, or returns nil
// for a zero or non-finite vector.
func unit(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	n := floats.Norm(out, 2)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	floats.Scale(1/n, out)
	return out
}
