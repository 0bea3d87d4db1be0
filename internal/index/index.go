// Package index builds and queries the approximate nearest-neighbour index
// over normalized feature vectors. The index is a disposable cache: it is
// always rebuilt in full from the feature store.
package index

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/coder/hnsw"
	"github.com/franz/crate-digger/internal/featstore"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
)

// Defaults for graph construction and search
const (
	DefaultM              = 32
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
	DefaultSeed           = 42

	normEpsilon = 1e-9
)

// ErrDimension is returned when a vector does not match the index dimension
var ErrDimension = errors.New("vector dimension does not match index")

// Params are the graph tunables
type Params struct {
	M              int   // maximum neighbours per node
	EfConstruction int   // candidate list size while inserting
	EfSearch       int   // candidate list size while querying
	Seed           int64 // level assignment seed
}

// DefaultParams returns the default graph parameters
func DefaultParams() Params {
	return Params{
		M:              DefaultM,
		EfConstruction: DefaultEfConstruction,
		EfSearch:       DefaultEfSearch,
		Seed:           DefaultSeed,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.M < 2 {
		p.M = d.M
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = d.EfConstruction
	}
	if p.EfSearch <= 0 {
		p.EfSearch = d.EfSearch
	}
	return p
}

// Match is one search hit
type Match struct {
	ID    string
	Score float64 // 1 - squared L2 distance between unit vectors
}

// Index pairs the row-ordered ID list with the graph built over the same
// rows. Graph keys are row numbers.
type Index struct {
	ids        []string
	graph      *hnsw.Graph[uint32]
	dim        int
	params     Params
	generation string
}

// newGraph returns an empty graph over Euclidean distance. On unit vectors
// it orders neighbours the same way as squared L2.
func newGraph(p Params) *hnsw.Graph[uint32] {
	g := hnsw.NewGraph[uint32]()
	g.Distance = hnsw.EuclideanDistance
	g.M = p.M
	g.Ml = 1 / math.Log(float64(p.M))
	g.EfSearch = p.EfSearch
	g.Rng = rand.New(rand.NewSource(p.Seed))
	return g
}

// Normalize returns v / (‖v‖ + 1e-9). A zero vector stays zero.
func Normalize(v []float32) []float32 {
	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	n := floats.Norm(f, 2) + normEpsilon

	out := make([]float32, len(v))
	for i, x := range f {
		out[i] = float32(x / n)
	}
	return out
}

// Build normalizes every row of m and inserts it into a fresh graph
func Build(m featstore.Matrix, p Params) (*Index, error) {
	if len(m.IDs) != len(m.Vectors) {
		return nil, fmt.Errorf("matrix has %d ids for %d vectors", len(m.IDs), len(m.Vectors))
	}
	p = p.withDefaults()

	dim := 0
	if len(m.Vectors) > 0 {
		dim = len(m.Vectors[0])
	}

	nodes := make([]hnsw.Node[uint32], len(m.Vectors))
	for i, v := range m.Vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: row %d (%s) has %d, want %d", ErrDimension, i, m.IDs[i], len(v), dim)
		}
		nodes[i] = hnsw.MakeNode(uint32(i), Normalize(v))
	}

	// The graph has a single ef setting; widen it while inserting
	g := newGraph(p)
	g.EfSearch = p.EfConstruction
	if len(nodes) > 0 {
		g.Add(nodes...)
	}
	g.EfSearch = p.EfSearch

	ids := make([]string, len(m.IDs))
	copy(ids, m.IDs)

	return &Index{
		ids:        ids,
		graph:      g,
		dim:        dim,
		params:     p,
		generation: uuid.NewString(),
	}, nil
}

// Len returns the number of searchable rows
func (ix *Index) Len() int {
	return len(ix.ids)
}

// Dim returns the vector dimension, 0 for an empty index
func (ix *Index) Dim() int {
	return ix.dim
}

// Generation identifies the build that produced this index
func (ix *Index) Generation() string {
	return ix.generation
}

// IDs returns the row order
func (ix *Index) IDs() []string {
	return ix.ids
}

// SetEfSearch overrides the query-time candidate list size
func (ix *Index) SetEfSearch(ef int) {
	if ef > 0 {
		ix.params.EfSearch = ef
		ix.graph.EfSearch = ef
	}
}

// Search returns up to k rows nearest to vec, best first. An empty index
// returns no matches for any input.
func (ix *Index) Search(vec []float32, k int) ([]Match, error) {
	if ix.Len() == 0 || k <= 0 {
		return []Match{}, nil
	}
	if len(vec) != ix.dim {
		return nil, fmt.Errorf("%w: got %d, index has %d", ErrDimension, len(vec), ix.dim)
	}

	q := Normalize(vec)
	found := ix.graph.Search(q, k)

	matches := make([]Match, 0, len(found))
	for _, n := range found {
		// Rows past the ID list only exist in a clamped, mismatched pair
		if int(n.Key) >= len(ix.ids) {
			continue
		}
		matches = append(matches, Match{
			ID:    ix.ids[n.Key],
			Score: 1 - float64(squaredL2(q, n.Value)),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
