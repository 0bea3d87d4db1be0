package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/franz/crate-digger/internal/index"
	"github.com/franz/crate-digger/internal/store"
	"github.com/franz/crate-digger/internal/theory"
)

// fakeIndex returns its ranking truncated to k
type fakeIndex struct {
	ranking []index.Match
	lastK   int
}

func (f *fakeIndex) Search(_ []float32, k int) ([]index.Match, error) {
	f.lastK = k
	if k > len(f.ranking) {
		k = len(f.ranking)
	}
	return append([]index.Match(nil), f.ranking[:k]...), nil
}

type fakeCatalog map[string]*store.Track

func (c fakeCatalog) GetTrack(id string) (*store.Track, error) { return c[id], nil }

func (c fakeCatalog) GetTrackByPath(path string) (*store.Track, error) {
	for _, t := range c {
		if t.Path == path {
			return t, nil
		}
	}
	return nil, nil
}

func (c fakeCatalog) GetTracks(ids []string) (map[string]*store.Track, error) {
	out := make(map[string]*store.Track)
	for _, id := range ids {
		if t, ok := c[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

type fakeVectors map[string][]float32

func (v fakeVectors) Get(id string) ([]float32, error) { return v[id], nil }

// firstComponent predicts the first vector component as the score
type firstComponent struct{}

func (firstComponent) Score(vecs [][]float32) ([]float64, error) {
	out := make([]float64, len(vecs))
	for i, v := range vecs {
		out[i] = float64(v[0])
	}
	return out, nil
}

func bpm(v float64) *float64 { return &v }

// library builds ten tracks t0..t9 ranked in order with decreasing score
func library() (*fakeIndex, fakeCatalog, fakeVectors) {
	ids := []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9"}
	tempos := []*float64{bpm(128), bpm(134), bpm(134.01), bpm(122), nil, bpm(121.99), bpm(128), bpm(130), bpm(90), bpm(128)}
	keys := []string{"8A", "9A", "8A", "8B", "8A", "7A", "", "3B", "8A", "12A"}

	ix := &fakeIndex{}
	cat := fakeCatalog{}
	vecs := fakeVectors{}
	for i, id := range ids {
		ix.ranking = append(ix.ranking, index.Match{ID: id, Score: 1 - float64(i)*0.05})
		cat[id] = &store.Track{ID: id, Path: "/music/" + id + ".mp3", BPM: tempos[i], Camelot: keys[i]}
		vecs[id] = []float32{float32(i % 3), 0}
	}
	return ix, cat, vecs
}

func hitIDs(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueryFiltered(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{
			name:   "no filter",
			filter: Filter{K: 3},
			want:   []string{"t0", "t1", "t2"},
		},
		{
			name:   "bpm window is inclusive",
			filter: Filter{K: 10, BPMCenter: bpm(128), BPMTolerance: 6},
			want:   []string{"t0", "t1", "t3", "t6", "t7", "t9"},
		},
		{
			name:   "camelot same",
			filter: Filter{K: 10, Camelot: "8A", CamelotMode: theory.ModeSame},
			want:   []string{"t0", "t2", "t4", "t8"},
		},
		{
			name:   "camelot compatible is the default",
			filter: Filter{K: 10, Camelot: "8A"},
			want:   []string{"t0", "t1", "t2", "t3", "t4", "t5", "t8"},
		},
		{
			name:   "predicates are conjunctive",
			filter: Filter{K: 10, BPMCenter: bpm(128), BPMTolerance: 6, Camelot: "8A", CamelotMode: theory.ModeSame},
			want:   []string{"t0"},
		},
		{
			name:   "truncated to k keeping index order",
			filter: Filter{K: 2, Camelot: "8a"},
			want:   []string{"t0", "t1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix, cat, vecs := library()
			e := New(&Config{Index: ix, Catalog: cat, Vectors: vecs})

			hits, err := e.QueryFiltered(context.Background(), []float32{1, 0}, tt.filter)
			if err != nil {
				t.Fatalf("QueryFiltered() error = %v", err)
			}
			if got := hitIDs(hits); !equal(got, tt.want) {
				t.Errorf("QueryFiltered() = %v, want %v", got, tt.want)
			}
			for _, h := range hits {
				if h.Predicted != nil {
					t.Errorf("hit %s has a prediction without a ranker", h.ID)
				}
			}
		})
	}
}

func TestQueryFiltered_OverFetch(t *testing.T) {
	ix, cat, vecs := library()
	e := New(&Config{Index: ix, Catalog: cat, Vectors: vecs})

	if _, err := e.QueryFiltered(context.Background(), nil, Filter{K: 2}); err != nil {
		t.Fatal(err)
	}
	if ix.lastK != 2 {
		t.Errorf("unfiltered fetch = %d, want 2", ix.lastK)
	}

	if _, err := e.QueryFiltered(context.Background(), nil, Filter{K: 2, Camelot: "8A"}); err != nil {
		t.Fatal(err)
	}
	if ix.lastK != 2*OverFetch {
		t.Errorf("filtered fetch = %d, want %d", ix.lastK, 2*OverFetch)
	}
}

func TestQueryFiltered_MayReturnFewer(t *testing.T) {
	ix, cat, vecs := library()
	e := New(&Config{Index: ix, Catalog: cat, Vectors: vecs})

	// the 9 candidates hold a single 8B track
	hits, err := e.QueryFiltered(context.Background(), nil, Filter{K: 3, Camelot: "8B", CamelotMode: theory.ModeSame})
	if err != nil {
		t.Fatal(err)
	}
	if got := hitIDs(hits); !equal(got, []string{"t3"}) {
		t.Errorf("hits = %v", got)
	}

	hits, err = e.QueryFiltered(context.Background(), nil, Filter{K: 1, Camelot: "12B", CamelotMode: theory.ModeSame})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %v", hitIDs(hits))
	}
}

func TestQueryFiltered_InvalidFilter(t *testing.T) {
	ix, cat, vecs := library()
	e := New(&Config{Index: ix, Catalog: cat, Vectors: vecs})

	for _, f := range []Filter{
		{K: 3, Camelot: "13A"},
		{K: 3, Camelot: "8A", CamelotMode: "loose"},
		{K: 3, BPMCenter: bpm(120), BPMTolerance: -1},
	} {
		if _, err := e.QueryFiltered(context.Background(), nil, f); err == nil {
			t.Errorf("QueryFiltered(%+v) expected error", f)
		}
	}

	hits, err := e.QueryFiltered(context.Background(), nil, Filter{K: 0})
	if err != nil || len(hits) != 0 {
		t.Errorf("K=0: hits=%v err=%v", hits, err)
	}
}

func TestQueryFiltered_Rerank(t *testing.T) {
	ix, cat, vecs := library()
	e := New(&Config{Index: ix, Catalog: cat, Vectors: vecs, Ranker: firstComponent{}})

	// predictions for t0..t4 are 0,1,2,0,1
	hits, err := e.QueryFiltered(context.Background(), nil, Filter{K: 5})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"t2", "t1", "t4", "t0", "t3"}
	if got := hitIDs(hits); !equal(got, want) {
		t.Errorf("reranked = %v, want %v", got, want)
	}
	for _, h := range hits {
		if h.Predicted == nil {
			t.Fatalf("hit %s missing prediction", h.ID)
		}
	}
}

func TestSimilarTo(t *testing.T) {
	ix, cat, vecs := library()
	e := New(&Config{Index: ix, Catalog: cat, Vectors: vecs})
	ctx := context.Background()

	// harmonic filter defaults to the seed's own label (t0 is 8A)
	hits, err := e.SimilarTo(ctx, "t0", SimilarOptions{
		Filter:   Filter{K: 10, CamelotMode: theory.ModeSame},
		Harmonic: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := hitIDs(hits); !equal(got, []string{"t0", "t2", "t4", "t8"}) {
		t.Errorf("harmonic = %v", got)
	}

	// label given without Harmonic is ignored
	hits, err = e.SimilarTo(ctx, "t0", SimilarOptions{Filter: Filter{K: 3, Camelot: "3B"}})
	if err != nil {
		t.Fatal(err)
	}
	if got := hitIDs(hits); !equal(got, []string{"t0", "t1", "t2"}) {
		t.Errorf("non-harmonic = %v", got)
	}

	hits, err = e.SimilarTo(ctx, "t0", SimilarOptions{Filter: Filter{K: 3}, ExcludeSeed: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := hitIDs(hits); !equal(got, []string{"t1", "t2", "t3"}) {
		t.Errorf("exclude seed = %v", got)
	}

	// seed without a label skips the harmonic predicate
	hits, err = e.SimilarTo(ctx, "t6", SimilarOptions{Filter: Filter{K: 2}, Harmonic: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Errorf("unlabeled seed hits = %v", hitIDs(hits))
	}
}

func TestSimilarTo_ExcludeSeedRerank(t *testing.T) {
	ix, cat, vecs := library()
	e := New(&Config{Index: ix, Catalog: cat, Vectors: vecs, Ranker: firstComponent{}})
	ctx := context.Background()

	tests := []struct {
		name string
		seed string
		want []string
	}{
		// t0..t2 are fetched; t2 is the (K+1)th by similarity and must be
		// dropped before its high prediction is considered
		{"seed outside results", "t9", []string{"t1", "t0"}},
		{"seed among results", "t1", []string{"t2", "t0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := e.SimilarTo(ctx, tt.seed, SimilarOptions{Filter: Filter{K: 2}, ExcludeSeed: true})
			if err != nil {
				t.Fatal(err)
			}
			if got := hitIDs(hits); !equal(got, tt.want) {
				t.Errorf("hits = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSimilarTo_MissingFeatures(t *testing.T) {
	ix, cat, vecs := library()
	delete(vecs, "t3")
	e := New(&Config{Index: ix, Catalog: cat, Vectors: vecs})

	_, err := e.SimilarTo(context.Background(), "t3", SimilarOptions{Filter: Filter{K: 3}})
	if !errors.Is(err, ErrNoFeatures) {
		t.Errorf("error = %v, want ErrNoFeatures", err)
	}
}

func TestResolveSeed(t *testing.T) {
	_, cat, _ := library()
	cat["abcdef0123456789"] = &store.Track{ID: "abcdef0123456789", Path: "/music/x.flac"}
	e := New(&Config{Catalog: cat})

	if id, err := e.ResolveSeed("abcdef0123456789"); err != nil || id != "abcdef0123456789" {
		t.Errorf("ResolveSeed(id) = %q, %v", id, err)
	}
	if id, err := e.ResolveSeed("/music/t4.mp3"); err != nil || id != "t4" {
		t.Errorf("ResolveSeed(path) = %q, %v", id, err)
	}
	if _, err := e.ResolveSeed("/music/nope.mp3"); err == nil {
		t.Error("ResolveSeed(unknown) expected error")
	}
}
