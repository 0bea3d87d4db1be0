package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/franz/crate-digger/internal/featstore"
	"github.com/franz/crate-digger/internal/util"
)

func randomMatrix(n, dim int, seed int64) featstore.Matrix {
	rng := rand.New(rand.NewSource(seed))
	m := featstore.Matrix{}
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		m.IDs = append(m.IDs, fmt.Sprintf("%016x", i))
		m.Vectors = append(m.Vectors, v)
	}
	return m
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want float64
	}{
		{"unit already", []float32{1, 0, 0}, 1},
		{"scaled", []float32{3, 4}, 1},
		{"large values", []float32{120, -14, 0.5, 1e4}, 1},
		{"zero vector", []float32{0, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Normalize(tt.in)
			if got := norm(out); math.Abs(got-tt.want) > 1e-5 {
				t.Errorf("expected norm %v, got %v", tt.want, got)
			}
			for _, x := range out {
				if math.IsNaN(float64(x)) {
					t.Fatal("normalization produced NaN")
				}
			}
		})
	}
}

func TestSearch_SelfIsTopHit(t *testing.T) {
	m := randomMatrix(300, 16, 1)
	ix, err := Build(m, Params{M: 8, EfConstruction: 100, EfSearch: 64, Seed: 7})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for _, row := range []int{0, 17, 150, 299} {
		matches, err := ix.Search(m.Vectors[row], 5)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(matches) == 0 || matches[0].ID != m.IDs[row] {
			t.Fatalf("row %d: expected itself as top hit, got %+v", row, matches)
		}
		if math.Abs(matches[0].Score-1) > 1e-4 {
			t.Errorf("row %d: expected score near 1, got %v", row, matches[0].Score)
		}
		for i := 1; i < len(matches); i++ {
			if matches[i].Score > matches[i-1].Score {
				t.Errorf("row %d: results not ordered best first: %+v", row, matches)
			}
		}
	}
}

func TestSearch_ScaleInvariant(t *testing.T) {
	m := randomMatrix(50, 8, 2)
	ix, err := Build(m, DefaultParams())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	scaled := make([]float32, len(m.Vectors[3]))
	for i, x := range m.Vectors[3] {
		scaled[i] = x * 40
	}
	matches, err := ix.Search(scaled, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != m.IDs[3] {
		t.Errorf("expected scaled query to find its source row, got %+v", matches)
	}
}

func TestSearch_Recall(t *testing.T) {
	m := randomMatrix(500, 12, 3)
	ix, err := Build(m, Params{M: 16, EfConstruction: 200, EfSearch: 100, Seed: 1})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	norms := make([][]float32, m.Len())
	for i, v := range m.Vectors {
		norms[i] = Normalize(v)
	}

	const k = 10
	hits, total := 0, 0
	queries := randomMatrix(20, 12, 99)
	for _, q := range queries.Vectors {
		nq := Normalize(q)
		rows := make([]int, len(norms))
		for i := range rows {
			rows[i] = i
		}
		sort.Slice(rows, func(a, b int) bool {
			return squaredL2(nq, norms[rows[a]]) < squaredL2(nq, norms[rows[b]])
		})
		truth := make(map[string]bool, k)
		for _, row := range rows[:k] {
			truth[m.IDs[row]] = true
		}

		matches, err := ix.Search(q, k)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		for _, mt := range matches {
			if truth[mt.ID] {
				hits++
			}
		}
		total += k
	}

	if recall := float64(hits) / float64(total); recall < 0.9 {
		t.Errorf("expected recall@%d >= 0.9, got %.2f", k, recall)
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	ix, err := Build(featstore.Matrix{}, DefaultParams())
	if err != nil {
		t.Fatalf("Build of empty matrix failed: %v", err)
	}

	matches, err := ix.Search([]float32{1, 2, 3}, 10)
	if err != nil {
		t.Fatalf("expected no error for empty index, got %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %+v", matches)
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	ix, err := Build(randomMatrix(10, 4, 5), DefaultParams())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := ix.Search([]float32{1, 2}, 3); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension, got %v", err)
	}

	bad := randomMatrix(3, 4, 6)
	bad.Vectors[1] = bad.Vectors[1][:3]
	if _, err := Build(bad, DefaultParams()); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension from Build, got %v", err)
	}
}

func TestSearch_FewerRowsThanK(t *testing.T) {
	ix, err := Build(randomMatrix(3, 4, 8), DefaultParams())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	matches, err := ix.Search([]float32{1, 0, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 3 {
		t.Errorf("expected all 3 rows, got %d", len(matches))
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	m := randomMatrix(100, 8, 4)
	// ef above the row count makes the search exhaustive, so both builds
	// must agree row for row
	p := Params{M: 8, EfConstruction: 64, EfSearch: 128, Seed: 11}

	a, err := Build(m, p)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	b, err := Build(m, p)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	q := m.Vectors[42]
	ra, _ := a.Search(q, 10)
	rb, _ := b.Search(q, 10)
	if len(ra) != len(rb) {
		t.Fatalf("result lengths differ: %d vs %d", len(ra), len(rb))
	}
	for i := range ra {
		if ra[i] != rb[i] {
			t.Fatalf("results differ at %d: %+v vs %+v", i, ra[i], rb[i])
		}
	}
}

func TestSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	m := randomMatrix(120, 10, 9)

	ix, err := Build(m, Params{M: 8, EfConstruction: 80, EfSearch: 160, Seed: 3})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if Exists(dir) {
		t.Fatal("index should not exist before Save")
	}
	if err := ix.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !Exists(dir) {
		t.Fatal("expected both index files after Save")
	}

	loaded, warning, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if warning != nil {
		t.Fatalf("unexpected mismatch warning: %v", warning)
	}
	if loaded.Len() != ix.Len() || loaded.Dim() != ix.Dim() || loaded.Generation() != ix.Generation() {
		t.Fatalf("loaded index differs: len %d/%d dim %d/%d gen %s/%s",
			loaded.Len(), ix.Len(), loaded.Dim(), ix.Dim(), loaded.Generation(), ix.Generation())
	}

	for _, row := range []int{0, 60, 119} {
		want, _ := ix.Search(m.Vectors[row], 5)
		got, err := loaded.Search(m.Vectors[row], 5)
		if err != nil {
			t.Fatalf("Search on loaded index failed: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("row %d: result length %d, want %d", row, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("row %d: result %d differs: %+v vs %+v", row, i, got[i], want[i])
			}
		}
	}

	// Overwriting with a new build leaves no temp files behind
	if err := ix.Save(dir); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected exactly 2 files, got %d", len(entries))
	}
}

func TestLoad_NotBuilt(t *testing.T) {
	if _, _, err := Load(t.TempDir()); !errors.Is(err, ErrNotBuilt) {
		t.Errorf("expected ErrNotBuilt, got %v", err)
	}
}

func TestLoad_InterruptedSave(t *testing.T) {
	dir := t.TempDir()
	ix, err := Build(randomMatrix(30, 4, 12), DefaultParams())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := ix.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A crash after the old structure was removed: the new ID list is in
	// place and the structure only exists as a temp file
	data, err := os.ReadFile(filepath.Join(dir, StructureFile))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "."+StructureFile+".tmp-123"), data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, StructureFile)); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if Exists(dir) {
		t.Error("Exists should report an interrupted save as not built")
	}
	if _, _, err := Load(dir); !errors.Is(err, ErrNotBuilt) {
		t.Errorf("expected ErrNotBuilt, got %v", err)
	}

	// The next save replaces everything
	if err := ix.Save(dir); err != nil {
		t.Fatalf("Save after interruption failed: %v", err)
	}
	if _, warning, err := Load(dir); err != nil || warning != nil {
		t.Errorf("Load after rebuild = %v, %v", warning, err)
	}
}

func TestLoad_GenerationMismatchSameCount(t *testing.T) {
	dir := t.TempDir()
	m := randomMatrix(12, 4, 13)

	first, err := Build(m, DefaultParams())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := first.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Same rows, different build: only the generations disagree
	second, err := Build(m, DefaultParams())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	other := t.TempDir()
	if err := second.Save(other); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(other, IDsFile))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, IDsFile), data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ix, warning, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if warning == nil || !warning.GenerationMismatch {
		t.Fatalf("expected a generation mismatch warning, got %+v", warning)
	}
	if warning.IDCount != 12 || warning.RowCount != 12 {
		t.Errorf("unexpected counts: %+v", warning)
	}
	if ix.Len() != 12 || ix.Generation() != first.Generation() {
		t.Errorf("expected the structure's 12 rows and generation, got %d %s", ix.Len(), ix.Generation())
	}
}

func TestLoad_CorruptHeader(t *testing.T) {
	dir := t.TempDir()
	ix, err := Build(randomMatrix(10, 4, 14), DefaultParams())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := ix.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	path := filepath.Join(dir, StructureFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	// Count and Dim follow the magic and the generation
	tests := []struct {
		name   string
		offset int
		value  uint32
	}{
		{"huge count", 44, 1 << 30},
		{"huge dimension", 48, 1 << 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := append([]byte(nil), data...)
			binary.LittleEndian.PutUint32(bad[tt.offset:], tt.value)
			if err := os.WriteFile(path, bad, 0644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			if _, _, err := Load(dir); !errors.Is(err, util.ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}

	if err := os.WriteFile(path, data[:20], 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, _, err := Load(dir); !errors.Is(err, util.ErrCorrupt) {
		t.Errorf("expected ErrCorrupt for a truncated header, got %v", err)
	}
}

func TestLoad_MismatchWarning(t *testing.T) {
	dir := t.TempDir()
	m := randomMatrix(20, 4, 10)

	full, err := Build(m, DefaultParams())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := full.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Pair the structure with an ID list from a smaller, different build
	small, err := Build(featstore.Matrix{IDs: m.IDs[:15], Vectors: m.Vectors[:15]}, DefaultParams())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	other := t.TempDir()
	if err := small.Save(other); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(other, IDsFile))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, IDsFile), data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ix, warning, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if warning == nil {
		t.Fatal("expected a mismatch warning")
	}
	if warning.IDCount != 15 || warning.RowCount != 20 || !warning.GenerationMismatch {
		t.Errorf("unexpected warning: %+v", warning)
	}

	// Queries stay in bounds and only return IDs that exist in the list
	for _, v := range m.Vectors {
		matches, err := ix.Search(v, 20)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		for _, mt := range matches {
			found := false
			for _, id := range m.IDs[:15] {
				if id == mt.ID {
					found = true
				}
			}
			if !found {
				t.Fatalf("search returned row outside the ID list: %s", mt.ID)
			}
		}
	}
}

func TestAlign(t *testing.T) {
	ids := []string{"a", "b", "c"}

	got, w := Align(ids, 3)
	if w != nil || len(got) != 3 {
		t.Errorf("expected no warning for matching lengths, got %v", w)
	}

	got, w = Align(ids, 2)
	if w == nil || w.IDCount != 3 || w.RowCount != 2 {
		t.Fatalf("expected warning for extra IDs, got %+v", w)
	}
	if len(got) != 2 {
		t.Errorf("expected IDs clamped to 2, got %v", got)
	}

	got, w = Align(ids[:1], 4)
	if w == nil || len(got) != 1 {
		t.Errorf("expected warning and unchanged IDs for missing rows, got %v %+v", got, w)
	}
}
