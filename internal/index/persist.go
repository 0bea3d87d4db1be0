package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/coder/hnsw"
	"github.com/franz/crate-digger/internal/util"
	"github.com/goccy/go-json"
)

// Files of a persisted index, always written and read as a pair
const (
	StructureFile = "hnsw.index"
	IDsFile       = "row_ids.json"
)

var structureMagic = [8]byte{'C', 'R', 'H', 'N', 'S', 'W', '0', '2'}

// ErrNotBuilt is returned by Load when no complete index is on disk
var ErrNotBuilt = errors.New("index not built")

// MismatchWarning reports a structure and ID list that disagree. Load still
// returns a usable index clamped to the rows both sides describe.
type MismatchWarning struct {
	IDCount            int
	RowCount           int
	GenerationMismatch bool
}

func (w *MismatchWarning) Error() string {
	msg := fmt.Sprintf("index has %d rows but ID list has %d", w.RowCount, w.IDCount)
	if w.GenerationMismatch {
		msg += " (built by different runs)"
	}
	return msg
}

type idList struct {
	Generation string   `json:"generation"`
	Count      int      `json:"count"`
	IDs        []string `json:"ids"`
}

// structureHeader precedes the exported graph in the structure file
type structureHeader struct {
	Magic          [8]byte
	Generation     [36]byte
	Count          uint32
	Dim            uint32
	M              uint32
	EfConstruction uint32
	EfSearch       uint32
	Seed           int64
}

var headerSize = int64(binary.Size(structureHeader{}))

// Exists reports whether dir holds both files of an index
func Exists(dir string) bool {
	for _, name := range []string{StructureFile, IDsFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Save writes the ID list first and the structure last. The previous
// structure is removed before the renames, so an interrupted save leaves no
// structure file and the index reads as not built.
func (ix *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	idsTmp, err := writeTemp(dir, IDsFile, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(idList{
			Generation: ix.generation,
			Count:      len(ix.ids),
			IDs:        ix.ids,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to write ID list: %w", err)
	}

	structTmp, err := writeTemp(dir, StructureFile, ix.writeStructure)
	if err != nil {
		os.Remove(idsTmp)
		return fmt.Errorf("failed to write index structure: %w", err)
	}

	structPath := filepath.Join(dir, StructureFile)
	if err := os.Remove(structPath); err != nil && !os.IsNotExist(err) {
		os.Remove(idsTmp)
		os.Remove(structTmp)
		return fmt.Errorf("failed to remove old structure: %w", err)
	}

	if err := util.RetryableRename(idsTmp, filepath.Join(dir, IDsFile), nil); err != nil {
		os.Remove(structTmp)
		return fmt.Errorf("failed to install ID list: %w", err)
	}
	if err := util.RetryableRename(structTmp, structPath, nil); err != nil {
		return fmt.Errorf("failed to install structure: %w", err)
	}

	return nil
}

func writeTemp(dir, name string, write func(io.Writer) error) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", err
	}
	path := f.Name()

	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (ix *Index) writeStructure(w io.Writer) error {
	h := structureHeader{
		Magic:          structureMagic,
		Count:          uint32(len(ix.ids)),
		Dim:            uint32(ix.dim),
		M:              uint32(ix.params.M),
		EfConstruction: uint32(ix.params.EfConstruction),
		EfSearch:       uint32(ix.params.EfSearch),
		Seed:           ix.params.Seed,
	}
	copy(h.Generation[:], ix.generation)

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	if ix.graph.Len() == 0 {
		return nil
	}
	return ix.graph.Export(w)
}

// Load reads an index pair from dir. A non-nil warning means the pair is
// inconsistent and the returned index has been clamped.
func Load(dir string) (*Index, *MismatchWarning, error) {
	structPath := filepath.Join(dir, StructureFile)
	f, err := os.Open(structPath)
	if os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("%w: %s missing", ErrNotBuilt, structPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open index structure: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat index structure: %w", err)
	}

	h, g, err := readStructure(bufio.NewReader(f), info.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", util.ErrCorrupt, structPath, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, IDsFile))
	if os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("%w: %s missing", ErrNotBuilt, IDsFile)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read ID list: %w", err)
	}
	var list idList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", util.ErrCorrupt, IDsFile, err)
	}

	generation := string(trimZero(h.Generation[:]))
	rows := int(h.Count)

	ids, warning := Align(list.IDs, rows)
	if warning == nil && list.Generation != generation {
		warning = &MismatchWarning{IDCount: len(list.IDs), RowCount: rows}
	}
	if warning != nil {
		warning.GenerationMismatch = list.Generation != generation
	}

	return &Index{
		ids:   ids,
		graph: g,
		dim:   int(h.Dim),
		params: Params{
			M:              int(h.M),
			EfConstruction: int(h.EfConstruction),
			EfSearch:       int(h.EfSearch),
			Seed:           h.Seed,
		},
		generation: generation,
	}, warning, nil
}

// Align clamps an ID list to rows entries. The warning is nil when the
// lengths already agree.
func Align(ids []string, rows int) ([]string, *MismatchWarning) {
	if len(ids) == rows {
		return ids, nil
	}
	warning := &MismatchWarning{IDCount: len(ids), RowCount: rows}
	if len(ids) > rows {
		ids = ids[:rows]
	}
	return ids, warning
}

// readStructure validates the header against the file size before
// decoding the graph, so a damaged header cannot trigger huge allocations.
func readStructure(r io.Reader, size int64) (structureHeader, *hnsw.Graph[uint32], error) {
	var h structureHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, nil, fmt.Errorf("header: %w", err)
	}
	if h.Magic != structureMagic {
		return h, nil, errors.New("bad magic")
	}
	if h.M < 2 {
		return h, nil, fmt.Errorf("invalid M %d", h.M)
	}
	if h.Count > 0 && h.Dim == 0 {
		return h, nil, fmt.Errorf("%d rows without a dimension", h.Count)
	}
	if need := int64(h.Count) * int64(h.Dim) * 4; need > size-headerSize {
		return h, nil, fmt.Errorf("header claims %d rows of %d dimensions, file has %d bytes", h.Count, h.Dim, size)
	}

	g := newGraph(Params{M: int(h.M), EfSearch: int(h.EfSearch), Seed: h.Seed})
	if h.Count == 0 {
		return h, g, nil
	}
	if err := g.Import(r); err != nil {
		return h, nil, fmt.Errorf("graph: %w", err)
	}
	if g.Len() != int(h.Count) {
		return h, nil, fmt.Errorf("graph has %d rows, header %d", g.Len(), h.Count)
	}
	if g.Dims() != int(h.Dim) {
		return h, nil, fmt.Errorf("graph has dimension %d, header %d", g.Dims(), h.Dim)
	}
	g.EfSearch = int(h.EfSearch)
	return h, g, nil
}

func trimZero(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
