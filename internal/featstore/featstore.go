// Package featstore persists one feature vector per track ID in BadgerDB.
package featstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage
const (
	vectorKeyPrefix = "vec:"
	dimKey          = "meta:dim"
)

// conflictRetries bounds retries of optimistic transactions that raced
const conflictRetries = 5

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the dimension recorded by the first write
	ErrDimensionMismatch = errors.New("feature dimension mismatch")

	// ErrEmptyVector is returned for zero-length vectors
	ErrEmptyVector = errors.New("empty feature vector")

	// ErrReadOnly is returned by writes to a store opened with OpenReadOnly
	ErrReadOnly = errors.New("feature store opened read-only")
)

// Matrix is the full set of stored vectors with the ID order used to read them
type Matrix struct {
	IDs     []string
	Vectors [][]float32
}

// Len returns the number of rows
func (m Matrix) Len() int {
	return len(m.IDs)
}

// Store is the feature vector store
type Store struct {
	db       *badger.DB
	readOnly bool

	mu  sync.Mutex
	dim int // 0 until known
}

// Open opens or creates the store in dir
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open feature store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing store for queries. Badger takes a shared
// directory lock in this mode, so any number of readers may run together;
// a reader still cannot open while a writer holds the store.
func OpenReadOnly(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithReadOnly(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open feature store: %w", err)
	}
	return &Store{db: db, readOnly: true}, nil
}

// OpenInMemory opens a store that is discarded on Close
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open feature store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector: %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// Has reports whether a vector is stored for id
func (s *Store) Has(id string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(vectorKeyPrefix + id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check vector: %w", err)
	}
	return true, nil
}

// PutIfAbsent stores vec under id unless a vector is already present.
// It reports whether vec was written. The first vector ever written fixes
// the store's dimension.
func (s *Store) PutIfAbsent(id string, vec []float32) (bool, error) {
	if s.readOnly {
		return false, ErrReadOnly
	}
	if len(vec) == 0 {
		return false, ErrEmptyVector
	}

	s.mu.Lock()
	known := s.dim
	s.mu.Unlock()
	if known != 0 && known != len(vec) {
		return false, fmt.Errorf("%w: store has %d, got %d", ErrDimensionMismatch, known, len(vec))
	}

	var written bool
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		written, err = s.putIfAbsent(id, vec)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.dim = len(vec)
	s.mu.Unlock()

	return written, nil
}

func (s *Store) putIfAbsent(id string, vec []float32) (bool, error) {
	written := false

	err := s.db.Update(func(txn *badger.Txn) error {
		dim, err := readDim(txn)
		if err != nil {
			return err
		}
		if dim != 0 && dim != len(vec) {
			return fmt.Errorf("%w: store has %d, got %d", ErrDimensionMismatch, dim, len(vec))
		}

		key := []byte(vectorKeyPrefix + id)
		_, err = txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get vector: %w", err)
		}

		if dim == 0 {
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
			if err := txn.Set([]byte(dimKey), buf); err != nil {
				return fmt.Errorf("set dimension: %w", err)
			}
		}
		if err := txn.Set(key, encodeVector(vec)); err != nil {
			return fmt.Errorf("set vector: %w", err)
		}
		written = true
		return nil
	})

	return written, err
}

func readDim(txn *badger.Txn) (int, error) {
	item, err := txn.Get([]byte(dimKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get dimension: %w", err)
	}

	var dim int
	err = item.Value(func(val []byte) error {
		if len(val) != 4 {
			return fmt.Errorf("corrupt dimension record")
		}
		dim = int(binary.LittleEndian.Uint32(val))
		return nil
	})
	return dim, err
}

// Get returns the vector for id, nil if absent
func (s *Store) Get(id string) ([]float32, error) {
	var vec []float32

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(vectorKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get vector: %w", err)
		}
		return item.Value(func(val []byte) error {
			vec, err = decodeVector(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return vec, nil
}

// Dim returns the recorded dimension, 0 for an empty store
func (s *Store) Dim() (int, error) {
	var dim int
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		dim, err = readDim(txn)
		return err
	})
	return dim, err
}

// Count returns the number of stored vectors
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(vectorKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

// Size returns the on-disk size of the LSM tree and value log in bytes
func (s *Store) Size() int64 {
	lsm, vlog := s.db.Size()
	return lsm + vlog
}

// LoadAll reads every vector in key order. Rows whose length disagrees with
// the first row are skipped and reported in the returned count.
func (s *Store) LoadAll() (Matrix, int, error) {
	var m Matrix
	skipped := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(vectorKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])

			var vec []float32
			err := item.Value(func(val []byte) error {
				var err error
				vec, err = decodeVector(val)
				return err
			})
			if err != nil {
				return fmt.Errorf("read vector %s: %w", id, err)
			}

			if len(m.Vectors) > 0 && len(vec) != len(m.Vectors[0]) {
				skipped++
				continue
			}
			m.IDs = append(m.IDs, id)
			m.Vectors = append(m.Vectors, vec)
		}
		return nil
	})
	if err != nil {
		return Matrix{}, 0, fmt.Errorf("load vectors: %w", err)
	}

	return m, skipped, nil
}
