package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/franz/crate-digger/internal/util"
)

// Rating bounds
const (
	MinStars = 1
	MaxStars = 5
)

// ErrInvalidRating is returned for star values outside MinStars..MaxStars
var ErrInvalidRating = errors.New("rating must be between 1 and 5")

// lookupChunk bounds the number of bound parameters per IN query
const lookupChunk = 500

// Track is one catalog row. Empty strings and nil pointers are unknown values.
type Track struct {
	ID       string
	Path     string
	Title    string
	Artist   string
	Album    string
	Genre    string
	Year     *int
	Duration *float64
	Stars    *int
	BPM      *float64
	Key      string
	Camelot  string
	AddedAt  time.Time
}

// TrackRef is the minimal identity of a cataloged file
type TrackRef struct {
	ID   string
	Path string
}

const trackColumns = `id, path, COALESCE(title, ''), COALESCE(artist, ''), COALESCE(album, ''),
	COALESCE(genre, ''), year, duration, stars, bpm, COALESCE("key", ''), COALESCE(camelot, ''),
	COALESCE(added_at, '')`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrack(row scanner) (*Track, error) {
	var (
		t        Track
		year     sql.NullInt64
		duration sql.NullFloat64
		stars    sql.NullInt64
		bpm      sql.NullFloat64
		added    string
	)

	err := row.Scan(&t.ID, &t.Path, &t.Title, &t.Artist, &t.Album,
		&t.Genre, &year, &duration, &stars, &bpm, &t.Key, &t.Camelot, &added)
	if err != nil {
		return nil, err
	}

	if year.Valid {
		y := int(year.Int64)
		t.Year = &y
	}
	if duration.Valid {
		t.Duration = &duration.Float64
	}
	if stars.Valid {
		s := int(stars.Int64)
		t.Stars = &s
	}
	if bpm.Valid {
		t.BPM = &bpm.Float64
	}
	if added != "" {
		t.AddedAt, _ = time.Parse(time.RFC3339, added)
	}

	return &t, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// InsertTrackIfAbsent adds a catalog row unless the ID or path is already
// present. Existing rows, ratings included, are never modified.
func (s *Store) InsertTrackIfAbsent(t *Track) (bool, error) {
	if t.ID == "" || t.Path == "" {
		return false, util.ErrEmptyPath
	}
	if t.AddedAt.IsZero() {
		t.AddedAt = time.Now().UTC()
	}

	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO tracks (id, path, title, artist, album, year, genre, duration, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Path, nullString(t.Title), nullString(t.Artist), nullString(t.Album),
		nullInt(t.Year), nullString(t.Genre), nullFloat(t.Duration), t.AddedAt.Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("failed to insert track: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

// UpdateAnalysis stores the tempo and key estimated by the feature pass
func (s *Store) UpdateAnalysis(id string, bpm *float64, key, camelot string) error {
	_, err := s.db.Exec(`
		UPDATE tracks SET bpm = ?, "key" = ?, camelot = ? WHERE id = ?
	`, nullFloat(bpm), nullString(key), nullString(camelot), id)
	if err != nil {
		return fmt.Errorf("failed to update analysis: %w", err)
	}
	return nil
}

// SetRating records a user rating. Concurrent ratings of the same track are
// last-write-wins.
func (s *Store) SetRating(id string, stars int) error {
	if stars < MinStars || stars > MaxStars {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, stars)
	}

	result, err := s.db.Exec("UPDATE tracks SET stars = ? WHERE id = ?", stars, id)
	if err != nil {
		return fmt.Errorf("failed to set rating: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("track %s: %w", id, util.ErrNotFound)
	}
	return nil
}

// GetTrack retrieves a track by ID, nil if absent
func (s *Store) GetTrack(id string) (*Track, error) {
	t, err := scanTrack(s.db.QueryRow("SELECT "+trackColumns+" FROM tracks WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return t, nil
}

// GetTrackByPath retrieves a track by path, nil if absent
func (s *Store) GetTrackByPath(path string) (*Track, error) {
	t, err := scanTrack(s.db.QueryRow("SELECT "+trackColumns+" FROM tracks WHERE path = ?", path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track by path: %w", err)
	}
	return t, nil
}

// GetTracks looks up many IDs at once. Unknown IDs are absent from the map.
func (s *Store) GetTracks(ids []string) (map[string]*Track, error) {
	out := make(map[string]*Track, len(ids))

	for start := 0; start < len(ids); start += lookupChunk {
		end := start + lookupChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		tracks, err := s.queryTracks("SELECT "+trackColumns+" FROM tracks WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, err
		}
		for _, t := range tracks {
			out[t.ID] = t
		}
	}

	return out, nil
}

// ListTrackRefs returns every cataloged ID and path, ordered by path
func (s *Store) ListTrackRefs() ([]TrackRef, error) {
	rows, err := s.db.Query("SELECT id, path FROM tracks ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()

	var refs []TrackRef
	for rows.Next() {
		var r TrackRef
		if err := rows.Scan(&r.ID, &r.Path); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		refs = append(refs, r)
	}

	return refs, rows.Err()
}

// CountTracks returns the number of catalog rows
func (s *Store) CountTracks() (int, error) {
	return s.count("SELECT COUNT(*) FROM tracks")
}

// CountAnalyzed returns the number of rows with a tempo estimate
func (s *Store) CountAnalyzed() (int, error) {
	return s.count("SELECT COUNT(*) FROM tracks WHERE bpm IS NOT NULL")
}

// CountRated returns the number of rated rows
func (s *Store) CountRated() (int, error) {
	return s.count("SELECT COUNT(*) FROM tracks WHERE stars IS NOT NULL")
}

// RandomUnrated returns up to limit unrated tracks in random order
func (s *Store) RandomUnrated(limit int) ([]*Track, error) {
	return s.queryTracks("SELECT "+trackColumns+" FROM tracks WHERE stars IS NULL ORDER BY RANDOM() LIMIT ?", limit)
}

// RatedTracks returns every rated track
func (s *Store) RatedTracks() ([]*Track, error) {
	return s.queryTracks("SELECT " + trackColumns + " FROM tracks WHERE stars IS NOT NULL ORDER BY id")
}

func (s *Store) count(query string) (int, error) {
	var n int
	if err := s.db.QueryRow(query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

func (s *Store) queryTracks(query string, args ...interface{}) ([]*Track, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, t)
	}

	return tracks, rows.Err()
}
