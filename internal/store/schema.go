package store

// Schema v1 - catalog of tracks keyed by path-derived ID
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per audio file; stars are only written by explicit ratings
CREATE TABLE IF NOT EXISTS tracks (
  id TEXT PRIMARY KEY,
  path TEXT UNIQUE,
  title TEXT,
  artist TEXT,
  album TEXT,
  year INT,
  genre TEXT,
  duration REAL,
  stars INT,
  bpm REAL,
  "key" TEXT,
  camelot TEXT,
  added_at TEXT
);
`

// Schema v2 - indexes for filtered lookups and rating sessions
const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_tracks_bpm ON tracks(bpm);
CREATE INDEX IF NOT EXISTS idx_tracks_camelot ON tracks(camelot);
CREATE INDEX IF NOT EXISTS idx_tracks_stars ON tracks(stars);
`

// additiveColumns are added to tracks tables created by older versions
var additiveColumns = []struct {
	name string
	decl string
}{
	{"bpm", "bpm REAL"},
	{"key", `"key" TEXT`},
	{"camelot", "camelot TEXT"},
	{"added_at", "added_at TEXT"},
}
