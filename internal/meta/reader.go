// Package meta reads descriptive tags for catalog rows. Every lookup falls
// back to empty values; tag problems never fail ingestion.
package meta

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	"github.com/franz/crate-digger/internal/util"
)

// Tags holds the descriptive fields of a track. Empty strings and nil
// pointers mean the value was not found.
type Tags struct {
	Title    string
	Artist   string
	Album    string
	Genre    string
	Year     *int
	Duration *float64 // seconds
}

// ProbeFunc returns container information for a file
type ProbeFunc func(ctx context.Context, path string) (*FFprobeInfo, error)

// Reader combines embedded tags with ffprobe container data
type Reader struct {
	probe ProbeFunc
}

// NewReader creates a tag reader. ffprobe is used when it is on PATH.
func NewReader() *Reader {
	r := &Reader{}
	if CheckFFprobeAvailable() {
		r.probe = RunFFprobe
	} else {
		util.DebugLog("ffprobe not found, durations will be empty")
	}
	return r
}

// NewReaderWithProbe creates a reader with a custom probe, nil disables probing
func NewReaderWithProbe(probe ProbeFunc) *Reader {
	return &Reader{probe: probe}
}

// Read returns whatever tags can be found for path
func (r *Reader) Read(ctx context.Context, path string) Tags {
	var tags Tags

	raw, err := readEmbedded(path, &tags)
	if err != nil {
		util.DebugLog("No embedded tags for %s: %v", path, err)
	}

	if r.probe != nil {
		info, err := r.probe(ctx, path)
		if err != nil {
			util.DebugLog("ffprobe failed for %s: %v", path, err)
		} else {
			mergeProbe(&tags, info)
		}
	}

	// Formats without typed accessors for a field keep it in the raw map
	if tags.Genre == "" && raw != nil {
		tags.Genre = CleanString(FirstPresent(raw, "TCON", "genre", "GENRE", "\xa9gen"))
	}

	if tags.Title == "" {
		artist, title := ParseFilename(path)
		tags.Title = title
		if tags.Artist == "" {
			tags.Artist = artist
		}
	}

	return tags
}

func readEmbedded(path string, tags *Tags) (map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	tags.Title = CleanString(m.Title())
	tags.Artist = CleanString(m.Artist())
	tags.Album = CleanString(m.Album())
	tags.Genre = CleanString(m.Genre())
	if y := m.Year(); y > 0 {
		tags.Year = &y
	}

	return m.Raw(), nil
}

func mergeProbe(tags *Tags, info *FFprobeInfo) {
	if d, ok := info.DurationSeconds(); ok {
		tags.Duration = &d
	}
	if info.Format == nil || info.Format.Tags == nil {
		return
	}

	raw := make(map[string]interface{}, len(info.Format.Tags))
	for k, v := range info.Format.Tags {
		raw[k] = v
	}

	fill := func(dst *string, keys ...string) {
		if *dst == "" {
			*dst = CleanString(FirstPresent(raw, keys...))
		}
	}
	fill(&tags.Title, "title", "TITLE")
	fill(&tags.Artist, "artist", "ARTIST")
	fill(&tags.Album, "album", "ALBUM")
	fill(&tags.Genre, "genre", "GENRE")

	if tags.Year == nil {
		if y, ok := parseYear(FirstPresent(raw, "date", "DATE", "year", "YEAR")); ok {
			tags.Year = &y
		}
	}
}

// FirstPresent returns the first non-empty scalar stored under any of keys.
// Values may be plain scalars or single-element lists depending on the
// container format; lists yield their first non-empty element.
func FirstPresent(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if s := scalar(v); s != "" {
			return s
		}
	}
	return ""
}

func scalar(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []string:
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	case []interface{}:
		for _, e := range x {
			if s := scalar(e); s != "" {
				return s
			}
		}
	case int:
		return strconv.Itoa(x)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	}
	return ""
}

// parseYear reads a leading four-digit year from "2019", "2019-05-01" and
// similar date strings.
func parseYear(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 4 {
		return 0, false
	}
	y, err := strconv.Atoi(s[:4])
	if err != nil || y <= 0 {
		return 0, false
	}
	return y, true
}
