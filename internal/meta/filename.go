package meta

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Filename patterns, most specific first
var filenamePatterns = []struct {
	re     *regexp.Regexp
	artist int // submatch index, 0 when absent
	title  int
}{
	// "01 - Artist - Title"
	{re: regexp.MustCompile(`^\d+\s*[-_.]\s*(.+?)\s+-\s+(.+)$`), artist: 1, title: 2},
	// "01 - Title", "01.Title"
	{re: regexp.MustCompile(`^\d+\s*[-_.]\s*(.+)$`), title: 1},
	// "Artist - Title"
	{re: regexp.MustCompile(`^(.+?)\s+-\s+(.+)$`), artist: 1, title: 2},
}

// ParseFilename guesses artist and title from a file name when tags are
// missing. The bare name is returned as title if nothing matches.
func ParseFilename(path string) (artist, title string) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	for _, p := range filenamePatterns {
		m := p.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if p.artist > 0 {
			artist = CleanString(m[p.artist])
		}
		title = CleanString(strings.ReplaceAll(m[p.title], "_", " "))
		return artist, title
	}

	return "", CleanString(name)
}
