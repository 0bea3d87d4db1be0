package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/franz/crate-digger/internal/util"
)

// AudioExtensions are the default supported audio file extensions
var AudioExtensions = []string{
	".mp3",
	".flac",
	".m4a",
	".wav",
	".ogg",
	".aiff",
	".aif",
	".wma",
	".aac",
}

// Scanner discovers audio files in a directory tree
type Scanner struct {
	extensions map[string]bool
}

// Config holds scanner configuration
type Config struct {
	AdditionalExts []string
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	// Build extension map (case-insensitive)
	extMap := make(map[string]bool)
	for _, ext := range AudioExtensions {
		extMap[strings.ToLower(ext)] = true
	}
	if cfg != nil {
		for _, ext := range cfg.AdditionalExts {
			extMap[strings.ToLower(ext)] = true
		}
	}

	return &Scanner{extensions: extMap}
}

// Result represents a scan result
type Result struct {
	Paths   []string // absolute, sorted
	Ignored int      // non-audio files
	Errors  []error  // unreadable entries, walking continued
}

// Scan walks root recursively and returns every audio file under it.
// Symlinked directories are not followed. Unreadable subdirectories are
// recorded in Result.Errors and skipped.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("music directory %s: %w", abs, util.ErrNotFound)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("music directory %s is not a directory", abs)
	}

	util.InfoLog("Starting scan of: %s", abs)

	result := &Result{
		Paths:  make([]string, 0),
		Errors: make([]error, 0),
	}

	bar := util.NewIndeterminateBar("Scanning", "files")

	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		// Check for cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if path == abs {
				return err
			}
			util.WarnLog("Error accessing path %s: %v", path, err)
			result.Errors = append(result.Errors, fmt.Errorf("access error: %s: %w", path, err))
			return nil // Continue walking
		}

		if d.IsDir() {
			return nil
		}

		if !s.isAudioFile(path) {
			result.Ignored++
			return nil
		}

		result.Paths = append(result.Paths, path)
		if bar != nil {
			bar.Add(1)
		}
		return nil
	})

	if bar != nil {
		bar.Finish()
	}

	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return result, walkErr
		}
		return result, fmt.Errorf("walk error: %w", walkErr)
	}

	sort.Strings(result.Paths)

	util.DebugLog("Scan complete: %d audio files, %d ignored, %d errors",
		len(result.Paths), result.Ignored, len(result.Errors))

	return result, nil
}

// isAudioFile checks if a file has a supported audio extension.
// AppleDouble sidecars ("._name.mp3") are not audio.
func (s *Scanner) isAudioFile(path string) bool {
	if strings.HasPrefix(filepath.Base(path), "._") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	return s.extensions[ext]
}

// GetSupportedExtensions returns the supported extensions, sorted
func (s *Scanner) GetSupportedExtensions() []string {
	exts := make([]string, 0, len(s.extensions))
	for ext := range s.extensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
