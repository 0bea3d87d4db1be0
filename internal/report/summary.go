package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// SummaryReport collects the outcome of one pipeline run
type SummaryReport struct {
	GeneratedAt time.Time
	RunID       string
	Duration    time.Duration

	// Catalog statistics
	FilesFound    int
	TracksAdded   int
	TracksKnown   int
	CatalogErrors int

	// Feature statistics
	FeaturesExtracted int
	FeaturesCached    int
	Skips             map[string]int
	FeatureBytes      int64

	// Index statistics
	IndexRows       int
	IndexGeneration string

	// Library totals after the run
	TotalTracks    int
	AnalyzedTracks int
	RatedTracks    int

	Stages    []StageTiming
	TopErrors []ErrorSummary

	// Metadata
	MusicDir     string
	DataDir      string
	EventLogPath string

	mu     sync.Mutex
	errors map[string]int
}

// StageTiming is the wall time of one pipeline stage
type StageTiming struct {
	Name    string
	Elapsed time.Duration
}

// ErrorSummary represents an error or skip reason with its count
type ErrorSummary struct {
	Error string
	Count int
}

// Counter provides library totals
type Counter interface {
	CountTracks() (int, error)
	CountAnalyzed() (int, error)
	CountRated() (int, error)
}

// NewSummaryReport starts a summary for a run
func NewSummaryReport(runID string) *SummaryReport {
	return &SummaryReport{
		GeneratedAt: time.Now(),
		RunID:       runID,
		Skips:       make(map[string]int),
		Stages:      make([]StageTiming, 0),
		TopErrors:   make([]ErrorSummary, 0),
		errors:      make(map[string]int),
	}
}

// RecordSkip counts a skipped track. Safe for concurrent use.
func (r *SummaryReport) RecordSkip(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Skips[reason]++
}

// RecordError counts a per-track error message. Safe for concurrent use.
func (r *SummaryReport) RecordError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[err.Error()]++
}

// AddStage appends a stage timing
func (r *SummaryReport) AddStage(name string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stages = append(r.Stages, StageTiming{Name: name, Elapsed: elapsed})
}

// SkippedTotal returns the number of skipped tracks over all reasons
func (r *SummaryReport) SkippedTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.Skips {
		n += c
	}
	return n
}

// Finish stamps the duration, ranks errors and reads library totals
func (r *SummaryReport) Finish(db Counter, errorLimit int) error {
	r.mu.Lock()
	r.Duration = time.Since(r.GeneratedAt)
	r.TopErrors = rankCounts(r.errors, errorLimit)
	r.mu.Unlock()

	if db == nil {
		return nil
	}

	var err error
	if r.TotalTracks, err = db.CountTracks(); err != nil {
		return err
	}
	if r.AnalyzedTracks, err = db.CountAnalyzed(); err != nil {
		return err
	}
	if r.RatedTracks, err = db.CountRated(); err != nil {
		return err
	}
	return nil
}

// SkipReasons returns skip reasons ordered by count, then name
func (r *SummaryReport) SkipReasons() []ErrorSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rankCounts(r.Skips, 0)
}

// rankCounts sorts counts descending with ties by key; limit <= 0 keeps all
func rankCounts(counts map[string]int, limit int) []ErrorSummary {
	out := make([]ErrorSummary, 0, len(counts))
	for k, c := range counts {
		out = append(out, ErrorSummary{Error: k, Count: c})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Error < out[j].Error
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// WriteText prints a short terminal summary
func (r *SummaryReport) WriteText(w io.Writer) {
	fmt.Fprintf(w, "\nBuild summary (%s)\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Files found:        %s\n", humanize.Comma(int64(r.FilesFound)))
	fmt.Fprintf(w, "  Tracks added:       %s (%s already cataloged)\n",
		humanize.Comma(int64(r.TracksAdded)), humanize.Comma(int64(r.TracksKnown)))
	fmt.Fprintf(w, "  Features extracted: %s (%s cached)\n",
		humanize.Comma(int64(r.FeaturesExtracted)), humanize.Comma(int64(r.FeaturesCached)))

	if skipped := r.SkippedTotal(); skipped > 0 {
		parts := make([]string, 0, len(r.Skips))
		for _, s := range r.SkipReasons() {
			parts = append(parts, fmt.Sprintf("%s %d", s.Error, s.Count))
		}
		fmt.Fprintf(w, "  Skipped:            %s (%s)\n", humanize.Comma(int64(skipped)), strings.Join(parts, ", "))
	}

	fmt.Fprintf(w, "  Index rows:         %s\n", humanize.Comma(int64(r.IndexRows)))
	if r.FeatureBytes > 0 {
		fmt.Fprintf(w, "  Feature store:      %s\n", humanize.Bytes(uint64(r.FeatureBytes)))
	}
	fmt.Fprintf(w, "  Library:            %s tracks, %s analyzed, %s rated\n",
		humanize.Comma(int64(r.TotalTracks)), humanize.Comma(int64(r.AnalyzedTracks)), humanize.Comma(int64(r.RatedTracks)))
	if r.EventLogPath != "" {
		fmt.Fprintf(w, "  Event log:          %s\n", r.EventLogPath)
	}
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	// Header
	md.WriteString("# Crate Build Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	if report.RunID != "" {
		md.WriteString(fmt.Sprintf("**Run:** `%s`\n\n", report.RunID))
	}
	if report.MusicDir != "" {
		md.WriteString(fmt.Sprintf("**Music:** `%s`\n\n", report.MusicDir))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	// Overview
	md.WriteString("## Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Files Found | %s |\n", humanize.Comma(int64(report.FilesFound))))
	md.WriteString(fmt.Sprintf("| Tracks Added | %s |\n", humanize.Comma(int64(report.TracksAdded))))
	md.WriteString(fmt.Sprintf("| Tracks Already Cataloged | %s |\n", humanize.Comma(int64(report.TracksKnown))))
	if report.CatalogErrors > 0 {
		md.WriteString(fmt.Sprintf("| Catalog Errors | %d |\n", report.CatalogErrors))
	}
	md.WriteString(fmt.Sprintf("| Features Extracted | %s |\n", humanize.Comma(int64(report.FeaturesExtracted))))
	md.WriteString(fmt.Sprintf("| Features Cached | %s |\n", humanize.Comma(int64(report.FeaturesCached))))
	md.WriteString(fmt.Sprintf("| Index Rows | %s |\n", humanize.Comma(int64(report.IndexRows))))
	if report.IndexGeneration != "" {
		md.WriteString(fmt.Sprintf("| Index Generation | `%s` |\n", report.IndexGeneration))
	}
	if report.FeatureBytes > 0 {
		md.WriteString(fmt.Sprintf("| Feature Store Size | %s |\n", humanize.Bytes(uint64(report.FeatureBytes))))
	}
	md.WriteString(fmt.Sprintf("| Duration | %s |\n", report.Duration.Round(time.Second)))
	md.WriteString("\n")

	// Library
	md.WriteString("## Library\n\n")
	md.WriteString("| Tracks | Analyzed | Rated |\n")
	md.WriteString("|--------|----------|-------|\n")
	md.WriteString(fmt.Sprintf("| %s | %s | %s |\n\n",
		humanize.Comma(int64(report.TotalTracks)),
		humanize.Comma(int64(report.AnalyzedTracks)),
		humanize.Comma(int64(report.RatedTracks))))

	// Stages
	if len(report.Stages) > 0 {
		md.WriteString("## Stages\n\n")
		md.WriteString("| Stage | Time |\n")
		md.WriteString("|-------|------|\n")
		for _, s := range report.Stages {
			md.WriteString(fmt.Sprintf("| %s | %s |\n", s.Name, s.Elapsed.Round(time.Millisecond)))
		}
		md.WriteString("\n")
	}

	// Skips
	if skips := report.SkipReasons(); len(skips) > 0 {
		md.WriteString("## Skipped Tracks\n\n")
		md.WriteString("| Reason | Count |\n")
		md.WriteString("|--------|-------|\n")
		for _, s := range skips {
			md.WriteString(fmt.Sprintf("| %s | %d |\n", s.Error, s.Count))
		}
		md.WriteString("\n")
	}

	// Errors
	if len(report.TopErrors) > 0 {
		md.WriteString("## Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, err := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", err.Count, truncatePath(err.Error, 120)))
		}
		md.WriteString("\n")
	}

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// truncatePath truncates a string to a maximum length, keeping both ends
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
