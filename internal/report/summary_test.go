package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeCounter struct{ tracks, analyzed, rated int }

func (c fakeCounter) CountTracks() (int, error)   { return c.tracks, nil }
func (c fakeCounter) CountAnalyzed() (int, error) { return c.analyzed, nil }
func (c fakeCounter) CountRated() (int, error)    { return c.rated, nil }

type failingCounter struct{ fakeCounter }

func (failingCounter) CountRated() (int, error) { return 0, errors.New("database is locked") }

func TestSummaryReport_Counts(t *testing.T) {
	r := NewSummaryReport("run-1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				r.RecordSkip("too_short")
			} else {
				r.RecordSkip("decode_failed")
			}
			r.RecordError(errors.New("exit status 1"))
		}(i)
	}
	wg.Wait()
	r.RecordError(errors.New("permission denied"))
	r.RecordError(nil)

	if got := r.SkippedTotal(); got != 50 {
		t.Errorf("SkippedTotal() = %d, want 50", got)
	}

	reasons := r.SkipReasons()
	if len(reasons) != 2 || reasons[0].Error != "decode_failed" || reasons[0].Count != 40 || reasons[1].Count != 10 {
		t.Errorf("SkipReasons() = %+v", reasons)
	}

	if err := r.Finish(fakeCounter{tracks: 100, analyzed: 90, rated: 7}, 1); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if len(r.TopErrors) != 1 || r.TopErrors[0].Error != "exit status 1" || r.TopErrors[0].Count != 50 {
		t.Errorf("TopErrors = %+v", r.TopErrors)
	}
	if r.TotalTracks != 100 || r.AnalyzedTracks != 90 || r.RatedTracks != 7 {
		t.Errorf("library totals = %d/%d/%d", r.TotalTracks, r.AnalyzedTracks, r.RatedTracks)
	}
	if r.Duration <= 0 {
		t.Error("Duration not stamped")
	}
}

func TestSummaryReport_FinishError(t *testing.T) {
	r := NewSummaryReport("run-2")
	if err := r.Finish(failingCounter{}, 10); err == nil {
		t.Error("expected counter error to propagate")
	}
	if err := NewSummaryReport("run-3").Finish(nil, 10); err != nil {
		t.Errorf("Finish(nil) = %v", err)
	}
}

func TestRankCounts_TieBreak(t *testing.T) {
	got := rankCounts(map[string]int{"b": 2, "a": 2, "c": 5}, 0)
	want := []string{"c", "a", "b"}
	for i, w := range want {
		if got[i].Error != w {
			t.Fatalf("rankCounts order = %+v, want %v", got, want)
		}
	}
}

func TestWriteText(t *testing.T) {
	r := NewSummaryReport("run-1")
	r.FilesFound = 12345
	r.TracksAdded = 1200
	r.FeaturesExtracted = 1100
	r.FeatureBytes = 3 * 1000 * 1000
	r.RecordSkip("too_short")
	r.EventLogPath = "/data/artifacts/events.jsonl"

	var buf bytes.Buffer
	r.WriteText(&buf)
	out := buf.String()

	for _, want := range []string{"12,345", "1,200", "too_short 1", "3.0 MB", "events.jsonl"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestWriteMarkdownReport(t *testing.T) {
	tmpDir := t.TempDir()
	outputPath := filepath.Join(tmpDir, "reports", "summary.md")

	report := NewSummaryReport("3f1c2a9e-run")
	report.MusicDir = "/music"
	report.EventLogPath = "/test/events.jsonl"
	report.FilesFound = 100
	report.TracksAdded = 95
	report.TracksKnown = 5
	report.FeaturesExtracted = 90
	report.IndexRows = 90
	report.IndexGeneration = "gen-abc"
	report.RecordSkip("too_short")
	report.RecordSkip("decode_failed")
	report.RecordError(errors.New("exit status 1"))
	report.AddStage("catalog", 2*time.Second)
	report.AddStage("features", 90*time.Second)
	if err := report.Finish(fakeCounter{tracks: 100, analyzed: 90}, 10); err != nil {
		t.Fatal(err)
	}

	if err := WriteMarkdownReport(report, outputPath); err != nil {
		t.Fatalf("WriteMarkdownReport failed: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	md := string(content)

	for _, want := range []string{
		"# Crate Build Report",
		"3f1c2a9e-run",
		"| Files Found | 100 |",
		"| Index Generation | `gen-abc` |",
		"## Stages",
		"| features | 1m30s |",
		"## Skipped Tracks",
		"| too_short | 1 |",
		"## Top Errors",
		"exit status 1",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		path   string
		maxLen int
		want   string
	}{
		{"/short/path.mp3", 80, "/short/path.mp3"},
		{"/very/long/path/to/some/file.mp3", 20, "/very/lo...file.mp3"},
	}

	for _, tt := range tests {
		if got := truncatePath(tt.path, tt.maxLen); got != tt.want {
			t.Errorf("truncatePath(%q, %d) = %q, want %q", tt.path, tt.maxLen, got, tt.want)
		}
	}
}
