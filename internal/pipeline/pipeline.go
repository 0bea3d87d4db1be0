// Package pipeline runs the three ingestion stages (catalog, features and
// index) against the configured stores. Every stage is safe to re-run after
// an interruption and only redoes unfinished work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/franz/crate-digger/internal/audio"
	"github.com/franz/crate-digger/internal/config"
	"github.com/franz/crate-digger/internal/featstore"
	"github.com/franz/crate-digger/internal/index"
	"github.com/franz/crate-digger/internal/meta"
	"github.com/franz/crate-digger/internal/report"
	"github.com/franz/crate-digger/internal/scan"
	"github.com/franz/crate-digger/internal/store"
	"github.com/franz/crate-digger/internal/util"
)

// Extractor turns an audio file into a feature vector
type Extractor interface {
	Extract(ctx context.Context, path string) audio.Result
}

// TagReader reads descriptive metadata for a new catalog row
type TagReader interface {
	Read(ctx context.Context, path string) meta.Tags
}

// Config holds pipeline dependencies. Settings, Catalog and Features are
// required; the rest default to the production implementations.
type Config struct {
	Settings  *config.Config
	Catalog   *store.Store
	Features  *featstore.Store
	Extractor Extractor
	Tags      TagReader
	Events    *report.EventLogger
	Summary   *report.SummaryReport
	Retry     *util.RetryConfig
}

// Pipeline orchestrates ingestion
type Pipeline struct {
	settings  *config.Config
	catalog   *store.Store
	features  *featstore.Store
	extractor Extractor
	tags      TagReader
	scanner   *scan.Scanner
	events    *report.EventLogger
	summary   *report.SummaryReport
	retry     *util.RetryConfig
}

// New creates a pipeline
func New(cfg *Config) *Pipeline {
	p := &Pipeline{
		settings:  cfg.Settings,
		catalog:   cfg.Catalog,
		features:  cfg.Features,
		extractor: cfg.Extractor,
		tags:      cfg.Tags,
		events:    cfg.Events,
		summary:   cfg.Summary,
		retry:     cfg.Retry,
		scanner:   scan.New(&scan.Config{AdditionalExts: cfg.Settings.Extensions}),
	}

	if p.extractor == nil {
		p.extractor = audio.NewExtractor(nil, p.settings.SampleRate, float64(p.settings.DurationSec))
	}
	if p.tags == nil {
		p.tags = meta.NewReader()
	}
	if p.summary == nil {
		p.summary = report.NewSummaryReport(p.events.RunID())
	}
	p.summary.MusicDir = p.settings.MusicDir
	p.summary.DataDir = p.settings.DataDir
	p.summary.EventLogPath = p.events.Path()

	return p
}

// Summary returns the report accumulated by the stages run so far
func (p *Pipeline) Summary() *report.SummaryReport {
	return p.summary
}

// CatalogResult counts the outcome of the catalog stage
type CatalogResult struct {
	Found  int
	Added  int
	Known  int
	Errors []error
}

// Catalog walks the music directory and inserts every audio file that is not
// cataloged yet. Existing rows, ratings included, are left untouched.
func (p *Pipeline) Catalog(ctx context.Context) (*CatalogResult, error) {
	if p.settings.MusicDir == "" {
		return nil, fmt.Errorf("%w: music_dir must be set", util.ErrInvalidConfig)
	}
	start := time.Now()

	scanned, err := p.scanner.Scan(ctx, p.settings.MusicDir)
	if err != nil {
		return nil, err
	}

	result := &CatalogResult{
		Found:  len(scanned.Paths),
		Errors: scanned.Errors,
	}

	// Pre-load known paths so tags are only read for new files
	refs, err := p.catalog.ListTrackRefs()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	known := make(map[string]bool, len(refs))
	for _, r := range refs {
		known[r.Path] = true
	}

	var fresh []string
	for _, path := range scanned.Paths {
		if known[path] {
			result.Known++
			continue
		}
		fresh = append(fresh, path)
	}
	util.InfoLog("Catalog: %d audio files, %d new", result.Found, len(fresh))

	bar := util.NewProgressBar(len(fresh), "Cataloging")
	var mu sync.Mutex
	wp := pool.New().WithMaxGoroutines(p.settings.Concurrency)

	for _, path := range fresh {
		if ctx.Err() != nil {
			break
		}
		path := path
		wp.Go(func() {
			if ctx.Err() != nil {
				return
			}
			added, err := p.catalogOne(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if bar != nil {
				bar.Add(1)
			}
			if err != nil {
				util.ErrorLog("Failed to catalog %s: %v", path, err)
				p.events.LogError(report.EventCatalog, path, err)
				p.summary.RecordError(err)
				result.Errors = append(result.Errors, err)
				return
			}
			if added {
				result.Added++
			} else {
				result.Known++
			}
		})
	}
	wp.Wait()
	if bar != nil {
		bar.Finish()
	}

	p.summary.FilesFound = result.Found
	p.summary.TracksAdded = result.Added
	p.summary.TracksKnown = result.Known
	p.summary.CatalogErrors = len(result.Errors)
	p.summary.AddStage("catalog", time.Since(start))

	if err := ctx.Err(); err != nil {
		return result, err
	}

	util.SuccessLog("Catalog complete: %d added, %d already cataloged, %d errors",
		result.Added, result.Known, len(result.Errors))
	return result, nil
}

func (p *Pipeline) catalogOne(ctx context.Context, path string) (bool, error) {
	id, err := util.TrackID(path)
	if err != nil {
		return false, err
	}

	tags := p.tags.Read(ctx, path)
	t := &store.Track{
		ID:       id,
		Path:     path,
		Title:    tags.Title,
		Artist:   tags.Artist,
		Album:    tags.Album,
		Genre:    tags.Genre,
		Year:     tags.Year,
		Duration: tags.Duration,
	}

	added, err := util.RetryWithBackoff(p.retry, func() (bool, error) {
		return p.catalog.InsertTrackIfAbsent(t)
	}, "insert "+id)
	if err != nil {
		return false, err
	}
	if added {
		p.events.LogCatalog(id, path)
		util.DebugLog("Cataloged: %s (id: %s)", path, id)
	}
	return added, nil
}

// FeatureResult counts the outcome of the feature stage
type FeatureResult struct {
	Pending   int
	Extracted int
	Cached    int
	Skipped   int
	Skips     map[audio.SkipReason]int
	Errors    []error
}

// Features extracts vectors for every catalog row without one. Skipped
// tracks keep null tempo and key and are retried only by a later run.
func (p *Pipeline) Features(ctx context.Context) (*FeatureResult, error) {
	start := time.Now()

	refs, err := p.catalog.ListTrackRefs()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	result := &FeatureResult{Skips: make(map[audio.SkipReason]int)}

	var todo []store.TrackRef
	for _, r := range refs {
		has, err := p.features.Has(r.ID)
		if err != nil {
			return nil, err
		}
		if has {
			result.Cached++
			continue
		}
		todo = append(todo, r)
	}
	result.Pending = len(todo)
	util.InfoLog("Features: %d tracks to analyze, %d cached", len(todo), result.Cached)

	bar := util.NewProgressBar(len(todo), "Extracting")
	var mu sync.Mutex
	wp := pool.New().WithMaxGoroutines(p.settings.Concurrency)

	for _, ref := range todo {
		if ctx.Err() != nil {
			break
		}
		ref := ref
		wp.Go(func() {
			if ctx.Err() != nil {
				return
			}
			res, err := p.featureOne(ctx, ref)

			mu.Lock()
			defer mu.Unlock()
			if bar != nil {
				bar.Add(1)
			}
			switch {
			case err != nil:
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				util.ErrorLog("Failed to store features for %s: %v", ref.Path, err)
				p.events.LogError(report.EventExtract, ref.Path, err)
				p.summary.RecordError(err)
				result.Errors = append(result.Errors, err)
			case res.Skipped:
				result.Skipped++
				result.Skips[res.Reason]++
			default:
				result.Extracted++
			}
		})
	}
	wp.Wait()
	if bar != nil {
		bar.Finish()
	}

	p.summary.FeaturesExtracted += result.Extracted
	p.summary.FeaturesCached = result.Cached
	p.summary.AddStage("features", time.Since(start))

	if err := ctx.Err(); err != nil {
		return result, err
	}

	util.SuccessLog("Features complete: %d extracted, %d skipped, %d errors",
		result.Extracted, result.Skipped, len(result.Errors))
	return result, nil
}

// featureOne analyzes a single track. The analysis columns are written
// before the vector: a crash in between leaves no vector, so the next run
// redoes the track and overwrites the columns with the same values.
func (p *Pipeline) featureOne(ctx context.Context, ref store.TrackRef) (audio.Result, error) {
	trackStart := time.Now()
	res := p.extractor.Extract(ctx, ref.Path)

	if res.Skipped {
		util.WarnLog("Skipped %s: %s", ref.Path, res.Reason)
		if res.Err != nil {
			util.DebugLog("Skip detail for %s: %v", ref.Path, res.Err)
		}
		p.events.LogSkip(ref.ID, ref.Path, string(res.Reason), res.Err)
		p.summary.RecordSkip(string(res.Reason))
		return res, nil
	}
	if res.Err != nil {
		return res, res.Err
	}

	var bpm *float64
	if res.BPM > 0 {
		v := res.BPM
		bpm = &v
	}

	err := util.Retry(p.retry, func() error {
		return p.catalog.UpdateAnalysis(ref.ID, bpm, res.Key.Name, res.Key.Camelot)
	}, "update analysis "+ref.ID)
	if err != nil {
		return res, err
	}

	if _, err := p.features.PutIfAbsent(ref.ID, res.Vector); err != nil {
		return res, fmt.Errorf("failed to store vector: %w", err)
	}

	p.events.LogExtract(ref.ID, ref.Path, res.BPM, res.Key.Camelot, time.Since(trackStart))
	return res, nil
}

// IndexResult describes a rebuilt index
type IndexResult struct {
	Rows       int
	Skipped    int
	Generation string
	Elapsed    time.Duration
}

// Index rebuilds the similarity index from the full feature store and
// persists it. There is no incremental mode.
func (p *Pipeline) Index(ctx context.Context) (*IndexResult, error) {
	start := time.Now()

	m, skipped, err := p.features.LoadAll()
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		util.WarnLog("Index: %d vectors with a foreign dimension were left out", skipped)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	util.InfoLog("Index: building HNSW over %d vectors", m.Len())
	ix, err := index.Build(m, index.Params{
		M:              p.settings.HNSWM,
		EfConstruction: p.settings.HNSWEfConstruction,
		EfSearch:       p.settings.HNSWEfSearch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := ix.Save(p.settings.IndexDir()); err != nil {
		return nil, err
	}

	result := &IndexResult{
		Rows:       ix.Len(),
		Skipped:    skipped,
		Generation: ix.Generation(),
		Elapsed:    time.Since(start),
	}

	p.events.LogIndex(result.Rows, result.Generation, result.Elapsed)
	p.summary.IndexRows = result.Rows
	p.summary.IndexGeneration = result.Generation
	p.summary.AddStage("index", result.Elapsed)

	util.SuccessLog("Index complete: %d rows in %s", result.Rows, result.Elapsed.Round(time.Millisecond))
	return result, nil
}

// Run executes catalog, features and index in order and finishes the
// summary. A stage failure stops the run; earlier stages stay committed.
func (p *Pipeline) Run(ctx context.Context) (*report.SummaryReport, error) {
	if _, err := p.Catalog(ctx); err != nil {
		return p.summary, fmt.Errorf("catalog stage: %w", err)
	}
	if _, err := p.Features(ctx); err != nil {
		return p.summary, fmt.Errorf("feature stage: %w", err)
	}
	if _, err := p.Index(ctx); err != nil {
		return p.summary, fmt.Errorf("index stage: %w", err)
	}

	p.summary.FeatureBytes = p.features.Size()
	if err := p.summary.Finish(p.catalog, 10); err != nil {
		return p.summary, fmt.Errorf("failed to read library totals: %w", err)
	}

	return p.summary, nil
}
