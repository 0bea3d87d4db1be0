package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/franz/crate-digger/internal/audio"
	"github.com/franz/crate-digger/internal/config"
	"github.com/franz/crate-digger/internal/pipeline"
	"github.com/franz/crate-digger/internal/report"
	"github.com/franz/crate-digger/internal/util"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Catalog, analyze and index the music directory",
	Long: `Run the full ingestion pipeline:

1. Catalog: walk the music directory and add new audio files with their tags
2. Features: decode and analyze every track that has no feature vector yet
3. Index: rebuild the similarity index from all stored vectors

Interrupting the build is safe. Running it again resumes where it stopped;
tracks that were skipped (too short, undecodable) are retried.

A Markdown summary is written to <data_dir>/artifacts/reports/.`,
	RunE: runBuild,
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Add new audio files from the music directory to the catalog",
	Long: `Walk the music directory and insert every audio file that is not cataloged
yet. Existing rows and their ratings are never modified. A moved file is
cataloged as a new track; its old row stays behind.`,
	RunE: runCatalog,
}

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Extract feature vectors, tempo and key for unanalyzed tracks",
	RunE:  runFeatures,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the similarity index from the feature store",
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(indexCmd)

	buildCmd.Flags().Bool("no-report", false, "Do not write the Markdown summary")
}

// withPipeline opens stores and the event log, runs fn and closes everything
func withPipeline(needsFFmpeg bool, fn func(cfg *config.Config, p *pipeline.Pipeline) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if needsFFmpeg && !audio.CheckFFmpegAvailable() {
		return fmt.Errorf("ffmpeg not found in PATH (required for decoding, see 'crate doctor')")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := openStores(cfg, readWrite)
	if err != nil {
		return err
	}
	defer st.Close()

	events := newEventLogger(cfg)
	defer events.Close()

	tuning := util.TuneForLibrary(cfg.MusicDir, cfg.ForcedNetworkMode(), cfg.Concurrency)
	if tuning.Network {
		util.InfoLog("Music library: %s", tuning)
	} else {
		util.DebugLog("Music library: %s", tuning)
	}
	cfg.Concurrency = tuning.Concurrency

	p := pipeline.New(&pipeline.Config{
		Settings: cfg,
		Catalog:  st.catalog,
		Features: st.features,
		Events:   events,
		Retry:    tuning.Retry,
	})

	return fn(cfg, p)
}

func runBuild(cmd *cobra.Command, args []string) error {
	noReport, _ := cmd.Flags().GetBool("no-report")

	ctx, stop := signalContext()
	defer stop()

	return withPipeline(true, func(cfg *config.Config, p *pipeline.Pipeline) error {
		util.InfoLog("=== Build ===")
		util.InfoLog("Music: %s", cfg.MusicDir)
		util.InfoLog("Data: %s", cfg.DataDir)

		summary, err := p.Run(ctx)
		if err != nil {
			util.WarnLog("Build stopped: %v", err)
			util.InfoLog("Re-run 'crate build' to resume")
			return err
		}

		if !util.IsQuiet() {
			summary.WriteText(os.Stdout)
		}

		if !noReport {
			stamp := summary.GeneratedAt.Format("20060102-150405")
			out := filepath.Join(cfg.ArtifactsDir(), "reports", stamp, "summary.md")
			if err := report.WriteMarkdownReport(summary, out); err != nil {
				util.WarnLog("Failed to write report: %v", err)
			} else {
				util.InfoLog("Report: %s", out)
			}
		}

		util.InfoLog("")
		util.InfoLog("Next step: crate similar <track path or id>")
		return nil
	})
}

func runCatalog(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	return withPipeline(false, func(cfg *config.Config, p *pipeline.Pipeline) error {
		start := time.Now()
		res, err := p.Catalog(ctx)
		if err != nil {
			return fmt.Errorf("catalog failed: %w", err)
		}

		util.InfoLog("  Files found: %d", res.Found)
		util.InfoLog("  Added: %d", res.Added)
		util.InfoLog("  Already cataloged: %d", res.Known)
		if len(res.Errors) > 0 {
			util.WarnLog("  Errors: %d", len(res.Errors))
		}
		util.InfoLog("Done in %v", time.Since(start).Round(time.Millisecond))
		return nil
	})
}

func runFeatures(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	return withPipeline(true, func(cfg *config.Config, p *pipeline.Pipeline) error {
		start := time.Now()
		res, err := p.Features(ctx)
		if err != nil {
			return fmt.Errorf("feature extraction failed: %w", err)
		}

		util.InfoLog("  Extracted: %d", res.Extracted)
		util.InfoLog("  Already analyzed: %d", res.Cached)
		if res.Skipped > 0 {
			util.WarnLog("  Skipped: %d", res.Skipped)
			for _, reason := range []audio.SkipReason{
				audio.ReasonUnreadable, audio.ReasonDecodeFailed, audio.ReasonTooShort, audio.ReasonNonFinite,
			} {
				if n := res.Skips[reason]; n > 0 {
					util.WarnLog("    %s: %d", reason, n)
				}
			}
		}
		util.InfoLog("Done in %v", time.Since(start).Round(time.Millisecond))
		util.InfoLog("Next step: crate index")
		return nil
	})
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	return withPipeline(false, func(cfg *config.Config, p *pipeline.Pipeline) error {
		res, err := p.Index(ctx)
		if err != nil {
			return fmt.Errorf("index build failed: %w", err)
		}
		util.InfoLog("  Rows: %d", res.Rows)
		util.InfoLog("  Generation: %s", res.Generation)
		return nil
	})
}
