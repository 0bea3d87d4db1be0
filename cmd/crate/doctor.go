package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/crate-digger/internal/store"
	"github.com/franz/crate-digger/internal/util"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure crate can operate correctly.

This command checks:
- Required tools (ffmpeg for decoding)
- Optional tools (ffprobe for durations)
- SQLite version
- Catalog accessibility and integrity
- Music directory readability and network mount tuning
- Data directory writability and free space`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	util.InfoLog("=== Crate Doctor - System Diagnostics ===")

	results := []checkResult{
		checkTool("ffmpeg", true, "required for decoding audio"),
		checkTool("ffprobe", false, "track durations will be empty"),
		checkSQLite(),
		checkDatabase(cfg.DBPath()),
	}

	if cfg.MusicDir != "" {
		results = append(results, checkMusicDirectory(cfg.MusicDir))
		results = append(results, checkLibraryMount(cfg.MusicDir, cfg.ForcedNetworkMode(), cfg.Concurrency))
	} else {
		results = append(results, checkResult{
			name:    "Music directory",
			warning: true,
			message: "not configured (use --music-dir or music_dir in config)",
		})
	}

	results = append(results, checkDataDirectory(cfg.DataDir))
	results = append(results, checkDiskSpace(cfg.DataDir, "data"))

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before running crate.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed")
	}

	return nil
}

// checkTool verifies an ffmpeg-suite binary runs and reports its version
func checkTool(name string, required bool, consequence string) checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, "-version").CombinedOutput()
	if err != nil {
		r := checkResult{
			name:    name,
			message: fmt.Sprintf("not found or not executable (%s)", consequence),
		}
		if required {
			r.error = true
		} else {
			r.name += " (optional)"
			r.warning = true
		}
		return r
	}

	// "ffmpeg version 6.1.1 Copyright ..."
	version := "unknown"
	lines := strings.Split(string(output), "\n")
	if parts := strings.Fields(lines[0]); len(parts) >= 3 {
		version = parts[2]
	}

	return checkResult{
		name:    name,
		message: fmt.Sprintf("version %s", version),
	}
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase verifies catalog accessibility
func checkDatabase(dbPath string) checkResult {
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Catalog",
				message: fmt.Sprintf("%s (will be created on first build)", dbPath),
			}
		}
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	tracks, _ := db.CountTracks()
	return checkResult{
		name:    "Catalog",
		message: fmt.Sprintf("%s (%s, %d tracks)", dbPath, humanize.Bytes(uint64(info.Size())), tracks),
	}
}

// checkMusicDirectory verifies the music directory is readable
func checkMusicDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		return checkResult{
			name:    "Music directory",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Music directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return checkResult{
			name:    "Music directory",
			error:   true,
			message: fmt.Sprintf("cannot read %s: %v", path, err),
		}
	}

	return checkResult{
		name:    "Music directory",
		message: fmt.Sprintf("%s (%d entries)", path, len(entries)),
	}
}

// checkLibraryMount reports how the music directory's filesystem affects
// worker tuning
func checkLibraryMount(path string, forced *bool, concurrency int) checkResult {
	tuning := util.TuneForLibrary(path, forced, concurrency)
	r := checkResult{
		name:    "Library storage",
		message: tuning.String(),
	}
	if tuning.Network && tuning.Concurrency < concurrency {
		r.warning = true
		r.message += fmt.Sprintf(" (lowered from %d; set network_mode: off to override)", concurrency)
	}
	return r
}

// checkDataDirectory verifies the data directory is writable, creating it
// when missing
func checkDataDirectory(path string) checkResult {
	if err := os.MkdirAll(path, 0755); err != nil {
		return checkResult{
			name:    "Data directory",
			error:   true,
			message: fmt.Sprintf("cannot create %s: %v", path, err),
		}
	}

	testFile := filepath.Join(path, ".crate_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{
			name:    "Data directory",
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{
		name:    "Data directory",
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))
	usedPercent := float64(usedBytes) / float64(totalBytes) * 100

	// Features need roughly 300 bytes per track; warn well before that matters
	warning := false
	warningMsg := ""
	if availBytes < 1<<30 {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 95 {
		warning = true
		warningMsg = " (>95% used)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%s available%s", humanize.IBytes(availBytes), warningMsg),
	}
}
