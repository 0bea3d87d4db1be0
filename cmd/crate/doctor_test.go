package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/franz/crate-digger/internal/store"
)

func TestCheckTool_Missing(t *testing.T) {
	required := checkTool("crate-no-such-binary", true, "needed")
	if !required.error {
		t.Error("missing required tool should be an error")
	}

	optional := checkTool("crate-no-such-binary", false, "nice to have")
	if optional.error || !optional.warning {
		t.Errorf("missing optional tool = %+v, want warning", optional)
	}
	if !strings.Contains(optional.name, "optional") {
		t.Errorf("name = %q", optional.name)
	}
}

func TestCheckSQLite(t *testing.T) {
	result := checkSQLite()

	if result.error {
		t.Errorf("SQLite check failed: %s", result.message)
	}
	if result.message == "" {
		t.Error("expected version information in message")
	}
}

func TestCheckDatabase_NonExistent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nonexistent.sqlite")

	result := checkDatabase(dbPath)

	// Should not error - catalog will be created on first build
	if result.error {
		t.Errorf("non-existent catalog check should not error: %s", result.message)
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Error("doctor must not create the catalog")
	}
}

func TestCheckDatabase_Existing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tracks.sqlite")

	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if _, err := db.InsertTrackIfAbsent(&store.Track{ID: "0123456789abcdef", Path: "/test/path.mp3"}); err != nil {
		t.Fatalf("failed to insert test track: %v", err)
	}
	db.Close()

	result := checkDatabase(dbPath)
	if result.error {
		t.Errorf("database check failed: %s", result.message)
	}
	if !strings.Contains(result.message, "1 tracks") {
		t.Errorf("message = %q, want track count", result.message)
	}
}

func TestCheckMusicDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "file.txt")
	if err := os.WriteFile(filePath, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid", tmpDir, false},
		{"missing", filepath.Join(tmpDir, "nope"), true},
		{"file", filePath, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkMusicDirectory(tt.path); got.error != tt.wantErr {
				t.Errorf("checkMusicDirectory(%s) error = %v, want %v (%s)", tt.path, got.error, tt.wantErr, got.message)
			}
		})
	}
}

func TestCheckDataDirectory(t *testing.T) {
	newDir := filepath.Join(t.TempDir(), "data")

	result := checkDataDirectory(newDir)
	if result.error {
		t.Errorf("data directory check failed: %s", result.message)
	}
	if _, err := os.Stat(newDir); os.IsNotExist(err) {
		t.Error("expected directory to be created")
	}
	if _, err := os.Stat(filepath.Join(newDir, ".crate_write_test")); !os.IsNotExist(err) {
		t.Error("write probe was left behind")
	}

	filePath := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(filePath, []byte("test"), 0644); err != nil {
		t.Fatal(err)
	}
	if result := checkDataDirectory(filePath); !result.error {
		t.Error("expected error when path is a file, not a directory")
	}
}

func TestCheckDiskSpace(t *testing.T) {
	result := checkDiskSpace(t.TempDir(), "test")
	if result.error {
		t.Errorf("disk space check failed: %s", result.message)
	}
	if result.message == "" {
		t.Error("expected message with disk space info")
	}

	if result := checkDiskSpace("/nonexistent/path", "test"); !result.warning {
		t.Error("expected warning for non-existent path")
	}
}

func TestCheckLibraryMount(t *testing.T) {
	on, off := true, false

	forced := checkLibraryMount(t.TempDir(), &on, 12)
	if !forced.warning {
		t.Errorf("forced network mode should warn about lowered workers: %+v", forced)
	}
	if !strings.Contains(forced.message, "4 workers") {
		t.Errorf("message = %q", forced.message)
	}

	local := checkLibraryMount(t.TempDir(), &off, 12)
	if local.warning || local.error {
		t.Errorf("forced local mode should pass: %+v", local)
	}
	if !strings.Contains(local.message, "12 workers") {
		t.Errorf("message = %q", local.message)
	}
}
