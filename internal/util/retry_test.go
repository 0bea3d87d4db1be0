package util

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "EAGAIN", err: syscall.EAGAIN, expected: true},
		{name: "EBUSY", err: syscall.EBUSY, expected: true},
		{name: "ENOENT (not retryable)", err: syscall.ENOENT, expected: false},
		{name: "sqlite lock", err: errors.New("database is locked (5) (SQLITE_BUSY)"), expected: true},
		{name: "generic error", err: errors.New("invalid argument"), expected: false},
		{
			name:     "PathError with EIO",
			err:      &os.PathError{Op: "rename", Path: "/data/index", Err: syscall.EIO},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.expected {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryWithBackoff_EventualSuccess(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

	attempts := 0
	got, err := RetryWithBackoff(cfg, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, syscall.EAGAIN
		}
		return 42, nil
	}, "flaky")

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithBackoff_NonRetryableStopsImmediately(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 5, InitialWait: time.Millisecond, MaxWait: time.Millisecond}

	attempts := 0
	err := Retry(cfg, func() error {
		attempts++
		return syscall.ENOENT
	}, "missing")

	if !errors.Is(err, syscall.ENOENT) {
		t.Errorf("expected ENOENT, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}

	err := Retry(cfg, func() error { return syscall.EBUSY }, "busy")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, syscall.EBUSY) {
		t.Errorf("expected wrapped EBUSY, got %v", err)
	}
}

func TestRetryableRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.tmp")
	dst := filepath.Join(dir, "a")

	if err := os.WriteFile(src, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := RetryableRename(src, dst, nil); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("expected renamed file: %v", err)
	}
}
