package util

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func captureLogs(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetColors(false)
	SetOutput(&buf)
	SetLogLevel(level)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLogLevel(LevelInfo)
	})
	return &buf
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name  string
		level LogLevel
		want  []string
		skip  []string
	}{
		{"debug", LevelDebug, []string{"dbg-line", "inf-line", "wrn-line", "err-line"}, nil},
		{"info", LevelInfo, []string{"inf-line", "wrn-line", "err-line"}, []string{"dbg-line"}},
		{"quiet", LevelError, []string{"err-line"}, []string{"dbg-line", "inf-line", "wrn-line"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t, tt.level)

			DebugLog("dbg-line %d", 1)
			InfoLog("inf-line %d", 2)
			WarnLog("wrn-line %d", 3)
			ErrorLog("err-line %d", 4)

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("missing %q in output:\n%s", w, out)
				}
			}
			for _, s := range tt.skip {
				if strings.Contains(out, s) {
					t.Errorf("unexpected %q in output:\n%s", s, out)
				}
			}
		})
	}
}

func TestSetVerboseAndQuiet(t *testing.T) {
	captureLogs(t, LevelInfo)

	SetVerbose(false)
	if IsQuiet() {
		t.Error("default level should not be quiet")
	}

	SetQuiet(true)
	if !IsQuiet() {
		t.Error("SetQuiet(true) should silence info output")
	}

	SetVerbose(true)
	if IsQuiet() {
		t.Error("SetVerbose(true) should lower the level to debug")
	}
}

func TestSuccessLogMarksOK(t *testing.T) {
	buf := captureLogs(t, LevelInfo)

	SuccessLog("All checks passed")
	if !strings.Contains(buf.String(), "All checks passed") || !strings.Contains(buf.String(), "ok=true") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
