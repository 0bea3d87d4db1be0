package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventCatalog EventType = "catalog"
	EventExtract EventType = "extract"
	EventSkip    EventType = "skip"
	EventIndex   EventType = "index"
	EventRate    EventType = "rate"
	EventError   EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in the pipeline
type Event struct {
	Timestamp time.Time         `json:"ts"`
	RunID     string            `json:"run_id"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	TrackID   string            `json:"track_id,omitempty"`
	Path      string            `json:"path,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	BPM       float64           `json:"bpm,omitempty"`
	Camelot   string            `json:"camelot,omitempty"`
	Count     int               `json:"count,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	runID    string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level.
// Every event carries a fresh run ID so concurrent or repeated runs can be
// told apart in a shared artifacts directory.
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	runID := uuid.NewString()
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s-%s.jsonl", timestamp, runID[:8])
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		runID:    runID,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.RunID = l.runID

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogCatalog logs a newly cataloged track
func (l *EventLogger) LogCatalog(trackID, path string) error {
	return l.Log(&Event{
		Level:   LevelInfo,
		Event:   EventCatalog,
		TrackID: trackID,
		Path:    path,
	})
}

// LogExtract logs a successful feature extraction
func (l *EventLogger) LogExtract(trackID, path string, bpm float64, camelot string, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventExtract,
		TrackID:  trackID,
		Path:     path,
		BPM:      bpm,
		Camelot:  camelot,
		Duration: duration.Milliseconds(),
	})
}

// LogSkip logs a track left out of the feature pass
func (l *EventLogger) LogSkip(trackID, path, reason string, err error) error {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventSkip,
		TrackID: trackID,
		Path:    path,
		Reason:  reason,
		Error:   errMsg,
	})
}

// LogIndex logs an index rebuild
func (l *EventLogger) LogIndex(rows int, generation string, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventIndex,
		Count:    rows,
		Duration: duration.Milliseconds(),
		Extra: map[string]string{
			"generation": generation,
		},
	})
}

// LogRate logs an explicit user rating
func (l *EventLogger) LogRate(trackID string, stars int) error {
	return l.Log(&Event{
		Level:   LevelInfo,
		Event:   EventRate,
		TrackID: trackID,
		Count:   stars,
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, path string, err error) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: event,
		Path:  path,
		Error: err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunID returns the identifier stamped on every event of this run
func (l *EventLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
