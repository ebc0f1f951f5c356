package bus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
)

// LoggedEvent is one line of the event journal.
type LoggedEvent struct {
	Event     Event     `json:"event"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// EventLogger journals published events to a JSONL file, one event per
// line. LoggedBus writes every publish through it, so a day's query
// traces and invalidations can be fed to an offline evaluation harness.
type EventLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewEventLogger opens (creating if needed) the journal file at logPath
// in append mode.
func NewEventLogger(logPath string) (*EventLogger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create event journal directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event journal: %w", err)
	}

	return &EventLogger{file: file}, nil
}

// Log appends one event to the journal, synced so the line survives a
// crash immediately after the publish it records.
func (l *EventLogger) Log(topic string, event Event) error {
	line, err := json.Marshal(LoggedEvent{
		Event:     event,
		Topic:     topic,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New(errors.CodeUnavailable, "event journal is closed")
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event journal: %w", err)
	}
	return l.file.Sync()
}

// Close closes the journal file. Further Log calls fail.
func (l *EventLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
