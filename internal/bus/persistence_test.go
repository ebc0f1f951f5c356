package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// readJournal decodes every line of the JSONL journal at path.
func readJournal(t *testing.T, path string) []LoggedEvent {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	defer f.Close()

	var events []LoggedEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var le LoggedEvent
		if err := json.Unmarshal(scanner.Bytes(), &le); err != nil {
			t.Fatalf("malformed journal line %q: %v", scanner.Text(), err)
		}
		events = append(events, le)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("failed to scan journal: %v", err)
	}
	return events
}

func TestEventLogger_LogAppendsJSONLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.log")

	logger, err := NewEventLogger(logPath)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 3; i++ {
		event := Event{
			ID:     "event-" + string(rune('1'+i)),
			Type:   TopicQueryTrace,
			Source: "test",
		}
		if err := logger.Log(TopicQueryTrace, event); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	events := readJournal(t, logPath)
	if len(events) != 3 {
		t.Fatalf("journal has %d events, want 3", len(events))
	}
	if events[0].Event.ID != "event-1" {
		t.Errorf("first journaled event ID = %s, want event-1", events[0].Event.ID)
	}
	if events[0].Topic != TopicQueryTrace {
		t.Errorf("first journaled topic = %s, want %s", events[0].Topic, TopicQueryTrace)
	}
}

func TestEventLogger_CreatesParentDirectory(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "dir", "events.log")

	logger, err := NewEventLogger(logPath)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	if err := logger.Log(TopicQueryTrace, Event{ID: "e1"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("journal file was not created: %v", err)
	}
}

func TestEventLogger_LogAfterCloseFails(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.log")

	logger, err := NewEventLogger(logPath)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Closing twice is a no-op.
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := logger.Log(TopicQueryTrace, Event{ID: "late"}); err == nil {
		t.Error("Log after Close should fail")
	}
}

func TestLoggedBus_PublishJournalsEvent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logged_bus.log")

	innerBus := NewMemoryBus()
	defer innerBus.Close()

	eventLogger, err := NewEventLogger(logPath)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	loggedBus := NewLoggedBus(innerBus, eventLogger, nil)
	defer loggedBus.Close()

	event := Event{
		ID:     "test-pub",
		Type:   TopicNamespaceInvalidated,
		Source: "test",
	}

	if err := loggedBus.Publish(context.Background(), TopicNamespaceInvalidated, event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// The event must reach both the journal and the inner bus.
	events := readJournal(t, logPath)
	if len(events) != 1 {
		t.Fatalf("journal has %d events, want 1", len(events))
	}
	if events[0].Event.ID != "test-pub" {
		t.Errorf("journaled event ID = %s, want test-pub", events[0].Event.ID)
	}
	if got := len(innerBus.Events(TopicNamespaceInvalidated)); got != 1 {
		t.Errorf("inner bus has %d events, want 1", got)
	}
}
