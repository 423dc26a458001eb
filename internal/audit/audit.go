// Package audit records server lifecycle events. Events are stored as JSON
// Lines (JSONL) files, one per server.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventType classifies a lifecycle event.
type EventType string

const (
	EventLaunch   EventType = "launch"
	EventReady    EventType = "ready"
	EventRestart  EventType = "restart"
	EventExit     EventType = "exit"
	EventFailed   EventType = "failed"
	EventStopping EventType = "stopping"
	EventStopped  EventType = "stopped"
	EventError    EventType = "error"
)

const eventSuffix = ".events.jsonl"

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Server    string    `json:"server"`
	Port      int       `json:"port,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// Sink receives lifecycle events.
type Sink interface {
	Log(event Event) error
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Log(Event) error { return nil }

// Logger writes and reads audit events for servers.
// Events are stored in {dir}/{server}.events.jsonl.
type Logger struct {
	dir string
	mu  sync.Mutex
}

var _ Sink = (*Logger)(nil)

// NewLogger creates a new audit logger rooted at dir.
func NewLogger(dir string) *Logger {
	return &Logger{dir: dir}
}

func (l *Logger) eventPath(server string) string {
	return filepath.Join(l.dir, filepath.Base(server)+eventSuffix)
}

// Log appends an event to the server's audit log.
func (l *Logger) Log(event Event) error {
	if event.Server == "" {
		return fmt.Errorf("audit event has no server")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(l.eventPath(event.Server), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Events reads all events for a server in chronological order.
func (l *Logger) Events(server string) ([]Event, error) {
	f, err := os.Open(l.eventPath(server))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue // Skip malformed lines
		}
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("error reading audit log: %w", err)
	}
	return events, nil
}

// Servers lists the servers that have an audit log, sorted by name.
func (l *Logger) Servers() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), eventSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), eventSuffix))
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes the audit log for a server.
func (l *Logger) Remove(server string) error {
	if err := os.Remove(l.eventPath(server)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Recorder collects events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) Log(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of every recorded event, in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
