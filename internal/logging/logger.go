// Package logging provides the structured JSONL event log shared by the
// Gauntlet, Registry, Fitness Engine, Discovery, and Protocol Surface.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level is log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	levelOff   Level = "off"
)

var levelRank = map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3, levelOff: 4}

// Category names the subsystem emitting the event.
type Category string

const (
	CategoryGauntlet  Category = "gauntlet"
	CategoryRegistry  Category = "registry"
	CategoryFitness   Category = "fitness"
	CategoryDiscovery Category = "discovery"
	CategoryProtocol  Category = "protocol"
)

// Event is one structured log line.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	ToolID    string         `json:"tool_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Logger writes structured events to a JSONL event log plus a dedicated
// error log, matching faults to their own file for fast incident triage.
type Logger struct {
	mu        sync.Mutex
	eventFile *os.File
	errorFile *os.File
	minLevel  Level
}

// New opens (creating if necessary) the event and error logs under baseDir.
func New(baseDir string) (*Logger, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	eventFile, err := os.OpenFile(filepath.Join(baseDir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	errorFile, err := os.OpenFile(filepath.Join(baseDir, "errors.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		eventFile.Close()
		return nil, fmt.Errorf("opening error log: %w", err)
	}
	return &Logger{eventFile: eventFile, errorFile: errorFile, minLevel: LevelInfo}, nil
}

// SetMinLevel changes the level floor below which events are dropped.
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Log writes event to the event log, and additionally to the error log if
// its level is LevelError.
func (l *Logger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if levelRank[event.Level] < levelRank[l.minLevel] {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')
	l.eventFile.Write(data)
	if event.Level == LevelError {
		l.errorFile.Write(data)
	}
}

// Debug, Info, Warn, Error are convenience wrappers around Log.
func (l *Logger) Debug(cat Category, eventType, message string, details map[string]any) {
	l.Log(Event{Level: LevelDebug, Category: cat, EventType: eventType, Message: message, Details: details})
}

func (l *Logger) Info(cat Category, eventType, message string, details map[string]any) {
	l.Log(Event{Level: LevelInfo, Category: cat, EventType: eventType, Message: message, Details: details})
}

func (l *Logger) Warn(cat Category, eventType, message string, details map[string]any) {
	l.Log(Event{Level: LevelWarn, Category: cat, EventType: eventType, Message: message, Details: details})
}

func (l *Logger) Error(cat Category, eventType, message string, details map[string]any) {
	l.Log(Event{Level: LevelError, Category: cat, EventType: eventType, Message: message, Details: details})
}

// Close flushes and closes both log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err1 := l.eventFile.Close()
	err2 := l.errorFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Discard returns a Logger that drops every event, for tests that don't
// care about log output.
func Discard() *Logger {
	f, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	return &Logger{eventFile: f, errorFile: f, minLevel: levelOff}
}
