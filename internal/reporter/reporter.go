// Package reporter carries progress messages from pipeline stages to whoever
// is watching. Stages receive a Reporter explicitly; nothing here writes to a
// global console.
package reporter

import (
	"log/slog"
	"sync"
)

// Level is the severity of a progress entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Reporter receives progress messages for a subject and stage.
type Reporter interface {
	Report(level Level, subjectID, stage, message string)
}

// Info reports an informational message. r may be nil.
func Info(r Reporter, subjectID, stage, message string) {
	if r != nil {
		r.Report(LevelInfo, subjectID, stage, message)
	}
}

// Warn reports a warning. r may be nil.
func Warn(r Reporter, subjectID, stage, message string) {
	if r != nil {
		r.Report(LevelWarn, subjectID, stage, message)
	}
}

// Error reports an error. r may be nil.
func Error(r Reporter, subjectID, stage, message string) {
	if r != nil {
		r.Report(LevelError, subjectID, stage, message)
	}
}

// Slog forwards entries to a structured logger.
type Slog struct {
	Logger *slog.Logger
}

// Report implements Reporter.
func (s Slog) Report(level Level, subjectID, stage, message string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{slog.String("subject_id", subjectID), slog.String("stage", stage)}
	switch level {
	case LevelWarn:
		logger.Warn(message, attrs...)
	case LevelError:
		logger.Error(message, attrs...)
	default:
		logger.Info(message, attrs...)
	}
}

// Entry is one recorded message.
type Entry struct {
	Level   Level
	Subject string
	Stage   string
	Message string
}

// Recorder keeps every entry in memory. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Report implements Reporter.
func (r *Recorder) Report(level Level, subjectID, stage, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Subject: subjectID, Stage: stage, Message: message})
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Multi fans one entry out to several reporters.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(level Level, subjectID, stage, message string) {
	for _, r := range m {
		if r != nil {
			r.Report(level, subjectID, stage, message)
		}
	}
}
