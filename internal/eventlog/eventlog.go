// Package eventlog persists the append-only, schema-versioned record of what
// happened to a subject and when.
//
// One log exists per subject directory. It is created lazily: loading a
// missing or unparsable log yields an empty one. Every append rewrites the
// whole file through a temp file and rename, so a reader sees either the
// previous log or the new one. Appends are not safe for concurrent writers
// to the same subject; different subjects share no state.
package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gusmmm/theparser/internal/fsutil"
)

// SchemaVersion is the version written by this package.
const SchemaVersion = 2

// File names inside a subject directory.
const (
	FileName       = "subject_history.json"
	LegacyFileName = "subject_log.json"
)

// Type names a pipeline stage recorded in the log.
type Type string

const (
	TypeParse Type = "parse"
	TypeMerge Type = "merge"
	TypeClean Type = "clean"
)

// Event is one immutable log entry.
type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Log is the full event history of one subject.
type Log struct {
	SchemaVersion int       `json:"schema_version"`
	SubjectID     string    `json:"subject_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	MigratedFrom  []string  `json:"migrated_from,omitempty"`
	Events        []Event   `json:"events"`
}

// Latest returns the newest event of type t.
func (l *Log) Latest(t Type) (Event, bool) {
	if l == nil {
		return Event{}, false
	}
	for i := len(l.Events) - 1; i >= 0; i-- {
		if l.Events[i].Type == t {
			return l.Events[i], true
		}
	}
	return Event{}, false
}

// Count returns how many events of type t the log holds.
func (l *Log) Count(t Type) int {
	n := 0
	for _, ev := range l.Events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// Store reads and writes event logs. The zero value uses time.Now and slog.Default.
type Store struct {
	Now    func() time.Time
	Logger *slog.Logger
}

var defaultStore = &Store{}

// Load returns the log for the subject in dir. It never fails.
func Load(dir string) *Log { return defaultStore.Load(dir) }

// Append records one event in the subject log in dir.
func Append(dir string, t Type, payload any) (*Event, error) {
	return defaultStore.Append(dir, t, payload)
}

// Path returns the canonical log path for dir.
func Path(dir string) string { return filepath.Join(dir, FileName) }

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

func (s *Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Load returns the log for dir, logging any recoverable problem as a warning.
func (s *Store) Load(dir string) *Log {
	l, err := s.LoadWithWarning(dir)
	if err != nil {
		s.logger().Warn("event log unreadable, using empty log",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
	return l
}

// LoadWithWarning returns the log for dir. The log is always non-nil; the
// error, if any, describes a read or decode problem that was recovered from
// by treating the affected file as absent.
func (s *Store) LoadWithWarning(dir string) (*Log, error) {
	var warnings []error

	current, err := readLog(filepath.Join(dir, FileName))
	if err != nil {
		warnings = append(warnings, err)
	}

	if !migrated(current, LegacyFileName) {
		legacy, err := readLog(filepath.Join(dir, LegacyFileName))
		if err != nil {
			warnings = append(warnings, err)
		}
		if legacy != nil {
			current = mergeLogs(current, legacy)
			current.MigratedFrom = append(current.MigratedFrom, LegacyFileName)
		}
	}

	if current == nil {
		now := s.now()
		current = &Log{CreatedAt: now, UpdatedAt: now}
	}
	current.SchemaVersion = SchemaVersion
	if current.SubjectID == "" {
		current.SubjectID = filepath.Base(dir)
	}
	if current.Events == nil {
		current.Events = []Event{}
	}
	return current, errors.Join(warnings...)
}

// Append loads the log, appends one event stamped with the current UTC time
// (second precision) and rewrites the full log atomically.
func (s *Store) Append(dir string, t Type, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("eventlog: marshal payload: %w", err)
	}
	if payload == nil {
		raw = nil
	}

	l := s.Load(dir)
	ev := Event{Timestamp: s.now(), Type: t, Payload: raw}
	l.Events = append(l.Events, ev)
	l.UpdatedAt = ev.Timestamp

	if err := write(Path(dir), l); err != nil {
		return nil, err
	}
	return &ev, nil
}

func write(path string, l *Log) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("eventlog: marshal log: %w", err)
	}
	data = append(data, '\n')
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("eventlog: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readLog returns nil without error when the file does not exist. A file that
// exists but cannot be read or decoded returns nil and a descriptive error.
func readLog(path string) (*Log, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: read %s: %w", filepath.Base(path), err)
	}
	l, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("eventlog: decode %s: %w", filepath.Base(path), err)
	}
	return l, nil
}

func migrated(l *Log, name string) bool {
	if l == nil {
		return false
	}
	for _, m := range l.MigratedFrom {
		if m == name {
			return true
		}
	}
	return false
}
