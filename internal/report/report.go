// Package report writes one JSON report per invocation and keeps a running
// index of every report written to the same directory.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gusmmm/theparser/internal/fsutil"
)

// IndexFile is the running index inside the report directory.
const IndexFile = "index.json"

// NewRunID returns a fresh invocation identifier.
func NewRunID() string { return uuid.NewString() }

// Report is the content of one report file.
type Report struct {
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Items     any            `json:"items"`
	Errors    []string       `json:"errors"`
	Counts    map[string]int `json:"counts"`
}

// IndexEntry is one line of the running index.
type IndexEntry struct {
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	File      string         `json:"file"`
	Counts    map[string]int `json:"counts"`
}

// Writer stores reports under Dir.
type Writer struct {
	Dir    string
	Now    func() time.Time
	Logger *slog.Logger
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// FileName is <yyyymmdd_hhmmss>_<event>_<first 8 chars of run id>.json.
func FileName(r Report) string {
	short := strings.ReplaceAll(r.RunID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	event := strings.Map(func(c rune) rune {
		if c == '/' || c == '\\' || c == ' ' {
			return '-'
		}
		return c
	}, r.Event)
	return fmt.Sprintf("%s_%s_%s.json", r.Timestamp.UTC().Format("20060102_150405"), event, short)
}

// Write stores r and appends it to the index. RunID and Timestamp are filled
// in when empty. The returned path is the report file.
func (w *Writer) Write(r Report) (string, error) {
	if r.RunID == "" {
		r.RunID = NewRunID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = w.now()
	}
	r.Timestamp = r.Timestamp.Truncate(time.Second)
	if r.Errors == nil {
		r.Errors = []string{}
	}
	if r.Counts == nil {
		r.Counts = map[string]int{}
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal: %w", err)
	}
	path := filepath.Join(w.Dir, FileName(r))
	if err := fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("report: write: %w", err)
	}

	index, err := ReadIndex(w.Dir)
	if err != nil {
		w.logger().Warn("report index unreadable, starting a new one",
			slog.String("dir", w.Dir),
			slog.String("error", err.Error()),
		)
		index = nil
	}
	index = append(index, IndexEntry{
		RunID:     r.RunID,
		Timestamp: r.Timestamp,
		Event:     r.Event,
		File:      filepath.Base(path),
		Counts:    r.Counts,
	})
	data, err = json.MarshalIndent(index, "", "  ")
	if err != nil {
		return path, fmt.Errorf("report: marshal index: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(w.Dir, IndexFile), append(data, '\n'), 0o644); err != nil {
		return path, fmt.Errorf("report: write index: %w", err)
	}
	return path, nil
}

// ReadIndex returns the index in dir. A missing index is empty.
func ReadIndex(dir string) ([]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report: read index: %w", err)
	}
	var out []IndexEntry
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("report: decode index: %w", err)
	}
	return out, nil
}
