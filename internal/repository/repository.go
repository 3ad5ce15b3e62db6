// Package repository mirrors subject events and run reports into an
// external index. The files under the root stay authoritative; the index is
// a queryable copy and may lag or be absent.
package repository

import (
	"context"
	"encoding/json"
	"time"
)

// EventRecord is one mirrored event-log entry.
type EventRecord struct {
	RunID     string          `json:"run_id,omitempty"`
	SubjectID string          `json:"subject_id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RunRecord summarizes one invocation.
type RunRecord struct {
	RunID      string         `json:"run_id"`
	Event      string         `json:"event"`
	Timestamp  time.Time      `json:"timestamp"`
	Counts     map[string]int `json:"counts"`
	ReportFile string         `json:"report_file,omitempty"`
}

// Repository is a small, focused interface for the index.
// Implementations must honour the supplied context for cancellation and timeouts.
type Repository interface {
	// RecordEvent stores one event. Recording the same subject, type and
	// timestamp twice is not an error.
	RecordEvent(ctx context.Context, rec *EventRecord) error

	// ListEvents returns a subject's events, oldest first.
	ListEvents(ctx context.Context, subjectID string) ([]*EventRecord, error)

	// RecordRun stores one run summary.
	RecordRun(ctx context.Context, rec *RunRecord) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}
