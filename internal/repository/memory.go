package repository

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Repository. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events map[string][]*EventRecord
	runs   []*RunRecord
}

// NewMemory returns an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{events: make(map[string][]*EventRecord)}
}

// RecordEvent implements Repository.
func (m *Memory) RecordEvent(ctx context.Context, rec *EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events[rec.SubjectID] {
		if e.Type == rec.Type && e.Timestamp.Equal(rec.Timestamp) {
			return nil
		}
	}
	cp := *rec
	m.events[rec.SubjectID] = append(m.events[rec.SubjectID], &cp)
	sort.SliceStable(m.events[rec.SubjectID], func(i, j int) bool {
		return m.events[rec.SubjectID][i].Timestamp.Before(m.events[rec.SubjectID][j].Timestamp)
	})
	return nil
}

// ListEvents implements Repository.
func (m *Memory) ListEvents(ctx context.Context, subjectID string) ([]*EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*EventRecord(nil), m.events[subjectID]...), nil
}

// RecordRun implements Repository.
func (m *Memory) RecordRun(ctx context.Context, rec *RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.runs = append(m.runs, &cp)
	return nil
}

// ListRuns implements Repository.
func (m *Memory) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RunRecord, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
