package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const dbTimeout = 2 * time.Second

// erDupEntry is MySQL's duplicate-key error number.
const erDupEntry = 1062

//go:embed schema.sql
var schema string

// MySQLRepo implements Repository using prepared statements and context timeouts.
type MySQLRepo struct {
	db            *sql.DB
	stmtAddEvent  *sql.Stmt
	stmtListEvent *sql.Stmt
	stmtAddRun    *sql.Stmt
	stmtListRuns  *sql.Stmt
}

// Open connects to dsn and applies the pool settings used by the CLI and
// the status server. parseTime is forced on.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("repository: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the index tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository: ensure schema: %w", err)
		}
	}
	return nil
}

// NewMySQLRepo prepares all statements up front. The caller owns the *sql.DB
// lifetime. If any statement fails to prepare, the ones already prepared are
// closed.
func NewMySQLRepo(db *sql.DB) (*MySQLRepo, error) {
	r := &MySQLRepo{db: db}
	for _, s := range []struct {
		dst   **sql.Stmt
		name  string
		query string
	}{
		{&r.stmtAddEvent, "addEvent", "INSERT INTO subject_events (run_id, subject_id, type, ts, payload) VALUES (?, ?, ?, ?, ?)"},
		{&r.stmtListEvent, "listEvents", "SELECT run_id, subject_id, type, ts, payload FROM subject_events WHERE subject_id = ? ORDER BY ts ASC, id ASC"},
		{&r.stmtAddRun, "addRun", "INSERT INTO runs (run_id, event, ts, counts, report_file) VALUES (?, ?, ?, ?, ?)"},
		{&r.stmtListRuns, "listRuns", "SELECT run_id, event, ts, counts, report_file FROM runs ORDER BY ts DESC LIMIT ?"},
	} {
		stmt, err := db.Prepare(s.query)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("prepare %s: %w", s.name, err)
		}
		*s.dst = stmt
	}
	return r, nil
}

// RecordEvent inserts one event; a duplicate is ignored.
func (r *MySQLRepo) RecordEvent(ctx context.Context, rec *EventRecord) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var payload any
	if len(rec.Payload) > 0 {
		payload = []byte(rec.Payload)
	}
	_, err := r.stmtAddEvent.ExecContext(ctx, rec.RunID, rec.SubjectID, rec.Type, rec.Timestamp.UTC(), payload)
	if err != nil && !isDuplicateEntry(err) {
		return fmt.Errorf("repo recordEvent: %w", err)
	}
	return nil
}

// ListEvents returns a subject's events, oldest first.
func (r *MySQLRepo) ListEvents(ctx context.Context, subjectID string) ([]*EventRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.stmtListEvent.QueryContext(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("repo listEvents: %w", err)
	}
	defer rows.Close()

	var records []*EventRecord
	for rows.Next() {
		rec := &EventRecord{}
		var payload []byte
		if err := rows.Scan(&rec.RunID, &rec.SubjectID, &rec.Type, &rec.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("repo listEvents scan: %w", err)
		}
		if len(payload) > 0 {
			rec.Payload = json.RawMessage(payload)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordRun inserts one run summary.
func (r *MySQLRepo) RecordRun(ctx context.Context, rec *RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	counts, err := json.Marshal(rec.Counts)
	if err != nil {
		return fmt.Errorf("repo recordRun marshal: %w", err)
	}
	_, err = r.stmtAddRun.ExecContext(ctx, rec.RunID, rec.Event, rec.Timestamp.UTC(), counts, rec.ReportFile)
	if err != nil && !isDuplicateEntry(err) {
		return fmt.Errorf("repo recordRun: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (r *MySQLRepo) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.stmtListRuns.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("repo listRuns: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec := &RunRecord{}
		var counts []byte
		if err := rows.Scan(&rec.RunID, &rec.Event, &rec.Timestamp, &counts, &rec.ReportFile); err != nil {
			return nil, fmt.Errorf("repo listRuns scan: %w", err)
		}
		if len(counts) > 0 {
			_ = json.Unmarshal(counts, &rec.Counts)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases all prepared statements.
func (r *MySQLRepo) Close() error {
	for _, s := range []*sql.Stmt{r.stmtAddEvent, r.stmtListEvent, r.stmtAddRun, r.stmtListRuns} {
		if s != nil {
			s.Close()
		}
	}
	return nil
}

// isDuplicateEntry checks for MySQL duplicate-key errors.
func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erDupEntry
}
