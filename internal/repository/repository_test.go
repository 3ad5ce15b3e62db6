package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestMemoryEventsDeduplicateAndOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, rec := range []*EventRecord{
		{SubjectID: "2401", Type: "merge", Timestamp: t0.Add(time.Minute)},
		{SubjectID: "2401", Type: "parse", Timestamp: t0},
		{SubjectID: "2401", Type: "parse", Timestamp: t0},
		{SubjectID: "2402", Type: "parse", Timestamp: t0},
	} {
		if err := m.RecordEvent(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	got, err := m.ListEvents(ctx, "2401")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Type != "parse" || got[1].Type != "merge" {
		t.Fatalf("events = %+v", got)
	}
}

func TestMemoryRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 3; i++ {
		if err := m.RecordRun(ctx, &RunRecord{RunID: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := m.ListRuns(ctx, 2)
	if len(got) != 2 || got[0].RunID != "2" || got[1].RunID != "1" {
		t.Fatalf("runs = %+v", got)
	}
}

func TestIsDuplicateEntry(t *testing.T) {
	dup := fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	if !isDuplicateEntry(dup) {
		t.Fatalf("wrapped 1062 not detected")
	}
	if isDuplicateEntry(&mysql.MySQLError{Number: 1146}) || isDuplicateEntry(fmt.Errorf("Duplicate entry")) {
		t.Fatalf("false positive")
	}
}

func TestSchemaHasBothTables(t *testing.T) {
	for _, table := range []string{"subject_events", "runs"} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("schema missing %s", table)
		}
	}
}

// stmtCounter is a database/sql driver that only prepares statements. It
// fails every query containing failOn and counts statements left open.
type stmtCounter struct {
	mu     sync.Mutex
	open   int
	failOn string
}

func (d *stmtCounter) Connect(context.Context) (driver.Conn, error) { return counterConn{d}, nil }
func (d *stmtCounter) Driver() driver.Driver                        { return d }
func (d *stmtCounter) Open(string) (driver.Conn, error)             { return counterConn{d}, nil }

func (d *stmtCounter) openStmts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

type counterConn struct{ d *stmtCounter }

func (c counterConn) Prepare(query string) (driver.Stmt, error) {
	if strings.Contains(query, c.d.failOn) {
		return nil, errors.New("syntax error")
	}
	c.d.mu.Lock()
	c.d.open++
	c.d.mu.Unlock()
	return counterStmt{c.d}, nil
}
func (c counterConn) Close() error              { return nil }
func (c counterConn) Begin() (driver.Tx, error) { return nil, errors.New("no transactions") }

type counterStmt struct{ d *stmtCounter }

func (s counterStmt) Close() error {
	s.d.mu.Lock()
	s.d.open--
	s.d.mu.Unlock()
	return nil
}
func (s counterStmt) NumInput() int { return -1 }
func (s counterStmt) Exec([]driver.Value) (driver.Result, error) {
	return nil, errors.New("not supported")
}
func (s counterStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("not supported")
}

func TestNewMySQLRepoClosesPreparedOnFailure(t *testing.T) {
	d := &stmtCounter{failOn: "FROM runs"}
	db := sql.OpenDB(d)
	defer db.Close()

	repo, err := NewMySQLRepo(db)
	if err == nil || !strings.Contains(err.Error(), "listRuns") {
		t.Fatalf("repo = %v, err = %v", repo, err)
	}
	if n := d.openStmts(); n != 0 {
		t.Fatalf("%d prepared statements left open", n)
	}
}

func TestNewMySQLRepoPreparesAll(t *testing.T) {
	d := &stmtCounter{failOn: "never matches"}
	db := sql.OpenDB(d)
	defer db.Close()

	repo, err := NewMySQLRepo(db)
	if err != nil {
		t.Fatal(err)
	}
	if n := d.openStmts(); n != 4 {
		t.Fatalf("open statements = %d, want 4", n)
	}
	repo.Close()
	if n := d.openStmts(); n != 0 {
		t.Fatalf("open statements after Close = %d", n)
	}
}
