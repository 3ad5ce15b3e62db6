package merge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gusmmm/theparser/internal/eventlog"
	"github.com/gusmmm/theparser/internal/reporter"
	"github.com/gusmmm/theparser/internal/subject"
)

var fixed = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

func writePage(t *testing.T, dir, folder, sub string, n int, text string) {
	t.Helper()
	ext := ".md"
	if sub == "text" {
		ext = ".txt"
	}
	p := filepath.Join(dir, folder, sub)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	name := filepath.Join(p, "page_"+strconv.Itoa(n)+ext)
	if err := os.WriteFile(name, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newEngine(rec *reporter.Recorder) *Engine {
	return &Engine{
		Now:      func() time.Time { return fixed },
		Reporter: rec,
		Events: &eventlog.Store{
			Now:    func() time.Time { return fixed },
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}
}

func subjectIn(t *testing.T, id string) subject.Subject {
	t.Helper()
	s, err := subject.New(t.TempDir(), id)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMergeOrdersCategoriesClinically(t *testing.T) {
	s := subjectIn(t, "2401")
	writePage(t, s.Dir, "2401_A", "markdown", 1, "admission note")
	writePage(t, s.Dir, "2401_E", "markdown", 1, "emergency page one")
	writePage(t, s.Dir, "2401_E", "markdown", 2, "emergency page two")

	var rec reporter.Recorder
	res, err := newEngine(&rec).Merge(context.Background(), s)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	data, err := os.ReadFile(s.MergedPath())
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	out := string(data)

	e := strings.Index(out, "## Category E")
	a := strings.Index(out, "## Category A")
	if e < 0 || a < 0 || e > a {
		t.Fatalf("category E must precede A:\n%s", out)
	}
	if strings.Contains(out, "## Category BIC") || strings.Contains(out, "## Category O") {
		t.Fatalf("empty categories must be omitted:\n%s", out)
	}
	if p1, p2 := strings.Index(out, "emergency page one"), strings.Index(out, "emergency page two"); p1 > p2 {
		t.Fatalf("pages out of order")
	}
	if res.Documents != 2 || res.Pages != 3 || res.CategoryCounts["E"] != 1 || res.CategoryCounts["A"] != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(out, "- Year: 2024") || !strings.Contains(out, "- Serial: 01") {
		t.Fatalf("header missing year or serial:\n%s", out)
	}

	l := eventlog.Load(s.Dir)
	ev, ok := l.Latest(eventlog.TypeMerge)
	if !ok {
		t.Fatalf("no merge event recorded")
	}
	p, ok := ev.MergePayload()
	if !ok || p.Artifact != "2401_merged_medical_records.md" || p.TotalDocuments != 2 || p.TotalPages != 3 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestMergeNothingToMerge(t *testing.T) {
	s := subjectIn(t, "0999")
	if err := os.WriteFile(filepath.Join(s.Dir, "0999_E.pdf"), []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := newEngine(nil).Merge(context.Background(), s)
	if !errors.Is(err, ErrNothingToMerge) {
		t.Fatalf("err = %v, want ErrNothingToMerge", err)
	}
	if _, err := os.Stat(s.MergedPath()); !os.IsNotExist(err) {
		t.Fatalf("artifact must not be written")
	}
	if _, err := os.Stat(eventlog.Path(s.Dir)); !os.IsNotExist(err) {
		t.Fatalf("event must not be recorded")
	}
}

func TestMergeIsDeterministicUnderFixedClock(t *testing.T) {
	s := subjectIn(t, "2402")
	writePage(t, s.Dir, "2402_BIC", "text", 1, "bic text")
	writePage(t, s.Dir, "2402_O", "markdown", 1, "other")
	writePage(t, s.Dir, "2402_2_O", "markdown", 1, "other two")

	eng := newEngine(nil)
	if _, err := eng.Merge(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(s.MergedPath())
	if _, err := eng.Merge(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(s.MergedPath())
	if string(first) != string(second) {
		t.Fatalf("merge output differs between runs")
	}
	if n := eventlog.Load(s.Dir).Count(eventlog.TypeMerge); n != 2 {
		t.Fatalf("merge events = %d, want 2", n)
	}
}

func TestMergePlaceholdersForMissingPages(t *testing.T) {
	s := subjectIn(t, "2403")
	writePage(t, s.Dir, "2403_E", "markdown", 1, "first")
	writePage(t, s.Dir, "2403_E", "markdown", 3, "third")

	var rec reporter.Recorder
	res, err := newEngine(&rec).Merge(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(s.MergedPath())
	if !strings.Contains(string(data), "_[page 2 missing]_") {
		t.Fatalf("missing placeholder:\n%s", data)
	}
	if res.Placeholders != 1 || res.Pages != 2 {
		t.Fatalf("result = %+v", res)
	}
	warned := false
	for _, e := range rec.Entries() {
		if e.Level == reporter.LevelWarn && strings.Contains(e.Message, "page 2 missing") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("no warning for missing page: %+v", rec.Entries())
	}
}

func TestMergeWarnsOnUnrecognizedFolder(t *testing.T) {
	s := subjectIn(t, "2404")
	writePage(t, s.Dir, "2404_E", "markdown", 1, "ok")
	writePage(t, s.Dir, "2404_XYZ", "markdown", 1, "unknown")

	var rec reporter.Recorder
	res, err := newEngine(&rec).Merge(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Unrecognized) != 1 || res.Unrecognized[0] != "2404_XYZ" {
		t.Fatalf("unrecognized = %v", res.Unrecognized)
	}
	data, _ := os.ReadFile(s.MergedPath())
	if strings.Contains(string(data), "unknown") {
		t.Fatalf("unrecognized folder was merged")
	}
}

func TestMergeCollapsesHugePageGap(t *testing.T) {
	s := subjectIn(t, "2405")
	writePage(t, s.Dir, "2405_E", "text", 1, "first")
	writePage(t, s.Dir, "2405_E", "text", 100000000, "stray")

	res, err := newEngine(nil).Merge(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(s.MergedPath())
	if !strings.Contains(string(data), "_[pages 2-99999999 missing]_") {
		t.Fatalf("missing range placeholder:\n%s", data)
	}
	if res.Pages != 2 || res.Placeholders != 1 {
		t.Fatalf("result = %+v", res)
	}
}
