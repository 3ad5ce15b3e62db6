package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gusmmm/theparser/internal/eventlog"
	"github.com/gusmmm/theparser/internal/plan"
	"github.com/gusmmm/theparser/internal/report"
	"github.com/gusmmm/theparser/internal/repository"
)

// fixture lays out one subject with a source file and one parsed document.
func fixture(t *testing.T) (root, cfgPath, reports string) {
	t.Helper()
	base := t.TempDir()
	root = filepath.Join(base, "patients")
	reports = filepath.Join(base, "reports")
	dir := filepath.Join(root, "2401")
	if err := os.MkdirAll(filepath.Join(dir, "2401_E", "markdown"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		filepath.Join(dir, "2401_E.pdf"):                      "%PDF-1.4",
		filepath.Join(dir, "2401_E", "markdown", "page_1.md"): "triage notes\nFooter line\n",
	}
	for p, body := range files {
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfgPath = filepath.Join(base, "theparser.yaml")
	cfg := "report_dir: " + reports + "\nboilerplate:\n  - Footer line\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return root, cfgPath, reports
}

func TestSelectMode(t *testing.T) {
	if m, err := selectMode(false, false, false, false); err != nil || m != plan.ModeFull {
		t.Fatalf("default = %q, %v", m, err)
	}
	if m, err := selectMode(false, true, false, false); err != nil || m != plan.ModeMergeOnly {
		t.Fatalf("merge-only = %q, %v", m, err)
	}
	if _, err := selectMode(true, false, true, false); err == nil {
		t.Fatalf("two modes accepted")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger("warn", "json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("log = %s", buf.String())
	}
	if _, err := newLogger("loud", "text", &buf); err == nil {
		t.Fatalf("bad level accepted")
	}
	if _, err := newLogger("info", "xml", &buf); err == nil {
		t.Fatalf("bad format accepted")
	}
}

func TestDryRunPrintsPlanAndWritesNothing(t *testing.T) {
	root, cfg, reports := fixture(t)
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--config", cfg, "--root", root, "--dry-run"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "2401") {
		t.Fatalf("plan output = %s", out.String())
	}
	if _, err := os.Stat(reports); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote reports")
	}
	if _, err := os.Stat(eventlog.Path(filepath.Join(root, "2401"))); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote an event log")
	}
}

func TestMergeThenCleanRuns(t *testing.T) {
	root, cfg, reports := fixture(t)
	var out, errOut bytes.Buffer

	if code := run(context.Background(), []string{"--config", cfg, "--root", root, "--merge-only"}, &out, &errOut); code != 0 {
		t.Fatalf("merge exit = %d\n%s\n%s", code, out.String(), errOut.String())
	}
	if code := run(context.Background(), []string{"--config", cfg, "--root", root, "--clean-only"}, &out, &errOut); code != 0 {
		t.Fatalf("clean exit = %d\n%s\n%s", code, out.String(), errOut.String())
	}

	cleaned, err := os.ReadFile(filepath.Join(root, "2401", "2401_merged_medical_records.cleaned.md"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(cleaned), "Footer line") || !strings.Contains(string(cleaned), "triage notes") {
		t.Fatalf("cleaned = %s", cleaned)
	}

	index, err := report.ReadIndex(reports)
	if err != nil || len(index) != 2 {
		t.Fatalf("index = %+v, %v", index, err)
	}
	if index[0].Event != "merge-only" || index[1].Event != "clean-only" || index[0].Counts["ok"] != 1 {
		t.Fatalf("index = %+v", index)
	}
}

func TestParseWithoutServiceFails(t *testing.T) {
	root, cfg, _ := fixture(t)
	var out, errOut bytes.Buffer
	args := []string{"--config", cfg, "--root", root, "--parse-only", "--parser-addr", "127.0.0.1:1"}
	if code := run(context.Background(), args, &out, &errOut); code != 1 {
		t.Fatalf("exit = %d, want 1\n%s", code, out.String())
	}
	if !strings.Contains(out.String(), "1 failed") {
		t.Fatalf("summary = %s", out.String())
	}
}

func TestConflictingFlags(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"--merge-only", "--clean-only"}, &out, &errOut); code != 2 {
		t.Fatalf("exit = %d", code)
	}
	if code := run(context.Background(), []string{"--bogus"}, &out, &errOut); code != 2 {
		t.Fatalf("exit = %d", code)
	}
}

func TestPublishRunSharesTimestamp(t *testing.T) {
	dir := t.TempDir()
	repo := repository.NewMemory()
	w := &report.Writer{Dir: dir}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rpt := report.Report{RunID: "run-1", Event: string(plan.ModeFull), Counts: map[string]int{"ok": 1}}

	path := publishRun(context.Background(), logger, w, repo, rpt)

	index, err := report.ReadIndex(dir)
	if err != nil || len(index) != 1 {
		t.Fatalf("index = %+v, %v", index, err)
	}
	runs, _ := repo.ListRuns(context.Background(), 1)
	if len(runs) != 1 || runs[0].ReportFile != path {
		t.Fatalf("runs = %+v", runs)
	}
	if !runs[0].Timestamp.Equal(index[0].Timestamp) {
		t.Fatalf("index %v, run record %v", index[0].Timestamp, runs[0].Timestamp)
	}
	if !strings.HasPrefix(filepath.Base(path), index[0].Timestamp.Format("20060102_150405")) {
		t.Fatalf("report file %s does not carry the run timestamp", path)
	}
}
