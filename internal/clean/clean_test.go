package clean

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gusmmm/theparser/internal/eventlog"
	"github.com/gusmmm/theparser/internal/merge"
	"github.com/gusmmm/theparser/internal/subject"
)

const footer = "Centro Hospitalar Universitário de São João, E.P.E."

func TestCleanRemovesAndCounts(t *testing.T) {
	in := "  # Title\r\n\r\n\r\n" + footer + "\nbody line\n\n\n\n   indented\n" + footer + "\n\n"
	res := Clean(in, []string{footer, "", "   "})

	if strings.Contains(res.Text, footer) {
		t.Fatalf("footer survived:\n%s", res.Text)
	}
	if res.Removals[footer] != 2 || res.Total != 2 {
		t.Fatalf("removals = %v total = %d", res.Removals, res.Total)
	}
	want := "# Title\n\nbody line\n\nindented\n"
	if res.Text != want {
		t.Fatalf("text = %q, want %q", res.Text, want)
	}
}

func TestCleanRecombinedOccurrences(t *testing.T) {
	cases := []struct {
		name, in string
		boiler   []string
	}{
		{"nested", "aabb tail", []string{"ab"}},
		{"indent joins pattern", "X\n   Y\nrest", []string{"X\nY"}},
		{"blank collapse joins pattern", "p\n\n\n\nq", []string{"p\n\nq"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			once := Clean(tc.in, tc.boiler)
			for _, b := range tc.boiler {
				if strings.Contains(once.Text, b) {
					t.Fatalf("%q still contains %q", once.Text, b)
				}
			}
			twice := Clean(once.Text, tc.boiler)
			if twice.Text != once.Text || twice.Total != 0 {
				t.Fatalf("not idempotent: %q -> %q (%d removals)", once.Text, twice.Text, twice.Total)
			}
		})
	}
}

func TestCleanIdempotentOnRandomText(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	alphabet := []string{"a", "b", " ", "\t", "\n", "\r\n", "ab", footer, "\n\n\n"}
	boiler := []string{footer, "ab", "b a"}
	for i := 0; i < 500; i++ {
		var b strings.Builder
		for j := r.Intn(40); j > 0; j-- {
			b.WriteString(alphabet[r.Intn(len(alphabet))])
		}
		x := b.String()
		once := Clean(x, boiler)
		twice := Clean(once.Text, boiler)
		if once.Text != twice.Text {
			t.Fatalf("clean(clean(%q)) = %q, clean = %q", x, twice.Text, once.Text)
		}
	}
}

func TestNormalizeEmpty(t *testing.T) {
	for _, in := range []string{"", "\n", "  \n\t\n\r\n"} {
		if got := Normalize(in); got != "" {
			t.Fatalf("Normalize(%q) = %q", in, got)
		}
	}
}

func quietStore(now time.Time) *eventlog.Store {
	return &eventlog.Store{
		Now:    func() time.Time { return now },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestCleanSubjectWithoutMergedArtifact(t *testing.T) {
	s, _ := subject.New(t.TempDir(), "2401")
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	c := &Cleaner{Events: quietStore(time.Now())}
	if _, err := c.CleanSubject(context.Background(), s); !errors.Is(err, ErrNothingToClean) {
		t.Fatalf("err = %v", err)
	}
	if _, err := os.Stat(s.CleanedPath()); !os.IsNotExist(err) {
		t.Fatalf("cleaned artifact must not exist")
	}
}

func TestCleanSubjectWritesEvenWhenUnchanged(t *testing.T) {
	s, _ := subject.New(t.TempDir(), "2402")
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.MergedPath(), []byte("already clean\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := &Cleaner{Boilerplate: []string{footer}, Events: quietStore(time.Now())}
	res, err := c.CleanSubject(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed || res.Total != 0 {
		t.Fatalf("result = %+v", res)
	}
	data, err := os.ReadFile(s.CleanedPath())
	if err != nil || string(data) != "already clean\n" {
		t.Fatalf("cleaned artifact = %q, %v", data, err)
	}
	ev, ok := eventlog.Load(s.Dir).Latest(eventlog.TypeClean)
	if !ok {
		t.Fatalf("no clean event")
	}
	if p, ok := ev.CleanPayload(); !ok || p.Changed || p.Output != s.CleanedName() {
		t.Fatalf("payload = %+v", p)
	}
}

// Subject 2401 with an E and an A document: merge puts E first, clean
// removes every footer and reports the exact count.
func TestMergeThenClean2401(t *testing.T) {
	root := t.TempDir()
	s, _ := subject.New(root, "2401")
	pages := map[string]string{
		"2401_A": "admission summary\n\n" + footer + "\n",
		"2401_E": "    triage notes\n" + footer + "\n\n\n\nvitals stable\n" + footer,
	}
	for folder, text := range pages {
		dir := filepath.Join(s.Dir, folder, "markdown")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "page_1.md"), []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	store := quietStore(now)
	eng := &merge.Engine{Now: func() time.Time { return now }, Events: store}
	if _, err := eng.Merge(context.Background(), s); err != nil {
		t.Fatalf("merge: %v", err)
	}
	merged, err := os.ReadFile(s.MergedPath())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Index(string(merged), "## Category E") > strings.Index(string(merged), "## Category A") {
		t.Fatalf("E section must precede A")
	}
	occurrences := strings.Count(string(merged), footer)

	c := &Cleaner{Boilerplate: []string{footer}, Events: store}
	res, err := c.CleanSubject(context.Background(), s)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	cleaned, _ := os.ReadFile(s.CleanedPath())
	if strings.Contains(string(cleaned), footer) {
		t.Fatalf("footer survived cleaning")
	}
	if occurrences != 3 || res.Removals[footer] != occurrences {
		t.Fatalf("removed %d, merged had %d", res.Removals[footer], occurrences)
	}
	if !strings.Contains(string(cleaned), "\ntriage notes\n") {
		t.Fatalf("indentation not stripped:\n%s", cleaned)
	}

	l := eventlog.Load(s.Dir)
	if l.Count(eventlog.TypeMerge) != 1 || l.Count(eventlog.TypeClean) != 1 {
		t.Fatalf("events = %+v", l.Events)
	}
}
