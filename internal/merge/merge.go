// Package merge concatenates a subject's parsed pages and documents into one
// markdown artifact.
//
// Categories are emitted in the fixed clinical order E, A, BIC, O; documents
// within a category by name; pages by number. Given the same folders and
// the same clock the output is byte-identical.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gusmmm/theparser/internal/classify"
	"github.com/gusmmm/theparser/internal/eventlog"
	"github.com/gusmmm/theparser/internal/fsutil"
	"github.com/gusmmm/theparser/internal/reporter"
	"github.com/gusmmm/theparser/internal/subject"
)

// ErrNothingToMerge means the subject has no classified document folders.
// No artifact is written and no event is recorded.
var ErrNothingToMerge = errors.New("merge: nothing to merge")

const stage = "merge"

var (
	categorySeparator = strings.Repeat("=", 80)
	documentSeparator = strings.Repeat("-", 80)
)

var categoryTitles = map[classify.Category]string{
	classify.CategoryE:   "E",
	classify.CategoryA:   "A",
	classify.CategoryBIC: "BIC",
	classify.CategoryO:   "O",
}

// Engine merges subjects. The zero value is usable.
type Engine struct {
	Now      func() time.Time
	Reporter reporter.Reporter
	Events   *eventlog.Store
}

// Result describes one successful merge.
type Result struct {
	Artifact       string
	Path           string
	CategoryCounts map[string]int
	Documents      int
	Pages          int
	Placeholders   int
	Unrecognized   []string
	// EventErr is set when the artifact was written but the merge event could
	// not be recorded.
	EventErr error
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

func (e *Engine) events() *eventlog.Store {
	if e.Events != nil {
		return e.Events
	}
	return &eventlog.Store{}
}

// Merge classifies the subject's folders, renders the artifact, writes it
// atomically and records a merge event.
func (e *Engine) Merge(ctx context.Context, s subject.Subject) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	cls, err := classify.Classify(s.Dir)
	if err != nil {
		return Result{}, fmt.Errorf("merge: %w", err)
	}
	for _, name := range cls.Unrecognized {
		reporter.Warn(e.Reporter, s.ID, stage, fmt.Sprintf("excluded folder %q: unknown category suffix", name))
	}
	if cls.Total() == 0 {
		return Result{Unrecognized: cls.Unrecognized}, ErrNothingToMerge
	}

	text, st := Render(s, cls, e.now())
	for _, p := range st.Problems {
		reporter.Warn(e.Reporter, s.ID, stage, p)
	}

	res := Result{
		Artifact:       s.MergedName(),
		Path:           s.MergedPath(),
		CategoryCounts: cls.Counts(),
		Documents:      cls.Total(),
		Pages:          st.Pages,
		Placeholders:   len(st.Problems),
		Unrecognized:   cls.Unrecognized,
	}
	if err := fsutil.WriteFileAtomic(res.Path, []byte(text), 0o644); err != nil {
		return Result{}, fmt.Errorf("merge: write artifact: %w", err)
	}

	_, res.EventErr = e.events().Append(s.Dir, eventlog.TypeMerge, eventlog.MergePayload{
		Artifact:       res.Artifact,
		CategoryCounts: res.CategoryCounts,
		TotalDocuments: res.Documents,
		TotalPages:     res.Pages,
		Placeholders:   res.Placeholders,
	})
	reporter.Info(e.Reporter, s.ID, stage, fmt.Sprintf("merged %d documents, %d pages into %s", res.Documents, res.Pages, res.Artifact))
	return res, nil
}

// Stats counts what Render emitted.
type Stats struct {
	Pages    int
	Problems []string
}

// Render assembles the merged text for a classification result.
func Render(s subject.Subject, cls classify.Result, generated time.Time) (string, Stats) {
	var b strings.Builder
	var st Stats

	fmt.Fprintf(&b, "# Merged Medical Records: Subject %s\n\n", s.ID)
	fmt.Fprintf(&b, "- Subject: %s\n", s.ID)
	fmt.Fprintf(&b, "- Year: %d\n", s.Year())
	fmt.Fprintf(&b, "- Serial: %s\n", s.Serial())
	fmt.Fprintf(&b, "- Generated: %s\n", generated.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Documents: %d\n", cls.Total())

	for _, c := range classify.Order {
		folders := cls.Folders[c]
		if len(folders) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s\n\n", categorySeparator)
		fmt.Fprintf(&b, "## Category %s\n", categoryTitles[c])

		for i, f := range folders {
			if i > 0 {
				fmt.Fprintf(&b, "\n%s\n", documentSeparator)
			}
			fmt.Fprintf(&b, "\n### Document: %s\n", f.Name)
			renderPages(&b, &st, f)
		}
	}
	return b.String(), st
}

func renderPages(b *strings.Builder, st *Stats, f classify.Folder) {
	pages, err := f.Pages()
	if err != nil || len(pages) == 0 {
		b.WriteString("\n_[no pages available]_\n")
		st.Problems = append(st.Problems, fmt.Sprintf("%s: no pages available", f.Name))
		return
	}
	for _, p := range pages {
		if p.Err != nil {
			reason := "unreadable"
			if errors.Is(p.Err, os.ErrNotExist) {
				reason = "missing"
			}
			label := fmt.Sprintf("page %d", p.Number)
			if p.Through > p.Number {
				label = fmt.Sprintf("pages %d-%d", p.Number, p.Through)
			}
			fmt.Fprintf(b, "\n#### %s\n\n", strings.ToUpper(label[:1])+label[1:])
			fmt.Fprintf(b, "_[%s %s]_\n", label, reason)
			st.Problems = append(st.Problems, fmt.Sprintf("%s: %s %s", f.Name, label, reason))
			continue
		}
		fmt.Fprintf(b, "\n#### Page %d\n\n", p.Number)
		st.Pages++
		text := strings.TrimRight(p.Text, "\r\n\t ")
		b.WriteString(text)
		b.WriteString("\n")
	}
}

// LogValue lets a Result be logged as a group.
func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("artifact", r.Artifact),
		slog.Int("documents", r.Documents),
		slog.Int("pages", r.Pages),
		slog.Int("placeholders", r.Placeholders),
	)
}
