// Package clean strips institutional boilerplate from a merged artifact and
// normalizes its whitespace.
package clean

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/gusmmm/theparser/internal/eventlog"
	"github.com/gusmmm/theparser/internal/fsutil"
	"github.com/gusmmm/theparser/internal/reporter"
	"github.com/gusmmm/theparser/internal/subject"
)

// ErrNothingToClean means the subject has no merged artifact.
var ErrNothingToClean = errors.New("clean: nothing to clean")

const stage = "clean"

// DefaultBoilerplate is the removal list used when none is configured.
var DefaultBoilerplate = []string{
	"Centro Hospitalar Universitário de São João, E.P.E.",
	"Alameda Prof. Hernâni Monteiro, 4200-319 Porto",
	"Documento assinado eletronicamente",
	"Este documento é confidencial e destina-se exclusivamente ao seu destinatário.",
	"Processado por computador",
}

// Result is the outcome of cleaning one text.
type Result struct {
	Text     string
	Removals map[string]int
	Total    int
}

// Clean removes every occurrence of each boilerplate string and normalizes
// whitespace. Strings that are empty or only whitespace are ignored. Removal
// and normalization repeat until neither changes the text, so
// Clean(Clean(x).Text) returns the same text with no removals.
func Clean(text string, boilerplate []string) Result {
	patterns := usable(boilerplate)
	res := Result{Removals: make(map[string]int, len(patterns))}

	cur := text
	for {
		removed := 0
		for _, b := range patterns {
			for {
				n := strings.Count(cur, b)
				if n == 0 {
					break
				}
				cur = strings.ReplaceAll(cur, b, "")
				res.Removals[b] += n
				removed += n
			}
		}
		next := Normalize(cur)
		if removed == 0 && next == cur {
			break
		}
		cur = next
		res.Total += removed
	}
	res.Text = cur
	return res
}

func usable(boilerplate []string) []string {
	out := make([]string, 0, len(boilerplate))
	seen := make(map[string]bool, len(boilerplate))
	for _, b := range boilerplate {
		if strings.TrimSpace(b) == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}

// Normalize converts line endings to LF, strips leading indentation and
// trailing spaces from every line, keeps at most one blank line between
// blocks, drops leading and trailing blank lines and ends non-empty text with
// exactly one newline.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := true // suppresses leading blank lines
	for _, line := range lines {
		line = strings.TrimRight(strings.TrimLeft(line, " \t"), " \t")
		if line == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

// Cleaner cleans subject artifacts on disk. The zero value uses
// DefaultBoilerplate.
type Cleaner struct {
	Boilerplate []string
	Reporter    reporter.Reporter
	Events      *eventlog.Store
}

// SubjectResult describes one cleaned subject.
type SubjectResult struct {
	Source   string
	Output   string
	Path     string
	Removals map[string]int
	Total    int
	Changed  bool
	// EventErr is set when the cleaned artifact was written but the clean
	// event could not be recorded.
	EventErr error
}

// LogValue lets a SubjectResult be logged as a group.
func (r SubjectResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("output", r.Output),
		slog.Int("total_removals", r.Total),
		slog.Bool("changed", r.Changed),
	)
}

func (c *Cleaner) boilerplate() []string {
	if c.Boilerplate != nil {
		return c.Boilerplate
	}
	return DefaultBoilerplate
}

// CleanSubject reads the merged artifact, writes the cleaned artifact and
// records a clean event. The cleaned artifact is written even when nothing
// changed.
func (c *Cleaner) CleanSubject(ctx context.Context, s subject.Subject) (SubjectResult, error) {
	if err := ctx.Err(); err != nil {
		return SubjectResult{}, err
	}
	data, err := os.ReadFile(s.MergedPath())
	if errors.Is(err, fs.ErrNotExist) {
		return SubjectResult{}, ErrNothingToClean
	}
	if err != nil {
		return SubjectResult{}, fmt.Errorf("clean: read merged artifact: %w", err)
	}

	res := Clean(string(data), c.boilerplate())
	out := SubjectResult{
		Source:   s.MergedName(),
		Output:   s.CleanedName(),
		Path:     s.CleanedPath(),
		Removals: res.Removals,
		Total:    res.Total,
		Changed:  res.Text != string(data),
	}
	if err := fsutil.WriteFileAtomic(out.Path, []byte(res.Text), 0o644); err != nil {
		return SubjectResult{}, fmt.Errorf("clean: write cleaned artifact: %w", err)
	}

	events := c.Events
	if events == nil {
		events = &eventlog.Store{}
	}
	_, out.EventErr = events.Append(s.Dir, eventlog.TypeClean, eventlog.CleanPayload{
		Source:        out.Source,
		Output:        out.Output,
		Removals:      out.Removals,
		TotalRemovals: out.Total,
		Changed:       out.Changed,
	})

	reporter.Info(c.Reporter, s.ID, stage, fmt.Sprintf("removed %d boilerplate occurrences%s", out.Total, describe(out.Removals)))
	return out, nil
}

func describe(removals map[string]int) string {
	if len(removals) == 0 {
		return ""
	}
	keys := make([]string, 0, len(removals))
	for k := range removals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%q×%d", k, removals[k]))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
