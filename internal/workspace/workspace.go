// Package workspace inspects the subjects under a root directory and
// describes their on-disk state for planning and status reporting.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gusmmm/theparser/internal/classify"
	"github.com/gusmmm/theparser/internal/eventlog"
	"github.com/gusmmm/theparser/internal/plan"
	"github.com/gusmmm/theparser/internal/staleness"
	"github.com/gusmmm/theparser/internal/subject"
)

// DefaultExtensions are the source file extensions used when none are configured.
var DefaultExtensions = []string{".pdf"}

// Scanner builds Status values. The zero value scans nothing; set Root.
type Scanner struct {
	Root       string
	Extensions []string
	Events     *eventlog.Store
	Detector   staleness.Detector
	// Workers bounds concurrent subject inspection. <= 0 means one.
	Workers int
}

// Status is the inspected state of one subject.
type Status struct {
	ID           string               `json:"id"`
	Year         int                  `json:"year"`
	Serial       string               `json:"serial"`
	Dir          string               `json:"dir"`
	Sources      []subject.SourceFile `json:"sources"`
	Documents    int                  `json:"documents"`
	Unrecognized []string             `json:"unrecognized,omitempty"`
	MergedExists bool                 `json:"merged_exists"`
	CleanExists  bool                 `json:"cleaned_exists"`
	Staleness    staleness.Report     `json:"staleness"`
	EventCounts  map[string]int       `json:"event_counts"`
	LastEvents   map[string]time.Time `json:"last_events,omitempty"`
	LogWarning   string               `json:"log_warning,omitempty"`
	Snapshot     plan.Snapshot        `json:"snapshot"`
}

func (sc *Scanner) extensions() []string {
	if len(sc.Extensions) > 0 {
		return sc.Extensions
	}
	return DefaultExtensions
}

func (sc *Scanner) events() *eventlog.Store {
	if sc.Events != nil {
		return sc.Events
	}
	return &eventlog.Store{}
}

// Scan inspects every subject under Root, ordered by ID.
func (sc *Scanner) Scan(ctx context.Context) ([]Status, error) {
	subjects, err := subject.Discover(sc.Root)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	out := make([]Status, len(subjects))

	g, ctx := errgroup.WithContext(ctx)
	limit := sc.Workers
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, s := range subjects {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			st, err := sc.Inspect(s)
			if err != nil {
				return err
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup inspects a single subject by ID.
func (sc *Scanner) Lookup(id string) (Status, error) {
	s, err := subject.New(sc.Root, id)
	if err != nil {
		return Status{}, err
	}
	if _, err := os.Stat(s.Dir); err != nil {
		return Status{}, fmt.Errorf("workspace: subject %s: %w", id, err)
	}
	return sc.Inspect(s)
}

// Inspect reads one subject's sources, document folders, artifacts and log.
func (sc *Scanner) Inspect(s subject.Subject) (Status, error) {
	sources, err := s.Sources(sc.extensions())
	if err != nil {
		return Status{}, fmt.Errorf("workspace: %w", err)
	}
	cls, err := classify.Classify(s.Dir)
	if err != nil {
		return Status{}, fmt.Errorf("workspace: %w", err)
	}
	log, warn := sc.events().LoadWithWarning(s.Dir)

	st := Status{
		ID:           s.ID,
		Year:         s.Year(),
		Serial:       s.Serial(),
		Dir:          s.Dir,
		Sources:      sources,
		Documents:    cls.Total(),
		Unrecognized: cls.Unrecognized,
		EventCounts:  make(map[string]int, 3),
		LastEvents:   make(map[string]time.Time, 3),
		Staleness:    sc.Detector.Check(log, sources),
	}
	if warn != nil {
		st.LogWarning = warn.Error()
	}
	for _, t := range []eventlog.Type{eventlog.TypeParse, eventlog.TypeMerge, eventlog.TypeClean} {
		st.EventCounts[string(t)] = log.Count(t)
		if ev, ok := log.Latest(t); ok {
			st.LastEvents[string(t)] = ev.Timestamp
		}
	}

	mergedAt, merged := artifactTime(log, eventlog.TypeMerge, s.MergedPath())
	cleanedAt, cleaned := artifactTime(log, eventlog.TypeClean, s.CleanedPath())
	st.MergedExists, st.CleanExists = merged, cleaned
	hasFolders := cls.Total() > 0 || len(cls.Unrecognized) > 0

	snap := plan.Snapshot{ID: s.ID, Sources: sources, Invalidated: map[plan.Stage]string{}}

	parseAt, parseLogged := st.LastEvents[string(eventlog.TypeParse)]
	switch {
	case st.Staleness.Stale:
		snap.Invalidated[plan.StageParse] = "sources changed since last parse" + describe(st.Staleness)
	case parseLogged && !hasFolders:
		snap.Invalidated[plan.StageParse] = "parse outputs missing"
	default:
		snap.Outputs.Parsed = hasFolders
	}

	switch {
	case !merged:
	case !snap.Outputs.Parsed:
		snap.Invalidated[plan.StageMerge] = "parse outputs are not current"
	case parseLogged && mergedAt.Before(parseAt):
		snap.Invalidated[plan.StageMerge] = "parse outputs newer than merged artifact"
	default:
		snap.Outputs.Merged = true
	}

	switch {
	case !cleaned:
	case !snap.Outputs.Merged:
		snap.Invalidated[plan.StageClean] = "merged artifact is not current"
	case cleanedAt.Before(mergedAt):
		snap.Invalidated[plan.StageClean] = "merged artifact newer than cleaned artifact"
	default:
		snap.Outputs.Cleaned = true
	}

	if len(snap.Invalidated) == 0 {
		snap.Invalidated = nil
	}
	st.Snapshot = snap
	return st, nil
}

// Snapshots extracts the planning input from statuses.
func Snapshots(statuses []Status) []plan.Snapshot {
	out := make([]plan.Snapshot, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, st.Snapshot)
	}
	return out
}

// artifactTime reports whether the artifact exists and when it was last
// produced: the latest event of type t, or the file's modification time
// when the log has no such event.
func artifactTime(log *eventlog.Log, t eventlog.Type, path string) (time.Time, bool) {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return time.Time{}, false
	}
	if ev, ok := log.Latest(t); ok {
		return ev.Timestamp, true
	}
	return fi.ModTime().UTC().Truncate(time.Second), true
}

func describe(r staleness.Report) string {
	var parts []string
	if len(r.Changed) > 0 {
		parts = append(parts, "changed: "+strings.Join(r.Changed, ", "))
	}
	if len(r.Added) > 0 {
		parts = append(parts, "added: "+strings.Join(r.Added, ", "))
	}
	if r.Stale && len(r.Removed) > 0 {
		parts = append(parts, "removed: "+strings.Join(r.Removed, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, "; ") + ")"
}

// FolderNames lists a subject's classified document folders by category,
// in merge order. Used for status output.
func FolderNames(dir string) (map[string][]string, error) {
	cls, err := classify.Classify(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(classify.Order))
	for _, c := range classify.Order {
		for _, f := range cls.Folders[c] {
			out[string(c)] = append(out[string(c)], filepath.Base(f.Path))
		}
	}
	for k := range out {
		sort.Strings(out[k])
	}
	return out, nil
}
