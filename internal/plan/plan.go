// Package plan builds the processing plan: which subjects need which stage
// run in this invocation.
//
// Build is a pure function of its inputs. It reads nothing from disk; callers
// describe the current filesystem state with Snapshots. Calling Build twice
// with the same inputs yields equal plans, which is what makes a dry-run
// preview trustworthy.
package plan

import (
	"fmt"
	"sort"

	"github.com/gusmmm/theparser/internal/subject"
)

// Stage is one pipeline step.
type Stage string

const (
	StageParse Stage = "parse"
	StageMerge Stage = "merge"
	StageClean Stage = "clean"
)

// Stages lists the stages in execution order.
var Stages = []Stage{StageParse, StageMerge, StageClean}

// Mode selects which stages an invocation runs.
type Mode string

const (
	ModeParseOnly Mode = "parse-only"
	ModeMergeOnly Mode = "merge-only"
	ModeCleanOnly Mode = "clean-only"
	ModeFull      Mode = "full"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = fmt.Errorf("plan: unknown mode")

// ParseMode converts a mode name; the empty string selects ModeFull.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeFull, nil
	case ModeParseOnly, ModeMergeOnly, ModeCleanOnly, ModeFull:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownMode, s)
}

// Includes reports whether the mode requests stage st.
func (m Mode) Includes(st Stage) bool {
	switch m {
	case ModeFull:
		return true
	case ModeParseOnly:
		return st == StageParse
	case ModeMergeOnly:
		return st == StageMerge
	case ModeCleanOnly:
		return st == StageClean
	}
	return false
}

// Flags are the control flags of one invocation.
type Flags struct {
	Mode         Mode `json:"mode"`
	Force        bool `json:"force"`
	SkipExisting bool `json:"skip_existing"`
}

// DefaultFlags is full mode, skipping existing outputs.
func DefaultFlags() Flags {
	return Flags{Mode: ModeFull, SkipExisting: true}
}

// Outputs records which stage outputs are present and current.
type Outputs struct {
	Parsed  bool `json:"parsed"`
	Merged  bool `json:"merged"`
	Cleaned bool `json:"cleaned"`
}

// Has reports whether the output of st exists.
func (o Outputs) Has(st Stage) bool {
	switch st {
	case StageParse:
		return o.Parsed
	case StageMerge:
		return o.Merged
	case StageClean:
		return o.Cleaned
	}
	return false
}

// Snapshot is the filesystem state of one subject as seen before planning.
type Snapshot struct {
	ID      string               `json:"id"`
	Sources []subject.SourceFile `json:"sources"`
	Outputs Outputs              `json:"outputs"`
	// Invalidated names, per stage, why an output on disk is not treated
	// as current (for example changed sources since the last parse).
	Invalidated map[Stage]string `json:"invalidated,omitempty"`
}

// Action is the outcome of one planning decision.
type Action string

const (
	ActionRun  Action = "run"
	ActionSkip Action = "skip"
)

// Decision is one subject/stage planning decision.
type Decision struct {
	Subject string `json:"subject"`
	Stage   Stage  `json:"stage"`
	Action  Action `json:"action"`
	Forced  bool   `json:"forced,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Plan is the immutable result of Build.
type Plan struct {
	Flags           Flags                           `json:"flags"`
	SubjectsToParse map[string][]subject.SourceFile `json:"subjects_to_parse"`
	SubjectsToMerge []string                        `json:"subjects_to_merge"`
	SubjectsToClean []string                        `json:"subjects_to_clean"`
	SkipReasons     []string                        `json:"skip_reasons"`
	ForceReasons    []string                        `json:"force_reasons"`
	Decisions       []Decision                      `json:"decisions"`
}

// Build decides, per subject and per requested stage, whether the stage runs.
//
// A stage not requested by the mode is out of scope and produces no decision.
// A stage whose output exists is skipped when SkipExisting is set and Force
// is not; otherwise it runs, and a run over an existing output is recorded as
// forced. A subject never appears in both a stage's work list and its skip
// reasons.
func Build(flags Flags, snapshots []Snapshot) Plan {
	subjects := append([]Snapshot(nil), snapshots...)
	sort.SliceStable(subjects, func(i, j int) bool { return subjects[i].ID < subjects[j].ID })

	p := Plan{
		Flags:           flags,
		SubjectsToParse: make(map[string][]subject.SourceFile),
		SubjectsToMerge: []string{},
		SubjectsToClean: []string{},
		SkipReasons:     []string{},
		ForceReasons:    []string{},
		Decisions:       []Decision{},
	}

	seen := make(map[string]bool, len(subjects))
	for _, snap := range subjects {
		if seen[snap.ID] {
			continue
		}
		seen[snap.ID] = true
		for _, st := range Stages {
			if !flags.Mode.Includes(st) {
				continue
			}
			d := decide(flags, snap, st)
			p.Decisions = append(p.Decisions, d)
			p.apply(d, snap)
		}
	}
	return p
}

func decide(flags Flags, snap Snapshot, st Stage) Decision {
	d := Decision{Subject: snap.ID, Stage: st}
	if st == StageParse && len(snap.Sources) == 0 {
		d.Action = ActionSkip
		d.Reason = "no source files"
		return d
	}
	exists := snap.Outputs.Has(st)
	if exists && flags.SkipExisting && !flags.Force {
		d.Action = ActionSkip
		d.Reason = "output exists"
		return d
	}
	d.Action = ActionRun
	switch {
	case exists && flags.Force:
		d.Forced = true
		d.Reason = "output exists, forced"
	case exists:
		d.Forced = true
		d.Reason = "output exists, skip-existing disabled"
	case snap.Invalidated[st] != "":
		d.Forced = true
		d.Reason = snap.Invalidated[st]
	}
	return d
}

func (p *Plan) apply(d Decision, snap Snapshot) {
	if d.Action == ActionSkip {
		p.SkipReasons = append(p.SkipReasons, fmt.Sprintf("%s: %s skipped: %s", d.Subject, d.Stage, d.Reason))
		return
	}
	switch d.Stage {
	case StageParse:
		p.SubjectsToParse[d.Subject] = append([]subject.SourceFile(nil), snap.Sources...)
	case StageMerge:
		p.SubjectsToMerge = append(p.SubjectsToMerge, d.Subject)
	case StageClean:
		p.SubjectsToClean = append(p.SubjectsToClean, d.Subject)
	}
	if d.Forced {
		p.ForceReasons = append(p.ForceReasons, fmt.Sprintf("%s: %s re-run: %s", d.Subject, d.Stage, d.Reason))
	}
}

// Runs reports whether the plan runs stage st for subject id.
func (p Plan) Runs(id string, st Stage) bool {
	switch st {
	case StageParse:
		_, ok := p.SubjectsToParse[id]
		return ok
	case StageMerge:
		return contains(p.SubjectsToMerge, id)
	case StageClean:
		return contains(p.SubjectsToClean, id)
	}
	return false
}

// Subjects returns every subject with at least one stage to run, in ID order.
func (p Plan) Subjects() []string {
	set := make(map[string]bool)
	for id := range p.SubjectsToParse {
		set[id] = true
	}
	for _, id := range p.SubjectsToMerge {
		set[id] = true
	}
	for _, id := range p.SubjectsToClean {
		set[id] = true
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Summary holds plan counts.
type Summary struct {
	Parse  int `json:"parse"`
	Merge  int `json:"merge"`
	Clean  int `json:"clean"`
	Skip   int `json:"skip"`
	Forced int `json:"forced"`
}

// Summary counts the plan's work lists and reasons.
func (p Plan) Summary() Summary {
	return Summary{
		Parse:  len(p.SubjectsToParse),
		Merge:  len(p.SubjectsToMerge),
		Clean:  len(p.SubjectsToClean),
		Skip:   len(p.SkipReasons),
		Forced: len(p.ForceReasons),
	}
}

// Empty reports whether the plan has no work.
func (p Plan) Empty() bool {
	return len(p.SubjectsToParse) == 0 && len(p.SubjectsToMerge) == 0 && len(p.SubjectsToClean) == 0
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
