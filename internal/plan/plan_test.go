package plan

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/gusmmm/theparser/internal/subject"
)

func src(names ...string) []subject.SourceFile {
	var out []subject.SourceFile
	for _, n := range names {
		out = append(out, subject.SourceFile{Name: n, Path: "/data/" + n})
	}
	return out
}

func hasReason(reasons []string, id string, st Stage) bool {
	for _, r := range reasons {
		if strings.HasPrefix(r, id+": "+string(st)+" ") {
			return true
		}
	}
	return false
}

func TestModeIncludes(t *testing.T) {
	cases := map[Mode][]Stage{
		ModeFull:      {StageParse, StageMerge, StageClean},
		ModeParseOnly: {StageParse},
		ModeMergeOnly: {StageMerge},
		ModeCleanOnly: {StageClean},
	}
	for mode, want := range cases {
		for _, st := range Stages {
			expect := false
			for _, w := range want {
				if w == st {
					expect = true
				}
			}
			if mode.Includes(st) != expect {
				t.Fatalf("%s includes %s = %v", mode, st, !expect)
			}
		}
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
	if m, _ := ParseMode(""); m != ModeFull {
		t.Fatalf("empty mode = %s, want full", m)
	}
}

func TestSkipExistingMerge(t *testing.T) {
	snaps := []Snapshot{{ID: "2401", Sources: src("a.pdf"), Outputs: Outputs{Parsed: true, Merged: true}}}
	p := Build(Flags{Mode: ModeMergeOnly, SkipExisting: true}, snaps)

	if p.Runs("2401", StageMerge) {
		t.Fatalf("2401 must not be merged")
	}
	if !hasReason(p.SkipReasons, "2401", StageMerge) {
		t.Fatalf("skip reasons = %v", p.SkipReasons)
	}
	if len(p.ForceReasons) != 0 {
		t.Fatalf("force reasons = %v", p.ForceReasons)
	}
}

func TestForceIncludesAndRecordsReason(t *testing.T) {
	snaps := []Snapshot{{ID: "2401", Sources: src("a.pdf"), Outputs: Outputs{Parsed: true, Merged: true, Cleaned: true}}}
	p := Build(Flags{Mode: ModeFull, Force: true, SkipExisting: true}, snaps)

	for _, st := range Stages {
		if !p.Runs("2401", st) {
			t.Fatalf("forced plan does not run %s", st)
		}
		if !hasReason(p.ForceReasons, "2401", st) {
			t.Fatalf("no force reason for %s: %v", st, p.ForceReasons)
		}
	}
	if len(p.SkipReasons) != 0 {
		t.Fatalf("skip reasons = %v", p.SkipReasons)
	}
	if got := p.SubjectsToParse["2401"]; len(got) != 1 || got[0].Name != "a.pdf" {
		t.Fatalf("parse sources = %+v", got)
	}
}

func TestNoSkipExistingRunsWithForceReason(t *testing.T) {
	snaps := []Snapshot{{ID: "2401", Sources: src("a.pdf"), Outputs: Outputs{Merged: true}}}
	p := Build(Flags{Mode: ModeMergeOnly, SkipExisting: false}, snaps)
	if !p.Runs("2401", StageMerge) || !hasReason(p.ForceReasons, "2401", StageMerge) {
		t.Fatalf("plan = %+v", p)
	}
}

func TestInvalidatedOutputRecordsReason(t *testing.T) {
	snaps := []Snapshot{{
		ID:          "2401",
		Sources:     src("a.pdf"),
		Invalidated: map[Stage]string{StageParse: "sources changed since last parse"},
	}}
	p := Build(DefaultFlags(), snaps)
	if !p.Runs("2401", StageParse) {
		t.Fatalf("stale subject not parsed")
	}
	if len(p.ForceReasons) != 1 || !strings.Contains(p.ForceReasons[0], "sources changed") {
		t.Fatalf("force reasons = %v", p.ForceReasons)
	}
}

func TestNoSourcesSkipsParse(t *testing.T) {
	p := Build(Flags{Mode: ModeParseOnly, Force: true}, []Snapshot{{ID: "0999"}})
	if p.Runs("0999", StageParse) || !hasReason(p.SkipReasons, "0999", StageParse) {
		t.Fatalf("plan = %+v", p)
	}
}

func TestStageOutsideModeIsNotDecided(t *testing.T) {
	snaps := []Snapshot{{ID: "2401", Sources: src("a.pdf"), Outputs: Outputs{Parsed: true}}}
	p := Build(Flags{Mode: ModeCleanOnly, SkipExisting: true}, snaps)
	if len(p.SubjectsToParse) != 0 || len(p.SubjectsToMerge) != 0 {
		t.Fatalf("clean-only plan ran other stages: %+v", p)
	}
	if hasReason(p.SkipReasons, "2401", StageParse) {
		t.Fatalf("out-of-mode stage produced a skip reason")
	}
}

// Exhaustive check over every flag combination and output state: no subject
// is ever both scheduled and skipped for the same stage, and the plan is
// reproducible.
func TestPlanInvariants(t *testing.T) {
	var snaps []Snapshot
	id := 100
	for mask := 0; mask < 8; mask++ {
		for _, sources := range [][]subject.SourceFile{nil, src("x.pdf")} {
			snaps = append(snaps, Snapshot{
				ID:      subjectID(id),
				Sources: sources,
				Outputs: Outputs{Parsed: mask&1 != 0, Merged: mask&2 != 0, Cleaned: mask&4 != 0},
			})
			id++
		}
	}
	for _, mode := range []Mode{ModeParseOnly, ModeMergeOnly, ModeCleanOnly, ModeFull} {
		for _, force := range []bool{false, true} {
			for _, skip := range []bool{false, true} {
				flags := Flags{Mode: mode, Force: force, SkipExisting: skip}
				p := Build(flags, snaps)
				for _, s := range snaps {
					for _, st := range Stages {
						if p.Runs(s.ID, st) && hasReason(p.SkipReasons, s.ID, st) {
							t.Fatalf("%+v: %s both runs and skips %s", flags, s.ID, st)
						}
						if !mode.Includes(st) && p.Runs(s.ID, st) {
							t.Fatalf("%+v: %s runs out-of-mode stage %s", flags, s.ID, st)
						}
						if st != StageParse && s.Outputs.Has(st) && skip && !force && mode.Includes(st) {
							if p.Runs(s.ID, st) || !hasReason(p.SkipReasons, s.ID, st) {
								t.Fatalf("%+v: %s should skip %s", flags, s.ID, st)
							}
						}
						if force && s.Outputs.Has(st) && p.Runs(s.ID, st) && !hasReason(p.ForceReasons, s.ID, st) {
							t.Fatalf("%+v: %s forced %s without reason", flags, s.ID, st)
						}
					}
				}
				if again := Build(flags, snaps); !reflect.DeepEqual(p, again) {
					t.Fatalf("%+v: plan not reproducible", flags)
				}
			}
		}
	}
}

func TestBuildDoesNotAliasInput(t *testing.T) {
	sources := src("a.pdf")
	snaps := []Snapshot{{ID: "2401", Sources: sources}}
	p := Build(DefaultFlags(), snaps)
	sources[0].Name = "mutated.pdf"
	if p.SubjectsToParse["2401"][0].Name != "a.pdf" {
		t.Fatalf("plan aliases caller's source slice")
	}
}

func subjectID(n int) string {
	return fmt.Sprintf("%04d", n)
}
