// Package pipeline executes a processing plan: for every subject with work,
// parse, merge and clean run in that order, and each stage ends in exactly
// one Outcome.
//
// Subjects are isolated from each other. A stage error or panic fails that
// subject's remaining stages only; the rest of the batch continues.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gusmmm/theparser/internal/clean"
	"github.com/gusmmm/theparser/internal/eventlog"
	"github.com/gusmmm/theparser/internal/hasher"
	"github.com/gusmmm/theparser/internal/merge"
	"github.com/gusmmm/theparser/internal/parser"
	"github.com/gusmmm/theparser/internal/plan"
	"github.com/gusmmm/theparser/internal/reporter"
	"github.com/gusmmm/theparser/internal/repository"
	"github.com/gusmmm/theparser/internal/subject"
	"github.com/gusmmm/theparser/internal/worker"
)

// Mirror receives a copy of every event the executor records.
type Mirror interface {
	RecordEvent(ctx context.Context, rec *repository.EventRecord) error
}

// Executor runs plans. Root and Parser must be set for parse work; every
// other field has a usable default.
type Executor struct {
	Root     string
	Parser   parser.Client
	Writer   *parser.Writer
	Hasher   *hasher.Hasher
	Merger   *merge.Engine
	Cleaner  *clean.Cleaner
	Events   *eventlog.Store
	Reporter reporter.Reporter
	Mirror   Mirror
	Logger   *slog.Logger

	RunID string
	// Workers is the number of subjects processed concurrently. <= 0 means one.
	Workers int
	// HashLimit bounds concurrent hashing within one subject.
	HashLimit int
	// MaxFiles is the parser's per-call file limit. Zero means unlimited.
	MaxFiles int

	once sync.Once
}

func (e *Executor) init() {
	e.once.Do(func() {
		if e.Logger == nil {
			e.Logger = slog.Default()
		}
		if e.Events == nil {
			e.Events = &eventlog.Store{Logger: e.Logger}
		}
		if e.Hasher == nil {
			e.Hasher = hasher.Default()
		}
		if e.Writer == nil {
			e.Writer = &parser.Writer{Logger: e.Logger}
		}
		if e.Merger == nil {
			e.Merger = &merge.Engine{Reporter: e.Reporter, Events: e.Events}
		}
		if e.Cleaner == nil {
			e.Cleaner = &clean.Cleaner{Reporter: e.Reporter, Events: e.Events}
		}
	})
}

type subjectRun struct {
	outcomes []Outcome
	current  plan.Stage
	finished bool
	// reported is set once the pool returned a result for the subject.
	reported bool
}

// Run executes p and returns one Outcome per decided subject and stage,
// including the plan's skip decisions.
func (e *Executor) Run(ctx context.Context, p plan.Plan) Summary {
	e.init()
	ids := p.Subjects()
	runs := make(map[string]*subjectRun, len(ids))
	for _, id := range ids {
		runs[id] = &subjectRun{}
	}

	pool := worker.NewPool(e.Workers, e.Logger)
	pool.Start()
	// Cancelling ctx stops the pool: queued subjects are not started.
	stopPool := context.AfterFunc(ctx, pool.Stop)
	defer stopPool()
	go func() {
		for _, id := range ids {
			r := runs[id]
			job := worker.Job{
				Ctx:       ctx,
				SubjectID: id,
				Run:       func(ctx context.Context) error { return e.runSubject(ctx, id, p, r) },
			}
			if !pool.Submit(job) {
				break
			}
		}
		pool.Shutdown()
	}()

	var outcomes []Outcome
	for res := range pool.Results() {
		r := runs[res.SubjectID]
		r.reported = true
		if res.Err != nil && !r.finished {
			st := r.current
			if st == "" {
				st = firstStage(p, res.SubjectID)
			}
			o := failed(res.SubjectID, st, res.Err)
			e.report(o)
			r.outcomes = append(r.outcomes, o)
			for _, later := range plan.Stages[stageOrder[st]+1:] {
				if p.Runs(res.SubjectID, later) {
					r.outcomes = append(r.outcomes, skipped(res.SubjectID, later, "earlier stage failed"))
				}
			}
		}
		outcomes = append(outcomes, r.outcomes...)
	}

	for _, id := range ids {
		if runs[id].reported {
			continue
		}
		for _, st := range plan.Stages {
			if p.Runs(id, st) {
				outcomes = append(outcomes, skipped(id, st, "run cancelled"))
			}
		}
	}

	for _, d := range p.Decisions {
		if d.Action == plan.ActionSkip {
			outcomes = append(outcomes, skipped(d.Subject, d.Stage, d.Reason))
		}
	}
	return summarize(outcomes)
}

func (e *Executor) runSubject(ctx context.Context, id string, p plan.Plan, r *subjectRun) error {
	s := subject.Subject{ID: id, Dir: filepath.Join(e.Root, id)}
	var stageErr error
	for _, st := range plan.Stages {
		if !p.Runs(id, st) {
			continue
		}
		if stageErr != nil {
			r.outcomes = append(r.outcomes, skipped(id, st, "earlier stage failed"))
			continue
		}
		r.current = st
		var o Outcome
		switch st {
		case plan.StageParse:
			o = e.parse(ctx, s, p.SubjectsToParse[id])
		case plan.StageMerge:
			o = e.merge(ctx, s)
		case plan.StageClean:
			o = e.clean(ctx, s)
		}
		e.report(o)
		r.outcomes = append(r.outcomes, o)
		if o.Status == StatusFailed {
			stageErr = fmt.Errorf("%s: %w", st, o.Err)
		}
	}
	r.finished = true
	return stageErr
}

func (e *Executor) parse(ctx context.Context, s subject.Subject, sources []subject.SourceFile) Outcome {
	if len(sources) == 0 {
		return skipped(s.ID, plan.StageParse, "no source files")
	}
	if e.Parser == nil {
		return failed(s.ID, plan.StageParse, errors.New("no parser configured"))
	}
	if e.MaxFiles > 0 && len(sources) > e.MaxFiles {
		return failed(s.ID, plan.StageParse, fmt.Errorf("%d source files exceed the parser limit of %d per call", len(sources), e.MaxFiles))
	}

	paths := make([]string, len(sources))
	for i, src := range sources {
		paths[i] = src.Path
	}
	// Digests are taken before the call so the recorded state is what was sent.
	metas, err := e.Hasher.MetadataAll(ctx, paths, e.HashLimit)
	if err != nil {
		return failed(s.ID, plan.StageParse, err)
	}

	results, err := e.Parser.Parse(ctx, paths)
	if err != nil {
		return failed(s.ID, plan.StageParse, err)
	}
	if err := parser.CheckCount(paths, results); err != nil {
		return failed(s.ID, plan.StageParse, err)
	}

	payload := eventlog.ParsePayload{Algorithm: e.Hasher.Algorithm(), ResultCount: len(results)}
	pages := 0
	for i, res := range results {
		if res.FileName == "" {
			res.FileName = sources[i].Name
		}
		folder, err := e.Writer.WriteResult(s.Dir, s.ID, res)
		if err != nil {
			return failed(s.ID, plan.StageParse, err)
		}
		pages += len(res.Pages)
		payload.Documents = append(payload.Documents, filepath.Base(folder))
	}
	for _, src := range sources {
		m := metas[src.Path]
		fd := eventlog.FileDigest{Name: src.Name}
		if m != nil {
			fd.Digest, fd.Size, fd.ContentType = m.Digest, m.Size, m.ContentType
		}
		payload.Files = append(payload.Files, fd)
	}

	msg := fmt.Sprintf("parsed %d files into %d pages", len(results), pages)
	if _, err := e.Events.Append(s.Dir, eventlog.TypeParse, payload); err != nil {
		return warning(s.ID, plan.StageParse, msg+"; parse event not recorded", err)
	}
	if err := e.mirror(ctx, s, eventlog.TypeParse); err != nil {
		return warning(s.ID, plan.StageParse, msg+"; index mirror failed", err)
	}
	return ok(s.ID, plan.StageParse, msg)
}

func (e *Executor) merge(ctx context.Context, s subject.Subject) Outcome {
	res, err := e.Merger.Merge(ctx, s)
	switch {
	case errors.Is(err, merge.ErrNothingToMerge):
		return warning(s.ID, plan.StageMerge, "nothing to merge", nil)
	case err != nil:
		return failed(s.ID, plan.StageMerge, err)
	}
	msg := fmt.Sprintf("%s: %d documents, %d pages", res.Artifact, res.Documents, res.Pages)
	if res.EventErr != nil {
		return warning(s.ID, plan.StageMerge, msg+"; merge event not recorded", res.EventErr)
	}
	if err := e.mirror(ctx, s, eventlog.TypeMerge); err != nil {
		return warning(s.ID, plan.StageMerge, msg+"; index mirror failed", err)
	}
	if res.Placeholders > 0 {
		return warning(s.ID, plan.StageMerge, fmt.Sprintf("%s; %d placeholder pages", msg, res.Placeholders), nil)
	}
	return ok(s.ID, plan.StageMerge, msg)
}

func (e *Executor) clean(ctx context.Context, s subject.Subject) Outcome {
	res, err := e.Cleaner.CleanSubject(ctx, s)
	switch {
	case errors.Is(err, clean.ErrNothingToClean):
		return warning(s.ID, plan.StageClean, "nothing to clean: no merged artifact", nil)
	case err != nil:
		return failed(s.ID, plan.StageClean, err)
	}
	msg := fmt.Sprintf("%s: %d removals", res.Output, res.Total)
	if res.EventErr != nil {
		return warning(s.ID, plan.StageClean, msg+"; clean event not recorded", res.EventErr)
	}
	if err := e.mirror(ctx, s, eventlog.TypeClean); err != nil {
		return warning(s.ID, plan.StageClean, msg+"; index mirror failed", err)
	}
	return ok(s.ID, plan.StageClean, msg)
}

// mirror copies the subject's newest event of type t to the index.
func (e *Executor) mirror(ctx context.Context, s subject.Subject, t eventlog.Type) error {
	if e.Mirror == nil {
		return nil
	}
	ev, found := e.Events.Load(s.Dir).Latest(t)
	if !found {
		return nil
	}
	return e.Mirror.RecordEvent(ctx, &repository.EventRecord{
		RunID:     e.RunID,
		SubjectID: s.ID,
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Payload:   ev.Payload,
	})
}

func (e *Executor) report(o Outcome) {
	msg := o.Message
	if o.Error != "" {
		msg += ": " + o.Error
	}
	switch o.Status {
	case StatusFailed:
		reporter.Error(e.Reporter, o.Subject, string(o.Stage), msg)
	case StatusWarning:
		reporter.Warn(e.Reporter, o.Subject, string(o.Stage), msg)
	default:
		reporter.Info(e.Reporter, o.Subject, string(o.Stage), msg)
	}
}

func firstStage(p plan.Plan, id string) plan.Stage {
	for _, st := range plan.Stages {
		if p.Runs(id, st) {
			return st
		}
	}
	return plan.StageParse
}

var stageOrder = map[plan.Stage]int{plan.StageParse: 0, plan.StageMerge: 1, plan.StageClean: 2}

func summarize(outcomes []Outcome) Summary {
	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].Subject != outcomes[j].Subject {
			return outcomes[i].Subject < outcomes[j].Subject
		}
		return stageOrder[outcomes[i].Stage] < stageOrder[outcomes[j].Stage]
	})
	s := Summary{Outcomes: outcomes, Counts: make(map[Status]int, 4)}
	if s.Outcomes == nil {
		s.Outcomes = []Outcome{}
	}
	for _, o := range outcomes {
		s.Counts[o.Status]++
	}
	return s
}
