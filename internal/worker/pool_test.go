package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func runAll(p *Pool, jobs []Job) map[string]Result {
	p.Start()
	go func() {
		for _, j := range jobs {
			p.Submit(j)
		}
		p.Shutdown()
	}()
	out := make(map[string]Result)
	for r := range p.Results() {
		out[r.SubjectID] = r
	}
	return out
}

func TestPoolIsolatesFailures(t *testing.T) {
	var ran atomic.Int32
	boom := errors.New("boom")
	jobs := []Job{
		{SubjectID: "2401", Run: func(context.Context) error { ran.Add(1); return nil }},
		{SubjectID: "2402", Run: func(context.Context) error { ran.Add(1); panic("corrupt page") }},
		{SubjectID: "2403", Run: func(context.Context) error { ran.Add(1); return boom }},
		{SubjectID: "2404", Run: func(context.Context) error { ran.Add(1); return nil }},
	}
	got := runAll(NewPool(2, quiet()), jobs)

	if len(got) != 4 || ran.Load() != 4 {
		t.Fatalf("results = %d, ran = %d", len(got), ran.Load())
	}
	if !got["2402"].Panicked || got["2402"].Err == nil {
		t.Fatalf("panic not captured: %+v", got["2402"])
	}
	if !errors.Is(got["2403"].Err, boom) {
		t.Fatalf("error not propagated: %+v", got["2403"])
	}
	if got["2401"].Err != nil || got["2404"].Err != nil {
		t.Fatalf("siblings affected: %+v", got)
	}
}

func TestPoolSkipsCancelledJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	got := runAll(NewPool(0, quiet()), []Job{{Ctx: ctx, SubjectID: "2401", Run: func(context.Context) error {
		called = true
		return nil
	}}})
	if called || !errors.Is(got["2401"].Err, context.Canceled) {
		t.Fatalf("result = %+v called = %v", got["2401"], called)
	}
}

func TestPoolStopRejectsSubmissions(t *testing.T) {
	p := NewPool(2, quiet())
	p.Start()
	p.Stop()
	var ran atomic.Bool
	if p.Submit(Job{SubjectID: "2401", Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}}) {
		t.Fatalf("Submit accepted a job after Stop")
	}
	p.Shutdown()
	for r := range p.Results() {
		t.Fatalf("unexpected result %+v", r)
	}
	if ran.Load() {
		t.Fatalf("job ran after Stop")
	}
}
