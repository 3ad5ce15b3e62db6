// Package worker implements a bounded worker pool for per-subject pipeline jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Job is one subject's unit of work.
// Contains a context.Context for cancellation and deadline propagation.
type Job struct {
	Ctx       context.Context
	SubjectID string
	Run       func(ctx context.Context) error
}

// Result holds the outcome of processing a single job.
type Result struct {
	SubjectID string
	Latency   time.Duration
	Err       error
	// Panicked is set when Run panicked; Err then carries the panic value.
	Panicked bool
}

// Pool manages a fixed set of worker goroutines that process Jobs from a channel
// and emit Results to another channel.
type Pool struct {
	workers int
	jobs    chan Job
	results chan Result
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// NewPool creates a pool with the given number of workers (at least one).
// Call Start() to launch the goroutines.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: workers,
		jobs:    make(chan Job, workers*2), // small buffer for backpressure
		results: make(chan Result, workers*2),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Start launches worker goroutines. Each reads from the jobs channel until it is
// closed or the pool is stopped.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues a job. It blocks if the jobs channel buffer is full (backpressure).
// Returns false if the pool was stopped.
func (p *Pool) Submit(job Job) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Results returns the read-only results channel for the consumer.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Stop makes idle workers exit and rejects further submissions. Jobs already
// running finish; queued jobs are dropped without a Result.
func (p *Pool) Stop() {
	p.cancel()
}

// Shutdown closes the jobs channel, waits for all workers to finish,
// then closes the results channel. Safe to call once.
func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
	p.cancel()
	close(p.results)
}

// worker is the goroutine body. It processes jobs until the channel is closed
// or the pool is stopped.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				p.logger.Debug("worker exiting", slog.Int("worker_id", id))
				return
			}
			p.results <- p.process(id, job)

		case <-p.ctx.Done():
			p.logger.Debug("worker cancelled", slog.Int("worker_id", id))
			return
		}
	}
}

// process runs one job. A panic inside Run is recovered and reported as the
// job's error so sibling jobs keep running.
func (p *Pool) process(workerID int, job Job) (res Result) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	res.SubjectID = job.SubjectID

	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("job cancelled before processing: %w", err)
		return res
	}

	start := time.Now()
	p.logger.Debug("job started",
		slog.Int("worker_id", workerID),
		slog.String("subject_id", job.SubjectID),
	)

	defer func() {
		res.Latency = time.Since(start)
		if r := recover(); r != nil {
			res.Panicked = true
			res.Err = fmt.Errorf("panic: %v", r)
			p.logger.Error("job panicked",
				slog.Int("worker_id", workerID),
				slog.String("subject_id", job.SubjectID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			return
		}
		attrs := []any{
			slog.Int("worker_id", workerID),
			slog.String("subject_id", job.SubjectID),
			slog.Duration("latency", res.Latency),
		}
		if res.Err != nil {
			p.logger.Error("job failed", append(attrs, slog.String("error", res.Err.Error()))...)
			return
		}
		p.logger.Debug("job completed", attrs...)
	}()

	if job.Run == nil {
		return res
	}
	res.Err = job.Run(ctx)
	return res
}
