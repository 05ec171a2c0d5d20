package usecase

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"CompetitorScanner/internal/domain"
)

// Dispatcher runs externally triggered requests in the background with at
// most maxRuns concurrent runs; further requests wait for a slot.
type Dispatcher struct {
	pipeline *Pipeline
	slots    *semaphore.Weighted
	base     context.Context
	logger   *slog.Logger
	onResult func(RunResult)

	wg sync.WaitGroup
}

// NewDispatcher binds runs to base; cancelling base stops queued and running
// work.
func NewDispatcher(base context.Context, pipeline *Pipeline, maxRuns int, logger *slog.Logger) *Dispatcher {
	if maxRuns <= 0 {
		maxRuns = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		pipeline: pipeline,
		slots:    semaphore.NewWeighted(int64(maxRuns)),
		base:     base,
		logger:   logger,
	}
}

// OnResult registers a callback invoked after every run.
func (d *Dispatcher) OnResult(fn func(RunResult)) {
	d.onResult = fn
}

// Submit validates req and schedules it. The trace of ctx is carried into the
// run, its cancellation is not.
func (d *Dispatcher) Submit(ctx context.Context, req domain.ScrapeRequest) error {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return err
	}

	runCtx := trace.ContextWithSpanContext(d.base, trace.SpanContextFromContext(ctx))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.slots.Acquire(runCtx, 1); err != nil {
			d.logger.Warn("run dropped before start", "seed_account", req.SeedAccount, "err", err)
			return
		}
		defer d.slots.Release(1)
		if err := runCtx.Err(); err != nil {
			d.logger.Warn("run dropped before start", "seed_account", req.SeedAccount, "err", err)
			return
		}

		res, _ := d.pipeline.Execute(runCtx, req)
		if d.onResult != nil {
			d.onResult(res)
		}
	}()
	return nil
}

// Wait blocks until every submitted run has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
