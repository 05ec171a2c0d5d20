package usecase

import (
	"context"
	"log/slog"
	"time"

	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/ports"
)

// Scheduler runs the watch list through the pipeline on every tick of the
// driver.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	watch    []domain.ScrapeRequest
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, watch []domain.ScrapeRequest, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{driver: driver, pipeline: pipeline, watch: watch, logger: logger}
}

// Start registers the watch list with the driver. Nothing is scheduled when
// the list is empty.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil || len(s.watch) == 0 {
		return nil
	}

	job := func(trigger time.Time) {
		s.RunOnce(ctx, trigger)
	}

	return s.driver.Start(ctx, job)
}

// RunOnce executes every watched request sequentially.
func (s *Scheduler) RunOnce(ctx context.Context, trigger time.Time) []RunResult {
	s.logger.Info("scheduled runs started", "trigger", trigger, "targets", len(s.watch))
	results := make([]RunResult, 0, len(s.watch))
	for _, req := range s.watch {
		if ctx.Err() != nil {
			break
		}
		res, _ := s.pipeline.Execute(ctx, req)
		results = append(results, res)
	}
	return results
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
