package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"CompetitorScanner/internal/archive"
	"CompetitorScanner/internal/config"
	"CompetitorScanner/internal/delivery"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/infrastructure/content"
	"CompetitorScanner/internal/infrastructure/discovery"
	"CompetitorScanner/internal/infrastructure/natsbus"
	"CompetitorScanner/internal/infrastructure/scheduler"
	"CompetitorScanner/internal/infrastructure/storage"
	"CompetitorScanner/internal/infrastructure/telegram"
	"CompetitorScanner/internal/logging"
	"CompetitorScanner/internal/ports"
	"CompetitorScanner/internal/report"
	"CompetitorScanner/internal/retry"
	"CompetitorScanner/internal/usecase"
)

// Options changes how the application is assembled.
type Options struct {
	// DryRun keeps everything in memory instead of Postgres. Projects must
	// then be listed explicitly.
	DryRun   bool
	Projects []int64
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	pool      *pgxpool.Pool
	nc        *nats.Conn
}

// New connects the driven adapters and builds the pipeline.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts Options) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.NewWithWriter(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	repo, err := a.repository(ctx, opts)
	if err != nil {
		return nil, err
	}

	if cfg.Notifications.NATS.URL != "" {
		nc, err := natsbus.Connect(cfg.Notifications.NATS.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.nc = nc
	}

	registry := delivery.NewRegistry(telegram.NewTransport(cfg.Notifications.Telegram, nil))
	var publisher ports.StatusPublisher
	if a.nc != nil {
		registry.Register(natsbus.NewTransport(a.nc, cfg.Notifications.NATS.Subject))
		publisher = natsbus.NewStatusPublisher(a.nc, cfg.Notifications.NATS.StatusSubject)
	}
	notifier := delivery.NewNotifier(registry, delivery.Options{
		DefaultRecipients: map[string]string{telegram.Channel: cfg.Notifications.Telegram.ChatID},
		DownloadBaseURL:   cfg.Reports.DownloadBaseURL,
	}, baseLogger.With("component", "delivery"))

	rc := cfg.Pipeline.Retry
	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Discovery:  discovery.NewClient(cfg.Discovery, nil, baseLogger.With("component", "discovery")),
		Content:    content.NewLister(cfg.Content, nil, baseLogger.With("component", "content")),
		Repository: repo,
		Renderer:   report.NewRenderer(cfg.Reports.WorkDir, cfg.Reports.LinkTTL, baseLogger.With("component", "report")),
		Archiver:   archive.NewArchiver(cfg.Reports.ArchiveDir, cfg.Reports.LinkTTL, cfg.Reports.KeepArtifacts, baseLogger.With("component", "archive")),
		Notifier:   notifier,
		Publisher:  publisher,
		Logger:     baseLogger.With("component", "pipeline"),
	}, usecase.Options{
		Workers:        cfg.Pipeline.Workers,
		StepTimeout:    cfg.Pipeline.StepTimeout,
		AccountTimeout: cfg.Pipeline.AccountTimeout,
		FreshnessDays:  cfg.Content.FreshnessDays,
		TopN:           cfg.Reports.TopN,
		Retry: retry.Policy{
			MaxAttempts: rc.MaxAttempts,
			BaseDelay:   rc.BaseDelay,
			MaxDelay:    rc.MaxDelay,
			Jitter:      rc.Jitter,
			Classify:    retry.Transient,
		},
	})

	driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval, cfg.Scheduler.Location(), false)
	a.scheduler = usecase.NewScheduler(driver, a.pipeline, WatchRequests(cfg.Scheduler.Watch), baseLogger.With("component", "scheduler"))
	return a, nil
}

func (a *Application) repository(ctx context.Context, opts Options) (ports.CompetitorRepository, error) {
	if opts.DryRun {
		a.logger.Info("dry run: using in-memory repository", "projects", opts.Projects)
		return storage.NewMemoryRepository(opts.Projects...), nil
	}
	pool, err := storage.Open(ctx, a.cfg.Database)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	return storage.NewPostgresRepository(pool, a.cfg.Database.BatchSize), nil
}

// WatchRequests converts the configured watch list into run requests.
func WatchRequests(watch []config.WatchConfig) []domain.ScrapeRequest {
	out := make([]domain.ScrapeRequest, 0, len(watch))
	for _, w := range watch {
		out = append(out, domain.ScrapeRequest{
			SeedAccount:          w.SeedAccount,
			ProjectID:            w.ProjectID,
			MaxAccounts:          w.MaxAccounts,
			MaxContentPerAccount: w.MaxContent,
			HarvestContent:       w.HarvestContent,
			Requester: domain.Requester{
				Channel:     telegram.Channel,
				RecipientID: w.RecipientID,
				Language:    domain.Language(strings.ToLower(w.Language)),
			},
		}.WithDefaults())
	}
	return out
}

// Run executes a single request synchronously.
func (a *Application) Run(ctx context.Context, req domain.ScrapeRequest) (usecase.RunResult, error) {
	return a.pipeline.Execute(ctx, req)
}

// Serve runs the watch-list scheduler and, when NATS is configured, accepts
// triggers until ctx is cancelled. In-flight runs are awaited on shutdown.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	dispatcher := usecase.NewDispatcher(ctx, a.pipeline, a.cfg.Pipeline.MaxRuns, a.logger.With("component", "dispatcher"))
	var sub *nats.Subscription
	if a.nc != nil {
		var err error
		sub, err = natsbus.SubscribeTriggers(a.nc, a.cfg.Triggers.NATSSubject, a.cfg.Triggers.QueueGroup, dispatcher.Submit, a.logger.With("component", "triggers"))
		if err != nil {
			_ = a.scheduler.Stop(context.WithoutCancel(ctx))
			return fmt.Errorf("subscribe triggers: %w", err)
		}
		a.logger.Info("accepting triggers", "subject", a.cfg.Triggers.NATSSubject)
	}
	if sub == nil && len(a.cfg.Scheduler.Watch) == 0 {
		a.logger.Warn("nothing to serve: no trigger source and empty watch list")
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	var errs []error
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	if err := a.scheduler.Stop(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}
	dispatcher.Wait()
	return errors.Join(errs...)
}

// Close releases pooled connections.
func (a *Application) Close() {
	if a.nc != nil {
		_ = a.nc.Drain()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
