package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"CompetitorScanner/internal/analytics"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/normalize"
	"CompetitorScanner/internal/ports"
	"CompetitorScanner/internal/retry"
)

const tracerName = "CompetitorScanner/usecase"

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Discovery  ports.DiscoverySource
	Content    ports.ContentLister
	Repository ports.CompetitorRepository
	Renderer   ports.ReportRenderer
	Archiver   ports.Archiver
	Notifier   ports.DeliveryNotifier
	Publisher  ports.StatusPublisher
	Logger     *slog.Logger
}

// Options bounds retries, deadlines and fan-out.
type Options struct {
	Workers        int
	StepTimeout    time.Duration
	AccountTimeout time.Duration
	FreshnessDays  int
	TopN           int
	Retry          retry.Policy
}

// Pipeline runs one ScrapeRequest through the state machine.
type Pipeline struct {
	discovery  ports.DiscoverySource
	content    ports.ContentLister
	repository ports.CompetitorRepository
	renderer   ports.ReportRenderer
	archiver   ports.Archiver
	notifier   ports.DeliveryNotifier
	publisher  ports.StatusPublisher
	logger     *slog.Logger
	opts       Options
	steps      map[State]step
	now        func() time.Time
	newID      func() string
}

// step is one state handler. fn returns the next state. A fatal step that
// still fails after retries moves the run to StateFailed; a non-fatal one
// records the error and moves on to the state fn returned with it.
type step struct {
	policy  retry.Policy
	timeout time.Duration
	fatal   bool
	fn      func(ctx context.Context, r *run) (State, error)
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultPolicy
	}
	if opts.Retry.Classify == nil {
		opts.Retry.Classify = retry.Transient
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Pipeline{
		discovery:  deps.Discovery,
		content:    deps.Content,
		repository: deps.Repository,
		renderer:   deps.Renderer,
		archiver:   deps.Archiver,
		notifier:   deps.Notifier,
		publisher:  deps.Publisher,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	p.steps = map[State]step{
		StateValidating:         {policy: opts.Retry, timeout: opts.StepTimeout, fatal: true, fn: p.validate},
		StateDiscovering:        {policy: opts.Retry, timeout: opts.StepTimeout, fatal: true, fn: p.discover},
		StatePersistingAccounts: {policy: opts.Retry, timeout: opts.StepTimeout, fatal: true, fn: p.persistAccounts},
		StateHarvestingContent:  {policy: retry.None, fn: p.harvest},
		StatePersistingContent:  {policy: opts.Retry, timeout: opts.StepTimeout, fn: p.persistContent},
		StateAnalyzing:          {policy: retry.None, fn: p.analyze},
		StateRendering:          {policy: retry.None, timeout: opts.StepTimeout, fatal: true, fn: p.render},
		StateArchiving:          {policy: retry.None, timeout: opts.StepTimeout, fatal: true, fn: p.archive},
		StateDelivering:         {policy: retry.None, timeout: opts.StepTimeout, fn: p.deliver},
	}
	return p
}

// Execute runs the request to a terminal state. The returned error is the
// run failure cause, also present in RunResult.Err.
func (p *Pipeline) Execute(ctx context.Context, req domain.ScrapeRequest) (RunResult, error) {
	r := &run{meta: ports.RunMeta{RunID: p.newID(), Request: req.WithDefaults(), StartedAt: p.now().UTC()}}
	logger := p.logger.With(
		"run_id", r.meta.RunID,
		"seed_account", r.meta.Request.SeedAccount,
		"project_id", r.meta.Request.ProjectID,
	)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.run")
	span.SetAttributes(
		attribute.String("run.id", r.meta.RunID),
		attribute.String("run.seed_account", r.meta.Request.SeedAccount),
		attribute.Int64("run.project_id", r.meta.Request.ProjectID),
	)
	defer span.End()

	state := StateValidating
	var runErr error
	for !state.Terminal() {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("run cancelled in %s: %w", state, err)
			r.history = append(r.history, Transition{From: state, To: StateFailed, At: p.now().UTC(), Err: runErr.Error()})
			state = StateFailed
			break
		}

		st := p.steps[state]
		next, attempts, err := p.runStep(ctx, state, st, r)
		tr := Transition{From: state, To: next, At: p.now().UTC(), Attempts: attempts}
		if err != nil {
			tr.Err = err.Error()
			if st.fatal || next == "" {
				runErr = fmt.Errorf("%s: %w", state, err)
				tr.To = StateFailed
			} else {
				logger.Warn("step degraded", "state", state, "err", err)
			}
		}
		r.history = append(r.history, tr)
		logger.Debug("state transition", "from", tr.From, "to", tr.To, "attempts", attempts)
		state = tr.To
	}

	if state == StateFailed {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Error("run failed", "err", runErr)
		if p.notifier != nil {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout(p.opts.StepTimeout))
			attempt := p.notifier.NotifyFailure(nctx, r.meta, runErr)
			cancel()
			r.delivery = &attempt
		}
	}

	result := p.result(r, state, runErr)
	logger.Info("run finished",
		"status", result.Status,
		"accounts", len(result.Accounts),
		"items", len(result.Items),
		"harvest_failed", len(result.HarvestFailures),
		"invalid_records", len(result.ValidationErrors),
		"duration", result.FinishedAt.Sub(result.StartedAt),
	)
	p.publish(ctx, result, logger)
	return result, runErr
}

// runStep wraps a handler with its span, deadline and retry policy.
func (p *Pipeline) runStep(ctx context.Context, state State, st step, r *run) (State, int, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline."+string(state))
	defer span.End()

	attempts := 0
	next, err := retry.Value(ctx, st.policy, func(ctx context.Context) (State, error) {
		attempts++
		if st.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, st.timeout)
			defer cancel()
		}
		return st.fn(ctx, r)
	})
	span.SetAttributes(attribute.Int("step.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return next, attempts, err
}

func (p *Pipeline) validate(ctx context.Context, r *run) (State, error) {
	if err := r.meta.Request.Validate(); err != nil {
		return "", err
	}
	if p.repository == nil {
		return "", errors.New("no repository configured")
	}
	exists, err := p.repository.ProjectExists(ctx, r.meta.Request.ProjectID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %d", domain.ErrUnknownProject, r.meta.Request.ProjectID)
	}
	return StateDiscovering, nil
}

func (p *Pipeline) discover(ctx context.Context, r *run) (State, error) {
	req := r.meta.Request
	var raw []domain.RawRecord
	for rec, err := range p.discovery.Discover(ctx, req.SeedAccount, req.ProjectID, req.MaxAccounts) {
		if err != nil {
			return "", err
		}
		raw = append(raw, rec)
	}

	accounts, invalid := normalize.Accounts(raw, req.ProjectID, req.SeedAccount, p.now())
	if len(accounts) > req.MaxAccounts {
		accounts = accounts[:req.MaxAccounts]
	}
	for _, ve := range invalid {
		p.logger.Warn("invalid account record", "run_id", r.meta.RunID, "field", ve.Field, "reason", ve.Reason)
	}
	r.accounts = accounts
	r.invalid = append(r.invalid, invalid...)
	return StatePersistingAccounts, nil
}

func (p *Pipeline) persistAccounts(ctx context.Context, r *run) (State, error) {
	req := r.meta.Request
	stats, err := p.repository.UpsertAccounts(ctx, req.ProjectID, req.SeedAccount, r.accounts)
	if err != nil {
		return "", err
	}
	r.accountStats = stats
	if req.HarvestContent && p.content != nil {
		return StateHarvestingContent, nil
	}
	return StateAnalyzing, nil
}

func (p *Pipeline) persistContent(ctx context.Context, r *run) (State, error) {
	stats, err := p.repository.UpsertContentItems(ctx, r.meta.Request.ProjectID, r.content)
	if err != nil {
		r.contentPersistErr = err
		return StateAnalyzing, err
	}
	r.contentPersistErr = nil
	r.contentStats = stats
	return StateAnalyzing, nil
}

func (p *Pipeline) analyze(_ context.Context, r *run) (State, error) {
	r.snapshot = analytics.Compute(r.accounts, r.content, p.opts.TopN)
	return StateRendering, nil
}

func (p *Pipeline) render(ctx context.Context, r *run) (State, error) {
	artifact, err := p.renderer.Render(ctx, r.meta, r.snapshot)
	if err != nil {
		return "", err
	}
	r.artifact = artifact
	return StateArchiving, nil
}

func (p *Pipeline) archive(ctx context.Context, r *run) (State, error) {
	rec, err := p.archiver.Archive(ctx, r.meta, r.artifact)
	if err != nil {
		return "", err
	}
	r.archive = &rec
	return StateDelivering, nil
}

func (p *Pipeline) deliver(ctx context.Context, r *run) (State, error) {
	if p.notifier == nil {
		return StateCompleted, nil
	}
	attempt := p.notifier.Deliver(ctx, *r.archive, r.snapshot.Summary, r.meta.Request.Requester)
	r.delivery = &attempt
	if !attempt.Success {
		return StateCompleted, attempt.Err
	}
	return StateCompleted, nil
}

func (p *Pipeline) result(r *run, state State, runErr error) RunResult {
	res := RunResult{
		RunID:             r.meta.RunID,
		Request:           r.meta.Request,
		FinalState:        state,
		History:           r.history,
		StartedAt:         r.meta.StartedAt,
		FinishedAt:        p.now().UTC(),
		AccountStats:      r.accountStats,
		ContentStats:      r.contentStats,
		ContentPersistErr: r.contentPersistErr,
		Accounts:          r.accounts,
		Items:             r.content,
		ValidationErrors:  r.invalid,
		HarvestFailures:   r.harvestFailures,
		Summary:           r.snapshot.Summary,
		Archive:           r.archive,
		Delivery:          r.delivery,
		Err:               runErr,
	}
	switch {
	case state == StateFailed:
		res.Status = StatusFailed
	case r.delivery != nil && !r.delivery.Success:
		res.Status = StatusCompletedWithDeliveryFailure
	default:
		res.Status = StatusCompleted
	}
	return res
}

func (p *Pipeline) publish(ctx context.Context, res RunResult, logger *slog.Logger) {
	if p.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.publisher.PublishStatus(pctx, res.StatusEvent()); err != nil {
		logger.Warn("publish run status", "err", err)
	}
}

func notifyTimeout(step time.Duration) time.Duration {
	if step > 0 && step < time.Minute {
		return step
	}
	return time.Minute
}
