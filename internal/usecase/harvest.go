package usecase

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/normalize"
	"CompetitorScanner/internal/retry"
)

type harvestOutcome struct {
	items   []domain.ContentItem
	invalid []*domain.ValidationError
	err     error
}

// harvest lists content of every discovered account on a bounded worker
// pool. A failing account is recorded and never fails the step. Results are
// assembled only after all workers return.
func (p *Pipeline) harvest(ctx context.Context, r *run) (State, error) {
	outcomes := make([]harvestOutcome, len(r.accounts))

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, account := range r.accounts {
		if err := ctx.Err(); err != nil {
			outcomes[i].err = err
			continue
		}
		g.Go(func() error {
			outcomes[i] = p.harvestAccount(ctx, r, account)
			return nil
		})
	}
	_ = g.Wait()

	for i, out := range outcomes {
		if out.err != nil {
			r.harvestFailures = append(r.harvestFailures, HarvestFailure{Account: r.accounts[i], Err: out.err})
			p.logger.Warn("account harvest failed",
				"run_id", r.meta.RunID,
				"account", r.accounts[i].Username,
				"err", out.err,
			)
			continue
		}
		r.content = append(r.content, out.items...)
		r.invalid = append(r.invalid, out.invalid...)
	}
	return StatePersistingContent, nil
}

func (p *Pipeline) harvestAccount(ctx context.Context, r *run, account domain.DiscoveredAccount) harvestOutcome {
	if account.IsPrivate {
		return harvestOutcome{err: fmt.Errorf("%w: @%s is private", domain.ErrContentAccountUnavailable, account.Username)}
	}
	if p.opts.AccountTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.AccountTimeout)
		defer cancel()
	}

	query := domain.ContentQuery{
		Account:       account,
		ProjectID:     r.meta.Request.ProjectID,
		MaxItems:      r.meta.Request.MaxContentPerAccount,
		FreshnessDays: p.opts.FreshnessDays,
	}
	raw, err := retry.Value(ctx, p.opts.Retry, func(ctx context.Context) ([]domain.RawRecord, error) {
		var records []domain.RawRecord
		for rec, err := range p.content.ListContent(ctx, query) {
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		return records, nil
	})
	if err != nil {
		return harvestOutcome{err: err}
	}

	items, invalid := normalize.ContentItems(raw, account, r.meta.Request.ProjectID, p.now())
	if limit := r.meta.Request.MaxContentPerAccount; limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return harvestOutcome{items: items, invalid: invalid}
}
