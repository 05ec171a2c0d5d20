package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"CompetitorScanner/internal/analytics"
	"CompetitorScanner/internal/archive"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/infrastructure/storage"
	"CompetitorScanner/internal/ports"
	"CompetitorScanner/internal/report"
	"CompetitorScanner/internal/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type discoveryStub struct {
	records []domain.RawRecord
	errs    []error
	calls   atomic.Int32
}

func (d *discoveryStub) Discover(_ context.Context, _ string, _ int64, limit int) iter.Seq2[domain.RawRecord, error] {
	call := int(d.calls.Add(1)) - 1
	return func(yield func(domain.RawRecord, error) bool) {
		if call < len(d.errs) && d.errs[call] != nil {
			yield(nil, d.errs[call])
			return
		}
		for i, rec := range d.records {
			if i >= limit || !yield(rec, nil) {
				return
			}
		}
	}
}

type contentStub struct {
	perAccount int
	failures   map[string]error
	delay      time.Duration

	mu       sync.Mutex
	called   map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *contentStub) ListContent(ctx context.Context, q domain.ContentQuery) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		n := c.inFlight.Add(1)
		defer c.inFlight.Add(-1)
		for {
			p := c.peak.Load()
			if n <= p || c.peak.CompareAndSwap(p, n) {
				break
			}
		}
		c.mu.Lock()
		if c.called == nil {
			c.called = map[string]int{}
		}
		c.called[q.Account.Username]++
		c.mu.Unlock()

		if c.delay > 0 {
			select {
			case <-time.After(c.delay):
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
		if err := c.failures[q.Account.Username]; err != nil {
			yield(nil, err)
			return
		}
		for i := 0; i < c.perAccount && i < q.MaxItems; i++ {
			rec := domain.RawRecord{
				"id":             fmt.Sprintf("%s_r%d", q.Account.Username, i),
				"type":           "Video",
				"videoViewCount": json.Number(fmt.Sprint(100 * (i + 1))),
				"likesCount":     json.Number("10"),
				"commentsCount":  json.Number("2"),
				"timestamp":      "2026-10-18T10:00:00Z",
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (c *contentStub) calls(username string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.called[username]
}

type notifierStub struct {
	fail error

	mu        sync.Mutex
	delivered []domain.ArchiveRecord
	summaries []analytics.Summary
	failures  []error
}

func (n *notifierStub) Deliver(_ context.Context, rec domain.ArchiveRecord, summary analytics.Summary, requester domain.Requester) domain.DeliveryAttempt {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, rec)
	n.summaries = append(n.summaries, summary)
	attempt := domain.DeliveryAttempt{Channel: requester.Channel, Recipient: requester.RecipientID, Success: n.fail == nil}
	if n.fail != nil {
		attempt.Err = n.fail
		attempt.Reason = n.fail.Error()
	}
	return attempt
}

func (n *notifierStub) NotifyFailure(_ context.Context, _ ports.RunMeta, cause error) domain.DeliveryAttempt {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, cause)
	return domain.DeliveryAttempt{Success: true}
}

type publisherStub struct {
	mu     sync.Mutex
	events []ports.RunStatusEvent
}

func (p *publisherStub) PublishStatus(_ context.Context, ev ports.RunStatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type fixture struct {
	discovery *discoveryStub
	content   *contentStub
	repo      *storage.MemoryRepository
	notifier  *notifierStub
	publisher *publisherStub
	archives  string
	pipeline  *Pipeline
}

func accountRecords(n int) []domain.RawRecord {
	out := make([]domain.RawRecord, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.RawRecord{"pk": json.Number(fmt.Sprint(i)), "username": fmt.Sprintf("comp%d", i)})
	}
	return out
}

func newFixture(t *testing.T, accounts int) *fixture {
	t.Helper()
	f := &fixture{
		discovery: &discoveryStub{records: accountRecords(accounts)},
		content:   &contentStub{perAccount: 2},
		repo:      storage.NewMemoryRepository(37),
		notifier:  &notifierStub{},
		publisher: &publisherStub{},
		archives:  t.TempDir(),
	}
	f.pipeline = NewPipeline(PipelineDeps{
		Discovery:  f.discovery,
		Content:    f.content,
		Repository: f.repo,
		Renderer:   report.NewRenderer(t.TempDir(), time.Hour, nil),
		Archiver:   archive.NewArchiver(f.archives, 24*time.Hour, false, nil),
		Notifier:   f.notifier,
		Publisher:  f.publisher,
	}, Options{
		Workers:        3,
		StepTimeout:    5 * time.Second,
		AccountTimeout: time.Second,
		TopN:           10,
		Retry:          retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Classify: retry.Transient},
	})
	f.pipeline.newID = func() string { return "0badc0de-0000-4000-8000-000000000000" }
	f.pipeline.now = func() time.Time { return time.Date(2026, 10, 19, 9, 15, 0, 0, time.UTC) }
	return f
}

func request() domain.ScrapeRequest {
	return domain.ScrapeRequest{
		SeedAccount:          "acct_a",
		ProjectID:            37,
		MaxAccounts:          3,
		MaxContentPerAccount: 2,
		HarvestContent:       true,
		Requester:            domain.Requester{RecipientID: "42"},
	}
}

func states(history []Transition) []State {
	out := make([]State, 0, len(history)+1)
	for _, tr := range history {
		out = append(out, tr.From)
	}
	if len(history) > 0 {
		out = append(out, history[len(history)-1].To)
	}
	return out
}

func TestExecuteEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	res, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, StateCompleted, res.FinalState)
	require.Equal(t, []State{
		StateValidating, StateDiscovering, StatePersistingAccounts, StateHarvestingContent,
		StatePersistingContent, StateAnalyzing, StateRendering, StateArchiving, StateDelivering, StateCompleted,
	}, states(res.History))

	require.Len(t, f.repo.Accounts(37), 3)
	require.Len(t, f.repo.ContentItems(37), 6)
	require.Equal(t, domain.UpsertStats{Inserted: 3}, res.AccountStats)
	require.Equal(t, domain.UpsertStats{Inserted: 6}, res.ContentStats)
	require.Equal(t, 6, res.Summary.TotalItems)
	require.Empty(t, res.HarvestFailures)

	require.NotNil(t, res.Archive)
	require.Contains(t, res.Archive.Name, "acct_a")
	require.Contains(t, res.Archive.Name, "20261019_091500")
	_, err = os.Stat(res.Archive.Path)
	require.NoError(t, err)

	require.Len(t, f.notifier.delivered, 1)
	require.NotNil(t, res.Delivery)
	require.True(t, res.Delivery.Success)
	require.Equal(t, 6, f.notifier.summaries[0].TotalItems)

	require.Len(t, f.publisher.events, 1)
	require.Equal(t, StatusCompleted, f.publisher.events[0].Status)
	require.Equal(t, 6, f.publisher.events[0].Items)
}

func TestExecuteIsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	_, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)
	f.pipeline.newID = func() string { return "second-run" }

	res, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, domain.UpsertStats{Skipped: 3}, res.AccountStats)
	require.Equal(t, domain.UpsertStats{Skipped: 6}, res.ContentStats)
	require.Len(t, f.repo.ContentItems(37), 6)
}

func TestExecuteIsolatesAccountFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.content.failures = map[string]error{
		"comp2": &domain.UpstreamError{Kind: domain.ErrContentAccountUnavailable, Status: 404},
	}

	res, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Len(t, f.repo.ContentItems(37), 4)
	require.Len(t, res.HarvestFailures, 1)
	require.Equal(t, "comp2", res.HarvestFailures[0].Account.Username)
	require.ErrorIs(t, res.HarvestFailures[0].Err, domain.ErrContentAccountUnavailable)
	require.Equal(t, 1, f.content.calls("comp2"))
}

func TestExecuteRetriesRateLimitedAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	f.content.failures = map[string]error{
		"comp1": &domain.UpstreamError{Kind: domain.ErrDiscoveryRateLimited, Status: 429},
	}

	res, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, res.HarvestFailures, 1)
	require.Equal(t, 3, f.content.calls("comp1"))
	require.Len(t, res.Items, 2)
}

func TestExecuteSkipsPrivateAccounts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	f.discovery.records = []domain.RawRecord{
		{"pk": "1", "username": "open"},
		{"pk": "2", "username": "locked", "is_private": true},
	}

	res, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)
	require.Zero(t, f.content.calls("locked"))
	require.Len(t, res.HarvestFailures, 1)
	require.ErrorIs(t, res.HarvestFailures[0].Err, domain.ErrContentAccountUnavailable)
	require.Len(t, res.Items, 2)
}

func TestExecuteMalformedDiscoveryFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.discovery.errs = []error{fmt.Errorf("%w: data is a number", domain.ErrDiscoveryMalformed)}

	res, err := f.pipeline.Execute(context.Background(), request())
	require.ErrorIs(t, err, domain.ErrDiscoveryMalformed)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, StateFailed, res.FinalState)
	require.Equal(t, int32(1), f.discovery.calls.Load())
	require.Nil(t, res.Archive)
	require.Empty(t, f.repo.Accounts(37))
	require.Empty(t, f.notifier.delivered)
	require.Len(t, f.notifier.failures, 1)

	last := res.History[len(res.History)-1]
	require.Equal(t, StateDiscovering, last.From)
	require.Equal(t, StateFailed, last.To)
}

func TestExecuteRetriesTransientDiscovery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.discovery.errs = []error{&domain.UpstreamError{Kind: domain.ErrDiscoveryUnavailable, Status: 503}}

	res, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, int32(2), f.discovery.calls.Load())
	require.Equal(t, 2, res.History[1].Attempts)
	require.Equal(t, StatusCompleted, res.Status)
}

func TestExecuteDiscoveryExhaustsRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	unavailable := &domain.UpstreamError{Kind: domain.ErrDiscoveryUnavailable, Status: 502}
	f.discovery.errs = []error{unavailable, unavailable, unavailable}

	res, err := f.pipeline.Execute(context.Background(), request())
	require.ErrorIs(t, err, domain.ErrDiscoveryUnavailable)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, int32(3), f.discovery.calls.Load())
}

func TestExecuteInputErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		mutate func(*domain.ScrapeRequest)
		want   error
	}{
		"unknown project": {func(r *domain.ScrapeRequest) { r.ProjectID = 99 }, domain.ErrUnknownProject},
		"missing project": {func(r *domain.ScrapeRequest) { r.ProjectID = 0 }, domain.ErrInvalidRequest},
		"missing seed":    {func(r *domain.ScrapeRequest) { r.SeedAccount = " " }, domain.ErrInvalidRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 3)
			req := request()
			tc.mutate(&req)

			res, err := f.pipeline.Execute(context.Background(), req)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, StatusFailed, res.Status)
			require.Zero(t, f.discovery.calls.Load())
			require.Len(t, res.History, 1)
			require.Equal(t, StateValidating, res.History[0].From)
			require.Equal(t, 1, res.History[0].Attempts)
		})
	}
}

func TestExecutePersistAccountsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.pipeline.repository = failingUpserts{MemoryRepository: f.repo}

	res, err := f.pipeline.Execute(context.Background(), request())
	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	require.Equal(t, StatusFailed, res.Status)
	require.Zero(t, f.content.calls("comp1"))
	require.Equal(t, 3, res.History[len(res.History)-1].Attempts)
}

type failingUpserts struct {
	*storage.MemoryRepository
}

func (failingUpserts) UpsertAccounts(context.Context, int64, string, []domain.DiscoveredAccount) (domain.UpsertStats, error) {
	return domain.UpsertStats{}, fmt.Errorf("%w: connection refused", domain.ErrPersistenceUnavailable)
}

type failingContentUpserts struct {
	*storage.MemoryRepository
}

func (failingContentUpserts) UpsertContentItems(context.Context, int64, []domain.ContentItem) (domain.UpsertStats, error) {
	return domain.UpsertStats{}, fmt.Errorf("%w: connection refused", domain.ErrPersistenceUnavailable)
}

func TestExecuteContentPersistFailureDegrades(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.pipeline.repository = failingContentUpserts{MemoryRepository: f.repo}

	res, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.ErrorIs(t, res.ContentPersistErr, domain.ErrPersistenceUnavailable)
	require.Equal(t, 6, res.Summary.TotalItems)
	require.NotNil(t, res.Archive)
}

func TestExecuteDeliveryFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.notifier.fail = fmt.Errorf("%w: bot was blocked", domain.ErrRecipientUnreachable)

	res, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, StatusCompletedWithDeliveryFailure, res.Status)
	require.Equal(t, StateCompleted, res.FinalState)
	require.NotNil(t, res.Archive)
	require.ErrorIs(t, res.Delivery.Err, domain.ErrRecipientUnreachable)
	require.Len(t, f.notifier.delivered, 1)
	require.Empty(t, f.notifier.failures)
}

func TestExecuteWithoutHarvest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	req := request()
	req.HarvestContent = false

	res, err := f.pipeline.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, []State{
		StateValidating, StateDiscovering, StatePersistingAccounts,
		StateAnalyzing, StateRendering, StateArchiving, StateDelivering, StateCompleted,
	}, states(res.History))
	require.Zero(t, f.content.calls("comp1"))
	require.Len(t, f.repo.Accounts(37), 3)
	require.Zero(t, res.Summary.TotalItems)
}

func TestExecuteEmptyDiscovery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	res, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Zero(t, res.Summary.AccountsFound)
	require.NotNil(t, res.Archive)
	require.Positive(t, res.Archive.Size)
}

func TestExecuteCollectsValidationErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	f.discovery.records = []domain.RawRecord{
		{"pk": "1", "username": "good"},
		{"username": "no-id"},
	}

	res, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)
	require.Len(t, res.ValidationErrors, 1)
	require.Equal(t, 1, f.publisher.events[0].InvalidRecords)
}

func TestHarvestRespectsWorkerCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 9)
	f.content.delay = 10 * time.Millisecond
	req := request()
	req.MaxAccounts = 9

	res, err := f.pipeline.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Items, 18)
	require.LessOrEqual(t, f.content.peak.Load(), int32(3))
	require.Greater(t, f.content.peak.Load(), int32(1))
}

func TestHarvestAccountTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	f.pipeline.opts.AccountTimeout = 20 * time.Millisecond
	f.pipeline.opts.Retry = retry.None
	f.content.delay = time.Second

	res, err := f.pipeline.Execute(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, res.HarvestFailures, 2)
	require.ErrorIs(t, res.HarvestFailures[0].Err, context.DeadlineExceeded)
	require.Equal(t, StatusCompleted, res.Status)
}

func TestExecuteCancelledRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.pipeline.Execute(ctx, request())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StatusFailed, res.Status)
	require.True(t, errors.Is(res.Err, context.Canceled))
}
