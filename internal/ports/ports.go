package ports

import (
	"context"
	"iter"
	"time"

	"CompetitorScanner/internal/analytics"
	"CompetitorScanner/internal/domain"
)

// DiscoverySource lists raw related accounts for a seed account. The sequence
// ends early with a non-nil error when the upstream fails.
type DiscoverySource interface {
	Discover(ctx context.Context, seed string, projectID int64, maxAccounts int) iter.Seq2[domain.RawRecord, error]
}

// ContentLister lists raw recent reels for a single account.
type ContentLister interface {
	ListContent(ctx context.Context, q domain.ContentQuery) iter.Seq2[domain.RawRecord, error]
}

// CompetitorRepository persists accounts and content under project isolation.
type CompetitorRepository interface {
	ProjectExists(ctx context.Context, projectID int64) (bool, error)
	UpsertAccounts(ctx context.Context, projectID int64, seed string, accounts []domain.DiscoveredAccount) (domain.UpsertStats, error)
	UpsertContentItems(ctx context.Context, projectID int64, items []domain.ContentItem) (domain.UpsertStats, error)
}

// ReportRenderer writes the human-readable and structured reports.
type ReportRenderer interface {
	Render(ctx context.Context, meta RunMeta, snapshot analytics.Snapshot) (domain.ReportArtifact, error)
}

// Archiver packages rendered artifacts into one downloadable file.
type Archiver interface {
	Archive(ctx context.Context, meta RunMeta, artifact domain.ReportArtifact) (domain.ArchiveRecord, error)
}

// DeliveryNotifier informs the requester about the run outcome.
type DeliveryNotifier interface {
	Deliver(ctx context.Context, record domain.ArchiveRecord, summary analytics.Summary, requester domain.Requester) domain.DeliveryAttempt
	NotifyFailure(ctx context.Context, meta RunMeta, cause error) domain.DeliveryAttempt
}

// StatusPublisher broadcasts finished run outcomes to other services.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status RunStatusEvent) error
}

// Scheduler controls when recurring runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// RunMeta is the read-only run metadata handed to renderers and notifiers.
type RunMeta struct {
	RunID     string
	Request   domain.ScrapeRequest
	StartedAt time.Time
}

// RunStatusEvent is the wire form of a finished run.
type RunStatusEvent struct {
	RunID          string `json:"run_id"`
	SeedAccount    string `json:"seed_account"`
	ProjectID      int64  `json:"project_id"`
	Status         string `json:"status"`
	Accounts       int    `json:"accounts"`
	Items          int    `json:"items"`
	HarvestFailed  int    `json:"harvest_failed"`
	InvalidRecords int    `json:"invalid_records"`
	Archive        string `json:"archive,omitempty"`
	Error          string `json:"error,omitempty"`
}
