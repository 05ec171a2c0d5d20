package usecase

import (
	"time"

	"CompetitorScanner/internal/analytics"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/ports"
)

// State is one stage of a pipeline run.
type State string

const (
	StateValidating         State = "validating"
	StateDiscovering        State = "discovering"
	StatePersistingAccounts State = "persisting_accounts"
	StateHarvestingContent  State = "harvesting_content"
	StatePersistingContent  State = "persisting_content"
	StateAnalyzing          State = "analyzing"
	StateRendering          State = "rendering"
	StateArchiving          State = "archiving"
	StateDelivering         State = "delivering"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Run outcome statuses.
const (
	StatusCompleted                    = "completed"
	StatusCompletedWithDeliveryFailure = "completed_with_delivery_failure"
	StatusFailed                       = "failed"
)

// Transition is one recorded state change.
type Transition struct {
	From     State     `json:"from"`
	To       State     `json:"to"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts"`
	Err      string    `json:"error,omitempty"`
}

// HarvestFailure records why one account's content was not collected.
type HarvestFailure struct {
	Account domain.DiscoveredAccount
	Err     error
}

// run is the context carried through the state machine. Each step writes only
// the fields it owns; later steps read earlier results and append.
type run struct {
	meta ports.RunMeta

	accounts     []domain.DiscoveredAccount
	accountStats domain.UpsertStats

	content           []domain.ContentItem
	contentStats      domain.UpsertStats
	contentPersistErr error

	invalid         []*domain.ValidationError
	harvestFailures []HarvestFailure

	snapshot analytics.Snapshot
	artifact domain.ReportArtifact
	archive  *domain.ArchiveRecord
	delivery *domain.DeliveryAttempt

	history []Transition
}

// RunResult is the final status of one run.
type RunResult struct {
	RunID      string
	Request    domain.ScrapeRequest
	Status     string
	FinalState State
	History    []Transition
	StartedAt  time.Time
	FinishedAt time.Time

	AccountStats      domain.UpsertStats
	ContentStats      domain.UpsertStats
	ContentPersistErr error
	Accounts          []domain.DiscoveredAccount
	Items             []domain.ContentItem
	ValidationErrors  []*domain.ValidationError
	HarvestFailures   []HarvestFailure
	Summary           analytics.Summary

	Archive  *domain.ArchiveRecord
	Delivery *domain.DeliveryAttempt
	Err      error
}

// StatusEvent converts the result to its wire form.
func (r RunResult) StatusEvent() ports.RunStatusEvent {
	ev := ports.RunStatusEvent{
		RunID:          r.RunID,
		SeedAccount:    r.Request.SeedAccount,
		ProjectID:      r.Request.ProjectID,
		Status:         r.Status,
		Accounts:       len(r.Accounts),
		Items:          len(r.Items),
		HarvestFailed:  len(r.HarvestFailures),
		InvalidRecords: len(r.ValidationErrors),
	}
	if r.Archive != nil {
		ev.Archive = r.Archive.Name
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	return ev
}
