package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/ports"
)

type reelKey struct {
	projectID  int64
	externalID string
}

// MemoryRepository keeps the same upsert semantics as PostgresRepository in
// process memory. It backs dry runs and pipeline tests.
type MemoryRepository struct {
	mu       sync.Mutex
	projects map[int64]struct{}
	accounts map[domain.AccountKey]domain.DiscoveredAccount
	reels    map[reelKey]domain.ContentItem

	// Err, when set, fails every call with it.
	Err error
}

var _ ports.CompetitorRepository = (*MemoryRepository)(nil)

// NewMemoryRepository registers the given project ids.
func NewMemoryRepository(projectIDs ...int64) *MemoryRepository {
	m := &MemoryRepository{
		projects: map[int64]struct{}{},
		accounts: map[domain.AccountKey]domain.DiscoveredAccount{},
		reels:    map[reelKey]domain.ContentItem{},
	}
	for _, id := range projectIDs {
		m.projects[id] = struct{}{}
	}
	return m
}

// ProjectExists implements ports.CompetitorRepository.
func (m *MemoryRepository) ProjectExists(ctx context.Context, projectID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return false, err
	}
	_, ok := m.projects[projectID]
	return ok, nil
}

// UpsertAccounts implements ports.CompetitorRepository.
func (m *MemoryRepository) UpsertAccounts(ctx context.Context, projectID int64, seed string, accounts []domain.DiscoveredAccount) (domain.UpsertStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireProject(ctx, projectID); err != nil {
		return domain.UpsertStats{}, err
	}

	var stats domain.UpsertStats
	for _, a := range accounts {
		a.ProjectID = projectID
		a.SeedAccount = seed
		key := a.Key()
		if existing, ok := m.accounts[key]; ok {
			existing.FullName = a.FullName
			existing.ProfilePicURL = a.ProfilePicURL
			m.accounts[key] = existing
			stats.Skipped++
			continue
		}
		m.accounts[key] = a
		stats.Inserted++
	}
	return stats, nil
}

// UpsertContentItems implements ports.CompetitorRepository.
func (m *MemoryRepository) UpsertContentItems(ctx context.Context, projectID int64, items []domain.ContentItem) (domain.UpsertStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireProject(ctx, projectID); err != nil {
		return domain.UpsertStats{}, err
	}

	var stats domain.UpsertStats
	for _, it := range items {
		key := reelKey{projectID: projectID, externalID: it.ExternalID}
		if _, ok := m.reels[key]; ok {
			stats.Skipped++
			continue
		}
		it.ProjectID = projectID
		m.reels[key] = it
		stats.Inserted++
	}
	return stats, nil
}

// Accounts returns the stored accounts of a project ordered by external id.
func (m *MemoryRepository) Accounts(projectID int64) []domain.DiscoveredAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DiscoveredAccount
	for key, a := range m.accounts {
		if key.ProjectID == projectID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// ContentItems returns the stored reels of a project ordered by external id.
func (m *MemoryRepository) ContentItems(projectID int64) []domain.ContentItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ContentItem
	for key, it := range m.reels {
		if key.projectID == projectID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

func (m *MemoryRepository) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.Err
}

func (m *MemoryRepository) requireProject(ctx context.Context, projectID int64) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	if _, ok := m.projects[projectID]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrUnknownProject, projectID)
	}
	return nil
}
