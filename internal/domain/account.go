package domain

import "time"

// RawRecord is one undecoded upstream entry. Numbers are kept as json.Number.
type RawRecord map[string]any

// DiscoveredAccount is a related account returned for a seed account.
// Natural key: (ProjectID, SeedAccount, ExternalID).
type DiscoveredAccount struct {
	ExternalID    string
	Username      string
	FullName      string
	IsPrivate     bool
	IsVerified    bool
	ProfilePicURL string
	ProfileURL    string
	SeedAccount   string
	ProjectID     int64
	DiscoveredAt  time.Time
}

// AccountKey is the natural key of a DiscoveredAccount.
type AccountKey struct {
	ProjectID   int64
	SeedAccount string
	ExternalID  string
}

// Key returns the natural key.
func (a DiscoveredAccount) Key() AccountKey {
	return AccountKey{ProjectID: a.ProjectID, SeedAccount: a.SeedAccount, ExternalID: a.ExternalID}
}

// UpsertStats reports how a batch upsert was applied.
type UpsertStats struct {
	Inserted int
	Skipped  int
}
