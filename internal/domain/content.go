package domain

import "time"

// ContentItem is one public reel of a discovered account.
// Natural key: (ProjectID, ExternalID). Counts are best-effort upstream values.
type ContentItem struct {
	ExternalID      string
	AccountID       string
	AccountUsername string
	Caption         string
	URL             string
	Views           int64
	Likes           int64
	Comments        int64
	PublishedAt     time.Time
	ProjectID       int64
	DiscoveredAt    time.Time
}

// ContentQuery parameterizes one Content Lister call.
type ContentQuery struct {
	Account       DiscoveredAccount
	ProjectID     int64
	MaxItems      int
	FreshnessDays int
}
