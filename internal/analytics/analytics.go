// Package analytics derives engagement metrics from content items. It is
// pure: identical input always yields an identical Snapshot.
package analytics

import (
	"sort"
	"time"

	"CompetitorScanner/internal/domain"
)

// DefaultTopN is the ranking cut used when none is given.
const DefaultTopN = 10

// ItemMetrics pairs an item with its engagement rate.
type ItemMetrics struct {
	Item           domain.ContentItem
	EngagementRate float64
}

// AccountMetrics aggregates one account's items.
type AccountMetrics struct {
	Account           domain.DiscoveredAccount
	Items             int
	TotalViews        int64
	TotalLikes        int64
	TotalComments     int64
	AverageEngagement float64
	TopViews          int64
}

// Summary is the run-level digest used by reports and notifications.
type Summary struct {
	AccountsFound     int
	ItemsFound        int
	TotalItems        int
	AverageEngagement float64
	TopViewCount      int64
	WindowStart       time.Time
	WindowEnd         time.Time
}

// Snapshot is the full analytics output of a run.
type Snapshot struct {
	Accounts []AccountMetrics
	Items    []ItemMetrics
	Top      []ItemMetrics
	Summary  Summary
}

// Empty reports whether there is nothing to show.
func (s Snapshot) Empty() bool {
	return len(s.Accounts) == 0 && len(s.Items) == 0
}

// EngagementRate is (likes + comments) / max(views, 1). Likes and comments
// above views are not corrected.
func EngagementRate(item domain.ContentItem) float64 {
	views := item.Views
	if views < 1 {
		views = 1
	}
	return float64(item.Likes+item.Comments) / float64(views)
}

// Compute builds a Snapshot. Items are ranked by descending views; ties are
// broken by external id so the order is stable.
func Compute(accounts []domain.DiscoveredAccount, items []domain.ContentItem, topN int) Snapshot {
	if topN <= 0 {
		topN = DefaultTopN
	}

	ranked := make([]ItemMetrics, len(items))
	for i, item := range items {
		ranked[i] = ItemMetrics{Item: item, EngagementRate: EngagementRate(item)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Item, ranked[j].Item
		if a.Views != b.Views {
			return a.Views > b.Views
		}
		return a.ExternalID < b.ExternalID
	})

	byAccount := make(map[string]*AccountMetrics, len(accounts))
	perAccount := make([]AccountMetrics, 0, len(accounts))
	for _, acc := range accounts {
		perAccount = append(perAccount, AccountMetrics{Account: acc})
	}
	for i := range perAccount {
		byAccount[perAccount[i].Account.ExternalID] = &perAccount[i]
	}

	summary := Summary{
		AccountsFound: len(accounts),
		ItemsFound:    len(items),
		TotalItems:    len(items),
	}
	var engagementSum float64
	for _, m := range ranked {
		engagementSum += m.EngagementRate
		if m.Item.Views > summary.TopViewCount {
			summary.TopViewCount = m.Item.Views
		}
		if ts := m.Item.PublishedAt; !ts.IsZero() {
			if summary.WindowStart.IsZero() || ts.Before(summary.WindowStart) {
				summary.WindowStart = ts
			}
			if ts.After(summary.WindowEnd) {
				summary.WindowEnd = ts
			}
		}

		acc, ok := byAccount[m.Item.AccountID]
		if !ok {
			continue
		}
		acc.Items++
		acc.TotalViews += m.Item.Views
		acc.TotalLikes += m.Item.Likes
		acc.TotalComments += m.Item.Comments
		acc.AverageEngagement += m.EngagementRate
		if m.Item.Views > acc.TopViews {
			acc.TopViews = m.Item.Views
		}
	}
	if len(ranked) > 0 {
		summary.AverageEngagement = engagementSum / float64(len(ranked))
	}
	for i := range perAccount {
		if perAccount[i].Items > 0 {
			perAccount[i].AverageEngagement /= float64(perAccount[i].Items)
		}
	}
	sort.SliceStable(perAccount, func(i, j int) bool {
		a, b := perAccount[i], perAccount[j]
		if a.TotalViews != b.TotalViews {
			return a.TotalViews > b.TotalViews
		}
		return a.Account.Username < b.Account.Username
	})

	top := ranked
	if len(top) > topN {
		top = top[:topN]
	}
	return Snapshot{
		Accounts: perAccount,
		Items:    ranked,
		Top:      append([]ItemMetrics(nil), top...),
		Summary:  summary,
	}
}
