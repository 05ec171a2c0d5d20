package delivery

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"CompetitorScanner/internal/analytics"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/i18n"
)

const linkTimeLayout = "2006-01-02 15:04"

// DownloadURL joins the public base URL and the archive name. Without a base
// URL the archive's storage path is the reference.
func DownloadURL(base string, rec domain.ArchiveRecord) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return rec.Path
	}
	return base + "/" + url.PathEscape(rec.Name)
}

// ReportText composes the localized success message.
func ReportText(lang domain.Language, seed string, summary analytics.Summary, rec domain.ArchiveRecord, link string) string {
	p := i18n.Printer(lang)
	parts := []string{
		p.Sprintf("delivery.ready", seed),
		p.Sprintf("delivery.counts", summary.AccountsFound, summary.ItemsFound),
	}
	if summary.ItemsFound > 0 {
		parts = append(parts, p.Sprintf("delivery.engagement", summary.AverageEngagement*100, summary.TopViewCount))
	}
	parts = append(parts, p.Sprintf("delivery.download", rec.ExpiresAt.UTC().Format(linkTimeLayout), link))
	return strings.Join(parts, "\n\n")
}

// FailureText composes the localized failure notice. Internal error details
// are not shown to the requester.
func FailureText(lang domain.Language, seed string, cause error) string {
	return i18n.T(lang, "delivery.failed", seed, i18n.T(lang, failureKey(cause)))
}

func failureKey(cause error) string {
	switch {
	case errors.Is(cause, domain.ErrInvalidRequest):
		return "failure.invalid_request"
	case errors.Is(cause, domain.ErrUnknownProject):
		return "failure.unknown_project"
	case errors.Is(cause, domain.ErrDiscoveryMalformed),
		errors.Is(cause, domain.ErrDiscoveryUnavailable),
		errors.Is(cause, domain.ErrDiscoveryRateLimited):
		return "failure.discovery"
	case errors.Is(cause, domain.ErrPersistenceUnavailable):
		return "failure.persistence"
	case errors.Is(cause, context.DeadlineExceeded):
		return "failure.timeout"
	default:
		return "failure.internal"
	}
}
