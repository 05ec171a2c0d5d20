package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"CompetitorScanner/internal/config"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/infrastructure/discovery"
	"CompetitorScanner/internal/infrastructure/httpclient"
	"CompetitorScanner/internal/ports"
)

// Lister runs an external reel-scraper actor synchronously and reads its
// dataset items. Calls above the concurrency ceiling queue on a semaphore and
// every call waits for the rate limiter, so the upstream sees at most one
// request per MinDelay.
type Lister struct {
	endpoint string
	token    string
	http     *http.Client
	slots    *semaphore.Weighted
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

var _ ports.ContentLister = (*Lister)(nil)

// NewLister wires configuration; httpClient may be nil.
func NewLister(cfg config.ContentConfig, httpClient *http.Client, logger *slog.Logger) *Lister {
	if httpClient == nil {
		httpClient = httpclient.New(cfg.Timeout)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	limit := rate.Inf
	if cfg.MinDelay > 0 {
		limit = rate.Every(cfg.MinDelay)
	}
	return &Lister{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		http:     httpClient,
		slots:    semaphore.NewWeighted(int64(concurrency)),
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		now:      time.Now,
	}
}

type actorInput struct {
	Usernames          []string `json:"username"`
	ResultsLimit       int      `json:"resultsLimit"`
	OnlyPostsNewerThan string   `json:"onlyPostsNewerThan,omitempty"`
}

// ListContent returns recent video items of one account. Non-video items and
// items older than the freshness window are dropped here.
func (l *Lister) ListContent(ctx context.Context, q domain.ContentQuery) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		records, err := l.fetch(ctx, q)
		if err != nil {
			yield(nil, fmt.Errorf("list content of %s: %w", q.Account.Username, err))
			return
		}

		var cutoff time.Time
		if q.FreshnessDays > 0 {
			cutoff = l.now().AddDate(0, 0, -q.FreshnessDays)
		}

		emitted := 0
		for _, rec := range records {
			if !IsVideo(rec) {
				continue
			}
			if ts, ok := timestampOf(rec); ok && !cutoff.IsZero() && ts.Before(cutoff) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
			emitted++
			if q.MaxItems > 0 && emitted >= q.MaxItems {
				return
			}
		}
	}
}

func (l *Lister) fetch(ctx context.Context, q domain.ContentQuery) ([]domain.RawRecord, error) {
	if l.endpoint == "" {
		return nil, &domain.UpstreamError{Kind: domain.ErrDiscoveryUnavailable, Err: errors.New("content endpoint not configured")}
	}
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.slots.Release(1)
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	input := actorInput{
		Usernames:    []string{q.Account.Username},
		ResultsLimit: q.MaxItems,
	}
	if q.FreshnessDays > 0 {
		input.OnlyPostsNewerThan = fmt.Sprintf("%d days", q.FreshnessDays)
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal actor input: %w", err)
	}

	// The token travels in a header so it never appears in a *url.Error.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.ErrDiscoveryUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.ErrDiscoveryUnavailable, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone, http.StatusForbidden:
		return nil, &domain.UpstreamError{Kind: domain.ErrContentAccountUnavailable, Status: resp.StatusCode}
	}
	if err := discovery.StatusError(resp, domain.ErrDiscoveryUnavailable); err != nil {
		return nil, err
	}

	records, err := decodeItems(resp.Body)
	if err != nil {
		return nil, err
	}
	if reason, ok := accountError(records); ok {
		return nil, &domain.UpstreamError{Kind: domain.ErrContentAccountUnavailable, Err: errors.New(reason)}
	}

	l.logger.Debug("content listed", "account", q.Account.Username, "raw_items", len(records))
	return records, nil
}

func decodeItems(r io.Reader) ([]domain.RawRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: content body: %v", domain.ErrDiscoveryMalformed, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("%w: content body is not a list", domain.ErrDiscoveryMalformed)
	}

	var records []domain.RawRecord
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: content item: %v", domain.ErrDiscoveryMalformed, err)
		}
		inner := json.NewDecoder(bytes.NewReader(raw))
		inner.UseNumber()
		var rec domain.RawRecord
		if err := inner.Decode(&rec); err != nil || rec == nil {
			rec = domain.RawRecord{}
		}
		records = append(records, rec)
	}
	return records, nil
}

// accountError detects the actor's "account missing/private" marker item.
func accountError(records []domain.RawRecord) (string, bool) {
	if len(records) != 1 {
		return "", false
	}
	code, ok := records[0]["error"].(string)
	if !ok || code == "" {
		return "", false
	}
	if desc, ok := records[0]["errorDescription"].(string); ok && desc != "" {
		return code + ": " + desc, true
	}
	return code, true
}

// IsVideo reports whether the item positively identifies itself as video
// content.
func IsVideo(rec domain.RawRecord) bool {
	if t, ok := rec["type"].(string); ok && strings.EqualFold(t, "video") {
		return true
	}
	for _, key := range []string{"isVideo", "is_video"} {
		if b, ok := rec[key].(bool); ok && b {
			return true
		}
	}
	if p, ok := rec["productType"].(string); ok && strings.EqualFold(p, "clips") {
		return true
	}
	if n, ok := rec["media_type"].(json.Number); ok && n.String() == "2" {
		return true
	}
	return false
}

func timestampOf(rec domain.RawRecord) (time.Time, bool) {
	s, ok := rec["timestamp"].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
