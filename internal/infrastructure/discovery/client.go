package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"CompetitorScanner/internal/config"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/infrastructure/httpclient"
	"CompetitorScanner/internal/ports"
)

const maxBodyBytes = 8 << 20

// Client calls the related-accounts discovery API.
type Client struct {
	endpoint     string
	apiKey       string
	apiKeyHeader string
	apiHost      string
	pageSize     int
	http         *http.Client
	logger       *slog.Logger
}

var _ ports.DiscoverySource = (*Client)(nil)

// NewClient builds a client from configuration; httpClient may be nil.
func NewClient(cfg config.DiscoveryConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = httpclient.New(cfg.Timeout)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	header := cfg.APIKeyHeader
	if header == "" {
		header = "X-RapidAPI-Key"
	}
	return &Client{
		endpoint:     cfg.Endpoint,
		apiKey:       cfg.APIKey,
		apiKeyHeader: header,
		apiHost:      cfg.APIHost,
		pageSize:     pageSize,
		http:         httpClient,
		logger:       logger,
	}
}

// Discover pages through related accounts of seed until maxAccounts records
// with an id were yielded or the upstream reports no more results.
func (c *Client) Discover(ctx context.Context, seed string, projectID int64, maxAccounts int) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		if c.endpoint == "" {
			yield(nil, &domain.UpstreamError{Kind: domain.ErrDiscoveryUnavailable, Err: errors.New("endpoint not configured")})
			return
		}

		seen := map[string]struct{}{}
		emitted := 0
		cursor := ""
		for page := 1; emitted < maxAccounts; page++ {
			count := min(c.pageSize, maxAccounts-emitted)
			result, err := c.fetchPage(ctx, seed, cursor, count)
			if err != nil {
				yield(nil, fmt.Errorf("discover %s page %d: %w", seed, page, err))
				return
			}
			c.logger.Debug("discovery page", "seed", seed, "project_id", projectID, "page", page,
				"users", len(result.Users), "payload", result.Kind.String())

			for _, rec := range result.Users {
				// Records without an id are still yielded so the caller can
				// report them, but they do not count toward maxAccounts.
				id := recordID(rec)
				if id != "" {
					if _, dup := seen[id]; dup {
						continue
					}
					seen[id] = struct{}{}
				}
				if !yield(rec, nil) {
					return
				}
				if id == "" {
					continue
				}
				emitted++
				if emitted >= maxAccounts {
					return
				}
			}

			if len(result.Users) == 0 || !result.HasMore || result.NextCursor == "" || result.NextCursor == cursor {
				return
			}
			cursor = result.NextCursor
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, seed, cursor string, count int) (Page, error) {
	pageURL, err := buildPageURL(c.endpoint, seed, cursor, count)
	if err != nil {
		return Page{}, &domain.UpstreamError{Kind: domain.ErrDiscoveryUnavailable, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, &domain.UpstreamError{Kind: domain.ErrDiscoveryUnavailable, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}
	if c.apiHost != "" {
		req.Header.Set("X-RapidAPI-Host", c.apiHost)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, &domain.UpstreamError{Kind: domain.ErrDiscoveryUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if err := StatusError(resp, domain.ErrDiscoveryUnavailable); err != nil {
		return Page{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, &domain.UpstreamError{Kind: domain.ErrDiscoveryUnavailable, Err: fmt.Errorf("read body: %w", err)}
	}

	page, err := DecodePage(body)
	if err != nil {
		c.logger.Warn("discovery payload malformed", "seed", seed, "payload", page.Kind.String(), "error", err)
		return Page{}, err
	}
	return page, nil
}

// StatusError maps an HTTP status to the upstream error taxonomy. 429 is
// always rate limiting; other non-2xx statuses become unavailableKind.
func StatusError(resp *http.Response, unavailableKind error) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	upstream := &domain.UpstreamError{Kind: unavailableKind, Status: resp.StatusCode}
	if len(snippet) > 0 {
		upstream.Err = errors.New(string(snippet))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		upstream.Kind = domain.ErrDiscoveryRateLimited
		upstream.RetryAfter = httpclient.RetryAfter(resp.Header, time.Now())
	}
	return upstream
}

func buildPageURL(base, seed, cursor string, count int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid discovery endpoint %s: %w", base, err)
	}
	query := parsed.Query()
	query.Set("username_or_id", seed)
	query.Set("count", strconv.Itoa(count))
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func recordID(rec domain.RawRecord) string {
	for _, key := range []string{"pk", "id", "pk_id"} {
		if v, ok := rec[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}
