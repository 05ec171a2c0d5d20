package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultMaxAccounts          = 50
	DefaultMaxContentPerAccount = 50
	MaxAccountsLimit            = 200
	MaxContentPerAccountLimit   = 200

	DefaultChannel = "telegram"
)

// Language selects the requester-facing locale.
type Language string

const (
	LanguageEN Language = "en"
	LanguageRU Language = "ru"
)

// Valid reports whether the language is supported.
func (l Language) Valid() bool {
	return l == LanguageEN || l == LanguageRU
}

// Requester identifies who receives the run outcome and over which channel.
type Requester struct {
	Channel     string
	RecipientID string
	Language    Language
}

// ScrapeRequest is the immutable input of one pipeline run.
type ScrapeRequest struct {
	SeedAccount          string
	ProjectID            int64
	MaxAccounts          int
	MaxContentPerAccount int
	HarvestContent       bool
	Requester            Requester
}

// trigger mirrors the external JSON trigger payload.
type trigger struct {
	SeedAccount          string `json:"seed_account"`
	ProjectID            int64  `json:"project_id"`
	MaxAccounts          *int   `json:"max_accounts"`
	MaxContentPerAccount *int   `json:"max_content_per_account"`
	HarvestContent       bool   `json:"harvest_content"`
	RequesterChannelID   string `json:"requester_channel_id"`
	RequesterChannel     string `json:"requester_channel"`
	DisplayLanguage      string `json:"requester_display_language"`
}

// ParseTrigger decodes a JSON trigger and applies defaults. The result still
// needs Validate.
func ParseTrigger(raw []byte) (ScrapeRequest, error) {
	var t trigger
	if err := json.Unmarshal(raw, &t); err != nil {
		return ScrapeRequest{}, fmt.Errorf("%w: decode trigger: %v", ErrInvalidRequest, err)
	}

	req := ScrapeRequest{
		SeedAccount:    t.SeedAccount,
		ProjectID:      t.ProjectID,
		HarvestContent: t.HarvestContent,
		Requester: Requester{
			Channel:     t.RequesterChannel,
			RecipientID: t.RequesterChannelID,
			Language:    Language(strings.ToLower(strings.TrimSpace(t.DisplayLanguage))),
		},
	}
	if t.MaxAccounts != nil {
		req.MaxAccounts = *t.MaxAccounts
	}
	if t.MaxContentPerAccount != nil {
		req.MaxContentPerAccount = *t.MaxContentPerAccount
	}
	return req.WithDefaults(), nil
}

// WithDefaults fills zero-valued optional fields.
func (r ScrapeRequest) WithDefaults() ScrapeRequest {
	if r.MaxAccounts == 0 {
		r.MaxAccounts = DefaultMaxAccounts
	}
	if r.MaxContentPerAccount == 0 {
		r.MaxContentPerAccount = DefaultMaxContentPerAccount
	}
	if r.Requester.Language == "" {
		r.Requester.Language = LanguageEN
	}
	if r.Requester.Channel == "" {
		r.Requester.Channel = DefaultChannel
	}
	r.SeedAccount = NormalizeSeed(r.SeedAccount)
	return r
}

// Validate checks the request shape. Project existence is checked by the
// persistence gateway.
func (r ScrapeRequest) Validate() error {
	if r.SeedAccount == "" {
		return fmt.Errorf("%w: seed account is required", ErrInvalidRequest)
	}
	if strings.ContainsAny(r.SeedAccount, " /?#") {
		return fmt.Errorf("%w: seed account %q is not a username", ErrInvalidRequest, r.SeedAccount)
	}
	if r.ProjectID <= 0 {
		return fmt.Errorf("%w: project id must be positive, got %d", ErrInvalidRequest, r.ProjectID)
	}
	if r.MaxAccounts <= 0 || r.MaxAccounts > MaxAccountsLimit {
		return fmt.Errorf("%w: max accounts must be in 1..%d, got %d", ErrInvalidRequest, MaxAccountsLimit, r.MaxAccounts)
	}
	if r.MaxContentPerAccount <= 0 || r.MaxContentPerAccount > MaxContentPerAccountLimit {
		return fmt.Errorf("%w: max content per account must be in 1..%d, got %d", ErrInvalidRequest, MaxContentPerAccountLimit, r.MaxContentPerAccount)
	}
	if !r.Requester.Language.Valid() {
		return fmt.Errorf("%w: unsupported language %q", ErrInvalidRequest, r.Requester.Language)
	}
	return nil
}

// NormalizeSeed accepts "@name", "name" or a profile URL and returns the bare
// lowercase username.
func NormalizeSeed(seed string) string {
	seed = strings.TrimSpace(seed)
	if strings.HasPrefix(seed, "http://") || strings.HasPrefix(seed, "https://") {
		if u, err := url.Parse(seed); err == nil {
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) > 0 {
				seed = parts[0]
			}
		}
	}
	seed = strings.TrimPrefix(seed, "@")
	return strings.ToLower(strings.TrimSpace(seed))
}
