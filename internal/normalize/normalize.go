// Package normalize turns raw upstream records into canonical domain records.
// A bad record yields a *domain.ValidationError; it never aborts a batch.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"CompetitorScanner/internal/domain"
)

const profileURLPattern = "https://www.instagram.com/%s/"

// Account maps one raw discovery record.
func Account(rec domain.RawRecord, projectID int64, seed string, now time.Time) (domain.DiscoveredAccount, error) {
	id, err := requiredID(rec, "pk", "id", "pk_id")
	if err != nil {
		return domain.DiscoveredAccount{}, err
	}
	username := strings.TrimSpace(text(rec, "username"))
	if username == "" {
		return domain.DiscoveredAccount{}, domain.NewValidationError("username", "", "missing required field")
	}
	private, err := flag(rec, "is_private")
	if err != nil {
		return domain.DiscoveredAccount{}, err
	}
	verified, err := flag(rec, "is_verified")
	if err != nil {
		return domain.DiscoveredAccount{}, err
	}

	profileURL := text(rec, "profile_url")
	if profileURL == "" {
		profileURL = fmt.Sprintf(profileURLPattern, username)
	}
	pic := text(rec, "profile_pic_url_hd")
	if pic == "" {
		pic = text(rec, "profile_pic_url")
	}

	return domain.DiscoveredAccount{
		ExternalID:    id,
		Username:      username,
		FullName:      strings.TrimSpace(text(rec, "full_name")),
		IsPrivate:     private,
		IsVerified:    verified,
		ProfilePicURL: pic,
		ProfileURL:    profileURL,
		SeedAccount:   seed,
		ProjectID:     projectID,
		DiscoveredAt:  now.UTC(),
	}, nil
}

// Content maps one raw content record owned by account.
func Content(rec domain.RawRecord, account domain.DiscoveredAccount, projectID int64, now time.Time) (domain.ContentItem, error) {
	id, err := requiredID(rec, "id", "pk", "shortCode")
	if err != nil {
		return domain.ContentItem{}, err
	}
	views, err := count(rec, "videoViewCount", "videoPlayCount", "play_count", "view_count")
	if err != nil {
		return domain.ContentItem{}, err
	}
	likes, err := count(rec, "likesCount", "like_count")
	if err != nil {
		return domain.ContentItem{}, err
	}
	comments, err := count(rec, "commentsCount", "comment_count")
	if err != nil {
		return domain.ContentItem{}, err
	}
	published, err := timestamp(rec)
	if err != nil {
		return domain.ContentItem{}, err
	}

	link := text(rec, "url")
	if link == "" {
		if code := text(rec, "shortCode"); code != "" {
			link = "https://www.instagram.com/reel/" + code + "/"
		}
	}

	return domain.ContentItem{
		ExternalID:      id,
		AccountID:       account.ExternalID,
		AccountUsername: account.Username,
		Caption:         caption(rec),
		URL:             link,
		Views:           views,
		Likes:           likes,
		Comments:        comments,
		PublishedAt:     published,
		ProjectID:       projectID,
		DiscoveredAt:    now.UTC(),
	}, nil
}

// Accounts normalizes a batch, dropping duplicate ids after the first.
func Accounts(records []domain.RawRecord, projectID int64, seed string, now time.Time) ([]domain.DiscoveredAccount, []*domain.ValidationError) {
	accounts := make([]domain.DiscoveredAccount, 0, len(records))
	var invalid []*domain.ValidationError
	seen := map[string]struct{}{}
	for _, rec := range records {
		acc, err := Account(rec, projectID, seed, now)
		if err != nil {
			invalid = append(invalid, asValidation(err))
			continue
		}
		if _, dup := seen[acc.ExternalID]; dup {
			continue
		}
		seen[acc.ExternalID] = struct{}{}
		accounts = append(accounts, acc)
	}
	return accounts, invalid
}

// ContentItems normalizes a batch for one account.
func ContentItems(records []domain.RawRecord, account domain.DiscoveredAccount, projectID int64, now time.Time) ([]domain.ContentItem, []*domain.ValidationError) {
	items := make([]domain.ContentItem, 0, len(records))
	var invalid []*domain.ValidationError
	seen := map[string]struct{}{}
	for _, rec := range records {
		item, err := Content(rec, account, projectID, now)
		if err != nil {
			invalid = append(invalid, asValidation(err))
			continue
		}
		if _, dup := seen[item.ExternalID]; dup {
			continue
		}
		seen[item.ExternalID] = struct{}{}
		items = append(items, item)
	}
	return items, invalid
}

func asValidation(err error) *domain.ValidationError {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return domain.NewValidationError("record", "", err.Error())
}

func requiredID(rec domain.RawRecord, keys ...string) (string, error) {
	for _, key := range keys {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		switch id := v.(type) {
		case string:
			if s := strings.TrimSpace(id); s != "" {
				return s, nil
			}
		case json.Number:
			return id.String(), nil
		case float64:
			return strconv.FormatFloat(id, 'f', -1, 64), nil
		default:
			return "", domain.NewValidationError(key, fmt.Sprint(v), "id is not a string or number")
		}
	}
	return "", domain.NewValidationError(keys[0], "", "missing required id")
}

// text returns a string field or "" when absent or not a string.
func text(rec domain.RawRecord, key string) string {
	if s, ok := rec[key].(string); ok {
		return s
	}
	return ""
}

func caption(rec domain.RawRecord) string {
	switch c := rec["caption"].(type) {
	case string:
		return strings.TrimSpace(c)
	case map[string]any:
		if s, ok := c["text"].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func flag(rec domain.RawRecord, key string) (bool, error) {
	switch v := rec[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, domain.NewValidationError(key, v, "not a boolean")
		}
		return b, nil
	default:
		return false, domain.NewValidationError(key, fmt.Sprint(v), "not a boolean")
	}
}

// count reads the first present key; missing counts are zero and negative
// counts are clamped to zero.
func count(rec domain.RawRecord, keys ...string) (int64, error) {
	for _, key := range keys {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		var raw string
		switch n := v.(type) {
		case json.Number:
			raw = n.String()
		case string:
			raw = strings.TrimSpace(n)
		case float64:
			raw = strconv.FormatFloat(n, 'f', -1, 64)
		default:
			return 0, domain.NewValidationError(key, fmt.Sprint(v), "non-numeric count")
		}
		value, err := parseCount(raw)
		if err != nil {
			return 0, domain.NewValidationError(key, raw, err.Error())
		}
		return max(value, 0), nil
	}
	return 0, nil
}

var (
	errNotNumber     = errors.New("non-numeric count")
	errCountOverflow = errors.New("count out of range")
)

// 2^63 is exactly representable; int64(f) is undefined at or past it.
const int64Bound = float64(1 << 63)

func parseCount(raw string) (int64, error) {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if (err != nil && !errors.Is(err, strconv.ErrRange)) || math.IsNaN(f) {
		return 0, errNotNumber
	}
	if math.IsInf(f, 0) || f >= int64Bound || f < -int64Bound {
		return 0, errCountOverflow
	}
	return int64(f), nil
}

func timestamp(rec domain.RawRecord) (time.Time, error) {
	if v, ok := rec["timestamp"]; ok && v != nil {
		s, isString := v.(string)
		if !isString {
			return time.Time{}, domain.NewValidationError("timestamp", fmt.Sprint(v), "timestamp unparsable")
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z0700", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, domain.NewValidationError("timestamp", s, "timestamp unparsable")
	}
	if v, ok := rec["taken_at"]; ok && v != nil {
		n, isNumber := v.(json.Number)
		if !isNumber {
			return time.Time{}, domain.NewValidationError("taken_at", fmt.Sprint(v), "timestamp unparsable")
		}
		secs, err := n.Int64()
		if err != nil || secs <= 0 {
			return time.Time{}, domain.NewValidationError("taken_at", n.String(), "timestamp unparsable")
		}
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, domain.NewValidationError("timestamp", "", "missing publish timestamp")
}
