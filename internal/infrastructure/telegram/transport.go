package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"CompetitorScanner/internal/config"
	"CompetitorScanner/internal/delivery"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/infrastructure/httpclient"
	"CompetitorScanner/internal/retry"
)

// Channel is the registry name of this transport.
const Channel = "telegram"

// Transport sends messages through the Telegram Bot API.
type Transport struct {
	apiBase  string
	botToken string
	client   *http.Client
	policy   retry.Policy
}

var _ delivery.Transport = (*Transport)(nil)

// NewTransport registers bot token and API base; client may be nil.
func NewTransport(cfg config.TelegramConfig, client *http.Client) *Transport {
	if client == nil {
		client = httpclient.New(10 * time.Second)
	}
	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &Transport{
		apiBase:  apiBase,
		botToken: cfg.BotToken,
		client:   client,
		policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Jitter:      true,
			Classify:    transient,
		},
	}
}

// Channel implements delivery.Transport.
func (t *Transport) Channel() string { return Channel }

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts a plain-text message to the chat. Transient transport failures
// are retried here; a blocked or unknown chat is not.
func (t *Transport) Send(ctx context.Context, chatID string, msg delivery.Message) error {
	if t.botToken == "" || t.client == nil {
		return fmt.Errorf("%w: telegram transport misconfigured", domain.ErrChannelUnavailable)
	}
	return retry.Do(ctx, t.policy, func(ctx context.Context) error {
		return t.sendOnce(ctx, chatID, msg.Text)
	})
}

func (t *Transport) sendOnce(ctx context.Context, chatID, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return &domain.UpstreamError{Kind: domain.ErrChannelUnavailable, Err: redact(err, t.botToken)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var body apiResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	cause := fmt.Errorf("telegram error %d: %s", resp.StatusCode, body.Description)

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return &domain.UpstreamError{Kind: domain.ErrRecipientUnreachable, Status: resp.StatusCode, Err: cause}
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(body.Description), "chat not found"):
		return &domain.UpstreamError{Kind: domain.ErrRecipientUnreachable, Status: resp.StatusCode, Err: cause}
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := time.Duration(body.Parameters.RetryAfter) * time.Second
		if wait == 0 {
			wait = httpclient.RetryAfter(resp.Header, time.Now())
		}
		return &domain.UpstreamError{Kind: domain.ErrChannelUnavailable, Status: resp.StatusCode, RetryAfter: wait, Err: cause}
	default:
		return &domain.UpstreamError{Kind: domain.ErrChannelUnavailable, Status: resp.StatusCode, Err: cause}
	}
}

// transient retries throttling, server errors and network failures.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrRecipientUnreachable) {
		return false
	}
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) {
		return false
	}
	return upstream.Status == 0 || upstream.Status == http.StatusTooManyRequests || upstream.Status >= 500
}

// redact strips the bot token from transport errors, which embed the URL.
func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<token>"))
}
