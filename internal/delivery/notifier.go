// Package delivery composes requester-facing messages and hands them to a
// channel transport. Delivery failures are reported, never returned.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"CompetitorScanner/internal/analytics"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/ports"
)

// Options configures fallbacks and link generation.
type Options struct {
	// DefaultRecipients is used per channel when the requester gave none.
	DefaultRecipients map[string]string
	DownloadBaseURL   string
}

// Notifier implements ports.DeliveryNotifier over a Registry.
type Notifier struct {
	registry *Registry
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

var _ ports.DeliveryNotifier = (*Notifier)(nil)

// NewNotifier wires the transport registry.
func NewNotifier(registry *Registry, opts Options, logger *slog.Logger) *Notifier {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{registry: registry, opts: opts, logger: logger, now: time.Now}
}

// Deliver sends the summary and download reference to the requester.
func (n *Notifier) Deliver(ctx context.Context, rec domain.ArchiveRecord, summary analytics.Summary, requester domain.Requester) domain.DeliveryAttempt {
	link := DownloadURL(n.opts.DownloadBaseURL, rec)
	msg := Message{
		Kind:        KindReport,
		RunID:       rec.RunID,
		Text:        ReportText(language(requester), rec.SeedAccount, summary, rec, link),
		URL:         link,
		ArchiveName: rec.Name,
	}
	return n.send(ctx, requester, msg)
}

// NotifyFailure tells the requester the run failed.
func (n *Notifier) NotifyFailure(ctx context.Context, meta ports.RunMeta, cause error) domain.DeliveryAttempt {
	requester := meta.Request.Requester
	msg := Message{
		Kind:  KindFailure,
		RunID: meta.RunID,
		Text:  FailureText(language(requester), meta.Request.SeedAccount, cause),
	}
	return n.send(ctx, requester, msg)
}

func (n *Notifier) send(ctx context.Context, requester domain.Requester, msg Message) domain.DeliveryAttempt {
	channel := requester.Channel
	if channel == "" {
		channel = domain.DefaultChannel
	}
	recipient := requester.RecipientID
	if recipient == "" {
		recipient = n.opts.DefaultRecipients[channel]
	}
	attempt := domain.DeliveryAttempt{Channel: channel, Recipient: recipient, At: n.now().UTC()}

	transport, err := n.registry.Resolve(channel)
	if err != nil {
		return n.fail(attempt, fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err))
	}
	if recipient == "" {
		return n.fail(attempt, fmt.Errorf("%w: no recipient for channel %s", domain.ErrRecipientUnreachable, channel))
	}

	if err := transport.Send(ctx, recipient, msg); err != nil {
		if !errors.Is(err, domain.ErrRecipientUnreachable) && !errors.Is(err, domain.ErrChannelUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err)
		}
		return n.fail(attempt, err)
	}

	attempt.Success = true
	n.logger.Info("message delivered", "channel", channel, "recipient", recipient, "kind", msg.Kind)
	return attempt
}

func (n *Notifier) fail(attempt domain.DeliveryAttempt, err error) domain.DeliveryAttempt {
	attempt.Err = err
	attempt.Reason = err.Error()
	n.logger.Warn("delivery failed", "channel", attempt.Channel, "recipient", attempt.Recipient, "err", err)
	return attempt
}

func language(r domain.Requester) domain.Language {
	if r.Language.Valid() {
		return r.Language
	}
	return domain.LanguageEN
}
