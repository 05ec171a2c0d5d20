// Package natsbus carries triggers, delivery messages and run status over
// NATS with OpenTelemetry trace propagation in message headers.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"CompetitorScanner/internal/delivery"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/ports"
)

// Channel is the registry name of the NATS delivery transport.
const Channel = "nats"

const (
	recipientHeader = "Recipient"
	flushTimeout    = 5 * time.Second
)

// Connect dials the server with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("competitorscanner"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func publish(ctx context.Context, nc *nats.Conn, msg *nats.Msg) error {
	if nc == nil || !nc.IsConnected() {
		return fmt.Errorf("%w: nats not connected", domain.ErrChannelUnavailable)
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: publish %s: %v", domain.ErrChannelUnavailable, msg.Subject, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: flush %s: %v", domain.ErrChannelUnavailable, msg.Subject, err)
	}
	return nil
}

// Envelope is the wire form of a delivery message.
type Envelope struct {
	Recipient string           `json:"recipient"`
	Message   delivery.Message `json:"message"`
}

// Transport publishes delivery messages for a downstream bot or service.
type Transport struct {
	nc      *nats.Conn
	subject string
}

var _ delivery.Transport = (*Transport)(nil)

// NewTransport publishes on subject.
func NewTransport(nc *nats.Conn, subject string) *Transport {
	return &Transport{nc: nc, subject: subject}
}

// Channel implements delivery.Transport.
func (t *Transport) Channel() string { return Channel }

// Send implements delivery.Transport.
func (t *Transport) Send(ctx context.Context, recipient string, m delivery.Message) error {
	data, err := json.Marshal(Envelope{Recipient: recipient, Message: m})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := &nats.Msg{Subject: t.subject, Data: data, Header: nats.Header{}}
	msg.Header.Set(recipientHeader, recipient)
	return publish(ctx, t.nc, msg)
}

// StatusPublisher broadcasts finished runs.
type StatusPublisher struct {
	nc      *nats.Conn
	subject string
}

var _ ports.StatusPublisher = (*StatusPublisher)(nil)

// NewStatusPublisher publishes on subject.
func NewStatusPublisher(nc *nats.Conn, subject string) *StatusPublisher {
	return &StatusPublisher{nc: nc, subject: subject}
}

// PublishStatus implements ports.StatusPublisher.
func (p *StatusPublisher) PublishStatus(ctx context.Context, status ports.RunStatusEvent) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return publish(ctx, p.nc, &nats.Msg{Subject: p.subject, Data: data})
}

// TriggerReply answers request-style triggers.
type TriggerReply struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// TriggerHandler accepts a decoded request; returning an error rejects it.
type TriggerHandler func(ctx context.Context, req domain.ScrapeRequest) error

// SubscribeTriggers decodes scrape triggers from subject. With a non-empty
// queue group several instances share the load. Invalid triggers are logged
// and, when the sender waits for a reply, rejected.
func SubscribeTriggers(nc *nats.Conn, subject, queue string, handler TriggerHandler, logger *slog.Logger) (*nats.Subscription, error) {
	if nc == nil {
		return nil, errors.New("nats connection is nil")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cb := func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		req, err := domain.ParseTrigger(msg.Data)
		if err == nil {
			err = req.Validate()
		}
		if err == nil {
			err = handler(ctx, req)
		}
		if err != nil {
			logger.Warn("trigger rejected", "subject", msg.Subject, "err", err)
		}
		if msg.Reply == "" {
			return
		}
		reply := TriggerReply{Accepted: err == nil}
		if err != nil {
			reply.Error = err.Error()
		}
		data, _ := json.Marshal(reply)
		if rerr := msg.Respond(data); rerr != nil {
			logger.Warn("trigger reply failed", "err", rerr)
		}
	}
	if queue != "" {
		return nc.QueueSubscribe(subject, queue, cb)
	}
	return nc.Subscribe(subject, cb)
}
