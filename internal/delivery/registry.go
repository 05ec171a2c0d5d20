package delivery

import (
	"context"
	"fmt"
	"sort"
)

// Message is what a transport delivers: text plus a reference to the archive.
type Message struct {
	Kind        string `json:"kind"`
	RunID       string `json:"run_id,omitempty"`
	Text        string `json:"text"`
	URL         string `json:"url,omitempty"`
	ArchiveName string `json:"archive_name,omitempty"`
}

const (
	KindReport  = "report"
	KindFailure = "failure"
)

// Transport sends one message to one recipient. Errors should wrap
// domain.ErrRecipientUnreachable or domain.ErrChannelUnavailable; anything
// else is treated as the channel being unavailable.
type Transport interface {
	Channel() string
	Send(ctx context.Context, recipient string, msg Message) error
}

// Registry maps channel names to transports. It is built once at startup and
// passed to the Notifier.
type Registry struct {
	transports map[string]Transport
}

// NewRegistry builds a registry from the given transports.
func NewRegistry(transports ...Transport) *Registry {
	r := &Registry{transports: map[string]Transport{}}
	for _, t := range transports {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a transport under its channel name.
func (r *Registry) Register(t Transport) {
	if r.transports == nil {
		r.transports = map[string]Transport{}
	}
	r.transports[t.Channel()] = t
}

// Resolve returns the transport for channel or an error if it is absent.
func (r *Registry) Resolve(channel string) (Transport, error) {
	if t, ok := r.transports[channel]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("channel %s is not registered", channel)
}

// Channels lists registered channel names in sorted order.
func (r *Registry) Channels() []string {
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
