package natsbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"CompetitorScanner/internal/delivery"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/ports"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	ns.Start()
	require.True(t, ns.ReadyForConnections(2*time.Second), "nats not ready")
	t.Cleanup(ns.Shutdown)

	nc, err := Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestTransportPublishesEnvelope(t *testing.T) {
	nc := startNATS(t)

	sub, err := nc.SubscribeSync("competitors.delivery")
	require.NoError(t, err)

	tr := NewTransport(nc, "competitors.delivery")
	require.Equal(t, Channel, tr.Channel())
	err = tr.Send(context.Background(), "user-7", delivery.Message{Kind: delivery.KindReport, Text: "ready", URL: "https://dl/x.zip"})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "user-7", msg.Header.Get(recipientHeader))

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	require.Equal(t, "user-7", env.Recipient)
	require.Equal(t, "https://dl/x.zip", env.Message.URL)
}

func TestTransportClosedConnection(t *testing.T) {
	nc := startNATS(t)
	nc.Close()

	err := NewTransport(nc, "competitors.delivery").Send(context.Background(), "u", delivery.Message{})
	require.ErrorIs(t, err, domain.ErrChannelUnavailable)
}

func TestStatusPublisher(t *testing.T) {
	nc := startNATS(t)

	sub, err := nc.SubscribeSync("competitors.runs.status")
	require.NoError(t, err)

	err = NewStatusPublisher(nc, "competitors.runs.status").PublishStatus(context.Background(), ports.RunStatusEvent{
		RunID: "r1", SeedAccount: "acct_a", ProjectID: 37, Status: "completed", Accounts: 3, Items: 6,
	})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var got ports.RunStatusEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, 6, got.Items)
	require.Equal(t, "completed", got.Status)
}

func TestSubscribeTriggers(t *testing.T) {
	nc := startNATS(t)

	var (
		mu  sync.Mutex
		got []domain.ScrapeRequest
	)
	sub, err := SubscribeTriggers(nc, "competitors.scrape.requests", "workers", func(_ context.Context, req domain.ScrapeRequest) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, req)
		return nil
	}, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	resp, err := nc.Request("competitors.scrape.requests", []byte(`{"seed_account":"acct_a","project_id":37,"harvest_content":true}`), 2*time.Second)
	require.NoError(t, err)
	var reply TriggerReply
	require.NoError(t, json.Unmarshal(resp.Data, &reply))
	require.True(t, reply.Accepted)

	resp, err = nc.Request("competitors.scrape.requests", []byte(`{"seed_account":"","project_id":0}`), 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(resp.Data, &reply))
	require.False(t, reply.Accepted)
	require.NotEmpty(t, reply.Error)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, "acct_a", got[0].SeedAccount)
	require.Equal(t, int64(37), got[0].ProjectID)
	require.Equal(t, domain.DefaultMaxAccounts, got[0].MaxAccounts)
	require.True(t, got[0].HarvestContent)
}
