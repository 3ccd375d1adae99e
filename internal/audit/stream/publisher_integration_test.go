//go:build integration

package stream_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"veritas/internal/audit/stream"
	"veritas/internal/domain"
	"veritas/pkg/testutil/containers"
)

func TestPublisherDelivers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	rp := containers.NewRedpandaContainer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	const topic = "veritas.audit.events.test"
	publisher, err := stream.New(ctx, rp.Brokers, topic, logger)
	require.NoError(t, err)
	require.NotNil(t, publisher)

	event := domain.AuditEvent{
		ID:        "evt-1",
		Subject:   "alice",
		Action:    "GET /api/secure/confidential-resource",
		Outcome:   domain.OutcomeDenied,
		RiskLevel: domain.RiskHigh,
		RiskScore: 65,
		Device:    map[string]string{"os": "Windows 7"},
		Timestamp: time.Now(),
		Version:   domain.ProtocolVersion,
	}
	publisher.Publish(ctx, event)
	require.NoError(t, publisher.Close(ctx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(fetchCtx)
	require.NoError(t, fetches.Err())

	records := fetches.Records()
	require.Len(t, records, 1)
	require.Equal(t, []byte("alice"), records[0].Key)

	var got domain.AuditEvent
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	require.Equal(t, "evt-1", got.ID)
	require.Equal(t, domain.OutcomeDenied, got.Outcome)
}
