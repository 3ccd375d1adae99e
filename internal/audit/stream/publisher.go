// Package stream publishes audit events to Kafka for downstream security
// tooling. The ledger is the system of record; the stream is best effort
// and a lost event is a metric, not an error.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"veritas/internal/domain"
	"veritas/internal/platform/metrics"
)

// Publisher fans audit events out to a Kafka topic. A nil Publisher is
// valid and drops everything silently, which keeps call sites free of
// enabled-or-not branching.
type Publisher struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// New connects to the brokers and makes sure the topic exists. Returns
// nil, nil when no brokers are configured.
func New(ctx context.Context, brokers []string, topic string, logger *slog.Logger, opts ...Option) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("stream: connect kafka: %w", err)
	}

	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}

	p := &Publisher{client: client, topic: topic, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("stream: create topic %q: %w", topic, err)
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("stream: create topic %q: %w", topic, res.Err)
		}
	}
	return nil
}

// Publish fires the event at the topic and returns immediately. Delivery
// failures are logged from the produce callback.
func (p *Publisher) Publish(ctx context.Context, event domain.AuditEvent) {
	if p == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.drop(ctx, event.ID, err)
		return
	}

	record := &kgo.Record{
		Key:   []byte(event.Subject),
		Value: payload,
	}
	// Detach from the request lifetime: the response should never wait on
	// a broker, and a canceled request must not cancel delivery.
	produceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	p.client.Produce(produceCtx, record, func(_ *kgo.Record, err error) {
		defer cancel()
		if err != nil {
			p.drop(produceCtx, event.ID, err)
		}
	})
}

func (p *Publisher) drop(ctx context.Context, eventID string, err error) {
	if p.metrics != nil {
		p.metrics.StreamDropped.Inc()
	}
	p.logger.WarnContext(ctx, "audit event dropped from stream", "event", eventID, "error", err)
}

// Close flushes pending records and releases the client.
func (p *Publisher) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.client.Flush(ctx); err != nil {
		p.client.Close()
		return fmt.Errorf("stream: flush: %w", err)
	}
	p.client.Close()
	return nil
}
