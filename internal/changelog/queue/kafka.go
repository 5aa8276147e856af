package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"changetrail/internal/changelog/models"
	"changetrail/internal/platform/metrics"
)

// Kafka submits records to a topic; a consumer-group worker materializes them
// into the store. The topic is the source of truth between hand-off and
// persistence, so submitted records survive both broker-side and process
// restarts.
type Kafka struct {
	client *kgo.Client
}

// NewKafka creates a producer for the deferred topic.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Kafka{client: client}, nil
}

// Submit produces the JSON-encoded record, keyed by subject so one entity's
// trail stays ordered within a partition.
func (q *Kafka) Submit(ctx context.Context, rec *models.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal change record: %w", err)
	}
	krec := &kgo.Record{
		Key:   []byte(rec.SubjectType + "/" + rec.SubjectID),
		Value: payload,
	}
	if err := q.client.ProduceSync(ctx, krec).FirstErr(); err != nil {
		return fmt.Errorf("produce change record: %w", err)
	}
	return nil
}

// Close releases the producer.
func (q *Kafka) Close() {
	q.client.Close()
}

// KafkaWorker consumes the deferred topic and persists records.
type KafkaWorker struct {
	client  *kgo.Client
	store   Store
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// KafkaWorkerOption configures the KafkaWorker.
type KafkaWorkerOption func(*KafkaWorker)

// WithKafkaPolicy overrides the retry policy.
func WithKafkaPolicy(p Policy) KafkaWorkerOption {
	return func(w *KafkaWorker) { w.policy = p }
}

// WithKafkaMetrics sets the metrics collector.
func WithKafkaMetrics(m *metrics.Metrics) KafkaWorkerOption {
	return func(w *KafkaWorker) { w.metrics = m }
}

// NewKafkaWorker joins the consumer group on the deferred topic.
func NewKafkaWorker(brokers []string, topic, group string, store Store, logger *slog.Logger, opts ...KafkaWorkerOption) (*KafkaWorker, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	w := &KafkaWorker{
		client: client,
		store:  store,
		policy: DefaultPolicy,
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run polls fetches until the context is cancelled.
func (w *KafkaWorker) Run(ctx context.Context) error {
	defer w.client.Close()
	for {
		fetches := w.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			w.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})
		fetches.EachRecord(func(krec *kgo.Record) {
			var rec models.Record
			if err := json.Unmarshal(krec.Value, &rec); err != nil {
				w.logger.ErrorContext(ctx, "undecodable queued record dropped",
					"payload", string(krec.Value),
					"error", err,
				)
				return
			}
			if err := persistWithRetry(ctx, w.store, &rec, w.policy); err != nil {
				reportTerminalFailure(ctx, w.logger, w.metrics, &rec, err)
			}
		})
	}
}
