// Package publisher fans committed audit entries out to Kafka for downstream
// compliance consumers.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"kycvault/internal/audit"
)

// Producer is the subset of *kgo.Client used here.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Message is the wire shape of an audit entry on the topic.
type Message struct {
	ID          string         `json:"id"`
	RecordID    string         `json:"record_id"`
	Action      string         `json:"action"`
	PerformedBy string         `json:"performed_by"`
	PerformedAt time.Time      `json:"performed_at"`
	Remarks     string         `json:"remarks,omitempty"`
	ProofRef    string         `json:"proof_ref,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Kafka publishes entries keyed by record id, so one record's history stays
// ordered within a partition.
type Kafka struct {
	producer Producer
	topic    string
}

// NewKafka connects a franz-go client to brokers producing to topic.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return NewKafkaWithProducer(client, topic), nil
}

// NewKafkaWithProducer wraps an existing producer.
func NewKafkaWithProducer(p Producer, topic string) *Kafka {
	return &Kafka{producer: p, topic: topic}
}

// Publish implements audit.Sink.
func (k *Kafka) Publish(ctx context.Context, entries ...*audit.Entry) error {
	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		value, err := json.Marshal(toMessage(e))
		if err != nil {
			return fmt.Errorf("marshal audit entry %s: %w", e.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: k.topic,
			Key:   []byte(e.RecordID),
			Value: value,
		})
	}
	if err := k.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit entries: %w", err)
	}
	return nil
}

func (k *Kafka) Close() {
	k.producer.Close()
}

func toMessage(e *audit.Entry) Message {
	return Message{
		ID:          e.ID,
		RecordID:    string(e.RecordID),
		Action:      string(e.Action),
		PerformedBy: e.PerformedBy,
		PerformedAt: e.PerformedAt.UTC(),
		Remarks:     e.Remarks,
		ProofRef:    e.ProofRef,
		Details:     e.Details,
	}
}
