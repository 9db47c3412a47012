package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"marketchat/internal/domain"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
)

type recordHeaderCarrier struct {
	record *kgo.Record
}

func (c recordHeaderCarrier) Get(key string) string {
	for _, h := range c.record.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c recordHeaderCarrier) Set(key string, value string) {
	c.record.Headers = append(c.record.Headers, kgo.RecordHeader{
		Key:   key,
		Value: []byte(value),
	})
}

func (c recordHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.record.Headers))
	for _, h := range c.record.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}

// Producer publishes accepted chat messages onto the single topic, keyed by
// conversation id. Per-key ordering at the broker is what preserves
// per-conversation order across the persistence path.
type Producer struct {
	client *kgo.Client
	topic  string
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &Producer{client: cl, topic: topic}, nil
}

// Publish synchronously produces one message. An error here means the only
// durability path for this message failed; callers must treat it as a hard
// failure for the message, not retry-loop the connection.
func (p *Producer) Publish(ctx context.Context, msg *domain.ChatMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(msg.ConversationID),
		Value: value,
	}
	otel.GetTextMapPropagator().Inject(ctx, recordHeaderCarrier{record: record})

	return p.client.ProduceSync(ctx, record).FirstErr()
}

func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
