package kafka

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ecociel/fetchq/domain"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer defines the interface for producing messages to Kafka
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher emits task outcome events, keyed by dedup key so all outcomes
// of one logical unit of work land on the same partition.
type Publisher struct {
	client Producer
	topic  string
}

func New(client *kgo.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

func (p *Publisher) PublishSync(ctx context.Context, dedupKey string, event domain.Event) error {
	record, err := eventToRec(p.topic, dedupKey, event)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, &record).FirstErr(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func eventToRec(topic, dedupKey string, event domain.Event) (rec kgo.Record, err error) {
	value, err := json.Marshal(event)
	if err != nil {
		return rec, fmt.Errorf("serialize event: %w", err)
	}

	attempt := binary.BigEndian.AppendUint16(nil, uint16(event.Attempt))
	headers := make([]kgo.RecordHeader, 0, 4)
	headers = append(headers, kgo.RecordHeader{Key: domain.HeaderID, Value: []byte(event.TaskID.String())})
	headers = append(headers, kgo.RecordHeader{Key: domain.HeaderKind, Value: []byte(event.Kind)})
	headers = append(headers, kgo.RecordHeader{Key: domain.HeaderStatus, Value: []byte(event.Status)})
	headers = append(headers, kgo.RecordHeader{Key: domain.HeaderAttempt, Value: attempt})

	rec.Topic = topic
	rec.Key = []byte(dedupKey)
	rec.Value = value
	rec.Headers = headers
	return rec, nil
}
