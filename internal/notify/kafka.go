package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaSender publishes messages as JSON to a single topic. Messages are
// keyed by recipient so one recipient's notifications stay ordered within a
// partition.
type KafkaSender struct {
	writer *kafka.Writer
}

func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})

	return &KafkaSender{writer: writer}
}

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	kmsg := kafka.Message{
		Key:   []byte(msg.Recipient),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
			{Key: "channel", Value: []byte(msg.Channel)},
		},
	}

	if err := s.writer.WriteMessages(ctx, kmsg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
