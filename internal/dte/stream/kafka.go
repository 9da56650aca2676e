// Package stream publishes index updates to Kafka so downstream consumers
// can follow traceability activity without polling the index.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"passport-gateway/internal/dte/models"
	"passport-gateway/internal/platform/kafka"
)

// DefaultTopic is where index updates land unless configured otherwise.
const DefaultTopic = "dte.index.updates"

type producer interface {
	ProduceAsync(msg *kafka.Message) error
}

// KafkaPublisher streams index records keyed by product, so one product's
// events stay ordered within a partition.
type KafkaPublisher struct {
	producer producer
	topic    string
}

func NewKafkaPublisher(p *kafka.Producer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: p, topic: topic}
}

func (k *KafkaPublisher) PublishIndexed(_ context.Context, record models.DteIndexRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode index record: %w", err)
	}
	return k.producer.ProduceAsync(&kafka.Message{
		Topic: k.topic,
		Key:   []byte(record.ProductID),
		Value: value,
		Headers: map[string]string{
			"eventType": record.EventType,
			"role":      string(record.Role),
		},
	})
}
