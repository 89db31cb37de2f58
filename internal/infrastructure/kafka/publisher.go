// Package kafka publishes domain events to Kafka topics, one topic per
// routing key (dots replaced so "order.created" becomes "order-created").
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	domoutbox "github.com/atlas-commerce/fulfillment/internal/domain/outbox"
)

type Publisher struct {
	writer *kafkago.Writer
	log    *zap.Logger
}

func NewPublisher(brokers []string, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Balancer:     &kafkago.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
			// Topics are provisioned by ops; auto-creation stays off.
		},
		log: logger.With(zap.String("component", "kafka_publisher")),
	}
}

func (p *Publisher) Publish(ctx context.Context, e domoutbox.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: marshal %s: %w", e.EventName(), err)
	}

	msg := kafkago.Message{
		Topic: topicFor(e.EventName()),
		Value: payload,
	}
	if keyed, ok := e.(interface{ Key() string }); ok {
		msg.Key = []byte(keyed.Key())
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", e.EventName(), err)
	}

	p.log.Debug("event_published",
		zap.String("event", e.EventName()),
		zap.String("topic", msg.Topic),
	)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func topicFor(eventName string) string {
	return strings.ReplaceAll(eventName, ".", "-")
}
