package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types published by the registry node.
const (
	CouponSubmitted     = "coupon.submitted"
	CouponDeleted       = "coupon.deleted"
	CouponStatusChanged = "coupon.status_changed"
	WeightsCalculated   = "weights.calculated"
)

const eventSource = "registry-node"

// CloudEvent is the envelope every published message is wrapped in.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

// ParseCloudEvent decodes a raw message into its envelope.
func ParseCloudEvent(raw []byte) (CloudEvent, error) {
	var ce CloudEvent
	err := json.Unmarshal(raw, &ce)
	return ce, err
}

// ParseData decodes the event payload into v.
func (ce CloudEvent) ParseData(v any) error {
	return json.Unmarshal(ce.Data, v)
}

// Producer publishes CloudEvents to a Kafka topic. Publishing is
// best-effort: failures are logged and never propagate into the
// transaction that triggered the event.
type Producer struct {
	writer *kafkago.Writer
	logger *zap.Logger
}

// NewProducer creates a Kafka producer for the given brokers and topic.
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		Async:        false,
	}
	return &Producer{writer: writer, logger: logger}
}

// Publish wraps data in a CloudEvent and writes it keyed by key.
func (p *Producer) Publish(ctx context.Context, eventType, key string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		p.logger.Error("failed to marshal event payload",
			zap.String("type", eventType),
			zap.Error(err),
		)
		return
	}

	ce := CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.NewString(),
		Source:          eventSource,
		Type:            eventType,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            payload,
	}

	raw, err := json.Marshal(ce)
	if err != nil {
		p.logger.Error("failed to marshal cloud event", zap.Error(err))
		return
	}

	if err := p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: raw,
	}); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("type", eventType),
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("event published",
		zap.String("type", eventType),
		zap.String("id", ce.ID),
	)
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
