package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/request"
)

// KafkaProducer publishes request lifecycle changes so other services
// (notifications, sync between devices) can react. Publishing is
// best-effort: a broker failure is logged, never surfaced to the caller.
type KafkaProducer struct {
	writer *kafkago.Writer
	log    *zap.SugaredLogger
}

type requestEvent struct {
	Type    string           `json:"type"`
	Request *request.Request `json:"request"`
	At      time.Time        `json:"at"`
}

func NewKafkaProducer(brokers []string, topic string, log *zap.SugaredLogger) *KafkaProducer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		Async:        true,
		// async writes report broker errors here, not from WriteMessages
		Completion: func(messages []kafkago.Message, err error) {
			if err != nil {
				log.Errorw("kafka delivery failed", "messages", len(messages), "error", err)
			}
		},
	}
	return &KafkaProducer{writer: w, log: log}
}

func (p *KafkaProducer) RequestChanged(ctx context.Context, eventType string, r *request.Request) {
	b, err := json.Marshal(requestEvent{Type: eventType, Request: r, At: time.Now().UTC()})
	if err != nil {
		p.log.Errorw("marshal request event", "error", err)
		return
	}
	msg := kafkago.Message{
		Key:   []byte(r.ID),
		Value: b,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Errorw("kafka publish request event", "type", eventType, "request", r.ID, "error", err)
	}
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
