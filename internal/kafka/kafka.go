package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"visitguard/internal/model"
)

// NewWriter returns a kafka-go writer with sensible defaults for this project.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 50 * time.Millisecond,
		BatchSize:    100,
		WriteTimeout: 5 * time.Second,
	}
}

// NewReader constructs a reader bound to a consumer group.
func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		Topic:           topic,
		GroupID:         group,
		MinBytes:        1e4,
		MaxBytes:        10e6,
		StartOffset:     kafka.FirstOffset,
		CommitInterval:  time.Second,
		ReadLagInterval: 5 * time.Second,
		MaxWait:         time.Second,
	})
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// VisitPublisher hands finished visits to the storage topic.
// Messages are keyed by website id so one site's visits stay ordered.
type VisitPublisher struct {
	w MessageWriter
}

func NewVisitPublisher(w MessageWriter) *VisitPublisher {
	return &VisitPublisher{w: w}
}

// Record writes one visit. It makes a single attempt.
func (p *VisitPublisher) Record(ctx context.Context, v *model.Visit) error {
	msg, err := EncodeVisit(v)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msg)
}

// EncodeVisit builds the topic message for a visit.
func EncodeVisit(v *model.Visit) (kafka.Message, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode visit %s: %w", v.ID, err)
	}
	return kafka.Message{
		Key:   []byte(v.WebsiteID),
		Value: payload,
		Time:  v.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(v.EventType)},
		},
	}, nil
}

// DecodeVisit parses a message produced by EncodeVisit.
func DecodeVisit(msg kafka.Message) (model.Visit, error) {
	var v model.Visit
	if err := json.Unmarshal(msg.Value, &v); err != nil {
		return model.Visit{}, fmt.Errorf("decode visit at offset %d: %w", msg.Offset, err)
	}
	return v, nil
}
