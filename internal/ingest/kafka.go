package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-dispatch/internal/models"
)

// PositionProducer publishes raw position samples so the standalone
// consumer can mirror them into Redis and other processes can replay them.
type PositionProducer struct {
	writer *kafka.Writer
}

func NewPositionProducer(brokers []string, topic string) *PositionProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &PositionProducer{writer: w}
}

func (p *PositionProducer) PublishSample(s models.PositionSample) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(s)
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(s.AgentID), Value: b})
}

func (p *PositionProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// EventSink is a fanout sink that writes dispatch events to a Kafka topic
// for observability consumers. Agent and requester pushes are not its job;
// those ride the websocket and AMQP sinks.
type EventSink struct {
	writer *kafka.Writer
}

func NewEventSink(brokers []string, topic string) *EventSink {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &EventSink{writer: w}
}

func (e *EventSink) NotifyAgent(string, models.Event)     {}
func (e *EventSink) NotifyRequester(string, models.Event) {}

func (e *EventSink) PublishObservability(ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	key := ev.JobID
	if key == "" {
		key = ev.AgentID
	}
	_ = e.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (e *EventSink) Close() error {
	if e.writer == nil {
		return nil
	}
	return e.writer.Close()
}
