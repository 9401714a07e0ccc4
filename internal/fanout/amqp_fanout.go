package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/trip-dispatch/internal/models"
)

// AMQPSink publishes events to a topic exchange so downstream consumers
// (receipts, analytics, degraded-mode pollers) can subscribe per-kind.
// Routing keys: event.<kind>.agent / event.<kind>.requester / event.<kind>.
type AMQPSink struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPSink dials the broker with bounded retry and declares the exchange.
func NewAMQPSink(ctx context.Context, url, exchange string, logger *slog.Logger) (*AMQPSink, error) {
	s := &AMQPSink{url: url, exchange: exchange, logger: logger}
	delay := time.Second
	const attempts = 5
	var err error
	for i := 1; i <= attempts; i++ {
		if err = s.connect(); err == nil {
			return s, nil
		}
		logger.Warn("amqp connect failed", "attempt", i, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return nil, err
}

func (s *AMQPSink) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.ch = ch
	s.mu.Unlock()
	return nil
}

func (s *AMQPSink) publish(routingKey string, ev models.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ch.PublishWithContext(ctx, s.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   ev.At,
		Body:        b,
	}); err != nil {
		s.logger.Warn("amqp publish failed", "routing_key", routingKey, "error", err)
	}
}

func (s *AMQPSink) NotifyAgent(agentID string, ev models.Event) {
	s.publish("event."+string(ev.Kind)+".agent", ev)
}

func (s *AMQPSink) NotifyRequester(requesterID string, ev models.Event) {
	s.publish("event."+string(ev.Kind)+".requester", ev)
}

func (s *AMQPSink) PublishObservability(ev models.Event) {
	s.publish("event."+string(ev.Kind), ev)
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
