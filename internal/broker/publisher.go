package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ocx/proctoring-ai/internal/metrics"
)

// ResultPublisher is the narrow contract consumer handlers need. Tests
// substitute a fake; production code always gets a *Publisher.
type ResultPublisher interface {
	Publish(ctx context.Context, result OutboundResult) error
}

// Publisher is task-local: exactly one per consumer goroutine, built once
// and reused for every message that goroutine publishes. It owns its own
// connection and channel and never shares either across goroutines
// (spec.md §4.6, §5).
type Publisher struct {
	url          string
	exchangeName string
	routingKey   string
	attempts     int
	metrics      *metrics.Metrics // optional; nil disables instrumentation

	conn *amqp.Connection
	ch   *amqp.Channel

	exchangeDeclared bool
}

// NewPublisher builds a Publisher for the given exchange/routing key.
// Both names are owned by an external service (spec.md §4.1) and are
// only parameters here so deployments can point at a differently-named
// topology; this service never declares them with a different shape.
func NewPublisher(url, exchangeName, routingKey string, attempts int, m *metrics.Metrics) *Publisher {
	if attempts <= 0 {
		attempts = 2
	}
	return &Publisher{
		url:          url,
		exchangeName: exchangeName,
		routingKey:   routingKey,
		attempts:     attempts,
		metrics:      m,
	}
}

// Publish rounds RiskScore and Confidence to 4 decimals (the single
// canonical rounding point, applied regardless of any rounding the risk
// package already did upstream), then publishes with retry.
func (p *Publisher) Publish(ctx context.Context, result OutboundResult) error {
	result.RiskScore = round4(clamp01(result.RiskScore))
	if result.Confidence != nil {
		c := round4(clamp01(*result.Confidence))
		result.Confidence = &c
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	var lastErr error
	retried := false
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := p.publishOnce(ctx, body); err != nil {
			lastErr = err
			log.Printf("[publisher] attempt %d/%d failed: %v", attempt, p.attempts, err)
			p.reset()
			retried = true
			continue
		}
		if p.metrics != nil {
			p.metrics.RecordPublish("success", retried)
		}
		return nil
	}

	if p.metrics != nil {
		p.metrics.RecordPublish("dropped", retried)
	}
	log.Printf("[publisher] dropping result for session %s after %d attempts: %v", result.SessionID, p.attempts, lastErr)
	return fmt.Errorf("publish failed after %d attempts: %w", p.attempts, lastErr)
}

func (p *Publisher) publishOnce(ctx context.Context, body []byte) error {
	if err := p.ensureChannel(); err != nil {
		return err
	}

	return p.ch.PublishWithContext(ctx, p.exchangeName, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// ensureChannel lazily dials and declares the exchange exactly once per
// connection lifetime, matching the Python publisher's thread-local lazy
// declare (result_publisher.py).
func (p *Publisher) ensureChannel() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil {
		return nil
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{Heartbeat: heartbeat})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(p.exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchangeName, err)
	}

	p.conn = conn
	p.ch = ch
	p.exchangeDeclared = true
	return nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.exchangeDeclared = false
}

// Close releases the connection. Call once, when the owning consumer
// goroutine is shutting down.
func (p *Publisher) Close() {
	p.reset()
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
