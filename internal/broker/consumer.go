package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ocx/proctoring-ai/internal/metrics"
)

// reconnectDelay is the fixed backoff between dial attempts. The Python
// original retries forever at this cadence (base_consumer.py); there is
// no ceiling because a consumer with nothing to consume from is simply
// useless, not recoverable by giving up.
const reconnectDelay = 5 * time.Second

const heartbeat = 60 * time.Second

// State is the consumer's lifecycle state, logged on every transition so
// an operator can tell "never connected" apart from "lost connection".
type State string

const (
	StateInit         State = "INIT"
	StateConnecting   State = "CONNECTING"
	StateSubscribed   State = "SUBSCRIBED"
	StateDisconnected State = "DISCONNECTED"
	StateStopped      State = "STOPPED"
)

// Handler processes one delivery body. Returning an error causes the
// delivery to be nacked without requeue (spec.md §7: a poison message
// must not be retried forever by the same consumer).
type Handler func(ctx context.Context, body []byte) error

// Consumer is a single-queue AMQP subscriber that owns its connection and
// channel for its entire lifetime and reconnects on any failure. One
// Consumer is built per queue per running task; its connection and
// channel are never shared with another goroutine (spec.md §5). Only its
// lifecycle state is read from outside (State), and Stop may be called
// from any goroutine.
type Consumer struct {
	url       string
	queue     string
	prefetch  int
	handler   Handler
	logPrefix string
	metrics   *metrics.Metrics // optional; nil disables instrumentation

	state State
	stop  chan struct{}
}

func NewConsumer(url, queue string, prefetch int, handler Handler, m *metrics.Metrics) *Consumer {
	return &Consumer{
		url:       url,
		queue:     queue,
		prefetch:  prefetch,
		handler:   handler,
		logPrefix: fmt.Sprintf("[consumer:%s] ", queue),
		metrics:   m,
		state:     StateInit,
		stop:      make(chan struct{}),
	}
}

// Stop signals Run to exit after its current connect/handle cycle. Safe
// to call once from any goroutine; calling it twice panics on the closed
// channel, matching the single-owner lifetime this type assumes.
func (c *Consumer) Stop() {
	close(c.stop)
}

// Run blocks until Stop is called or ctx is cancelled, reconnecting on
// every connection-level failure until then. It never returns an error:
// a queue that cannot be reached is logged and retried, not fatal.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-c.stop:
			c.setState(StateStopped)
			return
		case <-ctx.Done():
			c.setState(StateStopped)
			return
		default:
		}

		c.setState(StateConnecting)
		if err := c.connectAndConsume(ctx); err != nil {
			log.Printf("%s%v, retrying in %s", c.logPrefix, err, reconnectDelay)
		}
		c.setState(StateDisconnected)

		select {
		case <-c.stop:
			c.setState(StateStopped)
			return
		case <-ctx.Done():
			c.setState(StateStopped)
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Consumer) setState(s State) {
	if c.state != s {
		log.Printf("%sstate %s -> %s", c.logPrefix, c.state, s)
	}
	c.state = s
}

// State reports the consumer's current lifecycle state, for the /health
// endpoint. Reads the same field Run mutates without synchronization,
// matching this type's single-writer/occasional-reader usage.
func (c *Consumer) State() State {
	return c.state
}

func (c *Consumer) connectAndConsume(ctx context.Context) error {
	conn, err := amqp.DialConfig(c.url, amqp.Config{Heartbeat: heartbeat})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	if _, err := ch.QueueDeclarePassive(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare passive %s: %w", c.queue, err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.setState(StateSubscribed)
	log.Printf("%ssubscribed", c.logPrefix)

	for {
		select {
		case <-c.stop:
			return nil
		case <-ctx.Done():
			return nil
		case amqpErr, ok := <-connClosed:
			if !ok || amqpErr == nil {
				return errors.New("connection closed")
			}
			return fmt.Errorf("connection closed: %w", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	err := c.handler(ctx, d.Body)
	if c.metrics != nil {
		c.metrics.HandlerDuration.WithLabelValues(c.queue).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		log.Printf("%shandler error, nacking: %v", c.logPrefix, err)
		if c.metrics != nil {
			c.metrics.RecordConsumed(c.queue, "nack")
		}
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Printf("%snack failed: %v", c.logPrefix, nackErr)
		}
		return
	}
	if c.metrics != nil {
		c.metrics.RecordConsumed(c.queue, "ack")
	}
	if ackErr := d.Ack(false); ackErr != nil {
		log.Printf("%sack failed: %v", c.logPrefix, ackErr)
	}
}
