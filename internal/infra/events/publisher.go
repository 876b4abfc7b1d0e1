// Package events publishes domain events to RabbitMQ. Publishing is
// best-effort: failures are logged and returned, never retried.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("events")

// AMQP publishes JSON events to a durable topic exchange on one long-lived
// connection. The channel is reopened on the next publish after a failure.
type AMQP struct {
	url      string
	exchange string
	logger   *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQP dials the broker and declares the exchange.
func NewAMQP(url, exchange string, logger *zap.Logger) (*AMQP, error) {
	p := &AMQP{url: url, exchange: exchange, logger: logger}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQP) connectLocked() error {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return fmt.Errorf("rabbitmq dial: %w", err)
		}
		p.conn = conn
		p.ch = nil
	}
	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("rabbitmq channel: %w", err)
		}
		if err := ch.ExchangeDeclare(
			p.exchange, // name
			"topic",    // kind
			true,       // durable
			false,      // autoDelete
			false,      // internal
			false,      // noWait
			nil,        // args
		); err != nil {
			_ = ch.Close()
			return fmt.Errorf("rabbitmq exchange declare: %w", err)
		}
		p.ch = ch
	}
	return nil
}

func (p *AMQP) Publish(ctx context.Context, routingKey string, event any) error {
	ctx, span := tracer.Start(ctx, "AMQP.Publish")
	defer span.End()
	span.SetAttributes(attribute.String("routing_key", routingKey))

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", routingKey, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		p.logger.Warn("event publish skipped", zap.String("routing_key", routingKey), zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         routingKey,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, pub); err != nil {
		p.logger.Warn("event publish failed", zap.String("routing_key", routingKey), zap.Error(err))
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	p.logger.Debug("event published", zap.String("routing_key", routingKey))
	return nil
}

// Close closes the channel and connection.
func (p *AMQP) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Log writes events to the logger instead of a broker. It is used when no
// broker is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log { return &Log{logger: logger} }

func (p *Log) Publish(_ context.Context, routingKey string, event any) error {
	p.logger.Info("domain event", zap.String("routing_key", routingKey), zap.Any("event", event))
	return nil
}

// Recorded is one event captured by a Recorder.
type Recorded struct {
	RoutingKey string
	Event      any
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
	Err    error
}

func (r *Recorder) Publish(_ context.Context, routingKey string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{RoutingKey: routingKey, Event: event})
	return r.Err
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Keys returns the routing keys in publish order.
func (r *Recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.events))
	for _, e := range r.events {
		keys = append(keys, e.RoutingKey)
	}
	return keys
}
