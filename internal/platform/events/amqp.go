package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	// SignatureHeader carries "sha256=<hex>" when a signing secret is set.
	SignatureHeader = "x-signature"
	appID           = "surgiform"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPOption configures an AMQPPublisher.
type AMQPOption func(*AMQPPublisher)

// WithSigningSecret signs every message body with HMAC-SHA256.
func WithSigningSecret(secret string) AMQPOption {
	return func(p *AMQPPublisher) { p.secret = secret }
}

// AMQPPublisher publishes events to a durable topic exchange, routed by
// event type.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	secret   string
	logger   zerolog.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger zerolog.Logger, opts ...AMQPOption) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p, err := newAMQPPublisher(ch, exchange, logger, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange string, logger zerolog.Logger, opts ...AMQPOption) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := &AMQPPublisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger.With().Str("component", "events").Str("exchange", exchange).Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish sends the event as a persistent JSON message with the event type
// as routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	headers := amqp.Table{"resource_type": event.ResourceType}
	if p.secret != "" {
		headers[SignatureHeader] = "sha256=" + SignPayload(body, p.secret)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Type:         event.Type,
		AppId:        appID,
		Headers:      headers,
		Body:         body,
	}

	// A channel must not be used by two goroutines at once.
	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn().Err(err).Str("event_id", event.ID).Str("type", event.Type).Msg("publish failed")
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	p.logger.Info().Str("event_id", event.ID).Str("type", event.Type).Msg("event published")
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
