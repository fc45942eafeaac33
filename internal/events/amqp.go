package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// AMQP publishes events to a topic exchange, routed by event type.
type AMQP struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	timeout  time.Duration
	log      *slog.Logger
}

// DialAMQP connects to url and declares a durable topic exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQP, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQP{conn: conn, channel: ch, exchange: exchange, timeout: 5 * time.Second, log: logger}, nil
}

// Publish sends e as a persistent JSON message. Failures are logged.
func (p *AMQP) Publish(ctx context.Context, e Event) {
	body, err := e.Body()
	if err != nil {
		p.log.ErrorContext(ctx, "event encode failed", "type", e.Type, "err", err)
		return
	}
	// The request context may already be done once the response is written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	// amqp091 channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,     // exchange
		string(e.Type), // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    e.ID.String(),
			Timestamp:    e.OccurredAt,
			Type:         string(e.Type),
			Body:         body,
		},
	)
	if err != nil {
		p.log.ErrorContext(ctx, "event publish failed", "type", e.Type, "event_id", e.ID.String(), "err", err)
		return
	}
	p.log.DebugContext(ctx, "event published", "type", e.Type, "event_id", e.ID.String(), "exchange", p.exchange)
}

// Close shuts down the channel and connection.
func (p *AMQP) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
