package invalidation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"finance-client/pkg/logging"
)

// DefaultExchange is the fanout exchange invalidations are published on.
const DefaultExchange = "finance.invalidations"

const publishTimeout = 5 * time.Second

// AMQPBus publishes invalidations on a fanout exchange. Every process binds
// its own exclusive queue, so each one sees every message.
type AMQPBus struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	queue    string
	origin   string
	logger   *logging.Logger

	mu     sync.Mutex
	closed bool
}

func NewAMQPBus(url, exchange string, logger *logging.Logger) (*AMQPBus, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	b := &AMQPBus{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		origin:   newOrigin(),
		logger:   logging.OrGlobal(logger, logging.ComponentBus),
	}
	if err := b.setup(); err != nil {
		b.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return b, nil
}

func (b *AMQPBus) setup() error {
	err := b.channel.ExchangeDeclare(
		b.exchange, // name
		"fanout",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Server-named, exclusive and auto-deleted: the queue lives as long as
	// this process is connected.
	q, err := b.channel.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	b.queue = q.Name

	if err := b.channel.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (b *AMQPBus) Origin() string {
	return b.origin
}

func (b *AMQPBus) Publish(ctx context.Context, keys []string) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	body, err := NewMessage(b.origin, keys).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = b.channel.PublishWithContext(
		ctx,
		b.exchange, // exchange
		"",         // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			AppId:       b.origin,
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	b.logger.Debug("published invalidation", zap.Strings("keys", keys), zap.String("exchange", b.exchange))
	return nil
}

func (b *AMQPBus) Consume(ctx context.Context, handler func(*Message) error) error {
	deliveries, err := b.channel.Consume(
		b.queue, // queue
		"",      // consumer
		false,   // auto-ack
		true,    // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	b.logger.Info("consuming invalidations", zap.String("queue", b.queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrBusClosed
			}
			b.handle(d, handler)
		}
	}
}

func (b *AMQPBus) handle(d amqp091.Delivery, handler func(*Message) error) {
	msg, err := MessageFromJSON(d.Body)
	if err != nil {
		b.logger.Error("failed to unmarshal invalidation", zap.Error(err))
		d.Nack(false, false)
		return
	}
	if msg.Origin == b.origin {
		d.Ack(false)
		return
	}
	if err := handler(msg); err != nil {
		// Invalidations are idempotent; redelivering a failed one is safe.
		b.logger.Warn("failed to apply invalidation", zap.Strings("keys", msg.Keys), zap.Error(err))
		d.Nack(false, !d.Redelivered)
		return
	}
	d.Ack(false)
}

func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
