package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"promptstudio-backend-go/internal/core"
)

// amqpChannel is the subset of *amqp.Channel the publisher needs.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher publishes plan events as JSON to a durable queue.
type RabbitMQPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel amqpChannel
	queue   string
	logger  *zap.Logger
}

// NewRabbitMQPublisher connects to url and declares the queue.
func NewRabbitMQPublisher(url, queue string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	logger.Info("Connected to RabbitMQ", zap.String("queue", queue))
	return &RabbitMQPublisher{conn: conn, channel: ch, queue: queue, logger: logger}, nil
}

// Publish sends one event. Channels are not safe for concurrent use, so
// publishing is serialized.
func (p *RabbitMQPublisher) Publish(_ context.Context, event core.PlanEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode plan event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.Publish(
		"",      // exchange
		p.queue, // routing key (queue name)
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.UnixMilli(event.At),
			Type:         "plan." + string(event.To),
		})
	if err != nil {
		return fmt.Errorf("failed to publish plan event to %s: %w", p.queue, err)
	}
	p.logger.Debug("Published plan event", zap.String("accountID", event.AccountID), zap.String("queue", p.queue))
	return nil
}

// Close closes the channel and the connection.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Warn("Error closing RabbitMQ channel", zap.Error(err))
			lastErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.logger.Warn("Error closing RabbitMQ connection", zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}
