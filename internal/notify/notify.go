package notify

import (
	"context"

	"go.uber.org/zap"

	"promptstudio-backend-go/internal/core"
)

// Publisher delivers plan events and owns its transport.
type Publisher interface {
	core.PlanEventPublisher
	Close() error
}

// LogPublisher only logs events. It is used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event core.PlanEvent) error {
	p.logger.Debug("Plan event",
		zap.String("accountID", event.AccountID),
		zap.String("to", string(event.To)),
		zap.String("reason", event.Reason),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Open returns a RabbitMQ publisher when amqpURL is set, otherwise a LogPublisher.
func Open(amqpURL, queue string, logger *zap.Logger) (Publisher, error) {
	if amqpURL == "" {
		return NewLogPublisher(logger), nil
	}
	return NewRabbitMQPublisher(amqpURL, queue, logger)
}
