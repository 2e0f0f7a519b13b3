package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"promptstudio-backend-go/internal/metrics"
	"promptstudio-backend-go/internal/models"
)

// planNotifier publishes plan transitions after they were persisted.
type planNotifier struct {
	publisher PlanEventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func (n planNotifier) announce(ctx context.Context, acc *models.Account, from models.Plan, reason string, now time.Time) {
	to := acc.EffectivePlan()
	if from == to {
		return
	}
	n.metrics.RecordPlanChange(string(to))
	n.logger.Info("Plan changed",
		zap.String("accountID", acc.AccountID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	if n.publisher == nil {
		return
	}
	event := PlanEvent{
		AccountID:  acc.AccountID,
		CustomerID: acc.Stripe.CustomerID,
		From:       from,
		To:         to,
		Reason:     reason,
		At:         now.UnixMilli(),
	}
	if err := n.publisher.Publish(ctx, event); err != nil {
		n.logger.Error("Failed to publish plan event", zap.String("accountID", acc.AccountID), zap.Error(err))
	}
}
