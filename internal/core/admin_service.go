package core

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"go.uber.org/zap"

	"promptstudio-backend-go/internal/metrics"
	"promptstudio-backend-go/internal/models"
)

const adminUser = "admin"

type adminService struct {
	accounts AccountService
	adminKey string
	notifier planNotifier
	now      func() time.Time
}

// NewAdminService creates an AdminService guarded by adminKey. An empty key
// disables all admin operations.
func NewAdminService(accounts AccountService, adminKey string, publisher PlanEventPublisher, m *metrics.Metrics, logger *zap.Logger) AdminService {
	return &adminService{
		accounts: accounts,
		adminKey: strings.TrimSpace(adminKey),
		notifier: planNotifier{publisher: publisher, metrics: m, logger: logger},
		now:      time.Now,
	}
}

// SetPlan overrides the plan of an account, creating it when needed.
func (s *adminService) SetPlan(ctx context.Context, adminKey, accountID, plan string) (models.Plan, error) {
	if s.adminKey == "" {
		return "", ErrAdminNotConfigured
	}
	adminKey = strings.TrimSpace(adminKey)
	if adminKey == "" || subtle.ConstantTimeCompare([]byte(adminKey), []byte(s.adminKey)) != 1 {
		return "", ErrUnauthorized
	}
	if strings.TrimSpace(accountID) == "" {
		return "", ErrMissingAccountID
	}
	p, ok := models.ParsePlan(plan)
	if !ok {
		return "", ErrBadPlan
	}

	acc, created, err := s.accounts.GetOrCreate(ctx, accountID, "")
	if err != nil {
		return "", err
	}
	var from models.Plan
	acc, err = s.accounts.Update(ctx, acc.AccountID, func(a *models.Account) error {
		if created && a.UserID == anonymousUser {
			a.UserID = adminUser
		}
		from = a.EffectivePlan()
		a.Plan = p
		return nil
	})
	if err != nil {
		return "", err
	}
	s.notifier.announce(ctx, acc, from, "admin.set-plan", s.now())
	return p, nil
}
