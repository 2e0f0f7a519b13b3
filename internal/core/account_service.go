package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"promptstudio-backend-go/internal/db"
	"promptstudio-backend-go/internal/models"
)

const anonymousUser = "anon"

// DeriveAccountID maps a user id to a stable account id for clients that
// only send a user header.
func DeriveAccountID(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(userID))
	return "u_" + hex.EncodeToString(sum[:])[:32]
}

// AccountSummary is the account view served by /api/me.
type AccountSummary struct {
	Plan     models.Plan   `json:"plan"`
	RenewAt  int64         `json:"renewAt"`
	CancelAt int64         `json:"cancelAt"`
	Stripe   StripeSummary `json:"stripe"`
	Usage    models.Usage  `json:"usage"`
	Limits   Limits        `json:"limits"`
}

// StripeSummary is the billing part of AccountSummary.
type StripeSummary struct {
	Mode              string `json:"mode"`
	CustomerID        string `json:"customerId"`
	SubscriptionID    string `json:"subscriptionId"`
	HasCustomerID     bool   `json:"hasCustomerId"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancelAtPeriodEnd"`
}

type accountService struct {
	repo       db.AccountRepository
	quota      QuotaPolicy
	stripeMode string
	logger     *zap.Logger
	now        func() time.Time
}

// NewAccountService creates an AccountService. stripeMode is stamped on new
// accounts (DISABLED, LIVE or TEST).
func NewAccountService(repo db.AccountRepository, quota QuotaPolicy, stripeMode string, logger *zap.Logger) AccountService {
	return &accountService{
		repo:       repo,
		quota:      quota,
		stripeMode: stripeMode,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *accountService) newAccount(accountID, userID string) *models.Account {
	now := s.now()
	if userID == "" {
		userID = anonymousUser
	}
	return &models.Account{
		AccountID: accountID,
		UserID:    userID,
		CreatedAt: now.UnixMilli(),
		Plan:      models.PlanFree,
		Stripe:    models.StripeInfo{Mode: s.stripeMode},
		Usage:     models.Usage{MonthKey: MonthKey(now)},
		Trial:     models.Trial{Events: []int64{}},
	}
}

func (s *accountService) GetOrCreate(ctx context.Context, accountID, userID string) (*models.Account, bool, error) {
	accountID = strings.TrimSpace(accountID)
	userID = strings.TrimSpace(userID)
	if accountID == "" {
		return nil, false, ErrMissingAccountID
	}

	acc, err := s.repo.Get(ctx, accountID)
	if err == nil {
		if userID != "" && acc.UserID != userID {
			return s.setUser(ctx, accountID, userID)
		}
		return acc, false, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}

	acc = s.newAccount(accountID, userID)
	if err := s.repo.Create(ctx, acc); err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			// Lost a creation race; the other writer's record wins.
			existing, getErr := s.repo.Get(ctx, accountID)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to get account %s after create conflict: %w", accountID, getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create account %s: %w", accountID, err)
	}
	s.logger.Info("Account created", zap.String("accountID", accountID), zap.String("userID", acc.UserID))
	return acc, true, nil
}

func (s *accountService) setUser(ctx context.Context, accountID, userID string) (*models.Account, bool, error) {
	acc, err := s.Update(ctx, accountID, func(a *models.Account) error {
		a.UserID = userID
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return acc, false, nil
}

func (s *accountService) GetByCustomer(ctx context.Context, customerID string) (*models.Account, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, db.ErrNotFound
	}
	return s.repo.GetByCustomer(ctx, customerID)
}

func (s *accountService) Update(ctx context.Context, accountID string, fn func(acc *models.Account) error) (*models.Account, error) {
	var fnErr error
	acc, err := s.repo.Mutate(ctx, accountID, func(a *models.Account) error {
		if fnErr = fn(a); fnErr != nil {
			return fnErr
		}
		a.UpdatedAt = s.now().UnixMilli()
		return nil
	})
	if err != nil {
		if fnErr != nil && errors.Is(err, fnErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update account %s: %w", accountID, err)
	}
	return acc, nil
}

func (s *accountService) AttachCustomer(ctx context.Context, accountID, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil
	}
	if err := s.repo.LinkCustomer(ctx, customerID, accountID); err != nil {
		return fmt.Errorf("failed to link customer %s to account %s: %w", customerID, accountID, err)
	}
	return nil
}

func (s *accountService) Summary(ctx context.Context, accountID, userID string) (*AccountSummary, error) {
	acc, _, err := s.GetOrCreate(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if acc.Usage.MonthKey != MonthKey(now) {
		acc, err = s.Update(ctx, acc.AccountID, func(a *models.Account) error {
			EnsureMonthlyBucket(a, now)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	mode := acc.Stripe.Mode
	if mode == "" {
		mode = s.stripeMode
	}
	return &AccountSummary{
		Plan:     acc.EffectivePlan(),
		RenewAt:  RenewAt(acc, now),
		CancelAt: CancelAt(acc),
		Stripe: StripeSummary{
			Mode:              mode,
			CustomerID:        acc.Stripe.CustomerID,
			SubscriptionID:    acc.Stripe.SubscriptionID,
			HasCustomerID:     acc.Stripe.CustomerID != "",
			Status:            acc.Stripe.Status,
			CancelAtPeriodEnd: acc.Stripe.CancelAtPeriodEnd,
		},
		Usage:  acc.Usage,
		Limits: s.quota.Limits,
	}, nil
}
