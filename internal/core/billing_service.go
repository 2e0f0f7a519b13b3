package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"promptstudio-backend-go/internal/db"
	"promptstudio-backend-go/internal/metrics"
	"promptstudio-backend-go/internal/models"
)

// Stripe event types the bridge reacts to.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"

	eventCheckoutSync = "checkout.session.sync"
)

// Subscription statuses that keep an account on PRO.
var proStatuses = map[string]bool{
	"active":   true,
	"trialing": true,
	"past_due": true,
	"unpaid":   true,
}

// Checkout payment statuses that count as paid.
var paidStatuses = map[string]bool{
	"paid":                true,
	"no_payment_required": true,
}

// BillingConfig configures the billing bridge.
type BillingConfig struct {
	PriceID         string
	Mode            string
	WebhooksEnabled bool
	Maintenance     bool
}

// BillingStatus is the billing part of /api/health.
type BillingStatus struct {
	Enabled bool   `json:"stripe"`
	Mode    string `json:"stripeMode"`
	PriceID string `json:"stripePriceId"`
}

// CheckoutResult is the redirect target of a new checkout session.
type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// SyncResult reports the state after a checkout sync.
type SyncResult struct {
	Plan           models.Plan `json:"plan"`
	CustomerID     string      `json:"customerId"`
	SubscriptionID string      `json:"subscriptionId"`
}

type billingService struct {
	accounts AccountService
	gateway  PaymentGateway
	cfg      BillingConfig
	notifier planNotifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewBillingService creates a BillingService. gateway may be nil when Stripe
// is not configured; billing calls then fail with ErrStripeNotConfigured.
func NewBillingService(
	accounts AccountService,
	gateway PaymentGateway,
	cfg BillingConfig,
	publisher PlanEventPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) BillingService {
	return &billingService{
		accounts: accounts,
		gateway:  gateway,
		cfg:      cfg,
		notifier: planNotifier{publisher: publisher, metrics: m, logger: logger},
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *billingService) Status() BillingStatus {
	return BillingStatus{
		Enabled: s.gateway != nil,
		Mode:    s.cfg.Mode,
		PriceID: s.cfg.PriceID,
	}
}

func (s *billingService) ready() error {
	if s.cfg.Maintenance {
		return ErrMaintenance
	}
	if s.gateway == nil {
		return ErrStripeNotConfigured
	}
	return nil
}

func (s *billingService) CreateCheckout(ctx context.Context, accountID, userID, returnBase string) (*CheckoutResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.cfg.PriceID == "" {
		return nil, ErrStripeNotConfigured
	}
	acc, _, err := s.accounts.GetOrCreate(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(returnBase, "/")
	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutParams{
		PriceID:    s.cfg.PriceID,
		SuccessURL: base + "/checkout-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  base + "/checkout-cancel",
		CustomerID: acc.Stripe.CustomerID,
		Metadata: map[string]string{
			"accountId": acc.AccountID,
			"userId":    acc.UserID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %w", ErrStripeClient, err)
	}
	s.logger.Info("Checkout session created", zap.String("accountID", acc.AccountID), zap.String("sessionID", session.ID))
	return &CheckoutResult{URL: session.URL, SessionID: session.ID}, nil
}

func (s *billingService) SyncCheckoutSession(ctx context.Context, accountID, userID, sessionID string) (*SyncResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, ErrMissingAccountID
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	acc, _, err := s.accounts.GetOrCreate(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve checkout session: %w", ErrStripeClient, err)
	}
	if owner := strings.TrimSpace(session.Metadata["accountId"]); owner != "" && owner != acc.AccountID {
		return nil, ErrSessionMismatch
	}
	if !session.Paid() {
		s.logger.Warn("Checkout session not paid",
			zap.String("accountID", acc.AccountID),
			zap.String("sessionID", session.ID),
			zap.String("status", session.Status),
			zap.String("paymentStatus", session.PaymentStatus),
		)
		return nil, fmt.Errorf("%w: status %q, payment %q", ErrCheckoutIncomplete, session.Status, session.PaymentStatus)
	}

	if err := s.accounts.AttachCustomer(ctx, acc.AccountID, session.CustomerID); err != nil {
		return nil, err
	}
	acc, err = s.apply(ctx, acc.AccountID, eventCheckoutSync, func(a *models.Account) {
		if session.CustomerID != "" {
			a.Stripe.CustomerID = session.CustomerID
		}
		if session.Subscription == nil {
			a.Plan = models.PlanPro
			return
		}
		mirrorSubscription(a, session.Subscription)
		a.Plan = planForStatus(a.Stripe.Status)
	})
	if err != nil {
		return nil, err
	}
	return &SyncResult{
		Plan:           acc.EffectivePlan(),
		CustomerID:     acc.Stripe.CustomerID,
		SubscriptionID: acc.Stripe.SubscriptionID,
	}, nil
}

func (s *billingService) CreatePortal(ctx context.Context, accountID, userID, returnBase string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	acc, _, err := s.accounts.GetOrCreate(ctx, accountID, userID)
	if err != nil {
		return "", err
	}
	if acc.Stripe.CustomerID == "" {
		return "", ErrMissingCustomerID
	}
	url, err := s.gateway.CreatePortalSession(ctx, acc.Stripe.CustomerID, strings.TrimRight(returnBase, "/")+"/?from=billing")
	if err != nil {
		return "", fmt.Errorf("%w: create portal session: %w", ErrStripeClient, err)
	}
	return url, nil
}

func (s *billingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.gateway == nil || !s.cfg.WebhooksEnabled {
		return ErrStripeNotConfigured
	}
	event, err := s.gateway.ConstructEvent(payload, signature)
	if err != nil {
		s.metrics.RecordWebhook("unknown", "invalid_signature")
		return fmt.Errorf("%w: %w", ErrWebhookSignature, err)
	}

	if err := s.dispatch(ctx, event); err != nil {
		s.metrics.RecordWebhook(event.Type, "error")
		s.logger.Error("Stripe webhook processing failed",
			zap.String("eventID", event.ID), zap.String("type", event.Type), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrWebhookProcessing, err)
	}
	s.metrics.RecordWebhook(event.Type, "ok")
	return nil
}

func (s *billingService) dispatch(ctx context.Context, event *WebhookEvent) error {
	switch event.Type {
	case EventCheckoutCompleted:
		var session checkoutSessionObject
		if err := json.Unmarshal(event.Object, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return s.checkoutCompleted(ctx, session)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub subscriptionObject
		if err := json.Unmarshal(event.Object, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.subscriptionChanged(ctx, event.Type, sub)

	case EventSubscriptionDeleted:
		var sub subscriptionObject
		if err := json.Unmarshal(event.Object, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.subscriptionDeleted(ctx, sub)
	}

	s.logger.Debug("Stripe webhook ignored", zap.String("type", event.Type), zap.String("eventID", event.ID))
	return nil
}

func (s *billingService) checkoutCompleted(ctx context.Context, session checkoutSessionObject) error {
	if session.PaymentStatus != "" && !paidStatuses[session.PaymentStatus] {
		// Delayed payment methods complete the session before the money
		// arrives; the subscription events decide the plan then.
		s.logger.Info("Checkout completed without payment, waiting for subscription update",
			zap.String("sessionID", session.ID), zap.String("paymentStatus", session.PaymentStatus))
		return nil
	}

	customerID := session.Customer.ID
	var accountID string
	if id := strings.TrimSpace(session.Metadata["accountId"]); id != "" {
		acc, _, err := s.accounts.GetOrCreate(ctx, id, session.Metadata["userId"])
		if err != nil {
			return err
		}
		accountID = acc.AccountID
	} else {
		acc, err := s.lookupCustomer(ctx, customerID)
		if err != nil || acc == nil {
			return err
		}
		accountID = acc.AccountID
	}

	if err := s.accounts.AttachCustomer(ctx, accountID, customerID); err != nil {
		return err
	}
	_, err := s.apply(ctx, accountID, EventCheckoutCompleted, func(a *models.Account) {
		if customerID != "" {
			a.Stripe.CustomerID = customerID
		}
		if session.Subscription.ID != "" {
			a.Stripe.SubscriptionID = session.Subscription.ID
		}
		a.Plan = models.PlanPro
	})
	return err
}

func (s *billingService) subscriptionChanged(ctx context.Context, eventType string, obj subscriptionObject) error {
	acc, err := s.lookupCustomer(ctx, obj.Customer.ID)
	if err != nil || acc == nil {
		return err
	}
	_, err = s.apply(ctx, acc.AccountID, eventType, func(a *models.Account) {
		mirrorSubscription(a, obj.toSubscription())
		a.Plan = planForStatus(a.Stripe.Status)
	})
	return err
}

func (s *billingService) subscriptionDeleted(ctx context.Context, obj subscriptionObject) error {
	acc, err := s.lookupCustomer(ctx, obj.Customer.ID)
	if err != nil || acc == nil {
		return err
	}
	now := s.now()
	_, err = s.apply(ctx, acc.AccountID, EventSubscriptionDeleted, func(a *models.Account) {
		a.Stripe.Status = "canceled"
		a.Stripe.CancelAtPeriodEnd = false
		a.Stripe.CancelAt = now.UnixMilli()
		a.Plan = models.PlanFree
	})
	return err
}

// lookupCustomer returns (nil, nil) for customers without an account.
func (s *billingService) lookupCustomer(ctx context.Context, customerID string) (*models.Account, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, nil
	}
	acc, err := s.accounts.GetByCustomer(ctx, customerID)
	if errors.Is(err, db.ErrNotFound) {
		s.logger.Warn("Stripe customer has no account", zap.String("customerID", customerID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account by customer %s: %w", customerID, err)
	}
	return acc, nil
}

// apply changes the stored account atomically and announces the plan
// transition it caused.
func (s *billingService) apply(ctx context.Context, accountID, reason string, change func(a *models.Account)) (*models.Account, error) {
	var from models.Plan
	acc, err := s.accounts.Update(ctx, accountID, func(a *models.Account) error {
		from = a.EffectivePlan()
		change(a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.announce(ctx, acc, from, reason, s.now())
	return acc, nil
}

func planForStatus(status string) models.Plan {
	if proStatuses[status] {
		return models.PlanPro
	}
	return models.PlanFree
}

func secondsToMillis(sec int64) int64 {
	if sec <= 0 {
		return 0
	}
	return sec * 1000
}

// mirrorSubscription copies the provider subscription state onto the account.
func mirrorSubscription(acc *models.Account, sub *Subscription) {
	if sub.ID != "" {
		acc.Stripe.SubscriptionID = sub.ID
	}
	acc.Stripe.Status = sub.Status
	acc.Stripe.CurrentPeriodEnd = secondsToMillis(sub.CurrentPeriodEnd)
	acc.Stripe.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	cancelAt := sub.CancelAt
	if cancelAt == 0 && sub.CancelAtPeriodEnd {
		cancelAt = sub.CurrentPeriodEnd
	}
	acc.Stripe.CancelAt = secondsToMillis(cancelAt)
}

// expandableID decodes a Stripe reference that is either an id string or an
// expanded object with an "id" field.
type expandableID struct {
	ID string
}

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		e.ID = obj.ID
		return nil
	}
	var id *string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	if id != nil {
		e.ID = *id
	}
	return nil
}

// checkoutSessionObject is a minimal representation of a checkout.session event.
type checkoutSessionObject struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	Customer      expandableID      `json:"customer"`
	Subscription  expandableID      `json:"subscription"`
	Metadata      map[string]string `json:"metadata"`
}

// subscriptionObject is a minimal representation of a subscription event.
// Newer API versions report the period end on the items only.
type subscriptionObject struct {
	ID                string       `json:"id"`
	Customer          expandableID `json:"customer"`
	Status            string       `json:"status"`
	CurrentPeriodEnd  int64        `json:"current_period_end"`
	CancelAt          int64        `json:"cancel_at"`
	CancelAtPeriodEnd bool         `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (o subscriptionObject) toSubscription() *Subscription {
	end := o.CurrentPeriodEnd
	for _, item := range o.Items.Data {
		if end > 0 {
			break
		}
		end = item.CurrentPeriodEnd
	}
	return &Subscription{
		ID:                o.ID,
		CustomerID:        o.Customer.ID,
		Status:            o.Status,
		CurrentPeriodEnd:  end,
		CancelAt:          o.CancelAt,
		CancelAtPeriodEnd: o.CancelAtPeriodEnd,
	}
}
