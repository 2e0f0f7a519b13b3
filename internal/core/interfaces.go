package core

import (
	"context"
	"encoding/json"

	"promptstudio-backend-go/internal/models"
)

// AccountService defines the account operations shared by all handlers.
type AccountService interface {
	// GetOrCreate returns the account, creating a FREE one on first sight.
	// created reports whether a new record was written.
	GetOrCreate(ctx context.Context, accountID, userID string) (acc *models.Account, created bool, err error)
	GetByCustomer(ctx context.Context, customerID string) (*models.Account, error)
	// Update applies fn to the stored account atomically and returns the new
	// state. Errors returned by fn abort the write and are passed through.
	Update(ctx context.Context, accountID string, fn func(acc *models.Account) error) (*models.Account, error)
	// AttachCustomer records the Stripe customer in the customer index. The
	// account field itself is set through Update.
	AttachCustomer(ctx context.Context, accountID, customerID string) error
	Summary(ctx context.Context, accountID, userID string) (*AccountSummary, error)
}

// GenerationService defines the text generation gateway.
type GenerationService interface {
	Generate(ctx context.Context, cmd GenerateCommand) (*GenerateResult, error)
	// TestKey makes a tiny request with a caller key and returns a sample.
	TestKey(ctx context.Context, apiKey string) (string, error)
}

// BillingService defines the operations that bridge accounts and Stripe.
type BillingService interface {
	Status() BillingStatus
	CreateCheckout(ctx context.Context, accountID, userID, returnBase string) (*CheckoutResult, error)
	SyncCheckoutSession(ctx context.Context, accountID, userID, sessionID string) (*SyncResult, error)
	CreatePortal(ctx context.Context, accountID, userID, returnBase string) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// AdminService defines operator actions.
type AdminService interface {
	SetPlan(ctx context.Context, adminKey, accountID, plan string) (models.Plan, error)
}

// CompletionRequest is one call to the text generation provider.
type CompletionRequest struct {
	APIKey      string
	Model       string
	Prompt      string
	Temperature float64
}

// TextGenerator is the generation provider port.
type TextGenerator interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CheckoutParams describes a subscription checkout to open.
type CheckoutParams struct {
	PriceID    string
	SuccessURL string
	CancelURL  string
	CustomerID string
	Metadata   map[string]string
}

// CheckoutSession is the part of a provider checkout session the bridge uses.
type CheckoutSession struct {
	ID            string
	URL           string
	Status        string // open, complete or expired
	PaymentStatus string // paid, unpaid or no_payment_required
	CustomerID    string
	Metadata      map[string]string
	Subscription  *Subscription
}

// Paid reports whether the session finished with a settled payment.
func (cs *CheckoutSession) Paid() bool {
	return cs.Status == "complete" && paidStatuses[cs.PaymentStatus]
}

// Subscription is the provider subscription state. Times are unix seconds.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	CurrentPeriodEnd  int64
	CancelAt          int64
	CancelAtPeriodEnd bool
}

// WebhookEvent is a verified provider event with its raw data object.
type WebhookEvent struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// PaymentGateway is the billing provider port.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	// GetCheckoutSession retrieves a session with customer and subscription expanded.
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// ConstructEvent verifies the signature header and decodes the event.
	ConstructEvent(payload []byte, signature string) (*WebhookEvent, error)
}

// PlanEvent announces a plan transition to downstream consumers.
type PlanEvent struct {
	AccountID  string      `json:"accountId"`
	CustomerID string      `json:"customerId,omitempty"`
	From       models.Plan `json:"from"`
	To         models.Plan `json:"to"`
	Reason     string      `json:"reason"`
	At         int64       `json:"at"`
}

// PlanEventPublisher delivers plan events. Failures never block billing.
type PlanEventPublisher interface {
	Publish(ctx context.Context, event PlanEvent) error
}
