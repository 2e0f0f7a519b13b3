package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error tags are the machine readable "error" values returned to the frontend.
const (
	TagMissingAccountID    = "missing_account_id"
	TagMissingAPIKey       = "missing_api_key"
	TagMissingSessionID    = "missing_session_id"
	TagMissingCustomerID   = "missing_customer_id"
	TagBYOKRequired        = "byok_required"
	TagQuotaReached        = "quota_reached"
	TagBoostRequiresPro    = "boost_requires_pro"
	TagBoostQuotaReached   = "boost_quota_reached"
	TagContentPolicy       = "content_policy_violation"
	TagGenerateFailed      = "generate_failed"
	TagStripeNotConfigured = "stripe_not_configured"
	TagMaintenance         = "maintenance"
	TagCheckoutFailed      = "checkout_failed"
	TagSyncFailed          = "sync_failed"
	TagPortalFailed        = "portal_failed"
	TagInvalidSignature    = "invalid_signature"
	TagWebhookError        = "webhook_error"
	TagAdminNotConfigured  = "admin_not_configured"
	TagUnauthorized        = "unauthorized"
	TagBadPlan             = "bad_plan"
	TagBadKey              = "bad_key"
	TagSessionMismatch     = "session_mismatch"
	TagCheckoutIncomplete  = "checkout_incomplete"
	TagNoText              = "no_text"
)

var (
	ErrMissingAccountID    = errors.New("missing account id")
	ErrMissingSessionID    = errors.New("missing checkout session id")
	ErrMissingCustomerID   = errors.New("account has no stripe customer id")
	ErrSessionMismatch     = errors.New("checkout session belongs to another account")
	ErrCheckoutIncomplete  = errors.New("checkout session is not paid")
	ErrBYOKRequired        = errors.New("BYOK_ONLY is enabled, a caller API key is required")
	ErrMissingAPIKey       = errors.New("missing api key")
	ErrKeyRejected         = errors.New("api key test failed")
	ErrStripeNotConfigured = errors.New("stripe is not configured")
	ErrMaintenance         = errors.New("billing disabled during maintenance")
	ErrStripeClient        = errors.New("stripe client operation failed")
	ErrWebhookSignature    = errors.New("stripe webhook signature verification failed")
	ErrWebhookProcessing   = errors.New("stripe webhook processing failed")
	ErrUpstream            = errors.New("text generation provider failed")
	ErrNoText              = errors.New("text generation provider returned no text")
	ErrAdminNotConfigured  = errors.New("admin key is not configured")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrBadPlan             = errors.New("plan must be FREE or PRO")
)

// QuotaError reports a rejected quota check. It carries the counters the
// frontend shows next to the upgrade prompt.
type QuotaError struct {
	Tag        string
	Used       int
	Limit      int
	BoostUsed  int
	BoostLimit int
	RenewAt    int64
	Mode       string
	Engine     string
}

func (e *QuotaError) Error() string {
	switch e.Tag {
	case TagBoostRequiresPro:
		return "boost requires the PRO plan"
	case TagBoostQuotaReached:
		return fmt.Sprintf("boost quota reached (%d/%d)", e.BoostUsed, e.BoostLimit)
	}
	return fmt.Sprintf("monthly quota reached (%d/%d)", e.Used, e.Limit)
}

// MissingKeyError is returned when no caller key is given and neither the
// PRO server key nor a trial generation can be used.
type MissingKeyError struct {
	Trial  TrialStatus
	Mode   string
	Engine string
}

func (e *MissingKeyError) Error() string {
	return "no API key available: start checkout (PRO) or set your OpenAI API key"
}

// PolicyError is returned when generated text still contains banned stems
// after all rewrite passes.
type PolicyError struct {
	Hits   []string
	Passes int
	Mode   string
	Engine string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("content policy violation after %d rewrite pass(es): %s", e.Passes, strings.Join(e.Hits, ", "))
}
