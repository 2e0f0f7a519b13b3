package stripeapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	portalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"promptstudio-backend-go/internal/core"
)

// ErrWebhookSecretMissing is returned by ConstructEvent without a signing secret.
var ErrWebhookSecretMissing = errors.New("stripe webhook secret is not configured")

// Gateway implements core.PaymentGateway on top of stripe-go.
type Gateway struct {
	checkout      checkoutsession.Client
	portal        portalsession.Client
	webhookSecret string
}

var _ core.PaymentGateway = (*Gateway)(nil)

// NewGateway creates a Gateway for the live Stripe API.
func NewGateway(secretKey, webhookSecret string) *Gateway {
	return NewGatewayWithBackend(secretKey, webhookSecret, stripe.GetBackend(stripe.APIBackend))
}

// NewGatewayWithBackend creates a Gateway using a custom backend, for tests
// or a Stripe mock server.
func NewGatewayWithBackend(secretKey, webhookSecret string, backend stripe.Backend) *Gateway {
	return &Gateway{
		checkout:      checkoutsession.Client{B: backend, Key: secretKey},
		portal:        portalsession.Client{B: backend, Key: secretKey},
		webhookSecret: webhookSecret,
	}
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, p core.CheckoutParams) (*core.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:               stripe.String(p.SuccessURL),
		CancelURL:                stripe.String(p.CancelURL),
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionAuto)),
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := g.checkout.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session create: %w", err)
	}
	return toCheckoutSession(sess), nil
}

func (g *Gateway) GetCheckoutSession(ctx context.Context, sessionID string) (*core.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("subscription")
	params.AddExpand("customer")
	params.Context = ctx

	sess, err := g.checkout.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session get %s: %w", sessionID, err)
	}
	return toCheckoutSession(sess), nil
}

func (g *Gateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := g.portal.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe billing portal session create: %w", err)
	}
	return sess.URL, nil
}

func (g *Gateway) ConstructEvent(payload []byte, signature string) (*core.WebhookEvent, error) {
	if g.webhookSecret == "" {
		return nil, ErrWebhookSecretMissing
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, err
	}
	out := &core.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil {
		out.Object = event.Data.Raw
	}
	return out, nil
}

func toCheckoutSession(sess *stripe.CheckoutSession) *core.CheckoutSession {
	out := &core.CheckoutSession{
		ID:            sess.ID,
		URL:           sess.URL,
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
		Metadata:      sess.Metadata,
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sub := sess.Subscription; sub != nil && sub.ID != "" {
		out.Subscription = &core.Subscription{
			ID:                sub.ID,
			Status:            string(sub.Status),
			CurrentPeriodEnd:  sub.CurrentPeriodEnd,
			CancelAt:          sub.CancelAt,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}
		if sub.Customer != nil {
			out.Subscription.CustomerID = sub.Customer.ID
		}
		if out.CustomerID == "" {
			out.CustomerID = out.Subscription.CustomerID
		}
	}
	return out
}
