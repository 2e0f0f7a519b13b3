package stripeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"promptstudio-backend-go/internal/core"
)

const testWebhookSecret = "whsec_test_secret"

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewGatewayWithBackend("sk_test_123", testWebhookSecret, backend)
}

func TestCreateCheckoutSession(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "subscription", r.PostForm.Get("mode"))
		assert.Equal(t, "price_123", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "1", r.PostForm.Get("line_items[0][quantity]"))
		assert.Equal(t, "true", r.PostForm.Get("allow_promotion_codes"))
		assert.Equal(t, "acc_1", r.PostForm.Get("metadata[accountId]"))
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_test_1"}`))
	})

	sess, err := g.CreateCheckoutSession(context.Background(), core.CheckoutParams{
		PriceID:    "price_123",
		SuccessURL: "https://studio.example/checkout-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://studio.example/checkout-cancel",
		CustomerID: "cus_1",
		Metadata:   map[string]string{"accountId": "acc_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", sess.URL)
}

func TestGetCheckoutSessionExpanded(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
		assert.Contains(t, r.URL.RawQuery, "subscription")
		assert.Contains(t, r.URL.RawQuery, "customer")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cs_1",
			"object": "checkout.session",
			"status": "complete",
			"payment_status": "paid",
			"metadata": {"accountId": "acc_1"},
			"customer": {"id": "cus_1", "object": "customer"},
			"subscription": {
				"id": "sub_1",
				"object": "subscription",
				"status": "active",
				"current_period_end": 1780000000,
				"cancel_at_period_end": false,
				"customer": "cus_1"
			}
		}`))
	})

	sess, err := g.GetCheckoutSession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", sess.CustomerID)
	assert.Equal(t, "acc_1", sess.Metadata["accountId"])
	assert.Equal(t, "complete", sess.Status)
	assert.Equal(t, "paid", sess.PaymentStatus)
	assert.True(t, sess.Paid())
	require.NotNil(t, sess.Subscription)
	assert.Equal(t, core.Subscription{
		ID:               "sub_1",
		CustomerID:       "cus_1",
		Status:           "active",
		CurrentPeriodEnd: 1780000000,
	}, *sess.Subscription)
}

func TestCreatePortalSessionError(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such customer: 'cus_x'"}}`))
	})

	_, err := g.CreatePortalSession(context.Background(), "cus_x", "https://studio.example/?from=billing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such customer")
}

func TestConstructEvent(t *testing.T) {
	g := NewGateway("sk_test_123", testWebhookSecret)
	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.subscription.updated",
		"data":{"object":{"id":"sub_1","customer":"cus_1","status":"active"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})

	event, err := g.ConstructEvent(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "customer.subscription.updated", event.Type)
	assert.JSONEq(t, `{"id":"sub_1","customer":"cus_1","status":"active"}`, string(event.Object))

	_, err = g.ConstructEvent(payload, "t=1,v1=deadbeef")
	assert.Error(t, err)

	_, err = NewGateway("sk_test_123", "").ConstructEvent(signed.Payload, signed.Header)
	assert.ErrorIs(t, err, ErrWebhookSecretMissing)
}
