package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"promptstudio-backend-go/internal/config"
	"promptstudio-backend-go/internal/core"
	"promptstudio-backend-go/internal/db"
	"promptstudio-backend-go/internal/metrics"
	"promptstudio-backend-go/internal/middleware"
	"promptstudio-backend-go/internal/stripeapi"
)

const testWebhookSecret = "whsec_test_secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGenerator struct {
	mu       sync.Mutex
	output   string
	err      error
	requests []core.CompletionRequest
}

func (g *fakeGenerator) Complete(_ context.Context, req core.CompletionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return "", g.err
	}
	return g.output, nil
}

// testGateway verifies webhooks with the real stripe-go code and fakes the
// calls that would reach the Stripe API.
type testGateway struct {
	*stripeapi.Gateway
	session        *core.CheckoutSession
	checkoutParams core.CheckoutParams
	portalReturn   string
}

func (g *testGateway) CreateCheckoutSession(_ context.Context, p core.CheckoutParams) (*core.CheckoutSession, error) {
	g.checkoutParams = p
	return &core.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (g *testGateway) GetCheckoutSession(_ context.Context, sessionID string) (*core.CheckoutSession, error) {
	if g.session == nil || g.session.ID != sessionID {
		return nil, errors.New("No such checkout.session: " + sessionID)
	}
	return g.session, nil
}

func (g *testGateway) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	g.portalReturn = returnURL
	return "https://billing.stripe.test/" + customerID, nil
}

type testServer struct {
	router    *gin.Engine
	config    *config.Config
	generator *fakeGenerator
	gateway   *testGateway
	accounts  core.AccountService
}

type serverOption func(cfg *config.Config)

func testConfig() *config.Config {
	return &config.Config{
		BuildTag:            "test-build",
		ModelBYOK:           "model-byok",
		ModelPro:            "model-pro",
		ModelBoost:          "model-boost",
		EngineBYOK:          "Engine BYOK",
		EnginePro:           "Engine Pro",
		EngineTrial:         "Engine Trial",
		EngineUltra:         "Engine Ultra",
		FreeLimit:           2,
		ProLimit:            250,
		ProBoostLimit:       50,
		TrialLimit24h:       3,
		AdminKey:            "admin-secret",
		StripeSecretKey:     "sk_test_123",
		StripePriceID:       "price_123",
		StripeWebhookSecret: testWebhookSecret,
		FrontendURL:         "https://studio.example.com",
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	cfg := testConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	logger := zap.NewNop()

	repo, err := db.NewFileAccountRepository(filepath.Join(t.TempDir(), "gle-db.json"), time.Hour, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	m := metrics.New()
	limits := core.Limits{Free: cfg.FreeLimit, Pro: cfg.ProLimit, ProBoost: cfg.ProBoostLimit}
	quota := core.QuotaPolicy{Limits: limits}
	accounts := core.NewAccountService(repo, quota, cfg.StripeMode(), logger)
	generator := &fakeGenerator{output: "Hook. Body. CTA."}
	bouncer := core.NewBouncer(cfg.BouncerEnabled, cfg.BouncerMaxPasses, core.DefaultBannedStems)

	generation := core.NewGenerationService(accounts, generator, bouncer, quota,
		core.TrialPolicy{Enabled: cfg.TrialEnabled, Limit: cfg.TrialLimit24h, BYOKOnly: cfg.BYOKOnly, HasServerKey: cfg.ServerOpenAIKey() != ""},
		core.GenerationConfig{
			BYOKOnly:    cfg.BYOKOnly,
			ServerKey:   cfg.ServerOpenAIKey(),
			ModelBYOK:   cfg.ModelBYOK,
			ModelPro:    cfg.ModelPro,
			ModelBoost:  cfg.ModelBoost,
			EngineBYOK:  cfg.EngineBYOK,
			EnginePro:   cfg.EnginePro,
			EngineTrial: cfg.EngineTrial,
			EngineUltra: cfg.EngineUltra,
		}, m, logger)

	var gw *testGateway
	var paymentGateway core.PaymentGateway
	if cfg.StripeEnabled() {
		gw = &testGateway{Gateway: stripeapi.NewGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)}
		paymentGateway = gw
	}
	billing := core.NewBillingService(accounts, paymentGateway, core.BillingConfig{
		PriceID:         cfg.StripePriceID,
		Mode:            cfg.StripeMode(),
		WebhooksEnabled: cfg.StripeWebhookSecret != "",
		Maintenance:     cfg.MaintenanceMode,
	}, nil, m, logger)
	admin := core.NewAdminService(accounts, cfg.AdminKey, nil, m, logger)

	router := gin.New()
	origins := middleware.NewOriginPolicy(cfg.AllowedOrigins())
	SetupRoutes(router, cfg, logger, origins, accounts, generation, billing, admin, bouncer, m)

	return &testServer{router: router, config: cfg, generator: generator, gateway: gw, accounts: accounts}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) webhook(t *testing.T, payload string) *httptest.ResponseRecorder {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return s.do(http.MethodPost, "/api/stripe-webhook", signed.Payload, map[string]string{
		"Stripe-Signature": signed.Header,
	})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func account(id string) map[string]string {
	return map[string]string{middleware.HeaderAccountID: id}
}

func withKey(id, key string) map[string]string {
	return map[string]string{middleware.HeaderAccountID: id, middleware.HeaderAPIKey: key}
}
