package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"promptstudio-backend-go/internal/db"
)

var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

var testLimits = Limits{Free: 25, Pro: 250, ProBoost: 50}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestRepo(t *testing.T) db.AccountRepository {
	t.Helper()
	repo, err := db.NewFileAccountRepository(filepath.Join(t.TempDir(), "gle-db.json"), time.Hour, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestAccounts(t *testing.T) (*accountService, db.AccountRepository) {
	t.Helper()
	repo := newTestRepo(t)
	svc := NewAccountService(repo, QuotaPolicy{Limits: testLimits}, "TEST", zap.NewNop()).(*accountService)
	svc.now = fixedClock(testNow)
	return svc, repo
}

// fakeGenerator returns queued outputs in order and records every request.
// When gate is set, each call signals entered and blocks until gate closes.
type fakeGenerator struct {
	mu       sync.Mutex
	outputs  []string
	err      error
	requests []CompletionRequest

	gate    chan struct{}
	entered chan struct{}
}

func (g *fakeGenerator) Complete(_ context.Context, req CompletionRequest) (string, error) {
	if g.gate != nil {
		g.entered <- struct{}{}
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return "", g.err
	}
	if len(g.outputs) == 0 {
		return "", errors.New("no output queued")
	}
	out := g.outputs[0]
	if len(g.outputs) > 1 {
		g.outputs = g.outputs[1:]
	}
	return out, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fakeGateway struct {
	checkoutParams CheckoutParams
	session        *CheckoutSession
	portalCustomer string
	portalReturn   string
	event          *WebhookEvent
	err            error
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, params CheckoutParams) (*CheckoutSession, error) {
	f.checkoutParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (f *fakeGateway) GetCheckoutSession(_ context.Context, sessionID string) (*CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeGateway) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	f.portalCustomer = customerID
	f.portalReturn = returnURL
	if f.err != nil {
		return "", f.err
	}
	return "https://billing.stripe.test/p_1", nil
}

func (f *fakeGateway) ConstructEvent(payload []byte, signature string) (*WebhookEvent, error) {
	if signature != "valid" {
		return nil, errors.New("bad signature")
	}
	return &WebhookEvent{ID: "evt_1", Type: f.event.Type, Object: payload}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []PlanEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, e PlanEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}
