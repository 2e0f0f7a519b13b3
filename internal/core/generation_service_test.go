package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"promptstudio-backend-go/internal/db"
	"promptstudio-backend-go/internal/metrics"
	"promptstudio-backend-go/internal/models"
)

var testGenerationConfig = GenerationConfig{
	ServerKey:   "sk-server",
	ModelBYOK:   "model-byok",
	ModelPro:    "model-pro",
	ModelBoost:  "model-boost",
	EngineBYOK:  "Engine BYOK",
	EnginePro:   "Engine Pro",
	EngineTrial: "Engine Trial",
	EngineUltra: "Engine Ultra",
}

type generationFixture struct {
	svc      *generationService
	repo     db.AccountRepository
	gen      *fakeGenerator
	accounts *accountService
}

func newGenerationFixture(t *testing.T, cfg GenerationConfig, trial TrialPolicy, bouncer *Bouncer) *generationFixture {
	t.Helper()
	accounts, repo := newTestAccounts(t)
	gen := &fakeGenerator{outputs: []string{"Klarer Text."}}
	if bouncer == nil {
		bouncer = NewBouncer(false, 0, DefaultBannedStems)
	}
	svc := NewGenerationService(accounts, gen, bouncer, QuotaPolicy{Limits: testLimits}, trial, cfg, metrics.New(), zap.NewNop()).(*generationService)
	svc.now = fixedClock(testNow)
	return &generationFixture{svc: svc, repo: repo, gen: gen, accounts: accounts}
}

func (f *generationFixture) seed(t *testing.T, acc *models.Account) {
	t.Helper()
	require.NoError(t, f.repo.Create(context.Background(), acc))
}

func (f *generationFixture) stored(t *testing.T, id string) *models.Account {
	t.Helper()
	acc, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func TestGenerateBYOK(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)

	res, err := f.svc.Generate(context.Background(), GenerateCommand{
		AccountID: "acc_1",
		APIKey:    "sk-caller",
		Request:   &models.GenerateRequest{Topic: "Launch"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Klarer Text.", res.Output)
	assert.Equal(t, ModeBYOK, res.Mode)
	assert.Equal(t, "Engine BYOK", res.Engine)
	assert.Equal(t, models.PlanFree, res.Plan)
	assert.Equal(t, 1, res.Used)
	assert.Equal(t, 25, res.Limit)

	require.Equal(t, 1, f.gen.calls())
	req := f.gen.requests[0]
	assert.Equal(t, "sk-caller", req.APIKey)
	assert.Equal(t, "model-byok", req.Model)
	assert.Equal(t, 0.6, req.Temperature)

	assert.Equal(t, 1, f.stored(t, "acc_1").Usage.Used)
}

func TestGenerateQuotaReachedLeavesUsageUnchanged(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)
	f.seed(t, &models.Account{AccountID: "acc_1", Plan: models.PlanFree, Usage: models.Usage{MonthKey: "2026-03", Used: 25}})

	_, err := f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", APIKey: "sk-caller", Request: &models.GenerateRequest{}})

	var qe *QuotaError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, TagQuotaReached, qe.Tag)
	assert.Equal(t, 25, qe.Used)
	assert.Equal(t, 25, qe.Limit)
	assert.Equal(t, ModeBYOK, qe.Mode)
	assert.Equal(t, "Engine BYOK", qe.Engine)
	assert.Equal(t, 0, f.gen.calls(), "no provider call after a quota rejection")
	assert.Equal(t, 25, f.stored(t, "acc_1").Usage.Used)
}

func TestGenerateProServerBoost(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)
	f.seed(t, &models.Account{AccountID: "acc_1", Plan: models.PlanPro, Usage: models.Usage{MonthKey: "2026-03"}})

	res, err := f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", Request: &models.GenerateRequest{Boost: true}})
	require.NoError(t, err)
	assert.Equal(t, ModePro, res.Mode)
	assert.Equal(t, "Engine Ultra", res.Engine)
	assert.Equal(t, 1, res.BoostUsed)
	assert.Equal(t, 250, res.Limit)
	assert.Equal(t, "sk-server", f.gen.requests[0].APIKey)
	assert.Equal(t, "model-boost", f.gen.requests[0].Model)
}

func TestGenerateBoostRequiresPro(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)

	_, err := f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", APIKey: "sk-caller", Request: &models.GenerateRequest{Boost: true}})
	var qe *QuotaError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, TagBoostRequiresPro, qe.Tag)
	assert.Equal(t, "Engine Ultra", qe.Engine)
}

func TestGenerateTrial(t *testing.T) {
	trial := TrialPolicy{Enabled: true, Limit: 1, HasServerKey: true}
	f := newGenerationFixture(t, testGenerationConfig, trial, nil)

	res, err := f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", Request: &models.GenerateRequest{}})
	require.NoError(t, err)
	assert.Equal(t, ModeTrial, res.Mode)
	assert.Equal(t, "Engine Trial", res.Engine)
	assert.Equal(t, "model-pro", f.gen.requests[0].Model)
	assert.Len(t, f.stored(t, "acc_1").Trial.Events, 1)

	_, err = f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", Request: &models.GenerateRequest{}})
	var mk *MissingKeyError
	require.True(t, errors.As(err, &mk))
	assert.Equal(t, TrialLimitReached, mk.Trial.Reason)
	assert.Equal(t, "Engine BYOK", mk.Engine)
}

func TestGenerateMissingKey(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)

	_, err := f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", Request: &models.GenerateRequest{}})
	var mk *MissingKeyError
	require.True(t, errors.As(err, &mk))
	assert.Equal(t, TrialDisabled, mk.Trial.Reason)
	assert.Equal(t, 0, f.gen.calls())
}

func TestGenerateBYOKOnly(t *testing.T) {
	cfg := testGenerationConfig
	cfg.BYOKOnly = true
	f := newGenerationFixture(t, cfg, TrialPolicy{}, nil)
	f.seed(t, &models.Account{AccountID: "acc_1", Plan: models.PlanPro})

	_, err := f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", Request: &models.GenerateRequest{}})
	assert.ErrorIs(t, err, ErrBYOKRequired)
}

func TestGenerateHoneypot(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)

	res, err := f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", APIKey: "sk", Request: &models.GenerateRequest{HP: "bot"}})
	require.NoError(t, err)
	assert.True(t, res.Honeypot)
	assert.Empty(t, res.Output)
	assert.Equal(t, 0, f.gen.calls())
	assert.Equal(t, 0, f.stored(t, "acc_1").Usage.Used)
}

func TestGenerateUpstreamFailureDoesNotCount(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)
	f.gen.err = errors.New("boom")

	_, err := f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", APIKey: "sk", Request: &models.GenerateRequest{}})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, 0, f.stored(t, "acc_1").Usage.Used)
}

func TestGenerateBouncerRewriteAndViolation(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, NewBouncer(true, 1, DefaultBannedStems))
	f.gen.outputs = []string{"Dein Vorteil heute.", "Klarer Text."}

	res, err := f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", APIKey: "sk", Request: &models.GenerateRequest{}})
	require.NoError(t, err)
	assert.Equal(t, "Klarer Text.", res.Output)
	require.Equal(t, 2, f.gen.calls())
	assert.Equal(t, 0.0, f.gen.requests[1].Temperature)
	assert.Contains(t, f.gen.requests[1].Prompt, "Treffer im letzten Output waren: vorteil.")

	f.gen.outputs = []string{"Dein Vorteil heute."}
	_, err = f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", APIKey: "sk", Request: &models.GenerateRequest{}})
	var pe *PolicyError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, []string{"vorteil"}, pe.Hits)
	assert.Equal(t, ModeBYOK, pe.Mode)
	assert.Equal(t, 1, f.stored(t, "acc_1").Usage.Used, "blocked output is not counted")
}

func TestTestKey(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)
	f.gen.outputs = []string{"pong pong pong pong pong pong pong pong pong pong"}

	sample, err := f.svc.TestKey(context.Background(), "sk-caller")
	require.NoError(t, err)
	assert.Len(t, []rune(sample), 40)
	assert.Equal(t, "model-byok", f.gen.requests[0].Model)
	assert.Equal(t, "ping", f.gen.requests[0].Prompt)

	_, err = f.svc.TestKey(context.Background(), " ")
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	f.gen.err = errors.New("invalid api key")
	_, err = f.svc.TestKey(context.Background(), "sk-bad")
	assert.ErrorIs(t, err, ErrKeyRejected)
	assert.Contains(t, err.Error(), "invalid api key")
}

// runGated starts n generations that all block inside the provider, runs
// during while they wait and then releases them.
func (f *generationFixture) runGated(t *testing.T, n int, cmd GenerateCommand, during func()) []error {
	t.Helper()
	f.gen.gate = make(chan struct{})
	f.gen.entered = make(chan struct{}, n)

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Generate(context.Background(), cmd)
		}()
	}
	for i := 0; i < n; i++ {
		<-f.gen.entered
	}
	if during != nil {
		during()
	}
	close(f.gen.gate)
	wg.Wait()
	return errs
}

func TestGenerateConcurrentRequestsEachCount(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)
	f.seed(t, &models.Account{AccountID: "acc_1", Plan: models.PlanFree, Usage: models.Usage{MonthKey: "2026-03"}})

	errs := f.runGated(t, 5, GenerateCommand{AccountID: "acc_1", APIKey: "sk", Request: &models.GenerateRequest{}}, nil)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 5, f.stored(t, "acc_1").Usage.Used)
}

func TestGenerateConcurrentRequestsCannotExceedQuota(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)
	f.seed(t, &models.Account{AccountID: "acc_1", Plan: models.PlanFree, Usage: models.Usage{MonthKey: "2026-03", Used: 23}})

	errs := f.runGated(t, 5, GenerateCommand{AccountID: "acc_1", APIKey: "sk", Request: &models.GenerateRequest{}}, nil)
	var ok, rejected int
	for _, err := range errs {
		var qe *QuotaError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &qe):
			assert.Equal(t, TagQuotaReached, qe.Tag)
			assert.Equal(t, ModeBYOK, qe.Mode)
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 3, rejected)
	assert.Equal(t, 25, f.stored(t, "acc_1").Usage.Used)
}

func TestGenerateKeepsPlanChangedWhileRunning(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)
	f.seed(t, &models.Account{AccountID: "acc_1", Plan: models.PlanFree, Usage: models.Usage{MonthKey: "2026-03"}})

	errs := f.runGated(t, 1, GenerateCommand{AccountID: "acc_1", APIKey: "sk", Request: &models.GenerateRequest{}}, func() {
		require.NoError(t, f.accounts.AttachCustomer(context.Background(), "acc_1", "cus_1"))
		_, err := f.accounts.Update(context.Background(), "acc_1", func(acc *models.Account) error {
			acc.Plan = models.PlanPro
			acc.Stripe.CustomerID = "cus_1"
			return nil
		})
		require.NoError(t, err)
	})
	require.NoError(t, errs[0])

	acc := f.stored(t, "acc_1")
	assert.Equal(t, models.PlanPro, acc.Plan)
	assert.Equal(t, "cus_1", acc.Stripe.CustomerID)
	assert.Equal(t, 1, acc.Usage.Used)
}

func TestGenerateNoTextIsItsOwnFailure(t *testing.T) {
	f := newGenerationFixture(t, testGenerationConfig, TrialPolicy{}, nil)
	f.gen.err = ErrNoText

	_, err := f.svc.Generate(context.Background(), GenerateCommand{AccountID: "acc_1", APIKey: "sk", Request: &models.GenerateRequest{}})
	assert.ErrorIs(t, err, ErrNoText)
	assert.Equal(t, TagNoText, outcomeOf(err))
	assert.Equal(t, 0, f.stored(t, "acc_1").Usage.Used)
}
