package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"promptstudio-backend-go/internal/metrics"
	"promptstudio-backend-go/internal/models"
)

// Generation modes.
const (
	ModeBYOK  = "BYOK"
	ModePro   = "PRO_SERVER"
	ModeTrial = "TRIAL_SERVER"
)

const (
	firstPassTemperature = 0.6
	keyTestSampleLength  = 40
)

// GenerationConfig selects models and public engine labels. Model names are
// internal and never returned to clients.
type GenerationConfig struct {
	BYOKOnly  bool
	ServerKey string

	ModelBYOK  string
	ModelPro   string
	ModelBoost string

	EngineBYOK  string
	EnginePro   string
	EngineTrial string
	EngineUltra string
}

// GenerateCommand is one /api/generate call.
type GenerateCommand struct {
	AccountID string
	UserID    string
	APIKey    string
	Request   *models.GenerateRequest
}

// GenerateResult is returned on success. Engine is the public label.
type GenerateResult struct {
	Output     string      `json:"output"`
	Mode       string      `json:"mode,omitempty"`
	Engine     string      `json:"model,omitempty"`
	Plan       models.Plan `json:"plan"`
	Used       int         `json:"used"`
	Limit      int         `json:"limit"`
	BoostUsed  int         `json:"boostUsed"`
	BoostLimit int         `json:"boostLimit"`
	RenewAt    int64       `json:"renewAt"`
	CancelAt   int64       `json:"cancelAt"`
	// Honeypot is set when the request was silently dropped.
	Honeypot bool `json:"-"`
}

type generationService struct {
	accounts  AccountService
	generator TextGenerator
	bouncer   *Bouncer
	quota     QuotaPolicy
	trial     TrialPolicy
	cfg       GenerationConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewGenerationService creates a GenerationService.
func NewGenerationService(
	accounts AccountService,
	generator TextGenerator,
	bouncer *Bouncer,
	quota QuotaPolicy,
	trial TrialPolicy,
	cfg GenerationConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) GenerationService {
	return &generationService{
		accounts:  accounts,
		generator: generator,
		bouncer:   bouncer,
		quota:     quota,
		trial:     trial,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *generationService) engineLabel(mode string, boost, callerKey bool) string {
	switch {
	case boost:
		return s.cfg.EngineUltra
	case callerKey:
		return s.cfg.EngineBYOK
	case mode == ModeTrial:
		return s.cfg.EngineTrial
	case mode == ModePro:
		return s.cfg.EnginePro
	}
	return s.cfg.EngineBYOK
}

func (s *generationService) Generate(ctx context.Context, cmd GenerateCommand) (*GenerateResult, error) {
	start := s.now()
	mode, result, err := s.generate(ctx, cmd)
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
	}
	s.metrics.RecordGeneration(mode, outcome, s.now().Sub(start))
	return result, err
}

func outcomeOf(err error) string {
	var qe *QuotaError
	var pe *PolicyError
	var mk *MissingKeyError
	switch {
	case errors.As(err, &qe):
		return qe.Tag
	case errors.As(err, &pe):
		return TagContentPolicy
	case errors.As(err, &mk):
		return TagMissingAPIKey
	case errors.Is(err, ErrBYOKRequired):
		return TagBYOKRequired
	case errors.Is(err, ErrNoText):
		return TagNoText
	case errors.Is(err, ErrUpstream):
		return TagGenerateFailed
	}
	return "error"
}

func (s *generationService) generate(ctx context.Context, cmd GenerateCommand) (string, *GenerateResult, error) {
	acc, _, err := s.accounts.GetOrCreate(ctx, cmd.AccountID, cmd.UserID)
	if err != nil {
		return "", nil, err
	}
	req := cmd.Request
	if req == nil {
		req = &models.GenerateRequest{}
	}
	if strings.TrimSpace(req.HP) != "" {
		return "", &GenerateResult{Plan: acc.EffectivePlan(), Honeypot: true}, nil
	}

	in := NormalizeInputs(req)
	now := s.now()
	EnsureMonthlyBucket(acc, now)

	callerKey := strings.TrimSpace(cmd.APIKey)
	if s.cfg.BYOKOnly && callerKey == "" {
		return ModeBYOK, nil, ErrBYOKRequired
	}

	mode := ModeBYOK
	apiKey := callerKey
	var model string
	switch {
	case in.Boost:
		model = s.cfg.ModelBoost
	case acc.IsPro():
		model = s.cfg.ModelPro
	default:
		model = s.cfg.ModelBYOK
	}

	if callerKey == "" {
		if acc.IsPro() && s.cfg.ServerKey != "" {
			mode = ModePro
			apiKey = s.cfg.ServerKey
			if !in.Boost {
				model = s.cfg.ModelPro
			}
		} else {
			tr := s.trial.Allowed(acc, now)
			if !tr.OK {
				return ModeBYOK, nil, &MissingKeyError{Trial: tr, Mode: ModeBYOK, Engine: s.cfg.EngineBYOK}
			}
			mode = ModeTrial
			apiKey = s.cfg.ServerKey
			model = s.cfg.ModelPro
		}
	}
	engine := s.engineLabel(mode, in.Boost, callerKey != "")

	if err := s.quota.Check(acc, in.Boost, now); err != nil {
		return mode, nil, s.quotaRejected(err, mode, engine)
	}

	output, passes, err := s.produce(ctx, in, apiKey, model)
	s.metrics.RecordBouncerPasses(passes)
	if err != nil {
		var pe *PolicyError
		if errors.As(err, &pe) {
			pe.Mode = mode
			pe.Engine = engine
			s.logger.Warn("Generation blocked by content filter",
				zap.String("accountID", acc.AccountID), zap.Strings("hits", pe.Hits), zap.Int("passes", passes))
		}
		return mode, nil, err
	}

	recorded, err := s.record(ctx, acc.AccountID, mode, in.Boost, now)
	var qe *QuotaError
	var mk *MissingKeyError
	switch {
	case errors.As(err, &qe):
		return mode, nil, s.quotaRejected(err, mode, engine)
	case errors.As(err, &mk):
		return mode, nil, err
	case err != nil:
		// Output is returned even if usage could not be stored.
		s.logger.Error("Failed to record usage", zap.String("accountID", acc.AccountID), zap.Error(err))
		MarkUsage(acc, in.Boost, now)
		if mode == ModeTrial {
			MarkTrial(acc, now)
		}
		recorded = acc
	}

	s.logger.Info("Generation completed",
		zap.String("accountID", recorded.AccountID),
		zap.String("mode", mode),
		zap.Bool("boost", in.Boost),
		zap.Int("rewritePasses", passes),
	)

	return mode, &GenerateResult{
		Output:     output,
		Mode:       mode,
		Engine:     engine,
		Plan:       recorded.EffectivePlan(),
		Used:       recorded.Usage.Used,
		Limit:      s.quota.LimitFor(recorded),
		BoostUsed:  recorded.Usage.BoostUsed,
		BoostLimit: s.quota.Limits.ProBoost,
		RenewAt:    RenewAt(recorded, now),
		CancelAt:   CancelAt(recorded),
	}, nil
}

// record counts a finished generation on the stored account. Quota and trial
// are checked again there since parallel requests for the same account may
// have used them up while the provider was running.
func (s *generationService) record(ctx context.Context, accountID, mode string, boost bool, now time.Time) (*models.Account, error) {
	return s.accounts.Update(ctx, accountID, func(a *models.Account) error {
		EnsureMonthlyBucket(a, now)
		if err := s.quota.Check(a, boost, now); err != nil {
			return err
		}
		if mode == ModeTrial {
			if tr := s.trial.Allowed(a, now); !tr.OK {
				return &MissingKeyError{Trial: tr, Mode: ModeBYOK, Engine: s.cfg.EngineBYOK}
			}
			MarkTrial(a, now)
		}
		MarkUsage(a, boost, now)
		return nil
	})
}

func (s *generationService) quotaRejected(err error, mode, engine string) error {
	var qe *QuotaError
	if errors.As(err, &qe) {
		qe.Mode = mode
		qe.Engine = engine
		s.metrics.RecordQuotaRejection(qe.Tag)
	}
	return err
}

// produce runs the first pass, the rewrite loop and the final cleanup.
func (s *generationService) produce(ctx context.Context, in PromptInput, apiKey, model string) (string, int, error) {
	output, err := s.generator.Complete(ctx, CompletionRequest{
		APIKey:      apiKey,
		Model:       model,
		Prompt:      BuildMasterPrompt(in),
		Temperature: firstPassTemperature,
	})
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	rewrite := func(ctx context.Context, previous string, hits []string) (string, error) {
		out, err := s.generator.Complete(ctx, CompletionRequest{
			APIKey:      apiKey,
			Model:       model,
			Prompt:      BuildRepairPrompt(in, previous, s.bouncer.Stems(), hits),
			Temperature: 0,
		})
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		return out, nil
	}
	return s.bouncer.Review(ctx, output, in.Extra, rewrite)
}

func (s *generationService) TestKey(ctx context.Context, apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}
	text, err := s.generator.Complete(ctx, CompletionRequest{
		APIKey:      apiKey,
		Model:       s.cfg.ModelBYOK,
		Prompt:      "ping",
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrKeyRejected, err)
	}
	if r := []rune(text); len(r) > keyTestSampleLength {
		text = string(r[:keyTestSampleLength])
	}
	return text, nil
}
