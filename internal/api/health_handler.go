package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"promptstudio-backend-go/internal/config"
	"promptstudio-backend-go/internal/core"
)

// HealthHandler reports the running configuration to the frontend.
type HealthHandler struct {
	appConfig      *config.Config
	billingService core.BillingService
	bouncer        *core.Bouncer
}

func NewHealthHandler(appConfig *config.Config, bs core.BillingService, bouncer *core.Bouncer) *HealthHandler {
	return &HealthHandler{appConfig: appConfig, billingService: bs, bouncer: bouncer}
}

// Health handles GET /api/health
func (h *HealthHandler) Health(c *gin.Context) {
	cfg := h.appConfig
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Build:         cfg.BuildTag,
		BYOKOnly:      cfg.BYOKOnly,
		BillingStatus: h.billingService.Status(),
		Models:        ModelsInfo{BYOK: cfg.ModelBYOK, Pro: cfg.ModelPro, Boost: cfg.ModelBoost},
		Limits:        core.Limits{Free: cfg.FreeLimit, Pro: cfg.ProLimit, ProBoost: cfg.ProBoostLimit},
		Trial:         TrialInfo{Enabled: cfg.TrialEnabled, Limit24h: cfg.TrialLimit24h},
		Bouncer: BouncerInfo{
			Enabled:    h.bouncer.Enabled(),
			MaxPasses:  h.bouncer.MaxPasses(),
			StemsCount: len(h.bouncer.Stems()),
		},
		AllowedOrigins: cfg.AllowedOrigins(),
	})
}
