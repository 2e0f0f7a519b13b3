package api

import (
	"promptstudio-backend-go/internal/core"
	"promptstudio-backend-go/internal/models"
)

// Tags used only by the HTTP layer.
const (
	tagInvalidRequest = "invalid_request"
	tagMeFailed       = "me_failed"
	tagAdminFailed    = "admin_failed"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// QuotaErrorResponse is returned when the monthly or boost quota rejects a call.
type QuotaErrorResponse struct {
	ErrorResponse
	Used       int    `json:"used"`
	Limit      int    `json:"limit"`
	BoostUsed  int    `json:"boostUsed"`
	BoostLimit int    `json:"boostLimit"`
	RenewAt    int64  `json:"renewAt"`
	Mode       string `json:"mode"`
	Model      string `json:"model"`
}

// MissingKeyResponse tells the frontend why no server key could be used.
type MissingKeyResponse struct {
	ErrorResponse
	Trial core.TrialStatus `json:"trial"`
	Mode  string           `json:"mode"`
	Model string           `json:"model"`
}

// PolicyErrorResponse lists the stems that survived all rewrite passes.
type PolicyErrorResponse struct {
	ErrorResponse
	Hits  []string `json:"hits"`
	Mode  string   `json:"mode"`
	Model string   `json:"model"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Build    string `json:"build"`
	BYOKOnly bool   `json:"byokOnly"`
	core.BillingStatus
	Models         ModelsInfo  `json:"models"`
	Limits         core.Limits `json:"limits"`
	Trial          TrialInfo   `json:"trial"`
	Bouncer        BouncerInfo `json:"bouncer"`
	AllowedOrigins []string    `json:"allowedOrigins"`
}

type ModelsInfo struct {
	BYOK  string `json:"byok"`
	Pro   string `json:"pro"`
	Boost string `json:"boost"`
}

type TrialInfo struct {
	Enabled  bool `json:"enabled"`
	Limit24h int  `json:"limit24h"`
}

type BouncerInfo struct {
	Enabled    bool `json:"enabled"`
	MaxPasses  int  `json:"maxPasses"`
	StemsCount int  `json:"stemsCount"`
}

// MeResponse is the body of GET /api/me.
type MeResponse struct {
	OK bool `json:"ok"`
	*core.AccountSummary
}

// GenerateResponse is the body of a successful POST /api/generate.
type GenerateResponse struct {
	OK bool `json:"ok"`
	*core.GenerateResult
}

// HoneypotResponse looks like an empty generation.
type HoneypotResponse struct {
	OK     bool        `json:"ok"`
	Output string      `json:"output"`
	Plan   models.Plan `json:"plan"`
}

type TestKeyResponse struct {
	OK     bool   `json:"ok"`
	Sample string `json:"sample"`
}

type CheckoutResponse struct {
	OK bool `json:"ok"`
	*core.CheckoutResult
}

type SyncResponse struct {
	OK bool `json:"ok"`
	*core.SyncResult
}

type PortalResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

type SetPlanResponse struct {
	OK        bool        `json:"ok"`
	AccountID string      `json:"accountId"`
	Plan      models.Plan `json:"plan"`
}

// OKResponse acknowledges calls with nothing else to report.
type OKResponse struct {
	OK bool `json:"ok"`
}
