package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"promptstudio-backend-go/internal/config"
	"promptstudio-backend-go/internal/core"
	"promptstudio-backend-go/internal/middleware"
	"promptstudio-backend-go/internal/models"
)

const webhookBodyLimit = 1 << 20

// BillingHandler handles billing-related API endpoints.
type BillingHandler struct {
	billingService core.BillingService
	origins        *middleware.OriginPolicy
	returnFallback string
	logger         *zap.Logger
}

// NewBillingHandler creates a new BillingHandler. Redirects go back to the
// calling origin when it is allowed, otherwise to the configured return URL.
func NewBillingHandler(bs core.BillingService, origins *middleware.OriginPolicy, appConfig *config.Config, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{
		billingService: bs,
		origins:        origins,
		returnFallback: appConfig.StripeReturnBase(),
		logger:         logger,
	}
}

// CreateCheckoutSession handles POST /api/create-checkout-session
func (h *BillingHandler) CreateCheckoutSession(c *gin.Context) {
	result, err := h.billingService.CreateCheckout(
		c.Request.Context(),
		middleware.AccountID(c),
		middleware.UserID(c),
		h.origins.ReturnBase(c, h.returnFallback),
	)
	if err != nil {
		mapBillingError(c, h.logger, err, core.TagCheckoutFailed)
		return
	}
	c.JSON(http.StatusOK, CheckoutResponse{OK: true, CheckoutResult: result})
}

// SyncCheckoutSession handles POST /api/sync-checkout-session
func (h *BillingHandler) SyncCheckoutSession(c *gin.Context) {
	var req models.SyncCheckoutRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		abortWithError(c, http.StatusBadRequest, tagInvalidRequest, err.Error())
		return
	}

	result, err := h.billingService.SyncCheckoutSession(c.Request.Context(), middleware.AccountID(c), middleware.UserID(c), req.SessionID)
	if err != nil {
		mapBillingError(c, h.logger, err, core.TagSyncFailed)
		return
	}
	c.JSON(http.StatusOK, SyncResponse{OK: true, SyncResult: result})
}

// CreatePortalSession handles POST /api/billing-portal and its alias
// /api/create-portal-session.
func (h *BillingHandler) CreatePortalSession(c *gin.Context) {
	url, err := h.billingService.CreatePortal(
		c.Request.Context(),
		middleware.AccountID(c),
		middleware.UserID(c),
		h.origins.ReturnBase(c, h.returnFallback),
	)
	if err != nil {
		mapBillingError(c, h.logger, err, core.TagPortalFailed)
		return
	}
	c.JSON(http.StatusOK, PortalResponse{OK: true, URL: url})
}

// HandleStripeWebhook handles POST /api/stripe-webhook. Stripe authenticates
// the call with the Stripe-Signature header over the raw body.
func (h *BillingHandler) HandleStripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Warn("Stripe webhook: failed to read body", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, tagInvalidRequest, "failed to read request body")
		return
	}

	if err := h.billingService.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		mapWebhookError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, OKResponse{OK: true})
}
