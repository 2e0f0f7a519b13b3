package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"promptstudio-backend-go/internal/core"
)

const maintenanceRetryAfter = "3600"

func abortWithError(c *gin.Context, status int, tag, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{OK: false, Error: tag, Message: message})
}

// bindOptionalJSON binds a JSON body. An empty body leaves obj untouched.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// mapGenerateError maps errors from core.GenerationService to HTTP responses.
func mapGenerateError(c *gin.Context, logger *zap.Logger, err error) {
	var quotaErr *core.QuotaError
	var keyErr *core.MissingKeyError
	var policyErr *core.PolicyError

	switch {
	case errors.As(err, &quotaErr):
		status := http.StatusTooManyRequests
		if quotaErr.Tag == core.TagBoostRequiresPro {
			status = http.StatusPaymentRequired
		}
		c.Header("X-Gle-Engine", quotaErr.Engine)
		c.AbortWithStatusJSON(status, QuotaErrorResponse{
			ErrorResponse: ErrorResponse{Error: quotaErr.Tag, Message: quotaErr.Error()},
			Used:          quotaErr.Used,
			Limit:         quotaErr.Limit,
			BoostUsed:     quotaErr.BoostUsed,
			BoostLimit:    quotaErr.BoostLimit,
			RenewAt:       quotaErr.RenewAt,
			Mode:          quotaErr.Mode,
			Model:         quotaErr.Engine,
		})
	case errors.As(err, &keyErr):
		c.Header("X-Gle-Engine", keyErr.Engine)
		c.AbortWithStatusJSON(http.StatusBadRequest, MissingKeyResponse{
			ErrorResponse: ErrorResponse{Error: core.TagMissingAPIKey, Message: "No BYOK key set. Start checkout (PRO) or set your OpenAI API key."},
			Trial:         keyErr.Trial,
			Mode:          keyErr.Mode,
			Model:         keyErr.Engine,
		})
	case errors.As(err, &policyErr):
		c.Header("X-Gle-Engine", policyErr.Engine)
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, PolicyErrorResponse{
			ErrorResponse: ErrorResponse{Error: core.TagContentPolicy, Message: policyErr.Error()},
			Hits:          policyErr.Hits,
			Mode:          policyErr.Mode,
			Model:         policyErr.Engine,
		})
	case errors.Is(err, core.ErrMissingAccountID):
		abortWithError(c, http.StatusBadRequest, core.TagMissingAccountID, "")
	case errors.Is(err, core.ErrBYOKRequired):
		abortWithError(c, http.StatusBadRequest, core.TagBYOKRequired, "BYOK_ONLY is enabled. Please provide x-gle-api-key.")
	case errors.Is(err, core.ErrNoText):
		logger.Warn("Generation provider returned no text", zap.Error(err))
		abortWithError(c, http.StatusBadGateway, core.TagNoText, "No text returned. Please try again.")
	case errors.Is(err, core.ErrUpstream):
		logger.Error("Generation provider failed", zap.Error(err))
		abortWithError(c, http.StatusBadGateway, core.TagGenerateFailed, err.Error())
	default:
		logger.Error("Internal Server Error in generate", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, core.TagGenerateFailed, err.Error())
	}
}

// mapBillingError maps errors from core.BillingService. failTag names the
// operation that failed for errors without a dedicated tag.
func mapBillingError(c *gin.Context, logger *zap.Logger, err error, failTag string) {
	switch {
	case errors.Is(err, core.ErrMaintenance):
		c.Header("Retry-After", maintenanceRetryAfter)
		abortWithError(c, http.StatusServiceUnavailable, core.TagMaintenance, "Billing disabled during maintenance.")
	case errors.Is(err, core.ErrStripeNotConfigured):
		abortWithError(c, http.StatusInternalServerError, core.TagStripeNotConfigured, "")
	case errors.Is(err, core.ErrMissingAccountID):
		abortWithError(c, http.StatusBadRequest, core.TagMissingAccountID, "")
	case errors.Is(err, core.ErrMissingSessionID):
		abortWithError(c, http.StatusBadRequest, core.TagMissingSessionID, "")
	case errors.Is(err, core.ErrMissingCustomerID):
		abortWithError(c, http.StatusBadRequest, core.TagMissingCustomerID, "")
	case errors.Is(err, core.ErrSessionMismatch):
		abortWithError(c, http.StatusForbidden, core.TagSessionMismatch, err.Error())
	case errors.Is(err, core.ErrCheckoutIncomplete):
		abortWithError(c, http.StatusConflict, core.TagCheckoutIncomplete, "Checkout is not paid yet.")
	default:
		logger.Error("Billing operation failed", zap.String("operation", failTag), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, failTag, err.Error())
	}
}

// mapWebhookError keeps Stripe retrying only for processing failures.
func mapWebhookError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, core.ErrStripeNotConfigured):
		abortWithError(c, http.StatusBadRequest, core.TagStripeNotConfigured, "")
	case errors.Is(err, core.ErrWebhookSignature):
		logger.Warn("Stripe webhook rejected", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, core.TagInvalidSignature, "")
	default:
		abortWithError(c, http.StatusInternalServerError, core.TagWebhookError, "")
	}
}

func mapAdminError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, core.ErrAdminNotConfigured):
		abortWithError(c, http.StatusInternalServerError, core.TagAdminNotConfigured, "")
	case errors.Is(err, core.ErrUnauthorized):
		abortWithError(c, http.StatusUnauthorized, core.TagUnauthorized, "")
	case errors.Is(err, core.ErrMissingAccountID):
		abortWithError(c, http.StatusBadRequest, core.TagMissingAccountID, "")
	case errors.Is(err, core.ErrBadPlan):
		abortWithError(c, http.StatusBadRequest, core.TagBadPlan, err.Error())
	default:
		logger.Error("Admin operation failed", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, tagAdminFailed, err.Error())
	}
}
