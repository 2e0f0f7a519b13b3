package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"promptstudio-backend-go/internal/core"
	"promptstudio-backend-go/internal/middleware"
	"promptstudio-backend-go/internal/models"
)

// GenerateHandler exposes the generation gateway.
type GenerateHandler struct {
	generationService core.GenerationService
	buildTag          string
	logger            *zap.Logger
}

func NewGenerateHandler(gs core.GenerationService, buildTag string, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{generationService: gs, buildTag: buildTag, logger: logger}
}

// callerKey prefers the key headers over the body.
func callerKey(c *gin.Context, bodyKey string) string {
	if key := middleware.APIKey(c); key != "" {
		return key
	}
	return strings.TrimSpace(bodyKey)
}

// Generate handles POST /api/generate
func (h *GenerateHandler) Generate(c *gin.Context) {
	c.Header("X-Gle-Build", h.buildTag)

	var req models.GenerateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		abortWithError(c, http.StatusBadRequest, tagInvalidRequest, err.Error())
		return
	}

	result, err := h.generationService.Generate(c.Request.Context(), core.GenerateCommand{
		AccountID: middleware.AccountID(c),
		UserID:    middleware.UserID(c),
		APIKey:    callerKey(c, req.APIKey),
		Request:   &req,
	})
	if err != nil {
		mapGenerateError(c, h.logger, err)
		return
	}
	if result.Honeypot {
		c.JSON(http.StatusOK, HoneypotResponse{OK: true, Output: "", Plan: result.Plan})
		return
	}

	c.Header("X-Gle-Engine", result.Engine)
	c.JSON(http.StatusOK, GenerateResponse{OK: true, GenerateResult: result})
}

// TestKey handles POST /api/test
func (h *GenerateHandler) TestKey(c *gin.Context) {
	var req models.APIKeyRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		abortWithError(c, http.StatusBadRequest, tagInvalidRequest, err.Error())
		return
	}

	sample, err := h.generationService.TestKey(c.Request.Context(), callerKey(c, req.APIKey))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, TestKeyResponse{OK: true, Sample: sample})
	case errors.Is(err, core.ErrMissingAPIKey):
		abortWithError(c, http.StatusBadRequest, core.TagMissingAPIKey, "")
	default:
		h.logger.Info("Caller key test failed", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, core.TagBadKey, err.Error())
	}
}
