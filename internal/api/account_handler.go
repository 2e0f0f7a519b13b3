package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"promptstudio-backend-go/internal/core"
	"promptstudio-backend-go/internal/middleware"
)

// AccountHandler serves the caller's own account view.
type AccountHandler struct {
	accountService core.AccountService
	logger         *zap.Logger
}

func NewAccountHandler(as core.AccountService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accountService: as, logger: logger}
}

// Me handles GET /api/me
func (h *AccountHandler) Me(c *gin.Context) {
	summary, err := h.accountService.Summary(c.Request.Context(), middleware.AccountID(c), middleware.UserID(c))
	if err != nil {
		if errors.Is(err, core.ErrMissingAccountID) {
			abortWithError(c, http.StatusBadRequest, core.TagMissingAccountID, "")
			return
		}
		h.logger.Error("Failed to load account summary", zap.String("accountID", middleware.AccountID(c)), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, tagMeFailed, "")
		return
	}
	c.JSON(http.StatusOK, MeResponse{OK: true, AccountSummary: summary})
}
