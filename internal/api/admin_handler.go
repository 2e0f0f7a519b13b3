package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"promptstudio-backend-go/internal/core"
	"promptstudio-backend-go/internal/middleware"
	"promptstudio-backend-go/internal/models"
)

// AdminHandler exposes operator actions guarded by ADMIN_KEY.
type AdminHandler struct {
	adminService core.AdminService
	logger       *zap.Logger
}

func NewAdminHandler(as core.AdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{adminService: as, logger: logger}
}

// SetPlan handles POST /api/admin/set-plan
func (h *AdminHandler) SetPlan(c *gin.Context) {
	var req models.SetPlanRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		abortWithError(c, http.StatusBadRequest, tagInvalidRequest, err.Error())
		return
	}

	key := strings.TrimSpace(c.GetHeader(middleware.HeaderAdminKey))
	if key == "" {
		key = strings.TrimSpace(req.AdminKey)
	}
	accountID := strings.TrimSpace(req.AccountID)

	plan, err := h.adminService.SetPlan(c.Request.Context(), key, accountID, req.Plan)
	if err != nil {
		mapAdminError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, SetPlanResponse{OK: true, AccountID: accountID, Plan: plan})
}
