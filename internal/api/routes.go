package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"promptstudio-backend-go/internal/config"
	"promptstudio-backend-go/internal/core"
	"promptstudio-backend-go/internal/metrics"
	"promptstudio-backend-go/internal/middleware"
)

// SetupRoutes configures all the application routes with their handlers.
// Global middleware (request id, logging, recovery, CORS) is applied to the
// router in main.go before this is called.
func SetupRoutes(
	router *gin.Engine,
	appConfig *config.Config,
	logger *zap.Logger,
	origins *middleware.OriginPolicy,
	accountService core.AccountService,
	generationService core.GenerationService,
	billingService core.BillingService,
	adminService core.AdminService,
	bouncer *core.Bouncer,
	m *metrics.Metrics,
) {
	healthHandler := NewHealthHandler(appConfig, billingService, bouncer)
	accountHandler := NewAccountHandler(accountService, logger)
	generateHandler := NewGenerateHandler(generationService, appConfig.BuildTag, logger)
	billingHandler := NewBillingHandler(billingService, origins, appConfig, logger)
	adminHandler := NewAdminHandler(adminService, logger)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/health", healthHandler.Health)

		// The webhook carries no caller identity.
		apiGroup.POST("/stripe-webhook", billingHandler.HandleStripeWebhook)

		identified := apiGroup.Group("", middleware.IdentityMiddleware())
		{
			identified.GET("/me", accountHandler.Me)
			identified.POST("/test", generateHandler.TestKey)
			identified.POST("/generate", generateHandler.Generate)

			identified.POST("/create-checkout-session", billingHandler.CreateCheckoutSession)
			identified.POST("/sync-checkout-session", billingHandler.SyncCheckoutSession)
			identified.POST("/billing-portal", billingHandler.CreatePortalSession)
			identified.POST("/create-portal-session", billingHandler.CreatePortalSession)
		}

		apiGroup.POST("/admin/set-plan", adminHandler.SetPlan)
	}

	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	logger.Info("API routes configured under /api")
}
