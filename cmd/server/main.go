package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"promptstudio-backend-go/internal/api"
	"promptstudio-backend-go/internal/config"
	"promptstudio-backend-go/internal/core"
	"promptstudio-backend-go/internal/db"
	"promptstudio-backend-go/internal/metrics"
	"promptstudio-backend-go/internal/middleware"
	"promptstudio-backend-go/internal/notify"
	"promptstudio-backend-go/internal/openai"
	"promptstudio-backend-go/internal/stripeapi"
)

func newLogger(release bool) (*zap.Logger, error) {
	if release {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func main() {
	release := strings.EqualFold(os.Getenv("GIN_MODE"), "release")

	// --- 1. Environment and logger ---
	// In production, environment variables are set directly.
	if !release {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: no .env file loaded:", err)
		}
	}

	zapLogger, err := newLogger(release)
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to initialize Zap logger: %v", err)
	}
	defer zapLogger.Sync()

	// --- 2. Configuration ---
	appConfig, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to load application configuration", zap.Error(err))
	}
	zapLogger.Info("Configuration loaded",
		zap.String("build", appConfig.BuildTag),
		zap.String("store", appConfig.StoreBackend),
		zap.String("stripeMode", appConfig.StripeMode()),
		zap.Bool("byokOnly", appConfig.BYOKOnly),
		zap.Bool("maintenance", appConfig.MaintenanceMode),
	)

	// --- 3. Account store ---
	initCtx, cancelInit := context.WithTimeout(context.Background(), 15*time.Second)
	repo, err := db.Open(initCtx, appConfig, zapLogger)
	cancelInit()
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to open account store", zap.Error(err))
	}

	// --- 4. Plan event publisher and metrics ---
	publisher, err := notify.Open(appConfig.AMQPURL, appConfig.AMQPQueue, zapLogger)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to connect plan event publisher", zap.Error(err))
	}
	appMetrics := metrics.New()

	// --- 5. Content filter ---
	stems, err := core.LoadStems(appConfig.BouncerBannedStems, appConfig.BouncerStemsFile)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to load banned stems", zap.Error(err))
	}
	bouncer := core.NewBouncer(appConfig.BouncerEnabled, appConfig.BouncerMaxPasses, stems)

	// --- 6. Services ---
	limits := core.Limits{Free: appConfig.FreeLimit, Pro: appConfig.ProLimit, ProBoost: appConfig.ProBoostLimit}
	quota := core.QuotaPolicy{Limits: limits}
	serverKey := appConfig.ServerOpenAIKey()

	accountService := core.NewAccountService(repo, quota, appConfig.StripeMode(), zapLogger)

	generationService := core.NewGenerationService(
		accountService,
		openai.NewClient(appConfig.OpenAIAPIBase, appConfig.OpenAITimeout()),
		bouncer,
		quota,
		core.TrialPolicy{
			Enabled:      appConfig.TrialEnabled,
			Limit:        appConfig.TrialLimit24h,
			BYOKOnly:     appConfig.BYOKOnly,
			HasServerKey: serverKey != "",
		},
		core.GenerationConfig{
			BYOKOnly:    appConfig.BYOKOnly,
			ServerKey:   serverKey,
			ModelBYOK:   appConfig.ModelBYOK,
			ModelPro:    appConfig.ModelPro,
			ModelBoost:  appConfig.ModelBoost,
			EngineBYOK:  appConfig.EngineBYOK,
			EnginePro:   appConfig.EnginePro,
			EngineTrial: appConfig.EngineTrial,
			EngineUltra: appConfig.EngineUltra,
		},
		appMetrics,
		zapLogger,
	)

	// A nil gateway leaves billing routes answering "stripe_not_configured".
	var paymentGateway core.PaymentGateway
	if appConfig.StripeEnabled() {
		paymentGateway = stripeapi.NewGateway(appConfig.StripeSecretKey, appConfig.StripeWebhookSecret)
	} else {
		zapLogger.Warn("Stripe is not configured: STRIPE_SECRET_KEY is empty")
	}
	billingService := core.NewBillingService(accountService, paymentGateway, core.BillingConfig{
		PriceID:         appConfig.StripePriceID,
		Mode:            appConfig.StripeMode(),
		WebhooksEnabled: appConfig.StripeWebhookSecret != "",
		Maintenance:     appConfig.MaintenanceMode,
	}, publisher, appMetrics, zapLogger)

	adminService := core.NewAdminService(accountService, appConfig.AdminKey, publisher, appMetrics, zapLogger)

	// --- 7. Gin engine and global middleware (order is important) ---
	if appConfig.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	origins := middleware.NewOriginPolicy(appConfig.AllowedOrigins())

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(zapLogger))
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.CORSMiddleware(origins))

	api.SetupRoutes(
		router,
		appConfig,
		zapLogger,
		origins,
		accountService,
		generationService,
		billingService,
		adminService,
		bouncer,
		appMetrics,
	)

	// --- 8. HTTP server ---
	serverAddr := fmt.Sprintf(":%s", appConfig.Port)
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zapLogger.Info("Starting HTTP server", zap.String("address", serverAddr), zap.String("ginMode", gin.Mode()))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// --- 9. Graceful shutdown ---
	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quitChannel
	zapLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Pending store writes are flushed here.
	if err := repo.Close(); err != nil {
		zapLogger.Error("Failed to close account store", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		zapLogger.Error("Failed to close plan event publisher", zap.Error(err))
	}

	zapLogger.Info("Server exiting gracefully.")
}
