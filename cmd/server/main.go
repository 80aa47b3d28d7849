package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"activation-api/internal/api"
	"activation-api/internal/config"
	"activation-api/internal/database"
	"activation-api/internal/metrics"
	"activation-api/internal/services"
	"activation-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging(cfg.LogLevel, cfg.LogFormat)

	// Initialize database
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	if cfg.SeedAdmin() {
		if err := database.SeedAdmin(db, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
			log.Fatal("Failed to seed admin:", err)
		}
	}

	rdb, err := database.OpenRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to initialize Redis:", err)
	}
	defer database.Close(db, rdb)

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewMetrics(reg)
	if err != nil {
		log.Fatal("Failed to register metrics:", err)
	}

	// Initialize services
	redisService := services.NewRedisService(rdb)
	var mailer services.Mailer
	if brevo := services.NewBrevoService(cfg.BrevoAPIKey, cfg.BrevoFromEmail, cfg.BrevoFromName); brevo != nil {
		mailer = brevo
	}

	catalog := services.NewCatalogService(db, redisService, cfg.ProductCacheTTL)
	keys := services.NewKeyService(db, m)
	subscriptions := services.NewSubscriptionService(db, redisService, mailer, m, cfg.CheckoutPeriod)
	activations := services.NewActivationService(db, catalog, keys, subscriptions, services.ActivationOptions{
		BillingGated: cfg.BillingGated(),
		Limiter:      redisService,
		RateLimit:    cfg.ActivationRateLimit,
		Metrics:      m,
	})

	handler := api.NewHandler(api.Services{
		Identity:      services.NewIdentityService(db),
		Catalog:       catalog,
		Keys:          keys,
		Activations:   activations,
		Subscriptions: subscriptions,
		Reports:       services.NewReportService(db),
		Auth:          services.NewAuthService(db, cfg.JWTSecret, cfg.JWTTTL),
		Webhooks:      services.NewWebhookVerifier(cfg.StripeWebhookSecret, cfg.WebhookTolerance),
	}, cfg.StoreTimeout)

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, handler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server
	go func() {
		logging.Infof("Starting server on port %s (entitlement mode: %s)", cfg.Port, cfg.EntitlementMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Infof("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Errorf("Server forced to shutdown: %v", err)
	}
}
