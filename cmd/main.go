package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"

	"EscrowEngine/internal/config"
	"EscrowEngine/internal/database"
	"EscrowEngine/internal/handlers"
	"EscrowEngine/internal/logging"
	"EscrowEngine/internal/metrics"
	"EscrowEngine/internal/middleware"
	"EscrowEngine/internal/repositories"
	"EscrowEngine/internal/routes"
	"EscrowEngine/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}

	root := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(root, "main")

	if err := run(cfg, root, log); err != nil {
		log.WithError(err).Error("❌ Server exited with error")
		os.Exit(1)
	}
}

// run owns every resource it opens, so its deferred cleanup always runs
// before the process exits.
func run(cfg *config.Config, root *logrus.Logger, log *logrus.Entry) error {
	log.WithFields(logrus.Fields{
		"db_driver":             cfg.DBDriver,
		"db_host":               cfg.DBHost,
		"jwt_secret":            config.Mask(cfg.JWTSecret),
		"payment_gateway_url":   cfg.PaymentGatewayURL,
		"payment_gateway_key":   config.Mask(cfg.PaymentGatewaySecret),
		"resend_api_key":        config.Mask(cfg.ResendAPIKey),
		"cloudinary_cloud_name": cfg.CloudinaryCloudName,
		"redis_url":             config.Mask(cfg.RedisURL),
	}).Info("🔍 Configuration loaded")

	db, err := database.Connect(cfg, logging.Component(root, "database"))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.WithError(err).Warn("Closing database failed")
		}
	}()

	if err := database.Migrate(db, logging.Component(root, "database")); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Info("✅ Database connected and migrated successfully")

	store := repositories.NewStore(db)

	var email services.EmailSender
	if cfg.EmailEnabled() {
		email = services.NewEmailService(cfg.ResendAPIKey, cfg.FromEmail, logging.Component(root, "email"))
	} else {
		log.Warn("RESEND_API_KEY not set, notifications are stored but not e-mailed")
	}
	notifications := services.NewNotificationService(store, email, logging.Component(root, "notifications"))

	opts := []services.Option{services.WithNotifier(notifications)}
	if cfg.PaymentGatewayEnabled() {
		gateway := services.NewPaymentGateway(cfg.PaymentGatewayURL, cfg.PaymentGatewaySecret, cfg.PaymentGatewayTimeout, logging.Component(root, "payment_gateway"))
		opts = append(opts, services.WithPaymentVerifier(gateway))
		log.Info("✅ Payment gateway verification enabled")
	} else {
		log.Warn("PAYMENT_GATEWAY_URL not set, escrow authorization trusts the buyer's payment claim")
	}
	if cfg.EvidenceStorageEnabled() {
		evidence, err := services.NewCloudinaryService(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			return fmt.Errorf("initialize cloudinary: %w", err)
		}
		opts = append(opts, services.WithEvidenceStore(evidence))
		log.Info("✅ Cloudinary service initialized successfully")
	}

	escrow := services.NewEscrowService(store, services.EscrowConfig{
		HoldWindow:      cfg.HoldWindow,
		SettlementDelay: cfg.SettlementDelay,
	}, logging.Component(root, "escrow"), opts...)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var locker services.Locker
	if cfg.RedisURL != "" {
		client, err := database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		locker = services.NewRedisLocker(client)
		log.Info("✅ Redis sweep lock enabled")
	}

	sweeper := services.NewExpirySweeper(escrow, locker, services.SweeperConfig{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
		LockTTL:   cfg.SweepLockTTL,
	}, logging.Component(root, "sweeper"))

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(ctx)
	}()

	app := fiber.New(fiber.Config{
		AppName:   "EscrowEngine v1.0",
		BodyLimit: 10 * 1024 * 1024,
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(metrics.PrometheusMiddleware())

	httpLog := logging.Component(root, "http")
	routes.SetupRoutes(app, routes.Handlers{
		Auth:          middleware.Protected(cfg.JWTSecret, store.Accounts(), httpLog),
		Escrow:        handlers.NewEscrowHandler(escrow, httpLog),
		Admin:         handlers.NewAdminHandler(escrow, sweeper, httpLog),
		Notifications: handlers.NewNotificationHandler(notifications, httpLog),
	})

	errCh := make(chan error, 1)
	go func() {
		log.Infof("🚀 EscrowEngine server starting on http://localhost:%s", cfg.Port)
		errCh <- app.Listen(":" + cfg.Port)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case serveErr = <-errCh:
		if serveErr != nil {
			serveErr = fmt.Errorf("server stopped unexpectedly: %w", serveErr)
		}
	}

	stop()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
	<-sweeperDone
	log.Info("Server stopped")
	return serveErr
}
