package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Melodex/app/controllers"
	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/billing"
	"github.com/ManuelReschke/Melodex/internal/pkg/cache"
	"github.com/ManuelReschke/Melodex/internal/pkg/database"
	"github.com/ManuelReschke/Melodex/internal/pkg/entitlements"
	"github.com/ManuelReschke/Melodex/internal/pkg/env"
	"github.com/ManuelReschke/Melodex/internal/pkg/ledger"
	"github.com/ManuelReschke/Melodex/internal/pkg/licensing"
	"github.com/ManuelReschke/Melodex/internal/pkg/logger"
	"github.com/ManuelReschke/Melodex/internal/pkg/mail"
	"github.com/ManuelReschke/Melodex/internal/pkg/metrics"
	"github.com/ManuelReschke/Melodex/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/Melodex/internal/pkg/objectstore"
	"github.com/ManuelReschke/Melodex/internal/pkg/router"
	"github.com/ManuelReschke/Melodex/internal/pkg/statistics"
	"github.com/ManuelReschke/Melodex/internal/pkg/subscription"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx)
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.L().Error("shutdown failed", zap.Error(err))
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
	_ = logger.L().Sync()
}

func NewApplication(ctx context.Context) (*fiber.App, error) {
	env.SetupEnvFile()
	logger.Setup(env.GetEnv("LOG_FILE", "logs/melodex.log"), !env.IsDev())
	metrics.MustRegister()

	jwtSecret := env.GetEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	db, err := database.SetupDatabase()
	if err != nil {
		return nil, err
	}
	repos := repository.NewRepositories(db)
	rdb := cache.SetupCache()

	storage, err := newObjectStorage(ctx)
	if err != nil {
		return nil, err
	}

	downloads := counter.New(rdb, repos.Melody)
	go downloads.Run(ctx, counter.DefaultFlushInterval)

	appURL := env.GetEnv("APP_URL", "http://localhost:4000")
	stripeGateway := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		ProPriceID:    env.GetEnv("STRIPE_PRO_PRICE_ID", ""),
	})

	gate := entitlements.NewGate(repos)
	deps := controllers.Dependencies{
		Repos:  repos,
		Ledger: ledger.NewService(repos),
		Tracker: subscription.NewTracker(repos.Profile, stripeGateway, mail.NewFromEnv(), subscription.Config{
			SuccessURL: appURL + "/dashboard?subscription=success",
			CancelURL:  appURL + "/pricing?subscription=cancel",
			TrialDays:  int64(env.GetEnvInt("PRO_TRIAL_DAYS", subscription.DefaultTrialDays)),
		}),
		Gate:         gate,
		Licensing:    licensing.NewService(repos, storage, downloads),
		Statistics:   statistics.NewService(repos, cache.NewStoreFromEnv()),
		Webhooks:     billing.NewServiceFromDB(db),
		Stripe:       stripeGateway,
		Storage:      storage,
		AppURL:       appURL,
		RequestLimit: env.GetEnvDuration("PROVIDER_REQUEST_TIMEOUT", 20*time.Second),
	}

	if env.GetEnv("PAYPAL_CLIENT_ID", "") != "" {
		paypalGateway, err := billing.NewPaypalGateway(billing.PaypalConfig{
			ClientID: env.GetEnv("PAYPAL_CLIENT_ID", ""),
			Secret:   env.GetEnv("PAYPAL_SECRET", ""),
			Mode:     env.GetEnv("PAYPAL_MODE", "sandbox"),
		})
		if err != nil {
			logger.L().Warn("paypal disabled", zap.Error(err))
		} else {
			deps.Paypal = paypalGateway
		}
	}

	var limiterStorage fiber.Storage
	if env.GetEnv("CACHE_DRIVER", "memory") == "redis" {
		limiterStorage = router.NewLimiterStorage(rdb)
	}

	cfg := fiber.Config{
		BodyLimit: env.GetEnvInt("BODY_LIMIT", 512<<20),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	}
	router.TrustProxies(&cfg, env.GetEnv("PROXY_HEADER", ""), strings.Split(env.GetEnv("TRUSTED_PROXIES", ""), ","))
	app := fiber.New(cfg)

	// recovery and logging
	app.Use(recover.New(), fiberlogger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Context())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "database unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// prometheus metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), adaptor.HTTPHandler(promhttp.Handler()))

	// ROUTER
	router.InstallRouter(app, router.NewApiRouter(
		controllers.New(deps),
		[]byte(jwtSecret),
		limiterStorage,
	))

	return app, nil
}

// newObjectStorage returns the S3 backend, or an in-memory store for local runs.
func newObjectStorage(ctx context.Context) (objectstore.Storage, error) {
	cfg, err := objectstore.LoadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.IsEnabled() {
		logger.Named("storage").Warn("S3 disabled, keeping uploads in memory")
		return objectstore.NewMemory(env.GetEnv("APP_URL", "http://localhost:4000") + "/files"), nil
	}
	return objectstore.NewClient(ctx, cfg)
}
