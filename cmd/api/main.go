package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brunopacheco/pixgate-backend/api/routes"
	"github.com/brunopacheco/pixgate-backend/internal/payments"
	"github.com/brunopacheco/pixgate-backend/internal/poller"
	"github.com/brunopacheco/pixgate-backend/internal/reconcile"
	"github.com/brunopacheco/pixgate-backend/internal/transactions"
	mpwebhook "github.com/brunopacheco/pixgate-backend/internal/webhooks/mercadopago"
	"github.com/brunopacheco/pixgate-backend/pkg/config"
	"github.com/brunopacheco/pixgate-backend/pkg/db"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
	"github.com/brunopacheco/pixgate-backend/pkg/mercadopago"
	"github.com/brunopacheco/pixgate-backend/pkg/metrics"
	"github.com/brunopacheco/pixgate-backend/pkg/migrate"
	"github.com/brunopacheco/pixgate-backend/pkg/redis"
)

const webhookDedupeTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	mpClient, err := mercadopago.NewClient(context.Background(), cfg.MercadoPago, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create mercado pago client", err)
		os.Exit(1)
	}

	repo := transactions.NewRepository(dbClient.DB())
	reconcileMetrics := metrics.NewReconcileMetrics(prometheus.DefaultRegisterer)

	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Repo:    repo,
		Logger:  logg,
		Metrics: reconcileMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation engine", err)
		os.Exit(1)
	}

	syncer, err := reconcile.NewSyncer(reconcile.SyncerParams{
		Repo:     repo,
		Engine:   engine,
		Provider: mpClient,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create status syncer", err)
		os.Exit(1)
	}

	pixPoller, err := poller.NewPoller(poller.PollerParams{
		Repo:     repo,
		Syncer:   syncer,
		Engine:   engine,
		Logger:   logg,
		Interval: cfg.Pix.PollInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create status poller", err)
		os.Exit(1)
	}
	defer pixPoller.Stop()

	creator, err := payments.NewCreator(payments.CreatorParams{
		Repo:     repo,
		Provider: mpClient,
		Pix:      cfg.Pix,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment creator", err)
		os.Exit(1)
	}

	guard, err := mpwebhook.NewIdempotencyGuard(redisClient, webhookDedupeTTL, "mercadopago")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook dedupe guard", err)
		os.Exit(1)
	}

	webhookService, err := mpwebhook.NewService(mpwebhook.ServiceParams{
		Syncer: syncer,
		Guard:  guard,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	verifier := mercadopago.NewSignatureVerifier(mpClient.SigningSecret(), cfg.MercadoPago.AllowInsecureWebhooks)
	if verifier.Permissive() {
		logg.Warn(context.Background(), "webhook signature verification is permissive")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:   cfg,
			Logger:   logg,
			DB:       dbClient,
			Redis:    redisClient,
			Creator:  creator,
			Checker:  pixPoller,
			Webhook:  webhookService,
			Verifier: verifier,
			Metrics:  prometheus.DefaultGatherer,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
