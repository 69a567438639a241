package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/adapter/handler"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/adapter/middleware"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/adapter/storage"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/cashback"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/config"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/gateway"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/ledger"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/notifications"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/payout"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/wallet"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/worker"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("❌ Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		slog.Error("❌ JWT_SECRET is not set")
		os.Exit(1)
	}

	// 2. Setup Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Storage
	var (
		store     ledger.Store
		dbPool    *pgxpool.Pool
		responses middleware.ResponseStore
	)
	switch cfg.Storage {
	case "postgres":
		dbPool, err = storage.ConnectDB(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			slog.Error("❌ Database connection failed", "error", err)
			os.Exit(1)
		}
		if err := storage.Migrate(ctx, dbPool); err != nil {
			slog.Error("❌ Migration failed", "error", err)
			os.Exit(1)
		}
		store = storage.NewPostgresStore(dbPool, cfg.LockTimeout)
		responses = middleware.NewPostgresResponses(dbPool)
	default:
		slog.Warn("Using in-memory storage, data is lost on restart")
		store = storage.NewMemoryStore()
		responses = middleware.NewMemoryResponses()
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Could not reach Redis, keeping the default idempotency store", "error", err)
			rdb.Close()
			rdb = nil
		} else {
			slog.Info("✅ Connected to Redis", "addr", cfg.RedisAddr)
			responses = middleware.NewRedisResponses(rdb, 24*time.Hour)
		}
	}

	// 4. Core services
	fees, err := cfg.FeePolicy()
	if err != nil {
		slog.Error("❌ Invalid fee schedule", "error", err)
		os.Exit(1)
	}

	l := ledger.New(store,
		ledger.WithLogger(logger),
		ledger.WithLocker(ledger.NewLocker(cfg.LockTimeout)),
		ledger.WithRetry(cfg.LockRetries, 50*time.Millisecond))

	var sender worker.Sender = notifications.LogSender{Log: logger}
	if cfg.WebhookURL != "" {
		sender = notifications.NewWebhookSender(cfg.WebhookURL, cfg.WebhookSecret)
	}
	dispatcher := worker.NewDispatcher(sender, logger)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	dispatcher.Start(workerCtx, 2)

	// The only rail wired so far is the sandbox.
	gw := gateway.NewSandbox(logger, 0)

	payouts := payout.NewService(l, fees, gw, dispatcher, cfg.PayoutMinimum)
	engine := cashback.NewEngine(l, cfg.CashbackRate, cfg.CashbackWorkers, dispatcher)
	svc := wallet.NewService(l, payouts, engine, gw, cfg.DefaultCurrency)

	// 5. Setup Fiber
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	// 6. Routes
	handler.Register(app, svc, responses, cfg.JWTSecret, logger)

	go func() {
		slog.Info("🚀 Server starting", "env", cfg.Env, "port", cfg.Port, "storage", cfg.Storage)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			stop()
		}
	}()

	// Block here until we receive a stop signal
	<-ctx.Done()
	slog.Info("🛑 Shutting down server...")

	// Finish active requests first, then drain the workers.
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	stopWorkers()
	dispatcher.Wait()

	if rdb != nil {
		rdb.Close()
	}
	if dbPool != nil {
		dbPool.Close()
		slog.Info("✅ Database connection closed")
	}

	slog.Info("👋 Server exited successfully")
}
