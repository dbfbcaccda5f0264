package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"zone-contest-system/archive"
	"zone-contest-system/config"
	"zone-contest-system/handlers"
	"zone-contest-system/logger"
	"zone-contest-system/middleware"
	"zone-contest-system/notify"
	"zone-contest-system/services"
	"zone-contest-system/store"
	"zone-contest-system/utils"
	"zone-contest-system/workers"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "", "Path to .env file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	if err := logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags:      map[string]string{"service": "zone-contest"},
	}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := utils.NewClock()

	// Storage and per-zone exclusion
	var (
		st     store.Store
		locker services.Locker = services.NewZoneLocker(0)
	)
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory store, state is lost on restart")
		st = store.NewMemoryStore()
	default:
		db, err := store.Open(cfg.Database, cfg.Debug)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		if err := store.AutoMigrate(db); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		st = store.NewGormStore(db)
		logger.Info("Connected to database", zap.Int("max_open_conns", cfg.Database.MaxOpenConns))
	}

	// Notifications
	var sender notify.Sender = notify.LogSender{}
	if cfg.NATS.URL != "" {
		natsSender, err := notify.NewNATSSender(notify.NATSConfig{
			URL:            cfg.NATS.URL,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			ConnectionName: cfg.NATS.ConnectionName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
		})
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsSender.Close()
		sender = natsSender
	} else {
		logger.Warn("NATS URL not set, notifications are only logged")
	}
	dispatcher := notify.NewDispatcher(ctx, sender, cfg.Notify.PoolSize, cfg.Notify.QueueSize)

	// Services
	zoneService := services.NewZoneService(st, locker, clock, cfg.Game)
	attackService := services.NewAttackService(zoneService, services.NewBattleResolver(cfg.Game.BattleVariance, nil), dispatcher)
	leaderboardService := services.NewLeaderboardService(st, clock, cfg.Leaderboard.TopN, cfg.Leaderboard.SnapshotSize)

	if cfg.Archive.Enabled() {
		archiver, err := archive.NewR2Archiver(ctx, cfg.Archive)
		if err != nil {
			logger.Fatal("Failed to initialize R2 archiver", zap.Error(err))
		}
		leaderboardService.Archiver = archiver
		logger.Info("Leaderboard snapshots archived to R2", zap.String("bucket", cfg.Archive.Bucket))
	}

	scheduler, err := services.NewScheduler(ctx, zoneService, leaderboardService, cfg.Leaderboard)
	if err != nil {
		logger.Fatal("Failed to create scheduler", zap.Error(err))
	}
	zoneService.SetExpiryScheduler(scheduler)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// one-time expiry jobs do not survive a restart
	if n, err := zoneService.SweepExpired(ctx); err != nil {
		logger.Error(err, zap.String("message", "startup expiry sweep failed"))
	} else if n > 0 {
		logger.Info("Expired lapsed claims at startup", zap.Int("count", n))
	}

	if cfg.Sync.BaseURL != "" {
		workers.NewPlayerSyncWorker(st, cfg.Sync).Start(ctx)
	} else {
		logger.Warn("Sync base URL not set, players are created on first request only")
	}

	// HTTP
	app := fiber.New(fiber.Config{
		// ids read from headers and params are stored by the services
		Immutable: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(recover.New())

	origins := strings.Split(cfg.Server.AllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(origins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-User-Roles",
		MaxAge:       86400,
	}))

	// Only gateway requests with a user context are served
	api := app.Group("/", middleware.GatewayAuthMiddleware(cfg.Server.GatewayToken), middleware.UserContextMiddleware())
	handlers.SetupZoneRoutes(api, zoneService)
	handlers.SetupAttackRoutes(api, attackService, cfg.Server.AttackRatePerMinute)
	handlers.SetupLeaderboardRoutes(api, leaderboardService)

	errCh := make(chan error, 1)
	go func() {
		if err := app.Listen(cfg.Server.Address); err != nil {
			errCh <- err
		}
	}()
	logger.Info("Server running", zap.String("address", cfg.Server.Address))

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errCh:
		logger.Error(err, zap.String("component", "server"))
	}

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Error(err, zap.String("message", "server forced to shutdown"))
	}
	if err := scheduler.Shutdown(); err != nil {
		logger.Error(err, zap.String("message", "scheduler shutdown failed"))
	}
	dispatcher.Stop()
	logger.Info("Zone contest server stopped")
}
