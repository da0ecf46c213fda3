package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"challenge-engine/config"
	"challenge-engine/handlers"
	"challenge-engine/metrics"
	"challenge-engine/middleware"
	"challenge-engine/models"
	"challenge-engine/services"
	"challenge-engine/utils"
	"challenge-engine/workers"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL)
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if cfg.DBDriver == "sqlite" {
		// sqlite allows one writer at a time.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}

	if err := db.AutoMigrate(
		&models.Challenge{},
		&models.Participant{},
		&models.Achievement{},
		&models.ChallengeInvite{},
		&models.ActivityContribution{},
		&models.UserProgress{},
		&models.BadgeType{},
		&models.UserBadge{},
		&models.Reward{},
	); err != nil {
		log.Fatal("failed to migrate database: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	badgeService := services.NewBadgeService(db)
	if err := badgeService.SeedBadgeTypes(); err != nil {
		log.Fatal("failed to seed badge types: ", err)
	}
	progressionService := services.NewProgressionService(db, badgeService)
	rewardService := services.NewRewardService(db)

	opts := []services.ChallengeOption{services.WithMaxRetries(cfg.MaxUpdateRetries)}
	if archiveCfg := cfg.R2.Archive(); archiveCfg.Enabled() {
		archiver, err := utils.NewR2Archiver(ctx, archiveCfg)
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		opts = append(opts, services.WithSnapshotArchiver(archiver))
		log.Printf("✅ Leaderboard snapshots archived to bucket %s", archiveCfg.Bucket)
	} else {
		log.Println("⚠️  R2 not configured, leaderboard snapshots will not be archived")
	}
	if cfg.SocialServiceURL != "" {
		opts = append(opts, services.WithFriendChecker(services.NewSocialServiceClient(cfg.SocialServiceURL, cfg.GatewayToken)))
	} else {
		log.Println("⚠️  SOCIAL_SERVICE_URL not set, friends_only challenges need a join code or invite")
	}
	challengeService := services.NewChallengeService(db, progressionService, badgeService, rewardService, opts...)

	metrics.Init()

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Service-Token, X-User-ID, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	app.Use(middleware.MonitorMiddleware())

	// 🔐 Only Gateway requests reach the API; probes and scrapes are exempt.
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken, "/health", "/metrics"))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().UTC()})
	})
	app.Get("/metrics", middleware.MetricsHandler(cfg.MetricsUser, cfg.MetricsPass)...)

	limiter := middleware.NewRateLimiter(cfg.ActivityRatePerSec, cfg.ActivityRateBurst)
	go limiter.Cleanup(ctx)

	handlers.SetupChallengeRoutes(app, challengeService, limiter)
	handlers.SetupProgressionRoutes(app, progressionService, badgeService, rewardService)

	sched, err := challengeService.StartStatusScheduler(ctx, cfg.StatusSweepInterval)
	if err != nil {
		log.Fatal("failed to start status scheduler: ", err)
	}

	if cfg.ActivitySourceURL != "" {
		workers.NewActivitySyncWorker(db, challengeService, cfg.ActivitySourceURL, cfg.GatewayToken, cfg.ActivitySyncInterval).Start(ctx)
	} else {
		log.Println("⚠️  ACTIVITY_SOURCE_URL not set, activity sync worker disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost%s", addr)
	log.Printf("✅ CORS configured for origins: %s", strings.Join(cfg.AllowedOrigins, ","))

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := sched.Shutdown(); err != nil {
		log.Printf("[Scheduler] shutdown error: %v", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
