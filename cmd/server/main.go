package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/couponmesh/registry-node/internal/application"
	"github.com/couponmesh/registry-node/internal/auth"
	"github.com/couponmesh/registry-node/internal/chain"
	"github.com/couponmesh/registry-node/internal/checker"
	"github.com/couponmesh/registry-node/internal/config"
	"github.com/couponmesh/registry-node/internal/events"
	"github.com/couponmesh/registry-node/internal/handler"
	"github.com/couponmesh/registry-node/internal/logger"
	"github.com/couponmesh/registry-node/internal/metrics"
	"github.com/couponmesh/registry-node/internal/middleware"
	"github.com/couponmesh/registry-node/internal/peer"
	"github.com/couponmesh/registry-node/internal/repository"
	"github.com/couponmesh/registry-node/internal/syncer"
	"github.com/couponmesh/registry-node/internal/tasks"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewNamed(cfg.Server.Env, "registry-node")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting registry-node",
		zap.String("port", cfg.Server.Port),
		zap.String("hotkey", cfg.Chain.Hotkey),
	)

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&repository.CouponModel{},
		&repository.ActionLogModel{},
		&repository.OwnershipModel{},
		&repository.SiteModel{},
		&repository.CategoryModel{},
		&repository.NodeModel{},
		&repository.SyncCursorModel{},
		&repository.DynamicConfigModel{},
	); err != nil {
		zapLogger.Fatal("failed to auto-migrate", zap.Error(err))
	}
	zapLogger.Info("database migration completed")

	// Load this validator's signing identity
	keypair, err := auth.NewKeypair(cfg.Chain.Hotkey, cfg.Chain.SigningKeySeed)
	if err != nil {
		zapLogger.Fatal("failed to load signing keypair", zap.Error(err))
	}

	// Initialize Kafka producer
	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, zapLogger)
	defer producer.Close()

	// Initialize metrics
	m := metrics.New()

	// Initialize repositories
	couponRepo := repository.NewCouponRepository(db)
	ownershipRepo := repository.NewOwnershipRepository(db)
	siteRepo := repository.NewSiteRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	nodeRepo := repository.NewNodeRepository(db)
	cursorRepo := repository.NewCursorRepository(db)
	stateRepo := repository.NewStateRepository(db)
	transactor := repository.NewGormTransactor(db)

	// Initialize application services
	authenticator := auth.NewAuthenticator()
	registryClient := chain.NewRegistryClient(cfg.Chain.RegistryAPIURL, cfg.Sync.HTTPTimeout, zapLogger)
	siteService := application.NewSiteService(siteRepo, couponRepo, transactor, cfg.Coupon.DefaultTotalSlots, zapLogger)
	metagraphService := application.NewMetagraphService(nodeRepo, registryClient, cfg.Chain.Hotkey, cfg.Chain.MinValidatorStake, zapLogger)
	couponService := application.NewCouponService(
		couponRepo, ownershipRepo, siteRepo, categoryRepo, nodeRepo, stateRepo,
		siteService, transactor, authenticator, producer, m,
		cfg.Coupon, cfg.IsProduction(), zapLogger,
	)
	checkerFactory := checker.NewFactory(cfg.Chain.StorefrontPassword, zapLogger)
	revalidationService := application.NewRevalidationService(
		couponRepo, siteRepo, siteService, checkerFactory, transactor, m,
		cfg.Coupon.ValidateOutdatedInterval, zapLogger,
	)
	weightService := application.NewWeightService(couponRepo, producer, m, cfg.Weights, zapLogger)

	// Initialize peer sync
	peerClient := peer.NewClient(keypair, cfg.Sync.HTTPTimeout, cfg.Sync.PageSize)
	couponSyncer := syncer.NewSyncer(
		couponService, metagraphService, cursorRepo, stateRepo, peerClient, m,
		cfg.Sync, zapLogger,
	)

	// Start background task runner
	runnerCtx, runnerCancel := context.WithCancel(context.Background())
	defer runnerCancel()

	runner := tasks.NewRunner(
		registryClient, metagraphService, siteService, categoryRepo,
		couponSyncer, revalidationService, couponService, weightService,
		cfg.Sync, cfg.Coupon, cfg.Weights, zapLogger,
	)
	go runner.Run(runnerCtx)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(zapLogger))
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.RequestID())

	router.GET("/metrics", m.Handler())

	infoHandler := handler.NewInfoHandler(stateRepo, zapLogger)
	infoHandler.RegisterRoutes(router)

	apiV1 := router.Group("/api/v1")
	infoHandler.RegisterAPIRoutes(apiV1)
	couponHandler := handler.NewCouponHandler(couponService, metagraphService, authenticator, cfg.Chain.Hotkey, zapLogger)
	couponHandler.RegisterRoutes(apiV1)
	siteHandler := handler.NewSiteHandler(siteService)
	siteHandler.RegisterRoutes(apiV1)
	weightHandler := handler.NewWeightHandler(weightService)
	weightHandler.RegisterRoutes(apiV1)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down registry-node...")
	runnerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("registry-node stopped")
}
