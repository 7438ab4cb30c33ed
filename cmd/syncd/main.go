package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	syncapi "github.com/pilab-dev/idsync/api/echo"
	"github.com/pilab-dev/idsync/config"
	"github.com/pilab-dev/idsync/internal/directory"
	"github.com/pilab-dev/idsync/internal/metrics"
	"github.com/pilab-dev/idsync/internal/profile"
	"github.com/pilab-dev/idsync/mongodb"
	"github.com/pilab-dev/idsync/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration is incomplete")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("http_port", cfg.HTTPPort).Str("mongo_db", cfg.MongoDBName).
		Msg("Starting idsync server")

	ctx := context.Background()
	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MongoDB connection")
	}
	defer mongodb.CloseMongoDB(ctx)
	db := mongodb.GetDB()

	userRepo, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize UserRepository")
	}
	roleRepo, err := mongodb.NewRoleRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RoleRepository")
	}

	directoryClient, err := directory.NewClient(
		cfg.DirectoryBaseURL, cfg.DirectoryAPIKey,
		cfg.RemoteTimeout(), cfg.DirectoryPageSize, cfg.ListCacheTTL(),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize directory client")
	}
	defer directoryClient.Close()
	profileClient, err := profile.NewClient(cfg.ProfileBaseURL, cfg.ProfileAPIKey, cfg.RemoteTimeout())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize profile client")
	}

	metrics.InitCustomMetrics(prometheus.DefaultRegisterer)

	roleService := services.NewRoleService(roleRepo, cfg.DefaultRoleName)
	if err := roleService.EnsureStandardRoles(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed standard roles")
	}
	syncService := services.NewSyncService(userRepo, roleService, directoryClient, profileClient, cfg.DefaultAccountScope)
	bulkService := services.NewBulkService(syncService, userRepo, directoryClient, cfg.WorkerCount, cfg.RatePerSec)
	bridge := services.NewEventBridge(syncService, userRepo, cfg.EventQueueSize)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go bridge.Run(runCtx)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Recover())
	api := syncapi.NewSyncAPI(bulkService, bridge, userRepo, cfg.BulkTimeout())
	api.RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-runCtx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("idsync server stopped")
}
