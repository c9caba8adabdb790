package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	// SQLite driver for the default database/sql executor.
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/querystream/querystream/internal/config"
	"github.com/querystream/querystream/internal/query"
	"github.com/querystream/querystream/internal/redis"
	"github.com/querystream/querystream/internal/server"
	"github.com/querystream/querystream/internal/snapshot"
	"github.com/querystream/querystream/internal/statement"
	"github.com/querystream/querystream/internal/subscription"
	"github.com/querystream/querystream/internal/version"
)

// infrastructure holds core infrastructure components.
type infrastructure struct {
	redisClient redis.Client
	executor    *query.SQLExecutor
	cache       snapshot.Cache
}

// services holds application services.
type services struct {
	statements  *statement.Registry
	coordinator *subscription.Coordinator
	subscribers *subscription.Registry
}

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup logger
	logger := setupLogger()

	// Create application context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load and validate configuration
	cfg, err := loadAndValidateConfig(logger, *configPath)
	if err != nil {
		logger.WithError(err).Fatal("Configuration error")
	}

	// Setup infrastructure (database, optional redis)
	infra, err := setupInfrastructure(ctx, logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Infrastructure setup failed")
	}

	// Setup services (statement registry, coordinator, subscribers)
	svc, err := setupServices(ctx, logger, cfg, infra)
	if err != nil {
		logger.WithError(err).Fatal("Service setup failed")
	}

	// Start HTTP server
	srv, err := startServer(cfg, logger, svc)
	if err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.WithField("signal", sig.String()).Info("Received shutdown signal")

	// Cancel application context to signal all services to stop
	cancel()

	// Perform graceful shutdown
	shutdownGracefully(logger, cfg, srv, svc, infra)
}

// setupLogger creates and configures the application logger.
func setupLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
	})

	logger.WithFields(logrus.Fields{
		"version":    version.Short(),
		"git_commit": version.GitCommit,
		"build_date": version.BuildDate,
	}).Info("Starting...")

	return logger
}

// loadAndValidateConfig loads the configuration file and validates it.
func loadAndValidateConfig(
	logger *logrus.Logger,
	configPath string,
) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// Set log level from config
	level, parseErr := logrus.ParseLevel(cfg.Server.LogLevel)
	if parseErr != nil {
		logger.WithError(parseErr).Warn("Invalid log level, using info")

		level = logrus.InfoLevel
	}

	logger.SetLevel(level)

	logger.WithFields(logrus.Fields{
		"port":       cfg.Server.Port,
		"log_level":  cfg.Server.LogLevel,
		"statements": len(cfg.Statements),
	}).Info("Configuration loaded")

	return cfg, nil
}

// setupInfrastructure initializes the database executor and, when
// configured, Redis-backed snapshot storage.
func setupInfrastructure(
	ctx context.Context,
	logger *logrus.Logger,
	cfg *config.Config,
) (*infrastructure, error) {
	infra := &infrastructure{}

	// Initialize database executor
	executor, err := query.NewSQLExecutor(logger, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	if err := executor.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start executor: %w", err)
	}

	infra.executor = executor

	// Redis is optional; without it snapshots live in process memory
	if cfg.Redis.Enabled() {
		redisClient := redis.NewClient(logger, cfg.Redis)

		if err := redisClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start Redis client: %w", err)
		}

		infra.redisClient = redisClient
		infra.cache = snapshot.NewRedisCache(logger, redisClient, cfg.Snapshot.TTL)

		logger.Info("Using Redis snapshot cache")
	} else {
		infra.cache = snapshot.NewMemoryCache()

		logger.Info("Using in-memory snapshot cache")
	}

	return infra, nil
}

// setupServices builds the statement registry from configuration and wires
// the subscription engine. Any invalid statement fails startup here.
func setupServices(
	ctx context.Context,
	logger *logrus.Logger,
	cfg *config.Config,
	infra *infrastructure,
) (*services, error) {
	svc := &services{}

	templates := make([]*statement.Template, 0, len(cfg.Statements))

	for _, stmt := range cfg.Statements {
		tpl, err := statement.NewTemplate(stmt.Name, stmt.SQL)
		if err != nil {
			return nil, fmt.Errorf("invalid statement configuration: %w", err)
		}

		templates = append(templates, tpl)
	}

	statements, err := statement.NewRegistry(logger, templates)
	if err != nil {
		return nil, fmt.Errorf("failed to build statement registry: %w", err)
	}

	svc.statements = statements

	svc.coordinator = subscription.NewCoordinator(logger, statements, infra.executor, infra.cache)

	if err := svc.coordinator.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start coordinator: %w", err)
	}

	svc.subscribers = subscription.NewRegistry(logger, statements, svc.coordinator)

	logger.WithField("statements", statements.Len()).Info("Subscription engine started")

	return svc, nil
}

// startServer creates and starts the HTTP server.
func startServer(
	cfg *config.Config,
	logger *logrus.Logger,
	svc *services,
) (*server.Server, error) {
	srv, err := server.New(logger, cfg, svc.subscribers)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	// Start server in goroutine
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("HTTP server starting")

		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server error")
		}
	}()

	return srv, nil
}

// shutdownGracefully performs graceful shutdown of all services.
// Shutdown order:
// 1. HTTP server (stop accepting connections, drop sessions).
// 2. Coordinator (stop polling jobs).
// 3. Database executor (close pool).
// 4. Redis client (close connections).
func shutdownGracefully(
	logger *logrus.Logger,
	cfg *config.Config,
	srv *server.Server,
	svc *services,
	infra *infrastructure,
) {
	logger.Info("Initiating graceful shutdown...")

	// Create a timeout context for the shutdown process
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error during server shutdown")
	}

	// Stop polling jobs
	if svc.coordinator != nil {
		if err := svc.coordinator.Stop(); err != nil {
			logger.WithError(err).Error("Error stopping coordinator")
		}
	}

	// Stop database executor
	if infra.executor != nil {
		if err := infra.executor.Stop(); err != nil {
			logger.WithError(err).Error("Error stopping executor")
		}
	}

	// Stop Redis client (closes connections)
	if infra.redisClient != nil {
		if err := infra.redisClient.Stop(); err != nil {
			logger.WithError(err).Error("Error stopping Redis client")
		}
	}

	logger.Info("Server stopped gracefully")
}
