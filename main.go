package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/reforge-inc/reforge-engine/pkg/config"
	"github.com/reforge-inc/reforge-engine/pkg/database"
	"github.com/reforge-inc/reforge-engine/pkg/handlers"
	"github.com/reforge-inc/reforge-engine/pkg/logging"
	"github.com/reforge-inc/reforge-engine/pkg/repositories"
	"github.com/reforge-inc/reforge-engine/pkg/rules"
	"github.com/reforge-inc/reforge-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Int("max_concurrent", cfg.Engine.MaxConcurrent),
		zap.Bool("strict_checkpoints", cfg.Engine.StrictCheckpoints))

	ruleSet, err := loadRuleSet(cfg)
	if err != nil {
		logger.Fatal("Failed to load rule set", zap.Error(err))
	}
	logger.Info("Rule set loaded",
		zap.Int("fields", len(ruleSet.FieldNames())),
		zap.Int("stages", ruleSet.StageCount()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, database.PoolConfig{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database",
			zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	if err := database.Migrate(cfg.Database.ConnectionString(), cfg.Engine.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations",
			zap.String("error", logging.SanitizeError(err)))
	}

	roundRepo := repositories.NewPostgresRoundRepository(db)
	roundService := services.NewRoundService(roundRepo, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewRoundsHandler(roundService, logger).RegisterRoutes(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting reforge-engine", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadRuleSet returns the configured YAML rule set, falling back to the
// built-in insolvency rule set when no path is configured.
func loadRuleSet(cfg *config.Config) (*rules.RuleSet, error) {
	if cfg.Engine.RuleSetPath == "" {
		return rules.Default(), nil
	}
	return rules.Load(cfg.Engine.RuleSetPath)
}
