package main

import (
	"context"
	"log"

	"github.com/noah-isme/payroll-engine/migrations"
	"github.com/noah-isme/payroll-engine/pkg/config"
	"github.com/noah-isme/payroll-engine/pkg/database"
	"github.com/noah-isme/payroll-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	ran, err := database.Migrate(context.Background(), db, migrations.Files, logr)
	if err != nil {
		logr.Sugar().Fatalw("migration failed", "error", err)
	}
	logr.Sugar().Infow("migrations complete", "applied", len(ran))
}
