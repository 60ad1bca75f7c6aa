package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// MaybeRunDev applies pending migrations on boot for local development when
// ORDERFLOW_AUTO_MIGRATE is set. Every other environment runs cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if cfg.DB.Driver == db.DriverSQLite {
		logg.Warn(ctx, "auto-migrate skipped: migrations require postgres")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	runner, err := NewRunner(sqlDB, nil)
	if err != nil {
		return err
	}
	applied, err := runner.Up(ctx)
	if err != nil {
		return err
	}
	for _, res := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     res.Version,
			"migration":   res.Name,
			"duration_ms": res.Duration.Milliseconds(),
		}), "migration applied")
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "auto-migrate finished")
	return nil
}
