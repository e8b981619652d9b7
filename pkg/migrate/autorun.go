package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/kitforge-backend/pkg/config"
	"github.com/angelmondragon/kitforge-backend/pkg/db"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations in dev when
// KITFORGE_AUTO_MIGRATE is set. A nil client means no database is configured.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if client == nil || !cfg.App.IsDev() || !cfg.App.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	m, err := New(sqlDB, "", logg)
	if err != nil {
		return err
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	logg.Info(ctx, "migrations.autorun")
	return m.Run(ctx, "up")
}
