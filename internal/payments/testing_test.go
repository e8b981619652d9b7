package payments

import (
	"fmt"
	"io"
	"testing"

	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const paymentsTableSQL = `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  external_id TEXT NOT NULL,
  email TEXT NOT NULL,
  user_id TEXT,
  amount_cents INTEGER NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'usd',
  status TEXT NOT NULL,
  product_id TEXT,
  product_name TEXT NOT NULL,
  product_name_source TEXT NOT NULL,
  is_subscription INTEGER NOT NULL DEFAULT 0,
  subscription_id TEXT,
  period_end DATETIME,
  event_type TEXT NOT NULL,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`

const paymentsIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_provider_external_id ON payments (provider, external_id);`

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, db.Exec(paymentsTableSQL).Error)
	require.NoError(t, db.Exec(paymentsIndexSQL).Error)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard})
}
