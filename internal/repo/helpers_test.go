package repo

import (
	"testing"

	"github.com/richardliu001/gamestore-wallet/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// newTestDB opens a private in-memory SQLite database. A single connection
// keeps the memory database alive and serialises transactions.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
	db := newTestDB(t)
	return NewRepository(db, nil, nil, zap.NewNop().Sugar()), db
}
