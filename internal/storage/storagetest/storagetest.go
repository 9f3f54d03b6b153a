// Package storagetest opens throwaway SQLite-backed stores for tests.
package storagetest

import (
	"alumnet/backend/internal/config"
	"alumnet/backend/internal/storage"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// NewService returns a migrated storage.Service on a private in-memory database.
func NewService(t testing.TB) *storage.Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := storage.Open(config.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return storage.NewStorageService(db, zap.NewNop())
}
