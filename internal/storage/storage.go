// Package storage persists connections and their message logs through gorm.
// The invariants on both tables are enforced here, inside transactions,
// so that every caller and every instance sees the same rules.
package storage

import (
	"alumnet/backend/internal/config"
	"alumnet/backend/internal/models"
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Storage interface {
	CreateConnection(ctx context.Context, senderID, receiverID string) (*models.Connection, error)
	RespondConnection(ctx context.Context, connectionID, responderID string, decision models.Decision) (*models.Connection, error)
	GetConnection(ctx context.Context, connectionID string) (*models.Connection, error)

	ListIncomingPending(ctx context.Context, userID string) ([]models.Connection, error)
	ListAccepted(ctx context.Context, userID string) ([]models.Connection, error)
	ListForUser(ctx context.Context, userID string) ([]models.Connection, error)

	AppendMessage(ctx context.Context, connectionID, senderID, content string) (*models.Message, error)
	ListHistory(ctx context.Context, connectionID string) ([]models.Message, error)
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
}

type Service struct {
	DB  *gorm.DB
	Log *zap.Logger
}

// NewStorageService Constructor. The DB should be opened with TranslateError
// enabled (see Open) so that unique violations surface as gorm.ErrDuplicatedKey.
func NewStorageService(db *gorm.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{DB: db, Log: log}
}

// Open connects to the configured database.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == config.DriverSQLite {
		// SQLite serializes writers anyway; one connection avoids "database is locked".
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates the connections and messages tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Connection{},
		&models.Message{},
	)
}
