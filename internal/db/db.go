package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"growhub-backend/config"
	"growhub-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Println("Running database migrations...")
	if err := Migrate(gormDB); err != nil {
		return nil, fmt.Errorf("automigrate failed: %w", err)
	}

	log.Println("Database initialization complete.")
	return gormDB, nil
}

// Migrate creates or updates the schema for every engine entity. Exposed
// separately so tests can migrate an in-memory database.
func Migrate(gormDB *gorm.DB) error {
	return gormDB.AutoMigrate(
		&model.Location{},
		&model.LocationShare{},
		&model.Device{},
		&model.DeviceShare{},
		&model.DeviceAssignment{},
		&model.Plant{},
		&model.PhaseTemplate{},
		&model.PhaseHistory{},
		&model.LogEntry{},
		&model.EnvironmentLog{},
		&model.PushSubscription{},
	)
}

// LockForUpdate adds a row-level write lock to the query on databases that
// support it. SQLite serializes writers on its own and rejects FOR UPDATE,
// so the clause is skipped there.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
