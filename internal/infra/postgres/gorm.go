package postgres

import (
	"context"
	"fmt"

	"github.com/sifan077/PoolURL/config"
	"github.com/sifan077/PoolURL/internal/app/repository"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewGorm returns a gorm.DB for the application's Postgres instance.
// Driver errors are translated so duplicate keys surface as gorm.ErrDuplicatedKey.
func NewGorm(cfg config.PostgresConfig) (*gorm.DB, error) {
	settings, err := Settings(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(ConnString(cfg)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open gorm connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: retrieve sql db: %w", err)
	}

	if settings.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(int(settings.MaxConns))
	}
	if settings.MinConns > 0 {
		sqlDB.SetMaxIdleConns(int(settings.MinConns))
	}
	sqlDB.SetConnMaxLifetime(settings.MaxConnLifetime)
	if settings.MaxConnIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(settings.MaxConnIdleTime)
	}

	return db, nil
}

// Migrate creates the binding and usage tables plus the partial indexes on reserved rows.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := AutoMigrate(ctx, db, repository.Models()...); err != nil {
		return err
	}
	if err := repository.EnsureIndexes(ctx, db); err != nil {
		return fmt.Errorf("postgres: ensure indexes: %w", err)
	}
	return nil
}

// AutoMigrate uses GORM to perform schema migrations for the provided models.
func AutoMigrate(ctx context.Context, db *gorm.DB, models ...interface{}) error {
	if db == nil || len(models) == 0 {
		return nil
	}

	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("postgres: auto migrate: %w", err)
	}

	return nil
}
