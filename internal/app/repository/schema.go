package repository

import (
	"context"
	"fmt"

	"github.com/sifan077/PoolURL/internal/app/model"
	"gorm.io/gorm"
)

// Models lists the tables owned by this package in migration order.
func Models() []interface{} {
	return []interface{}{&model.Binding{}, &model.UsageEvent{}}
}

// EnsureIndexes creates the partial indexes AutoMigrate cannot express.
// Two reserved rows can never share a token, even when writers race past the existence check.
func EnsureIndexes(ctx context.Context, db *gorm.DB) error {
	stmts := []string{
		fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_bindings_reserved_token ON %s (token) WHERE destination = '%s'",
			model.Binding{}.TableName(), model.ReservedDestination,
		),
		fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_bindings_reserved_id ON %s (id) WHERE destination = '%s'",
			model.Binding{}.TableName(), model.ReservedDestination,
		),
	}
	for _, stmt := range stmts {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("repository: ensure indexes: %w", err)
		}
	}
	return nil
}
