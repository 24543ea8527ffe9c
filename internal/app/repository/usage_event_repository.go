package repository

import (
	"context"
	"errors"

	"github.com/sifan077/PoolURL/internal/app/model"
	"gorm.io/gorm"
)

// UsageEventRepository defines the data access contract for usage events.
type UsageEventRepository interface {
	// Create returns ErrBindingNotFound when the binding is already gone.
	Create(ctx context.Context, event *model.UsageEvent) error
	CountByBinding(ctx context.Context, bindingID uint64) (int64, error)
}

type usageEventRepository struct {
	db *gorm.DB
}

// NewUsageEventRepository returns a GORM-backed UsageEventRepository.
func NewUsageEventRepository(db *gorm.DB) UsageEventRepository {
	return &usageEventRepository{db: db}
}

func (r *usageEventRepository) Create(ctx context.Context, event *model.UsageEvent) error {
	err := r.db.WithContext(ctx).Omit("Binding").Create(event).Error
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return ErrBindingNotFound
	}
	return err
}

func (r *usageEventRepository) CountByBinding(ctx context.Context, bindingID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.UsageEvent{}).
		Where("binding_id = ?", bindingID).
		Count(&count).Error
	return count, err
}
