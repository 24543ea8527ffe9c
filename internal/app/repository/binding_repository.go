package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/PoolURL/internal/app/model"
	"github.com/spaolacci/murmur3"
	"gorm.io/gorm"
)

var (
	// ErrBindingNotFound signals that the requested binding does not exist.
	ErrBindingNotFound = errors.New("binding not found")
	// ErrTokenTaken signals that a live binding already holds the token.
	ErrTokenTaken = errors.New("token already held by a live binding")
	// ErrNoReservedToken signals that no reserved binding could be claimed.
	ErrNoReservedToken = errors.New("no reserved token available")
)

// Invalidator evicts derived state for a token after a binding changes.
type Invalidator interface {
	Invalidate(ctx context.Context, token string)
}

// BindingRepository defines the data access contract for bindings.
type BindingRepository interface {
	FindLiveByToken(ctx context.Context, token string, now time.Time) (*model.Binding, error)
	TokenInUse(ctx context.Context, token string, now time.Time) (bool, error)
	InsertIfTokenFree(ctx context.Context, binding *model.Binding, now time.Time) error
	CountReserved(ctx context.Context) (int64, error)
	ListReserved(ctx context.Context, limit int) ([]model.Binding, error)
	ClaimOneReserved(ctx context.Context, destination string, expiresAt, now time.Time) (*model.Binding, error)
	GetByID(ctx context.Context, id uint64) (*model.Binding, error)
	List(ctx context.Context, limit, offset int) ([]model.Binding, error)
	Update(ctx context.Context, binding *model.Binding, now time.Time) error
	Delete(ctx context.Context, id uint64) error
}

type bindingRepository struct {
	db          *gorm.DB
	invalidator Invalidator
}

// NewBindingRepository returns a GORM-backed BindingRepository. The invalidator may be nil.
func NewBindingRepository(db *gorm.DB, invalidator Invalidator) BindingRepository {
	return &bindingRepository{db: db, invalidator: invalidator}
}

// liveClause matches rows that hold their token: reserved, or not yet expired.
const liveClause = "token = ? AND (destination = ? OR expires_at >= ?)"

func (r *bindingRepository) FindLiveByToken(ctx context.Context, token string, now time.Time) (*model.Binding, error) {
	var binding model.Binding
	err := r.db.WithContext(ctx).
		Select("id", "token", "destination", "expires_at").
		Where("token = ? AND destination <> ? AND expires_at >= ?", token, model.ReservedDestination, now.UTC()).
		Take(&binding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBindingNotFound
		}
		return nil, err
	}
	return &binding, nil
}

func (r *bindingRepository) TokenInUse(ctx context.Context, token string, now time.Time) (bool, error) {
	return tokenInUse(r.db.WithContext(ctx), token, now, 0)
}

func tokenInUse(tx *gorm.DB, token string, now time.Time, excludeID uint64) (bool, error) {
	q := tx.Model(&model.Binding{}).Where(liveClause, token, model.ReservedDestination, now.UTC())
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var ids []uint64
	if err := q.Limit(1).Pluck("id", &ids).Error; err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

// lockToken serializes writers of the same token on Postgres. SQLite already allows one writer at a time.
func lockToken(tx *gorm.DB, token string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	key := int64(murmur3.Sum64([]byte(token)))
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", key).Error
}

func (r *bindingRepository) InsertIfTokenFree(ctx context.Context, binding *model.Binding, now time.Time) error {
	binding.ExpiresAt = binding.ExpiresAt.UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockToken(tx, binding.Token); err != nil {
			return err
		}
		taken, err := tokenInUse(tx, binding.Token, now, 0)
		if err != nil {
			return err
		}
		if taken {
			return ErrTokenTaken
		}
		return tx.Create(binding).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrTokenTaken
	}
	return err
}

func (r *bindingRepository) CountReserved(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Binding{}).
		Where("destination = ?", model.ReservedDestination).
		Count(&count).Error
	return count, err
}

func (r *bindingRepository) ListReserved(ctx context.Context, limit int) ([]model.Binding, error) {
	if limit <= 0 {
		return nil, nil
	}
	var result []model.Binding
	err := r.db.WithContext(ctx).
		Where("destination = ?", model.ReservedDestination).
		Order("id ASC").
		Limit(limit).
		Find(&result).Error
	return result, err
}

func (r *bindingRepository) ClaimOneReserved(ctx context.Context, destination string, expiresAt, now time.Time) (*model.Binding, error) {
	if err := model.ValidateDestination(destination, 0); err != nil {
		return nil, err
	}

	db := r.db.WithContext(ctx)
	var binding model.Binding
	if err := db.Where("destination = ?", model.ReservedDestination).Order("id ASC").Take(&binding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoReservedToken
		}
		return nil, err
	}

	now = now.UTC()
	expiresAt = expiresAt.UTC()
	result := db.Model(&model.Binding{}).
		Where("id = ? AND destination = ?", binding.ID, model.ReservedDestination).
		Updates(map[string]interface{}{
			"destination": destination,
			"expires_at":  expiresAt,
			"created_at":  now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// Another caller claimed the row between the select and the update.
		return nil, ErrNoReservedToken
	}

	binding.Destination = destination
	binding.ExpiresAt = expiresAt
	binding.CreatedAt = now
	binding.UpdatedAt = now
	r.invalidate(ctx, binding.Token)
	return &binding, nil
}

func (r *bindingRepository) GetByID(ctx context.Context, id uint64) (*model.Binding, error) {
	var binding model.Binding
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&binding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBindingNotFound
		}
		return nil, err
	}
	return &binding, nil
}

func (r *bindingRepository) List(ctx context.Context, limit, offset int) ([]model.Binding, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var result []model.Binding
	if err := r.db.WithContext(ctx).
		Where("destination <> ?", model.ReservedDestination).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&result).Error; err != nil {
		return nil, err
	}

	return result, nil
}

func (r *bindingRepository) Update(ctx context.Context, binding *model.Binding, now time.Time) error {
	if !binding.IsReserved() {
		if err := model.ValidateDestination(binding.Destination, 0); err != nil {
			return err
		}
	}
	binding.ExpiresAt = binding.ExpiresAt.UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockToken(tx, binding.Token); err != nil {
			return err
		}
		if binding.IsLive(now) {
			taken, err := tokenInUse(tx, binding.Token, now, binding.ID)
			if err != nil {
				return err
			}
			if taken {
				return ErrTokenTaken
			}
		}

		result := tx.Model(&model.Binding{}).
			Where("id = ?", binding.ID).
			Updates(map[string]interface{}{
				"destination": binding.Destination,
				"expires_at":  binding.ExpiresAt,
				"updated_at":  now.UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBindingNotFound
		}
		return tx.Where("id = ?", binding.ID).First(binding).Error
	})
	if err != nil {
		return err
	}

	r.invalidate(ctx, binding.Token)
	return nil
}

func (r *bindingRepository) Delete(ctx context.Context, id uint64) error {
	var token string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var binding model.Binding
		if err := tx.Select("id", "token").Where("id = ?", id).Take(&binding).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBindingNotFound
			}
			return err
		}
		if err := tx.Where("binding_id = ?", id).Delete(&model.UsageEvent{}).Error; err != nil {
			return fmt.Errorf("delete usage events: %w", err)
		}
		if err := tx.Delete(&model.Binding{}, id).Error; err != nil {
			return err
		}
		token = binding.Token
		return nil
	})
	if err != nil {
		return err
	}

	r.invalidate(ctx, token)
	return nil
}

func (r *bindingRepository) invalidate(ctx context.Context, token string) {
	if r.invalidator != nil {
		r.invalidator.Invalidate(ctx, token)
	}
}
