package model

import (
	"fmt"
	"net/url"
	"time"

	"gorm.io/gorm"
)

// ReservedDestination marks a binding that sits in the pool waiting for a caller.
const ReservedDestination = "https://reserved.invalid/"

// Binding maps a short token to a destination address for a bounded validity window.
type Binding struct {
	ID          uint64    `db:"id" gorm:"primaryKey;autoIncrement"`
	Token       string    `db:"token" gorm:"size:32;not null;index:idx_bindings_token"`
	Destination string    `db:"destination" gorm:"type:text;not null"`
	ExpiresAt   time.Time `db:"expires_at" gorm:"not null;index"`
	CreatedAt   time.Time `db:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `db:"updated_at" gorm:"autoUpdateTime"`
}

// TableName pins the table name used by raw index statements.
func (Binding) TableName() string {
	return "bindings"
}

// IsReserved reports whether the binding is still part of the pool.
func (b *Binding) IsReserved() bool {
	return b.Destination == ReservedDestination
}

// IsLive reports whether the binding holds its token at the given instant.
func (b *Binding) IsLive(now time.Time) bool {
	return b.IsReserved() || !b.ExpiresAt.Before(now)
}

// IsActive reports whether the binding resolves at the given instant.
func (b *Binding) IsActive(now time.Time) bool {
	return !b.IsReserved() && !b.ExpiresAt.Before(now)
}

// BeforeCreate re-validates rows on every insert path.
func (b *Binding) BeforeCreate(tx *gorm.DB) error {
	if b.IsReserved() {
		return nil
	}
	return ValidateDestination(b.Destination, 0)
}

// ValidateDestination checks that dest is an absolute https URL. A maxLen of zero disables the length check.
// The reserved sentinel is rejected so it can only be written by pool replenishment.
func ValidateDestination(dest string, maxLen int) error {
	if dest == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidDestination)
	}
	if dest == ReservedDestination {
		return fmt.Errorf("%w: destination is reserved", ErrInvalidDestination)
	}
	if maxLen > 0 && len(dest) > maxLen {
		return fmt.Errorf("%w: destination longer than %d characters", ErrInvalidDestination, maxLen)
	}

	u, err := url.Parse(dest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: the URL should start with https://", ErrInvalidDestination)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: destination host is required", ErrInvalidDestination)
	}
	return nil
}
