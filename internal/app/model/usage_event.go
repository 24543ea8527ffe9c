package model

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// UsageEvent records one redirect served for a binding.
type UsageEvent struct {
	ID         uint64    `db:"id" gorm:"primaryKey;autoIncrement"`
	BindingID  uint64    `db:"binding_id" gorm:"not null;index"`
	Binding    *Binding  `gorm:"constraint:OnDelete:CASCADE"`
	ObservedAt time.Time `db:"observed_at" gorm:"not null"`
}

// TableName pins the usage table name.
func (UsageEvent) TableName() string {
	return "usage_events"
}

// BeforeCreate rejects events without a usable timestamp.
func (e *UsageEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ObservedAt.IsZero() {
		return fmt.Errorf("%w: observed_at is required", ErrMalformedTimestamp)
	}
	e.ObservedAt = e.ObservedAt.UTC()
	return nil
}

// UsageMessage is the queued form of a usage event.
type UsageMessage struct {
	BindingID  uint64 `json:"binding_id"`
	ObservedAt string `json:"observed_at"`
}

const (
	UsageStreamName     = "USAGE"
	UsageStreamSubject  = "usage.events"
	UsageConsumerName   = "usage-recorder"
	UsageStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)

// FormatObservedAt renders t in the queued wire format.
func FormatObservedAt(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// observedAtLayouts all carry a zone offset, so a naive value never parses.
var observedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05 -0700",
}

// ParseObservedAt parses a queued timestamp. Values without a zone offset are rejected.
func ParseObservedAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrMalformedTimestamp)
	}
	for _, layout := range observedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, raw)
}
