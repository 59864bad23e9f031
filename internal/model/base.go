package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains common fields for all models
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewBase stamps a fresh id and timestamps.
func NewBase(now time.Time) Base {
	now = now.UTC()
	return Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
}
