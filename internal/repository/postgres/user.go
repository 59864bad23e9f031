package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	err := sqlx.GetContext(ctx, r.conn(ctx), &user,
		`SELECT id, name, email, role FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *doctorRepository) GetFee(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	var fee int64
	err := sqlx.GetContext(ctx, r.conn(ctx), &fee,
		`SELECT fee FROM doctor_profiles WHERE doctor_id = $1`, doctorID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repository.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get doctor fee: %w", err)
	}
	return fee, nil
}
