package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

const slotColumns = `
	id, doctor_id,
	to_char(slot_date, 'YYYY-MM-DD') AS slot_date,
	left(start_time::text, 5) AS start_time,
	left(end_time::text, 5) AS end_time,
	is_booked, created_at, updated_at`

// lockDoctorDay serialises overlap checks for one doctor and date until the
// surrounding transaction ends.
func lockDoctorDay(ctx context.Context, q sqlx.ExecerContext, doctorID uuid.UUID, date string) error {
	_, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, doctorID.String()+":"+date)
	if err != nil {
		return fmt.Errorf("failed to lock doctor schedule: %w", err)
	}
	return nil
}

func hasOverlap(ctx context.Context, q sqlx.QueryerContext, slot *model.AvailabilitySlot) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM availability_slots
			WHERE doctor_id = $1 AND slot_date = $2
			  AND start_time < $4 AND end_time > $3
			  AND id <> $5
		)
	`
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, query,
		slot.DoctorID, slot.Date, slot.StartTime, slot.EndTime, slot.ID,
	); err != nil {
		return false, fmt.Errorf("failed to check slot overlap: %w", err)
	}
	return exists, nil
}

func (r *slotRepository) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	if slot.ID == uuid.Nil {
		slot.Base = model.NewBase(time.Now())
	}

	return r.WithTx(ctx, func(ctx context.Context) error {
		q := r.conn(ctx)
		if err := lockDoctorDay(ctx, q, slot.DoctorID, slot.Date); err != nil {
			return err
		}
		overlap, err := hasOverlap(ctx, q, slot)
		if err != nil {
			return err
		}
		if overlap {
			return repository.ErrSlotOverlap
		}

		query := `
			INSERT INTO availability_slots (
				id, doctor_id, slot_date, start_time, end_time, is_booked, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
		`
		if _, err := q.ExecContext(ctx, query,
			slot.ID, slot.DoctorID, slot.Date, slot.StartTime, slot.EndTime,
			slot.CreatedAt, slot.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create slot: %w", err)
		}
		slot.IsBooked = false
		return nil
	})
}

func (r *slotRepository) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1`

	var slot model.AvailabilitySlot
	if err := sqlx.GetContext(ctx, r.conn(ctx), &slot, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return &slot, nil
}

func (r *slotRepository) List(ctx context.Context, filter model.SlotFilter) ([]*model.AvailabilitySlot, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.DoctorID != nil {
		args = append(args, *filter.DoctorID)
		conds = append(conds, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if filter.Date != "" {
		args = append(args, filter.Date)
		conds = append(conds, fmt.Sprintf("slot_date = $%d", len(args)))
	}
	if filter.OnlyFree {
		conds = append(conds, "is_booked = FALSE")
	}

	query := `SELECT ` + slotColumns + ` FROM availability_slots`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY slot_date, start_time`

	slots := []*model.AvailabilitySlot{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &slots, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slots, nil
}

func (r *slotRepository) Update(ctx context.Context, slot *model.AvailabilitySlot) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		q := r.conn(ctx)

		var current model.AvailabilitySlot
		err := sqlx.GetContext(ctx, q, &current,
			`SELECT `+slotColumns+` FROM availability_slots WHERE id = $1 AND doctor_id = $2 FOR UPDATE`,
			slot.ID, slot.DoctorID)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load slot: %w", err)
		}
		if current.IsBooked {
			return repository.ErrSlotUnavailable
		}

		if err := lockDoctorDay(ctx, q, slot.DoctorID, slot.Date); err != nil {
			return err
		}
		overlap, err := hasOverlap(ctx, q, slot)
		if err != nil {
			return err
		}
		if overlap {
			return repository.ErrSlotOverlap
		}

		query := `
			UPDATE availability_slots
			SET slot_date = $3, start_time = $4, end_time = $5, updated_at = NOW()
			WHERE id = $1 AND doctor_id = $2 AND is_booked = FALSE
			RETURNING ` + slotColumns
		var updated model.AvailabilitySlot
		err = sqlx.GetContext(ctx, q, &updated, query,
			slot.ID, slot.DoctorID, slot.Date, slot.StartTime, slot.EndTime)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrSlotUnavailable
		}
		if err != nil {
			return fmt.Errorf("failed to update slot: %w", err)
		}
		*slot = updated
		return nil
	})
}

func (r *slotRepository) Delete(ctx context.Context, id, doctorID uuid.UUID) error {
	q := r.conn(ctx)
	result, err := q.ExecContext(ctx,
		`DELETE FROM availability_slots WHERE id = $1 AND doctor_id = $2 AND is_booked = FALSE`,
		id, doctorID)
	if err != nil {
		if isForeignKeyViolation(err) {
			// Historic appointments still point at it.
			return repository.ErrSlotUnavailable
		}
		return fmt.Errorf("failed to delete slot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}
	return r.classifyMiss(ctx, id, &doctorID)
}

func (r *slotRepository) Reserve(ctx context.Context, id, doctorID uuid.UUID) (*model.AvailabilitySlot, error) {
	query := `
		UPDATE availability_slots
		SET is_booked = TRUE, updated_at = NOW()
		WHERE id = $1 AND doctor_id = $2 AND is_booked = FALSE
		RETURNING ` + slotColumns

	var slot model.AvailabilitySlot
	err := sqlx.GetContext(ctx, r.conn(ctx), &slot, query, id, doctorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.classifyMiss(ctx, id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve slot: %w", err)
	}
	return &slot, nil
}

func (r *slotRepository) Release(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	query := `
		UPDATE availability_slots
		SET is_booked = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + slotColumns

	var slot model.AvailabilitySlot
	err := sqlx.GetContext(ctx, r.conn(ctx), &slot, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to release slot: %w", err)
	}
	return &slot, nil
}

// classifyMiss explains why a conditional write matched nothing. When
// doctorID is set, a slot owned by another doctor counts as not found.
func (r *slotRepository) classifyMiss(ctx context.Context, id uuid.UUID, doctorID *uuid.UUID) error {
	query := `SELECT EXISTS (SELECT 1 FROM availability_slots WHERE id = $1 AND ($2::uuid IS NULL OR doctor_id = $2))`
	var owner interface{}
	if doctorID != nil {
		owner = *doctorID
	}
	var exists bool
	if err := sqlx.GetContext(ctx, r.conn(ctx), &exists, query, id, owner); err != nil {
		return fmt.Errorf("failed to check slot: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrSlotUnavailable
}
