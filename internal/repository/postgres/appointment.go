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
	"github.com/lib/pq"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

const appointmentColumns = `
	id, patient_id, doctor_id, slot_id, status, cancel_reason, created_at, updated_at`

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, patient_id, doctor_id, slot_id, status, cancel_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if appointment.ID == uuid.Nil {
		appointment.Base = model.NewBase(time.Now())
	}

	_, err := r.conn(ctx).ExecContext(ctx, query,
		appointment.ID,
		appointment.PatientID,
		appointment.DoctorID,
		appointment.SlotID,
		appointment.Status,
		appointment.CancelReason,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var appointment model.Appointment
	err := sqlx.GetContext(ctx, r.conn(ctx), &appointment, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return &appointment, nil
}

func (r *appointmentRepository) List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		conds = append(conds, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.DoctorID != nil {
		args = append(args, *filter.DoctorID)
		conds = append(conds, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	appointments := []*model.Appointment{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) Transition(ctx context.Context, id uuid.UUID, t *model.AppointmentTransition) (*model.Appointment, error) {
	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}

	var fromSlot, newSlot, reason interface{}
	if t.FromSlotID != nil {
		fromSlot = *t.FromSlotID
	}
	if t.SlotID != nil {
		newSlot = *t.SlotID
	}
	if t.CancelReason != nil {
		reason = *t.CancelReason
	}

	query := `
		UPDATE appointments
		SET status = $2,
			slot_id = COALESCE($3::uuid, slot_id),
			cancel_reason = COALESCE($4::text, cancel_reason),
			updated_at = NOW()
		WHERE id = $1
		  AND status = ANY($5)
		  AND ($6::uuid IS NULL OR slot_id = $6)
		RETURNING ` + appointmentColumns

	var appointment model.Appointment
	err := sqlx.GetContext(ctx, r.conn(ctx), &appointment, query,
		id, t.To, newSlot, reason, pq.Array(from), fromSlot)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, repository.ErrStaleState
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to transition appointment: %w", err)
	}
	return &appointment, nil
}
