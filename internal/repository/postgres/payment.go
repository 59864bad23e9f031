package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

const paymentColumns = `
	id, appointment_id, amount, currency, status, txn_ref, method, created_at, updated_at`

func (r *paymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	query := `
		INSERT INTO payments (
			id, appointment_id, amount, currency, status, txn_ref, method, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if payment.ID == uuid.Nil {
		payment.Base = model.NewBase(time.Now())
	}

	_, err := r.conn(ctx).ExecContext(ctx, query,
		payment.ID,
		payment.AppointmentID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.TxnRef,
		payment.Method,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByTxnRef(ctx context.Context, txnRef string) (*model.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE txn_ref = $1`, txnRef)
}

func (r *paymentRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE appointment_id = $1`, appointmentID)
}

func (r *paymentRepository) getOne(ctx context.Context, query string, arg interface{}) (*model.Payment, error) {
	var payment model.Payment
	err := sqlx.GetContext(ctx, r.conn(ctx), &payment, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (r *paymentRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.PaymentStatus) (*model.Payment, error) {
	query := `
		UPDATE payments
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + paymentColumns

	var payment model.Payment
	err := sqlx.GetContext(ctx, r.conn(ctx), &payment, query, id, from, to)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := sqlx.GetContext(ctx, r.conn(ctx), &exists,
			`SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id); err != nil {
			return nil, fmt.Errorf("failed to check payment: %w", err)
		}
		if !exists {
			return nil, repository.ErrNotFound
		}
		return nil, repository.ErrStaleState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition payment: %w", err)
	}
	return &payment, nil
}
