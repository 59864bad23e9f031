package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate record")
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrSlotOverlap     = errors.New("slot overlaps an existing slot")
	ErrStaleState      = errors.New("record changed concurrently")
)

// All repository interfaces in one file
type (
	// SlotRepository owns availability slots. Reserve is the only path that
	// sets IsBooked and must be a single conditional write.
	SlotRepository interface {
		// Create fails with ErrSlotOverlap when the doctor already has an
		// overlapping slot on the same date.
		Create(ctx context.Context, slot *model.AvailabilitySlot) error
		Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error)
		List(ctx context.Context, filter model.SlotFilter) ([]*model.AvailabilitySlot, error)
		// Update rewrites an unbooked slot owned by slot.DoctorID.
		Update(ctx context.Context, slot *model.AvailabilitySlot) error
		// Delete removes an unbooked slot owned by doctorID.
		Delete(ctx context.Context, id, doctorID uuid.UUID) error
		// Reserve flips IsBooked false->true for a slot owned by doctorID.
		// Returns ErrNotFound if the slot is absent and ErrSlotUnavailable if
		// it is booked or belongs to someone else.
		Reserve(ctx context.Context, id, doctorID uuid.UUID) (*model.AvailabilitySlot, error)
		// Release sets IsBooked false. Releasing a free slot is a no-op.
		Release(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error)
	}

	AppointmentRepository interface {
		// Create fails with ErrDuplicate when a live appointment already
		// holds the slot.
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error)
		// Transition applies t atomically and returns the updated row, or
		// ErrStaleState when the guard no longer matches.
		Transition(ctx context.Context, id uuid.UUID, t *model.AppointmentTransition) (*model.Appointment, error)
	}

	PaymentRepository interface {
		// Create fails with ErrDuplicate on a second payment for the same
		// appointment or a reused txn ref.
		Create(ctx context.Context, payment *model.Payment) error
		GetByTxnRef(ctx context.Context, txnRef string) (*model.Payment, error)
		GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.Payment, error)
		// Transition moves status from -> to, returning ErrStaleState if the
		// current status is not from.
		Transition(ctx context.Context, id uuid.UUID, from, to model.PaymentStatus) (*model.Payment, error)
	}

	MessageRepository interface {
		Append(ctx context.Context, msg *model.ChatMessage) error
		List(ctx context.Context, appointmentID uuid.UUID) ([]*model.ChatMessage, error)
	}

	UserRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
	}

	DoctorRepository interface {
		// GetFee returns the doctor's current consultation fee, or
		// ErrNotFound when no fee is on record.
		GetFee(ctx context.Context, doctorID uuid.UUID) (int64, error)
	}
)
