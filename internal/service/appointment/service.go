package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/service/notification"
	"github.com/jwalitptl/consult-api/internal/service/slot"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

// Service is the appointment state machine. Every transition is a guarded
// compare-and-set on the appointment row, run in the same transaction as
// the slot writes it depends on.
type Service struct {
	tx       repository.Transactor
	repo     repository.AppointmentRepository
	payments repository.PaymentRepository
	users    repository.UserRepository
	slots    *slot.Service
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(
	tx repository.Transactor,
	repo repository.AppointmentRepository,
	payments repository.PaymentRepository,
	users repository.UserRepository,
	slots *slot.Service,
	notifier notification.Notifier,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	if notifier == nil {
		notifier = notification.NewNop()
	}
	return &Service{
		tx:       tx,
		repo:     repo,
		payments: payments,
		users:    users,
		slots:    slots,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "appointment").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Book reserves the slot and creates a PENDING_PAYMENT appointment for the
// calling patient. Both happen or neither does.
func (s *Service) Book(ctx context.Context, caller model.Caller, req *model.BookAppointmentRequest) (*model.Appointment, error) {
	if !caller.Is(model.RolePatient) {
		return nil, apperrors.Forbidden("only patients can book appointments")
	}

	doctor, err := s.users.Get(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("doctor", err)
		}
		return nil, apperrors.Internal(err)
	}
	if doctor.Role != model.RoleDoctor {
		return nil, apperrors.NotFound("doctor", nil)
	}

	var appt *model.Appointment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		reserved, err := s.slots.Reserve(ctx, req.SlotID, req.DoctorID)
		if err != nil {
			return err
		}

		appt = &model.Appointment{
			PatientID: caller.ID,
			DoctorID:  req.DoctorID,
			SlotID:    reserved.ID,
			Status:    model.AppointmentStatusPendingPayment,
		}
		if err := s.repo.Create(ctx, appt); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperrors.Conflict("slot is not available", err)
			}
			return apperrors.Internal(fmt.Errorf("failed to create appointment: %w", err))
		}

		s.notifyAfterCommit(ctx, model.NotificationBooked, appt, slotData(reserved))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AppointmentTransitions.WithLabelValues(string(appt.Status)).Inc()
	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", appt.SlotID.String()).
		Str("patient_id", appt.PatientID.String()).
		Msg("appointment booked")
	return appt, nil
}

// Find loads an appointment without an authorization check. Callers apply
// the predicate for their operation.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("appointment", err)
		}
		return nil, apperrors.Internal(err)
	}
	return appt, nil
}

func (s *Service) Get(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Appointment, error) {
	appt, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(appt, caller) {
		return nil, apperrors.Forbidden("not a participant of this appointment")
	}
	return appt, nil
}

// ListMine returns the caller's appointments, newest first. Admins see all.
func (s *Service) ListMine(ctx context.Context, caller model.Caller, status model.AppointmentStatus) ([]*model.Appointment, error) {
	filter := model.AppointmentFilter{Status: status}
	switch caller.Role {
	case model.RolePatient:
		filter.PatientID = &caller.ID
	case model.RoleDoctor:
		filter.DoctorID = &caller.ID
	}

	list, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return list, nil
}

// Cancel moves the appointment to CANCELLED and frees its slot.
func (s *Service) Cancel(ctx context.Context, caller model.Caller, id uuid.UUID, reason string) (*model.Appointment, error) {
	appt, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanCancel(appt, caller) {
		return nil, apperrors.Forbidden("only the patient or doctor can cancel this appointment")
	}
	if !appt.Status.In(model.CancellableStatuses) {
		return nil, apperrors.InvalidState(fmt.Sprintf("cannot cancel an appointment in status %s", appt.Status))
	}

	var out *model.Appointment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		out, err = s.cancel(ctx, id, reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("by", caller.ID.String()).
		Msg("appointment cancelled")
	return out, nil
}

// Revoke cancels on behalf of the system, e.g. after a refund. It joins the
// caller's transaction.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, reason string) (*model.Appointment, error) {
	var out *model.Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.cancel(ctx, id, reason)
		return err
	})
	return out, err
}

func (s *Service) cancel(ctx context.Context, id uuid.UUID, reason string) (*model.Appointment, error) {
	t := &model.AppointmentTransition{
		From: model.CancellableStatuses,
		To:   model.AppointmentStatusCancelled,
	}
	if reason != "" {
		t.CancelReason = &reason
	}

	appt, err := s.repo.Transition(ctx, id, t)
	if err != nil {
		return nil, s.transitionError(err, "appointment can no longer be cancelled")
	}

	released, err := s.slots.Release(ctx, appt.SlotID)
	if err != nil {
		return nil, err
	}

	// An unpaid payment must not be confirmable once the slot is gone.
	payment, err := s.payments.GetByAppointment(ctx, id)
	switch {
	case err == nil && payment.Status == model.PaymentStatusInitiated:
		if _, err := s.payments.Transition(ctx, payment.ID, model.PaymentStatusInitiated, model.PaymentStatusFailed); err != nil &&
			!errors.Is(err, repository.ErrStaleState) {
			return nil, apperrors.Internal(fmt.Errorf("failed to void payment: %w", err))
		}
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.Internal(err)
	}

	data := slotData(released)
	if reason != "" {
		data["reason"] = reason
	}
	s.metrics.AppointmentTransitions.WithLabelValues(string(appt.Status)).Inc()
	s.notifyAfterCommit(ctx, model.NotificationCancelled, appt, data)
	return appt, nil
}

// Reschedule moves an active appointment onto another free slot of the same
// doctor. The new slot is reserved before the old one is released, all in
// one transaction, so a failure leaves the appointment untouched.
func (s *Service) Reschedule(ctx context.Context, caller model.Caller, id uuid.UUID, req *model.RescheduleAppointmentRequest) (*model.Appointment, error) {
	appt, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanReschedule(appt, caller) {
		return nil, apperrors.Forbidden("only the patient can reschedule this appointment")
	}
	if !appt.Status.IsActive() {
		return nil, apperrors.InvalidState(fmt.Sprintf("cannot reschedule an appointment in status %s", appt.Status))
	}
	if req.NewSlotID == appt.SlotID {
		return nil, apperrors.InvalidState("appointment already holds this slot")
	}

	target, err := s.slots.Get(ctx, req.NewSlotID)
	if err != nil {
		return nil, err
	}
	if target.DoctorID != appt.DoctorID {
		return nil, apperrors.InvalidState("new slot belongs to a different doctor")
	}

	oldSlotID := appt.SlotID
	var out *model.Appointment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		reserved, err := s.slots.Reserve(ctx, req.NewSlotID, appt.DoctorID)
		if err != nil {
			if apperrors.IsCode(err, apperrors.ErrConflict) {
				return apperrors.InvalidState("new slot is not available")
			}
			return err
		}

		out, err = s.repo.Transition(ctx, id, &model.AppointmentTransition{
			From:       model.ActiveStatuses,
			FromSlotID: &oldSlotID,
			To:         model.AppointmentStatusRescheduled,
			SlotID:     &reserved.ID,
		})
		if err != nil {
			return s.transitionError(err, "appointment changed while rescheduling")
		}

		if _, err := s.slots.Release(ctx, oldSlotID); err != nil {
			return err
		}

		s.notifyAfterCommit(ctx, model.NotificationRescheduled, out, slotData(reserved))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AppointmentTransitions.WithLabelValues(string(out.Status)).Inc()
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("old_slot_id", oldSlotID.String()).
		Str("slot_id", out.SlotID.String()).
		Msg("appointment rescheduled")
	return out, nil
}

// EndConsultation completes an active appointment. The slot stays booked.
func (s *Service) EndConsultation(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Appointment, error) {
	appt, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanEndConsultation(appt, caller) {
		return nil, apperrors.Forbidden("only the doctor can end this consultation")
	}
	if !appt.Status.IsActive() {
		return nil, apperrors.InvalidState(fmt.Sprintf("cannot end a consultation in status %s", appt.Status))
	}

	out, err := s.repo.Transition(ctx, id, &model.AppointmentTransition{
		From: model.ActiveStatuses,
		To:   model.AppointmentStatusCompleted,
	})
	if err != nil {
		return nil, s.transitionError(err, "appointment is no longer active")
	}

	s.metrics.AppointmentTransitions.WithLabelValues(string(out.Status)).Inc()
	s.notifyAfterCommit(ctx, model.NotificationCompleted, out, nil)
	s.logger.Info().Str("appointment_id", id.String()).Msg("consultation completed")
	return out, nil
}

// MarkPaid drives PENDING_PAYMENT to CONFIRMED. It runs inside the payment
// ledger's confirm transaction.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	out, err := s.repo.Transition(ctx, id, &model.AppointmentTransition{
		From: []model.AppointmentStatus{model.AppointmentStatusPendingPayment},
		To:   model.AppointmentStatusConfirmed,
	})
	if err != nil {
		return nil, s.transitionError(err, "appointment is not awaiting payment")
	}
	s.metrics.AppointmentTransitions.WithLabelValues(string(out.Status)).Inc()
	return out, nil
}

func (s *Service) transitionError(err error, staleMsg string) error {
	switch {
	case errors.Is(err, repository.ErrStaleState):
		return apperrors.InvalidState(staleMsg)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound("appointment", err)
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.Conflict("slot is not available", err)
	}
	return apperrors.Internal(err)
}

func (s *Service) notifyAfterCommit(ctx context.Context, kind model.NotificationKind, appt *model.Appointment, data map[string]string) {
	n := model.Notification{
		Kind:          kind,
		AppointmentID: appt.ID,
		RecipientIDs:  []uuid.UUID{appt.PatientID, appt.DoctorID},
		Data:          data,
		OccurredAt:    s.now(),
	}
	repository.AfterCommit(ctx, func(ctx context.Context) { s.notifier.Notify(ctx, n) })
}

func slotData(slot *model.AvailabilitySlot) map[string]string {
	if slot == nil {
		return map[string]string{}
	}
	return map[string]string{
		"date":       slot.Date,
		"start_time": slot.StartTime,
		"end_time":   slot.EndTime,
	}
}
