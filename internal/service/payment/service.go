package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/consult-api/internal/config"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/service/appointment"
	"github.com/jwalitptl/consult-api/internal/service/notification"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

// Service is the payment ledger. Confirm and refund change the payment and
// the appointment in one transaction.
type Service struct {
	tx           repository.Transactor
	repo         repository.PaymentRepository
	doctors      repository.DoctorRepository
	appointments *appointment.Service
	notifier     notification.Notifier
	cfg          config.PaymentConfig
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	newTxnRef    func() string
}

func NewService(
	tx repository.Transactor,
	repo repository.PaymentRepository,
	doctors repository.DoctorRepository,
	appointments *appointment.Service,
	notifier notification.Notifier,
	cfg config.PaymentConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	if notifier == nil {
		notifier = notification.NewNop()
	}
	return &Service{
		tx:           tx,
		repo:         repo,
		doctors:      doctors,
		appointments: appointments,
		notifier:     notifier,
		cfg:          cfg,
		metrics:      m,
		logger:       logger.With().Str("component", "payment").Logger(),
		newTxnRef:    NewTxnRef,
	}
}

// NewTxnRef returns a reference of the form TXN-<16 upper-case hex digits>.
func NewTxnRef() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TXN-" + strings.ToUpper(raw[:16])
}

// Init opens a payment for a PENDING_PAYMENT appointment. Calling it again
// returns the payment already on record.
func (s *Service) Init(ctx context.Context, caller model.Caller, appointmentID uuid.UUID) (*model.PaymentIntent, error) {
	appt, err := s.appointments.Find(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appointment.CanPay(appt, caller) {
		return nil, apperrors.Forbidden("only the patient can pay for this appointment")
	}
	if appt.Status != model.AppointmentStatusPendingPayment {
		return nil, apperrors.InvalidState(fmt.Sprintf("appointment is %s, not awaiting payment", appt.Status))
	}

	existing, err := s.repo.GetByAppointment(ctx, appointmentID)
	if err == nil {
		return s.intent(existing), nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	amount, err := s.doctors.GetFee(ctx, appt.DoctorID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Internal(fmt.Errorf("failed to resolve fee: %w", err))
		}
		amount = s.cfg.DefaultFee
	}

	payment := &model.Payment{
		AppointmentID: appointmentID,
		Amount:        amount,
		Currency:      s.cfg.Currency,
		Status:        model.PaymentStatusInitiated,
		TxnRef:        s.newTxnRef(),
		Method:        s.cfg.Method,
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			s.metrics.PaymentOperations.WithLabelValues("init", "error").Inc()
			return nil, apperrors.Internal(fmt.Errorf("failed to create payment: %w", err))
		}
		// Lost a race with a concurrent init for the same appointment.
		existing, err := s.repo.GetByAppointment(ctx, appointmentID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		return s.intent(existing), nil
	}

	s.metrics.PaymentOperations.WithLabelValues("init", "ok").Inc()
	s.logger.Info().
		Str("appointment_id", appointmentID.String()).
		Str("txn_ref", payment.TxnRef).
		Int64("amount", payment.Amount).
		Msg("payment initiated")
	return s.intent(payment), nil
}

// Confirm settles the payment behind txnRef and confirms its appointment.
func (s *Service) Confirm(ctx context.Context, txnRef string) (*model.Payment, error) {
	var out *model.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		payment, err := s.repo.GetByTxnRef(ctx, txnRef)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NotFound("payment", err)
			}
			return apperrors.Internal(err)
		}
		if err := settleable(payment.Status); err != nil {
			return err
		}

		out, err = s.repo.Transition(ctx, payment.ID, model.PaymentStatusInitiated, model.PaymentStatusSuccess)
		if err != nil {
			if !errors.Is(err, repository.ErrStaleState) {
				return apperrors.Internal(err)
			}
			current, rerr := s.repo.GetByTxnRef(ctx, txnRef)
			if rerr != nil {
				return apperrors.Internal(rerr)
			}
			if err := settleable(current.Status); err != nil {
				return err
			}
			return apperrors.InvalidState("payment changed concurrently")
		}

		appt, err := s.appointments.MarkPaid(ctx, payment.AppointmentID)
		if err != nil {
			return err
		}

		s.notifyAfterCommit(ctx, model.NotificationConfirmed, appt, out)
		return nil
	})
	if err != nil {
		s.metrics.PaymentOperations.WithLabelValues("confirm", outcome(err)).Inc()
		return nil, err
	}

	s.metrics.PaymentOperations.WithLabelValues("confirm", "ok").Inc()
	s.logger.Info().
		Str("appointment_id", out.AppointmentID.String()).
		Str("txn_ref", out.TxnRef).
		Msg("payment confirmed")
	return out, nil
}

func settleable(status model.PaymentStatus) error {
	switch status {
	case model.PaymentStatusInitiated:
		return nil
	case model.PaymentStatusSuccess:
		return apperrors.AlreadyConfirmed("payment is already confirmed")
	}
	return apperrors.InvalidState(fmt.Sprintf("payment is %s", status))
}

// Refund returns a settled payment and cancels the appointment through the
// engine's cancel path, which frees the slot.
func (s *Service) Refund(ctx context.Context, caller model.Caller, appointmentID uuid.UUID) (*model.Payment, error) {
	if !appointment.CanRefund(caller) {
		return nil, apperrors.Forbidden("only administrators can issue refunds")
	}

	var out *model.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		payment, err := s.repo.GetByAppointment(ctx, appointmentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NotFound("payment", err)
			}
			return apperrors.Internal(err)
		}
		if payment.Status != model.PaymentStatusSuccess {
			return apperrors.InvalidState(fmt.Sprintf("cannot refund a payment in status %s", payment.Status))
		}

		out, err = s.repo.Transition(ctx, payment.ID, model.PaymentStatusSuccess, model.PaymentStatusRefunded)
		if err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return apperrors.InvalidState("payment changed concurrently")
			}
			return apperrors.Internal(err)
		}

		appt, err := s.appointments.Revoke(ctx, appointmentID, "payment refunded")
		if err != nil {
			return err
		}

		s.notifyAfterCommit(ctx, model.NotificationRefunded, appt, out)
		return nil
	})
	if err != nil {
		s.metrics.PaymentOperations.WithLabelValues("refund", outcome(err)).Inc()
		return nil, err
	}

	s.metrics.PaymentOperations.WithLabelValues("refund", "ok").Inc()
	s.logger.Info().
		Str("appointment_id", appointmentID.String()).
		Str("txn_ref", out.TxnRef).
		Str("by", caller.ID.String()).
		Msg("payment refunded")
	return out, nil
}

func (s *Service) GetForAppointment(ctx context.Context, caller model.Caller, appointmentID uuid.UUID) (*model.Payment, error) {
	appt, err := s.appointments.Find(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appointment.CanView(appt, caller) {
		return nil, apperrors.Forbidden("not a participant of this appointment")
	}

	payment, err := s.repo.GetByAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("payment", err)
		}
		return nil, apperrors.Internal(err)
	}
	return payment, nil
}

func (s *Service) intent(p *model.Payment) *model.PaymentIntent {
	return &model.PaymentIntent{
		TxnRef:     p.TxnRef,
		Amount:     p.Amount,
		Currency:   p.Currency,
		PaymentURL: strings.TrimRight(s.cfg.ClientURL, "/") + "/payment/" + p.TxnRef,
		Payment:    p,
	}
}

func (s *Service) notifyAfterCommit(ctx context.Context, kind model.NotificationKind, appt *model.Appointment, p *model.Payment) {
	n := model.Notification{
		Kind:          kind,
		AppointmentID: appt.ID,
		RecipientIDs:  []uuid.UUID{appt.PatientID},
		Data: map[string]string{
			"amount":   strconv.FormatInt(p.Amount, 10),
			"currency": p.Currency,
			"txn_ref":  p.TxnRef,
		},
		OccurredAt: time.Now().UTC(),
	}
	repository.AfterCommit(ctx, func(ctx context.Context) { s.notifier.Notify(ctx, n) })
}

func outcome(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		return strings.ToLower(appErr.Code.String())
	}
	return "error"
}
