package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

type paymentRepository struct {
	s *Store
}

func (r *paymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if payment.ID == uuid.Nil {
		payment.Base = model.NewBase(r.s.now())
	}
	if _, ok := r.s.appointments[payment.AppointmentID]; !ok {
		return repository.ErrNotFound
	}
	for _, p := range r.s.payments {
		if p.AppointmentID == payment.AppointmentID || p.TxnRef == payment.TxnRef {
			return repository.ErrDuplicate
		}
	}

	stored := *payment
	r.s.payments[stored.ID] = &stored
	r.s.record(ctx, func() { delete(r.s.payments, stored.ID) })
	return nil
}

func (r *paymentRepository) find(match func(*model.Payment) bool) (*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, p := range r.s.payments {
		if match(p) {
			out := *p
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *paymentRepository) GetByTxnRef(ctx context.Context, txnRef string) (*model.Payment, error) {
	return r.find(func(p *model.Payment) bool { return p.TxnRef == txnRef })
}

func (r *paymentRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.Payment, error) {
	return r.find(func(p *model.Payment) bool { return p.AppointmentID == appointmentID })
}

func (r *paymentRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.PaymentStatus) (*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if p.Status != from {
		return nil, repository.ErrStaleState
	}

	prev := *p
	p.Status = to
	p.UpdatedAt = r.s.now()
	r.s.record(ctx, func() { *p = prev })

	out := *p
	return &out, nil
}
