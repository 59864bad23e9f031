package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

type appointmentRepository struct {
	s *Store
}

func (r *appointmentRepository) slotHeld(slotID, except uuid.UUID) bool {
	for _, a := range r.s.appointments {
		if a.ID != except && a.SlotID == slotID && a.Status != model.AppointmentStatusCancelled {
			return true
		}
	}
	return false
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if appointment.ID == uuid.Nil {
		appointment.Base = model.NewBase(r.s.now())
	}
	if _, ok := r.s.slots[appointment.SlotID]; !ok {
		return repository.ErrNotFound
	}
	if _, exists := r.s.appointments[appointment.ID]; exists {
		return repository.ErrDuplicate
	}
	if appointment.Status != model.AppointmentStatusCancelled && r.slotHeld(appointment.SlotID, appointment.ID) {
		return repository.ErrDuplicate
	}

	stored := *appointment
	r.s.appointments[stored.ID] = &stored
	r.s.record(ctx, func() { delete(r.s.appointments, stored.ID) })
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (r *appointmentRepository) List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*model.Appointment{}
	for _, a := range r.s.appointments {
		if filter.PatientID != nil && a.PatientID != *filter.PatientID {
			continue
		}
		if filter.DoctorID != nil && a.DoctorID != *filter.DoctorID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *appointmentRepository) Transition(ctx context.Context, id uuid.UUID, t *model.AppointmentTransition) (*model.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !a.Status.In(t.From) {
		return nil, repository.ErrStaleState
	}
	if t.FromSlotID != nil && a.SlotID != *t.FromSlotID {
		return nil, repository.ErrStaleState
	}
	if t.SlotID != nil && t.To != model.AppointmentStatusCancelled && r.slotHeld(*t.SlotID, a.ID) {
		return nil, repository.ErrDuplicate
	}

	prev := *a
	a.Status = t.To
	if t.SlotID != nil {
		a.SlotID = *t.SlotID
	}
	if t.CancelReason != nil {
		reason := *t.CancelReason
		a.CancelReason = &reason
	}
	a.UpdatedAt = r.s.now()
	r.s.record(ctx, func() { *a = prev })

	out := *a
	return &out, nil
}
