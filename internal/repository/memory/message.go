package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

type messageRepository struct {
	s *Store
}

func (r *messageRepository) Append(ctx context.Context, msg *model.ChatMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.appointments[msg.AppointmentID]; !ok {
		return repository.ErrNotFound
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	log := r.s.messages[msg.AppointmentID]
	now := r.s.now()
	// Keep createdAt non-decreasing within a room even if the clock steps back.
	if n := len(log); n > 0 && now.Before(log[n-1].CreatedAt) {
		now = log[n-1].CreatedAt
	}
	r.s.seq++
	msg.Seq = r.s.seq
	msg.CreatedAt = now

	stored := *msg
	r.s.messages[msg.AppointmentID] = append(log, &stored)
	r.s.record(ctx, func() {
		r.s.messages[stored.AppointmentID] = r.s.messages[stored.AppointmentID][:len(log)]
	})
	return nil
}

func (r *messageRepository) List(ctx context.Context, appointmentID uuid.UUID) ([]*model.ChatMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	log := r.s.messages[appointmentID]
	out := make([]*model.ChatMessage, len(log))
	for i, m := range log {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}
