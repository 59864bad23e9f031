package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

type userRepository struct {
	s *Store
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (r *userRepository) GetFee(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	fee, ok := r.s.fees[doctorID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return fee, nil
}
