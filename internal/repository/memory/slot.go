package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/schedule"
)

type slotRepository struct {
	s *Store
}

func (r *slotRepository) overlaps(slot *model.AvailabilitySlot) bool {
	want, err := schedule.ParseInterval(slot.StartTime, slot.EndTime)
	if err != nil {
		return false
	}
	for _, other := range r.s.slots {
		if other.ID == slot.ID || other.DoctorID != slot.DoctorID || other.Date != slot.Date {
			continue
		}
		have, err := schedule.ParseInterval(other.StartTime, other.EndTime)
		if err != nil {
			continue
		}
		if want.Overlaps(have) {
			return true
		}
	}
	return false
}

func (r *slotRepository) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if slot.ID == uuid.Nil {
		slot.Base = model.NewBase(r.s.now())
	}
	if r.overlaps(slot) {
		return repository.ErrSlotOverlap
	}

	slot.IsBooked = false
	stored := *slot
	r.s.slots[slot.ID] = &stored
	r.s.record(ctx, func() { delete(r.s.slots, stored.ID) })
	return nil
}

func (r *slotRepository) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	slot, ok := r.s.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *slot
	return &out, nil
}

func (r *slotRepository) List(ctx context.Context, filter model.SlotFilter) ([]*model.AvailabilitySlot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	slots := []*model.AvailabilitySlot{}
	for _, slot := range r.s.slots {
		if filter.DoctorID != nil && slot.DoctorID != *filter.DoctorID {
			continue
		}
		if filter.Date != "" && slot.Date != filter.Date {
			continue
		}
		if filter.OnlyFree && slot.IsBooked {
			continue
		}
		out := *slot
		slots = append(slots, &out)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Date != slots[j].Date {
			return slots[i].Date < slots[j].Date
		}
		return slots[i].StartTime < slots[j].StartTime
	})
	return slots, nil
}

func (r *slotRepository) Update(ctx context.Context, slot *model.AvailabilitySlot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.slots[slot.ID]
	if !ok || current.DoctorID != slot.DoctorID {
		return repository.ErrNotFound
	}
	if current.IsBooked {
		return repository.ErrSlotUnavailable
	}
	if r.overlaps(slot) {
		return repository.ErrSlotOverlap
	}

	prev := *current
	current.Date = slot.Date
	current.StartTime = slot.StartTime
	current.EndTime = slot.EndTime
	current.UpdatedAt = r.s.now()
	r.s.record(ctx, func() { *current = prev })

	*slot = *current
	return nil
}

func (r *slotRepository) Delete(ctx context.Context, id, doctorID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	slot, ok := r.s.slots[id]
	if !ok || slot.DoctorID != doctorID {
		return repository.ErrNotFound
	}
	if slot.IsBooked {
		return repository.ErrSlotUnavailable
	}
	for _, a := range r.s.appointments {
		if a.SlotID == id {
			return repository.ErrSlotUnavailable
		}
	}

	delete(r.s.slots, id)
	r.s.record(ctx, func() { r.s.slots[id] = slot })
	return nil
}

func (r *slotRepository) Reserve(ctx context.Context, id, doctorID uuid.UUID) (*model.AvailabilitySlot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	slot, ok := r.s.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if slot.DoctorID != doctorID || slot.IsBooked {
		return nil, repository.ErrSlotUnavailable
	}

	prev := *slot
	slot.IsBooked = true
	slot.UpdatedAt = r.s.now()
	r.s.record(ctx, func() { *slot = prev })

	out := *slot
	return &out, nil
}

func (r *slotRepository) Release(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	slot, ok := r.s.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if slot.IsBooked {
		prev := *slot
		slot.IsBooked = false
		slot.UpdatedAt = r.s.now()
		r.s.record(ctx, func() { *slot = prev })
	}

	out := *slot
	return &out, nil
}
