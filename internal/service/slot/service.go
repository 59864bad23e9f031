package slot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/schedule"
	"github.com/jwalitptl/consult-api/pkg/cache"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

// Service is the slot store: doctors publish availability here and the
// appointment engine reserves and releases through it.
type Service struct {
	repo     repository.SlotRepository
	cache    cache.Cache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewService(repo repository.SlotRepository, c cache.Cache, cacheTTL time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if c == nil {
		c = cache.NewNoop()
	}
	return &Service{
		repo:     repo,
		cache:    c,
		cacheTTL: cacheTTL,
		metrics:  m,
		logger:   logger.With().Str("component", "slot").Logger(),
	}
}

func freeKeyPrefix(doctorID uuid.UUID) string {
	return "slots:free:" + doctorID.String() + ":"
}

func freeKey(doctorID uuid.UUID, date string) string {
	if date == "" {
		date = "all"
	}
	return freeKeyPrefix(doctorID) + date
}

func validateWindow(date, start, end string) error {
	if _, err := schedule.ParseDate(date); err != nil {
		return apperrors.Validation("date must be in YYYY-MM-DD format")
	}
	if _, err := schedule.ParseInterval(start, end); err != nil {
		if errors.Is(err, schedule.ErrInvalidInterval) {
			return apperrors.Validation("end_time must be after start_time")
		}
		return apperrors.Validation("start_time and end_time must be in HH:mm format")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, doctorID uuid.UUID, req *model.CreateSlotRequest) (*model.AvailabilitySlot, error) {
	if err := validateWindow(req.Date, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	slot := &model.AvailabilitySlot{
		DoctorID:  doctorID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	if err := s.repo.Create(ctx, slot); err != nil {
		if errors.Is(err, repository.ErrSlotOverlap) {
			return nil, apperrors.Conflict("slot overlaps an existing slot", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to create slot: %w", err))
	}

	s.Invalidate(ctx, doctorID)
	s.logger.Info().
		Str("slot_id", slot.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("date", slot.Date).
		Msg("slot created")
	return slot, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	slot, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("slot", err)
		}
		return nil, apperrors.Internal(err)
	}
	return slot, nil
}

// ListForDoctor returns every slot the doctor owns, booked or not.
func (s *Service) ListForDoctor(ctx context.Context, doctorID uuid.UUID, date string) ([]*model.AvailabilitySlot, error) {
	if date != "" {
		if _, err := schedule.ParseDate(date); err != nil {
			return nil, apperrors.Validation("date must be in YYYY-MM-DD format")
		}
	}
	slots, err := s.repo.List(ctx, model.SlotFilter{DoctorID: &doctorID, Date: date})
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return slots, nil
}

// ListAvailable returns the doctor's unbooked slots. Results are cached
// briefly; every write to the doctor's slots drops the cache.
func (s *Service) ListAvailable(ctx context.Context, doctorID uuid.UUID, date string) ([]*model.AvailabilitySlot, error) {
	if date != "" {
		if _, err := schedule.ParseDate(date); err != nil {
			return nil, apperrors.Validation("date must be in YYYY-MM-DD format")
		}
	}

	key := freeKey(doctorID, date)
	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("slot cache read failed")
	} else if ok {
		var slots []*model.AvailabilitySlot
		if err := json.Unmarshal(raw, &slots); err == nil {
			s.metrics.CacheLookups.WithLabelValues("hit").Inc()
			return slots, nil
		}
	}
	s.metrics.CacheLookups.WithLabelValues("miss").Inc()

	slots, err := s.repo.List(ctx, model.SlotFilter{DoctorID: &doctorID, Date: date, OnlyFree: true})
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	if raw, err := json.Marshal(slots); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("slot cache write failed")
		}
	}
	return slots, nil
}

func (s *Service) Update(ctx context.Context, doctorID, slotID uuid.UUID, req *model.UpdateSlotRequest) (*model.AvailabilitySlot, error) {
	current, err := s.repo.Get(ctx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("slot", err)
		}
		return nil, apperrors.Internal(err)
	}
	if current.DoctorID != doctorID {
		return nil, apperrors.NotFound("slot", nil)
	}

	next := *current
	if req.Date != nil {
		next.Date = *req.Date
	}
	if req.StartTime != nil {
		next.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		next.EndTime = *req.EndTime
	}
	if err := validateWindow(next.Date, next.StartTime, next.EndTime); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, &next); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.NotFound("slot", err)
		case errors.Is(err, repository.ErrSlotUnavailable):
			return nil, apperrors.InvalidState("booked slots cannot be changed")
		case errors.Is(err, repository.ErrSlotOverlap):
			return nil, apperrors.Conflict("slot overlaps an existing slot", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to update slot: %w", err))
	}

	s.Invalidate(ctx, doctorID)
	return &next, nil
}

func (s *Service) Delete(ctx context.Context, doctorID, slotID uuid.UUID) error {
	if err := s.repo.Delete(ctx, slotID, doctorID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return apperrors.NotFound("slot", err)
		case errors.Is(err, repository.ErrSlotUnavailable):
			return apperrors.InvalidState("slot is booked or has appointment history")
		}
		return apperrors.Internal(fmt.Errorf("failed to delete slot: %w", err))
	}
	s.Invalidate(ctx, doctorID)
	return nil
}

// Reserve claims a free slot for doctorID. Exactly one concurrent caller
// wins; the rest get a Conflict.
func (s *Service) Reserve(ctx context.Context, slotID, doctorID uuid.UUID) (*model.AvailabilitySlot, error) {
	slot, err := s.repo.Reserve(ctx, slotID, doctorID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			s.metrics.SlotReservations.WithLabelValues("not_found").Inc()
			return nil, apperrors.NotFound("slot", err)
		case errors.Is(err, repository.ErrSlotUnavailable):
			s.metrics.SlotReservations.WithLabelValues("conflict").Inc()
			return nil, apperrors.Conflict("slot is not available", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to reserve slot: %w", err))
	}
	s.metrics.SlotReservations.WithLabelValues("reserved").Inc()

	repository.AfterCommit(ctx, func(ctx context.Context) { s.Invalidate(context.WithoutCancel(ctx), doctorID) })
	return slot, nil
}

// Release frees a slot. Releasing a free slot is a no-op.
func (s *Service) Release(ctx context.Context, slotID uuid.UUID) (*model.AvailabilitySlot, error) {
	slot, err := s.repo.Release(ctx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("slot", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to release slot: %w", err))
	}

	repository.AfterCommit(ctx, func(ctx context.Context) { s.Invalidate(context.WithoutCancel(ctx), slot.DoctorID) })
	return slot, nil
}

// Invalidate drops every cached free-slot listing for the doctor.
func (s *Service) Invalidate(ctx context.Context, doctorID uuid.UUID) {
	if err := s.cache.DeletePrefix(ctx, freeKeyPrefix(doctorID)); err != nil {
		s.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("slot cache invalidation failed")
	}
}
