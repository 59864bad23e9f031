package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/service/appointment"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/validator"
)

// Service is the append-only message log for consultation rooms.
type Service struct {
	repo         repository.MessageRepository
	users        repository.UserRepository
	appointments *appointment.Service
	validator    validator.Validator
	logger       zerolog.Logger
}

func NewService(repo repository.MessageRepository, users repository.UserRepository, appointments *appointment.Service, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		users:        users,
		appointments: appointments,
		validator:    validator.New(),
		logger:       logger.With().Str("component", "chat").Logger(),
	}
}

// Append persists a message. Access checks are the caller's job; the log
// only validates the content.
func (s *Service) Append(ctx context.Context, senderID uuid.UUID, req *model.SendMessageRequest) (*model.ChatMessage, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, apperrors.Validation(validator.Humanize(err).Error())
	}

	msg := &model.ChatMessage{
		AppointmentID: req.AppointmentID,
		SenderID:      senderID,
		Text:          req.Text,
		AttachmentURL: req.AttachmentURL,
	}
	if err := s.repo.Append(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("appointment", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to store message: %w", err))
	}
	return msg, nil
}

// History returns the room's messages oldest first with senders resolved.
func (s *Service) History(ctx context.Context, caller model.Caller, appointmentID uuid.UUID) ([]*model.MessageView, error) {
	appt, err := s.appointments.Find(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appointment.CanView(appt, caller) {
		return nil, apperrors.Forbidden("not a participant of this appointment")
	}

	msgs, err := s.repo.List(ctx, appointmentID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	senders := make(map[uuid.UUID]model.Participant)
	out := make([]*model.MessageView, 0, len(msgs))
	for _, m := range msgs {
		p, ok := senders[m.SenderID]
		if !ok {
			p = s.Sender(ctx, m.SenderID)
			senders[m.SenderID] = p
		}
		out = append(out, &model.MessageView{ChatMessage: *m, Sender: p})
	}
	return out, nil
}

// Sender resolves a user to its public identity. Unknown users come back
// with only the id set.
func (s *Service) Sender(ctx context.Context, id uuid.UUID) model.Participant {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn().Err(err).Str("user_id", id.String()).Msg("failed to resolve sender")
		}
		return model.Participant{ID: id}
	}
	return user.Participant()
}
