package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

// Append stores msg and fills in the database-assigned CreatedAt and Seq so
// the caller broadcasts exactly what was persisted.
func (r *messageRepository) Append(ctx context.Context, msg *model.ChatMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	query := `
		INSERT INTO chat_messages (id, appointment_id, sender_id, text, attachment_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq, created_at
	`
	row := r.conn(ctx).QueryRowxContext(ctx, query,
		msg.ID, msg.AppointmentID, msg.SenderID, msg.Text, msg.AttachmentURL)
	if err := row.Scan(&msg.Seq, &msg.CreatedAt); err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

func (r *messageRepository) List(ctx context.Context, appointmentID uuid.UUID) ([]*model.ChatMessage, error) {
	query := `
		SELECT seq, id, appointment_id, sender_id, text, attachment_url, created_at
		FROM chat_messages
		WHERE appointment_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	messages := []*model.ChatMessage{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &messages, query, appointmentID); err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	return messages, nil
}
