package model

import (
	"time"

	"github.com/google/uuid"
)

type ChatMessage struct {
	ID            uuid.UUID `json:"id" db:"id"`
	AppointmentID uuid.UUID `json:"appointment_id" db:"appointment_id"`
	SenderID      uuid.UUID `json:"sender_id" db:"sender_id"`
	Text          string    `json:"text,omitempty" db:"text"`
	AttachmentURL string    `json:"attachment_url,omitempty" db:"attachment_url"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	// Seq breaks createdAt ties in persistence order.
	Seq int64 `json:"-" db:"seq"`
}

// MessageView is a persisted message with its sender resolved.
type MessageView struct {
	ChatMessage
	Sender Participant `json:"sender"`
}

type SendMessageRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id" validate:"required"`
	Text          string    `json:"text" validate:"required_without=AttachmentURL,max=4000"`
	AttachmentURL string    `json:"attachment_url" validate:"omitempty,url"`
}
