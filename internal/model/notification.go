package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationKind string

const (
	NotificationBooked      NotificationKind = "appointment.booked"
	NotificationConfirmed   NotificationKind = "payment.confirmed"
	NotificationCancelled   NotificationKind = "appointment.cancelled"
	NotificationRescheduled NotificationKind = "appointment.rescheduled"
	NotificationRefunded    NotificationKind = "payment.refunded"
	NotificationCompleted   NotificationKind = "appointment.completed"
)

// Notification is a status-change event addressed to appointment
// participants. It travels over the broker as JSON.
type Notification struct {
	Kind          NotificationKind  `json:"kind"`
	AppointmentID uuid.UUID         `json:"appointment_id"`
	RecipientIDs  []uuid.UUID       `json:"recipient_ids"`
	Data          map[string]string `json:"data,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}
