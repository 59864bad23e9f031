package model

import (
	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusPendingPayment AppointmentStatus = "PENDING_PAYMENT"
	AppointmentStatusConfirmed      AppointmentStatus = "CONFIRMED"
	AppointmentStatusRescheduled    AppointmentStatus = "RESCHEDULED"
	AppointmentStatusCancelled      AppointmentStatus = "CANCELLED"
	AppointmentStatusCompleted      AppointmentStatus = "COMPLETED"
)

// ActiveStatuses are the paid, not yet finished states. RESCHEDULED keeps
// every right CONFIRMED has.
var ActiveStatuses = []AppointmentStatus{
	AppointmentStatusConfirmed,
	AppointmentStatusRescheduled,
}

// CancellableStatuses are the states cancel may leave from.
var CancellableStatuses = []AppointmentStatus{
	AppointmentStatusPendingPayment,
	AppointmentStatusConfirmed,
	AppointmentStatusRescheduled,
}

func (s AppointmentStatus) IsActive() bool {
	return s == AppointmentStatusConfirmed || s == AppointmentStatusRescheduled
}

func (s AppointmentStatus) IsTerminal() bool {
	return s == AppointmentStatusCancelled || s == AppointmentStatusCompleted
}

func (s AppointmentStatus) In(set []AppointmentStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

type Appointment struct {
	Base
	PatientID    uuid.UUID         `json:"patient_id" db:"patient_id"`
	DoctorID     uuid.UUID         `json:"doctor_id" db:"doctor_id"`
	SlotID       uuid.UUID         `json:"slot_id" db:"slot_id"`
	Status       AppointmentStatus `json:"status" db:"status"`
	CancelReason *string           `json:"cancel_reason,omitempty" db:"cancel_reason"`
}

func (a *Appointment) IsParticipant(userID uuid.UUID) bool {
	return a.PatientID == userID || a.DoctorID == userID
}

type BookAppointmentRequest struct {
	DoctorID uuid.UUID `json:"doctor_id" validate:"required" binding:"required"`
	SlotID   uuid.UUID `json:"slot_id" validate:"required" binding:"required"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"max=500" binding:"max=500"`
}

type RescheduleAppointmentRequest struct {
	NewSlotID uuid.UUID `json:"new_slot_id" validate:"required" binding:"required"`
}

type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    AppointmentStatus
}

// AppointmentTransition is a compare-and-set on an appointment row: it only
// applies while the current status is one of From (and, when FromSlotID is
// set, while the appointment still holds that slot).
type AppointmentTransition struct {
	From         []AppointmentStatus
	FromSlotID   *uuid.UUID
	To           AppointmentStatus
	SlotID       *uuid.UUID
	CancelReason *string
}
