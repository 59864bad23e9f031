package model

import (
	"github.com/google/uuid"
)

// AvailabilitySlot is a doctor-published interval on a calendar date.
// Date is YYYY-MM-DD; StartTime and EndTime are HH:mm local time of day.
type AvailabilitySlot struct {
	Base
	DoctorID  uuid.UUID `json:"doctor_id" db:"doctor_id"`
	Date      string    `json:"date" db:"slot_date"`
	StartTime string    `json:"start_time" db:"start_time"`
	EndTime   string    `json:"end_time" db:"end_time"`
	IsBooked  bool      `json:"is_booked" db:"is_booked"`
}

type CreateSlotRequest struct {
	Date      string `json:"date" validate:"required,date" binding:"required,date"`
	StartTime string `json:"start_time" validate:"required,clock" binding:"required,clock"`
	EndTime   string `json:"end_time" validate:"required,clock" binding:"required,clock"`
}

type UpdateSlotRequest struct {
	Date      *string `json:"date" validate:"omitempty,date" binding:"omitempty,date"`
	StartTime *string `json:"start_time" validate:"omitempty,clock" binding:"omitempty,clock"`
	EndTime   *string `json:"end_time" validate:"omitempty,clock" binding:"omitempty,clock"`
}

type SlotFilter struct {
	DoctorID *uuid.UUID
	Date     string
	OnlyFree bool
}
