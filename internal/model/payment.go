package model

import (
	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "INITIATED"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

type Payment struct {
	Base
	AppointmentID uuid.UUID     `json:"appointment_id" db:"appointment_id"`
	Amount        int64         `json:"amount" db:"amount"`
	Currency      string        `json:"currency" db:"currency"`
	Status        PaymentStatus `json:"status" db:"status"`
	TxnRef        string        `json:"txn_ref" db:"txn_ref"`
	Method        string        `json:"method" db:"method"`
}

// PaymentIntent is what the client needs to complete a payment.
type PaymentIntent struct {
	TxnRef     string   `json:"txn_ref"`
	Amount     int64    `json:"amount"`
	Currency   string   `json:"currency"`
	PaymentURL string   `json:"payment_url"`
	Payment    *Payment `json:"payment"`
}

type InitPaymentRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id" validate:"required" binding:"required"`
}

type ConfirmPaymentRequest struct {
	TxnRef string `json:"txn_ref" validate:"required" binding:"required"`
}

type RefundPaymentRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id" validate:"required" binding:"required"`
}
