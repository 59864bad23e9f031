package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-api/internal/repository"
)

type slotRepository struct {
	BaseRepository
}

type appointmentRepository struct {
	BaseRepository
}

type paymentRepository struct {
	BaseRepository
}

type messageRepository struct {
	BaseRepository
}

type userRepository struct {
	BaseRepository
}

type doctorRepository struct {
	BaseRepository
}

func NewSlotRepository(db *sqlx.DB) repository.SlotRepository {
	return &slotRepository{NewBaseRepository(db)}
}

func NewAppointmentRepository(db *sqlx.DB) repository.AppointmentRepository {
	return &appointmentRepository{NewBaseRepository(db)}
}

func NewPaymentRepository(db *sqlx.DB) repository.PaymentRepository {
	return &paymentRepository{NewBaseRepository(db)}
}

func NewMessageRepository(db *sqlx.DB) repository.MessageRepository {
	return &messageRepository{NewBaseRepository(db)}
}

func NewUserRepository(db *sqlx.DB) repository.UserRepository {
	return &userRepository{NewBaseRepository(db)}
}

func NewDoctorRepository(db *sqlx.DB) repository.DoctorRepository {
	return &doctorRepository{NewBaseRepository(db)}
}
