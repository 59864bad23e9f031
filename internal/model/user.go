package model

import (
	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// User is the read-only directory view of an account owned by the
// identity service.
type User struct {
	ID    uuid.UUID `json:"id" db:"id"`
	Name  string    `json:"name" db:"name"`
	Email string    `json:"email" db:"email"`
	Role  Role      `json:"role" db:"role"`
}

// Participant is the public identity attached to chat messages.
type Participant struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role Role      `json:"role"`
}

func (u *User) Participant() Participant {
	return Participant{ID: u.ID, Name: u.Name, Role: u.Role}
}
