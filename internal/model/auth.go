package model

import "github.com/google/uuid"

// Caller is the authenticated principal behind a request or connection.
type Caller struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

func (c Caller) Is(role Role) bool { return c.Role == role }
