package domain

import (
	"time"

	"github.com/google/uuid"
)

// Registration ties a participant to an event. Owned by the events
// application; read-only to remindd.
type Registration struct {
	ID      uuid.UUID
	EventID string

	Name  string
	Email string
	Phone string

	CreatedAt time.Time
}
