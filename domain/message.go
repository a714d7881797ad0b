package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an immutable chat event. The timestamp is assigned
// by the broker at publish time, never trusted from the client.
type Message struct {
	ID        uuid.UUID
	Room      string
	Author    string
	Content   string
	CreatedAt time.Time
}
