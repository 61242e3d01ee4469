package models

import (
	"time"

	"github.com/google/uuid"
)

// Thread is a conversation container tied to a fixed participant set.
// Any participant may mutate it; ownership is joint.
type Thread struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantIDs UUIDList    `gorm:"type:text;not null" json:"participant_ids"`
	Prefs          ThreadPrefs `gorm:"type:text" json:"prefs"`
	CreatedAt      time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// HasParticipant reports whether userID belongs to the thread.
func (t *Thread) HasParticipant(userID uuid.UUID) bool {
	return t.ParticipantIDs.Contains(userID)
}
