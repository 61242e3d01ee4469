package models

import (
	"time"

	"github.com/google/uuid"
)

// Message belongs to a thread whose participants are a superset of
// {SenderID} ∪ RecipientIDs. Messages are only ever soft-deleted: DeletedAt
// is set, the row stays.
type Message struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	ThreadID     uuid.UUID     `gorm:"type:uuid;not null;index" json:"thread_id"`
	SenderID     uuid.UUID     `gorm:"type:uuid;not null;index" json:"sender_id"`
	RecipientIDs UUIDList      `gorm:"type:text" json:"recipient_ids"`
	Content      string        `gorm:"type:text;not null;index" json:"content"`
	CreatedAt    time.Time     `gorm:"index" json:"created_at"`
	ReadBy       ReadReceipts  `gorm:"type:text" json:"read_by"`
	IsStarred    bool          `gorm:"default:false" json:"is_starred"`
	IsArchived   bool          `gorm:"default:false" json:"is_archived"`
	DeletedAt    *time.Time    `json:"deleted_at,omitempty"`
	DeletedBy    *uuid.UUID    `gorm:"type:uuid" json:"deleted_by,omitempty"`
	EditedAt     *time.Time    `json:"edited_at,omitempty"`
	EditHistory  EditRevisions `gorm:"type:text" json:"edit_history,omitempty"`
}

// IsDeleted reports whether the message is currently soft-deleted.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Snapshot captures the reversible fields for the bulk operation journal.
func (m *Message) Snapshot() MessageSnapshot {
	return MessageSnapshot{
		MessageID: m.ID,
		ReadBy:    m.ReadBy,
		DeletedAt: m.DeletedAt,
		DeletedBy: m.DeletedBy,
	}
}
