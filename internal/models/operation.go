package models

import (
	"time"

	"github.com/google/uuid"
)

// OperationType identifies what a bulk operation did to its messages.
type OperationType string

const (
	OperationDelete   OperationType = "delete"
	OperationMarkRead OperationType = "mark_read"
)

// BulkOperation is the journal entry written in the same transaction as the
// bulk mutation it describes. It stores enough prior state to reverse the
// mutation, plus the SHA-256 of the one-time undo token. The plaintext token
// is never persisted.
//
// Lifecycle: Created → Undoable → {Consumed | Expired}. Logical expiry is
// checked at undo time against CreatedAt + undo window; physical expiry is a
// background sweep deleting rows past the retention horizon.
type BulkOperation struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Type          OperationType `gorm:"type:varchar(20);not null" json:"type"`
	ThreadID      uuid.UUID     `gorm:"type:uuid;not null;index" json:"thread_id"`
	ActorID       uuid.UUID     `gorm:"type:uuid;not null" json:"actor_id"`
	MessageIDs    UUIDList      `gorm:"type:text;not null" json:"message_ids"`
	Snapshot      Snapshots     `gorm:"type:text;not null" json:"-"`
	UndoTokenHash string        `gorm:"type:varchar(64);not null" json:"-"`
	CreatedAt     time.Time     `gorm:"index" json:"created_at"` // sweep + undo window key
	Consumed      bool          `gorm:"default:false" json:"consumed"`
	ConsumedAt    *time.Time    `json:"consumed_at,omitempty"`
}

// Undoable reports whether the operation can still be reversed at now.
func (op *BulkOperation) Undoable(now time.Time, window time.Duration) bool {
	return !op.Consumed && now.Before(op.CreatedAt.Add(window))
}
