package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// WithTx returns a repository bound to an open transaction.
func (r *MessageRepository) WithTx(tx *gorm.DB) *MessageRepository {
	return &MessageRepository{db: tx}
}

func (r *MessageRepository) Create(message *models.Message) error {
	return r.db.Create(message).Error
}

// GetByID retrieves a message, returning (nil, nil) when it does not exist.
func (r *MessageRepository) GetByID(id uuid.UUID) (*models.Message, error) {
	var message models.Message
	err := r.db.First(&message, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &message, nil
}

// ListFilter is the paginated thread listing query.
type ListFilter struct {
	ThreadID uuid.UUID
	DateFrom *time.Time
	DateTo   *time.Time
	Page     int
	PageSize int
}

// List returns non-deleted messages of a thread in creation order, plus the
// total match count for pagination.
func (r *MessageRepository) List(filter ListFilter) ([]models.Message, int64, error) {
	query := r.db.Model(&models.Message{}).
		Where("thread_id = ?", filter.ThreadID).
		Where("deleted_at IS NULL")

	if filter.DateFrom != nil {
		query = query.Where("created_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("created_at <= ?", *filter.DateTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []models.Message
	err := query.
		Order("created_at ASC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&messages).Error

	return messages, total, err
}

// FindInThread loads the messages among ids that belong to threadID. Bulk
// operations compare the result count against the request to detect
// cross-thread ids.
func (r *MessageRepository) FindInThread(threadID uuid.UUID, ids []uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.
		Where("thread_id = ?", threadID).
		Where("id IN ?", ids).
		Find(&messages).Error
	return messages, err
}

// SoftDeleteAll marks every id deleted in a single update. Caller must run
// this inside the bulk operation transaction.
func (r *MessageRepository) SoftDeleteAll(ids []uuid.UUID, deletedBy uuid.UUID, at time.Time) error {
	return r.db.Model(&models.Message{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"deleted_at": at,
			"deleted_by": deletedBy,
		}).Error
}

// ApplyEdit overwrites content and records the revision trail.
func (r *MessageRepository) ApplyEdit(id uuid.UUID, content string, editedAt time.Time, history models.EditRevisions) error {
	return r.db.Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":      content,
			"edited_at":    editedAt,
			"edit_history": history,
		}).Error
}

// SetReadBy overwrites one message's read receipt list.
func (r *MessageRepository) SetReadBy(id uuid.UUID, readBy models.ReadReceipts) error {
	return r.db.Model(&models.Message{}).
		Where("id = ?", id).
		Update("read_by", readBy).Error
}

// Restore re-applies a journal snapshot to one message.
func (r *MessageRepository) Restore(snapshot models.MessageSnapshot) error {
	return r.db.Model(&models.Message{}).
		Where("id = ?", snapshot.MessageID).
		Updates(map[string]interface{}{
			"read_by":    snapshot.ReadBy,
			"deleted_at": snapshot.DeletedAt,
			"deleted_by": snapshot.DeletedBy,
		}).Error
}
