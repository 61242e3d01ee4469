package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"gorm.io/gorm"
)

type OperationRepository struct {
	db *gorm.DB
}

func NewOperationRepository(db *gorm.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// WithTx returns a repository bound to an open transaction.
func (r *OperationRepository) WithTx(tx *gorm.DB) *OperationRepository {
	return &OperationRepository{db: tx}
}

func (r *OperationRepository) Create(op *models.BulkOperation) error {
	return r.db.Create(op).Error
}

// GetByID retrieves a journal entry, returning (nil, nil) when absent.
func (r *OperationRepository) GetByID(id uuid.UUID) (*models.BulkOperation, error) {
	var op models.BulkOperation
	err := r.db.First(&op, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &op, nil
}

// Consume marks the operation used. The guard on consumed = false makes
// double-undo lose the race at the storage layer: the second caller updates
// zero rows.
func (r *OperationRepository) Consume(id uuid.UUID, at time.Time) (bool, error) {
	result := r.db.Model(&models.BulkOperation{}).
		Where("id = ? AND consumed = ?", id, false).
		Updates(map[string]interface{}{
			"consumed":    true,
			"consumed_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeleteOlderThan physically purges journal rows past the retention horizon,
// regardless of consumption state. Returns the purged row count.
func (r *OperationRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := r.db.
		Where("created_at < ?", cutoff).
		Delete(&models.BulkOperation{})
	return result.RowsAffected, result.Error
}
