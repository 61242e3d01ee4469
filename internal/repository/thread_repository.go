package repository

import (
	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"gorm.io/gorm"
)

type ThreadRepository struct {
	db *gorm.DB
}

func NewThreadRepository(db *gorm.DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

// WithTx returns a repository bound to an open transaction.
func (r *ThreadRepository) WithTx(tx *gorm.DB) *ThreadRepository {
	return &ThreadRepository{db: tx}
}

func (r *ThreadRepository) Create(thread *models.Thread) error {
	return r.db.Create(thread).Error
}

// GetByID retrieves a thread, returning (nil, nil) when it does not exist.
func (r *ThreadRepository) GetByID(id uuid.UUID) (*models.Thread, error) {
	var thread models.Thread
	err := r.db.First(&thread, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &thread, nil
}

// ListForUser returns threads the user participates in, newest first.
// Participant sets are stored as JSON text; the LIKE containment check is a
// coarse filter, so membership is re-verified on the loaded rows.
func (r *ThreadRepository) ListForUser(userID uuid.UUID, limit int) ([]models.Thread, error) {
	var candidates []models.Thread
	err := r.db.
		Where("participant_ids LIKE ?", "%"+userID.String()+"%").
		Order("created_at DESC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	threads := candidates[:0]
	for _, t := range candidates {
		if t.HasParticipant(userID) {
			threads = append(threads, t)
		}
	}
	return threads, nil
}

// SetPref stores one participant's pin/mute flags.
func (r *ThreadRepository) SetPref(threadID, userID uuid.UUID, pref models.ThreadPref) error {
	var thread models.Thread
	if err := r.db.First(&thread, "id = ?", threadID).Error; err != nil {
		return err
	}

	if thread.Prefs == nil {
		thread.Prefs = models.ThreadPrefs{}
	}
	thread.Prefs[userID.String()] = pref

	return r.db.Model(&models.Thread{}).
		Where("id = ?", threadID).
		Update("prefs", thread.Prefs).Error
}
