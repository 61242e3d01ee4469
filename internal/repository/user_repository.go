package repository

import (
	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// GetByID retrieves a user, returning (nil, nil) when absent.
func (r *UserRepository) GetByID(id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by email, returning (nil, nil) when absent.
func (r *UserRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, "email = ?", email).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// UpdateTier changes the subscription tier. Quota checks pick the new tier up
// on the next request; counters themselves are not reset mid-day.
func (r *UserRepository) UpdateTier(id uuid.UUID, tier models.Tier) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", id).
		Update("tier", tier).Error
}
