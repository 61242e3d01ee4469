package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"github.com/tradepost/tradepost-messaging/internal/utils"
)

// CreateTestUser builds a user with a hashed password.
func CreateTestUser(username, email, password string, role models.Role, tier models.Tier) (*models.User, error) {
	passwordHash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	return &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		Tier:         tier,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}, nil
}

// CreateTestThread builds a thread over the given participants.
func CreateTestThread(participants ...uuid.UUID) *models.Thread {
	return &models.Thread{
		ID:             uuid.New(),
		ParticipantIDs: models.UUIDList(participants),
		Prefs:          models.ThreadPrefs{},
		CreatedAt:      time.Now(),
	}
}

// CreateTestMessage builds an unread message in a thread.
func CreateTestMessage(threadID, senderID uuid.UUID, recipients []uuid.UUID, content string) *models.Message {
	return &models.Message{
		ID:           uuid.New(),
		ThreadID:     threadID,
		SenderID:     senderID,
		RecipientIDs: models.UUIDList(recipients),
		Content:      content,
		CreatedAt:    time.Now(),
		ReadBy:       models.ReadReceipts{},
	}
}
