package main

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/internal/config"
	"github.com/tradepost/tradepost-messaging/internal/database"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"github.com/tradepost/tradepost-messaging/internal/utils"
)

// Seeds a demo customer/supplier pair with an open conversation, for local
// development.
func main() {
	cfg := config.Load()
	database.Connect(cfg)
	database.Migrate()

	customer := seedUser("demo-customer", "customer@example.com", "Customer123", models.RoleCustomer, models.TierFree)
	supplier := seedUser("demo-supplier", "supplier@example.com", "Supplier123", models.RoleSupplier, models.TierStarter)

	thread := models.Thread{
		ID:             uuid.New(),
		ParticipantIDs: models.UUIDList{customer.ID, supplier.ID},
		Prefs:          models.ThreadPrefs{},
		CreatedAt:      time.Now(),
	}
	if err := database.DB.Create(&thread).Error; err != nil {
		log.Fatal("Failed to create demo thread:", err)
	}

	msg := models.Message{
		ID:           uuid.New(),
		ThreadID:     thread.ID,
		SenderID:     customer.ID,
		RecipientIDs: models.UUIDList{supplier.ID},
		Content:      "Hi! Is this listing still available?",
		CreatedAt:    time.Now(),
		ReadBy:       models.ReadReceipts{},
	}
	if err := database.DB.Create(&msg).Error; err != nil {
		log.Fatal("Failed to create demo message:", err)
	}

	log.Println("Seed completed")
	log.Println("   Customer:", customer.Email)
	log.Println("   Supplier:", supplier.Email)
	log.Println("   Thread:  ", thread.ID)
}

func seedUser(username, email, password string, role models.Role, tier models.Tier) *models.User {
	var existing models.User
	if err := database.DB.Where("email = ?", email).First(&existing).Error; err == nil {
		log.Println("User already exists:", existing.Email)
		return &existing
	}

	passwordHash, err := utils.HashPassword(password)
	if err != nil {
		log.Fatal("Failed to hash password:", err)
	}

	user := models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		Tier:         tier,
	}
	if err := database.DB.Create(&user).Error; err != nil {
		log.Fatal("Failed to create user:", err)
	}
	return &user
}
