package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/internal/apperr"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"github.com/tradepost/tradepost-messaging/internal/repository"
	"github.com/tradepost/tradepost-messaging/internal/utils"
)

// AuthService backs the session authenticator: it verifies credentials and
// issues the JWT whose claims the rest of the subsystem trusts for identity,
// role and tier.
type AuthService struct {
	userRepo  *repository.UserRepository
	jwtSecret string
	jwtExpiry time.Duration
}

func NewAuthService(userRepo *repository.UserRepository, jwtSecret string, jwtExpiry time.Duration) *AuthService {
	return &AuthService{
		userRepo:  userRepo,
		jwtSecret: jwtSecret,
		jwtExpiry: jwtExpiry,
	}
}

// Register creates a marketplace account. New accounts start on the free tier.
func (s *AuthService) Register(username, email, password string, role models.Role) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if len(username) < 3 || len(username) > 50 {
		return nil, apperr.Validation("username must be 3-50 characters")
	}
	if !strings.Contains(email, "@") {
		return nil, apperr.Validation("invalid email address")
	}
	if len(password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	if role != models.RoleCustomer && role != models.RoleSupplier {
		return nil, apperr.Validation("role must be customer or supplier")
	}

	existing, err := s.userRepo.GetByEmail(email)
	if err != nil {
		return nil, apperr.TransientStorage(err)
	}
	if existing != nil {
		return nil, apperr.Conflict("an account with this email already exists")
	}

	passwordHash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		Tier:         models.TierFree,
	}

	if err := s.userRepo.Create(user); err != nil {
		return nil, apperr.TransientStorage(err)
	}

	return user, nil
}

// Login verifies credentials and returns a signed session token.
func (s *AuthService) Login(email, password string) (string, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		return "", nil, apperr.TransientStorage(err)
	}
	if user == nil {
		return "", nil, apperr.Authorization("invalid email or password")
	}

	ok, err := utils.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return "", nil, apperr.Authorization("invalid email or password")
	}

	token, err := utils.GenerateToken(user, s.jwtSecret, s.jwtExpiry)
	if err != nil {
		return "", nil, err
	}

	return token, user, nil
}
