package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradepost/tradepost-messaging/internal/apperr"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"github.com/tradepost/tradepost-messaging/internal/repository"
	"github.com/tradepost/tradepost-messaging/internal/testutil"
	"github.com/tradepost/tradepost-messaging/internal/utils"
)

func setupAuthService(t *testing.T) *AuthService {
	t.Helper()
	db := testutil.SetupTestDatabase(t)
	t.Cleanup(func() { db.Teardown(t) })
	return NewAuthService(repository.NewUserRepository(db.DB), "test-secret", time.Hour)
}

func TestRegister(t *testing.T) {
	svc := setupAuthService(t)

	user, err := svc.Register("buyer", "Buyer@Example.com", "SuperSecret1", models.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", user.Email, "email is normalized")
	assert.Equal(t, models.TierFree, user.Tier, "new accounts start on the free tier")
	assert.NotEqual(t, "SuperSecret1", user.PasswordHash)

	// Duplicate email conflicts
	_, err = svc.Register("buyer2", "buyer@example.com", "SuperSecret1", models.RoleCustomer)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestRegister_Validation(t *testing.T) {
	svc := setupAuthService(t)

	cases := []struct {
		name     string
		username string
		email    string
		password string
		role     models.Role
	}{
		{"short username", "ab", "a@example.com", "SuperSecret1", models.RoleCustomer},
		{"bad email", "buyer", "not-an-email", "SuperSecret1", models.RoleCustomer},
		{"short password", "buyer", "a@example.com", "short", models.RoleCustomer},
		{"bad role", "buyer", "a@example.com", "SuperSecret1", models.Role("admin")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(tc.username, tc.email, tc.password, tc.role)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindValidation))
		})
	}
}

func TestLogin(t *testing.T) {
	svc := setupAuthService(t)

	_, err := svc.Register("buyer", "buyer@example.com", "SuperSecret1", models.RoleCustomer)
	require.NoError(t, err)

	token, user, err := svc.Login("buyer@example.com", "SuperSecret1")
	require.NoError(t, err)
	assert.Equal(t, "buyer", user.Username)

	claims, err := utils.ValidateToken(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.TierFree, claims.Tier)
}

func TestLogin_BadCredentials(t *testing.T) {
	svc := setupAuthService(t)

	_, err := svc.Register("buyer", "buyer@example.com", "SuperSecret1", models.RoleCustomer)
	require.NoError(t, err)

	// Wrong password and unknown account fail identically
	_, _, err = svc.Login("buyer@example.com", "WrongPassword")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization))

	_, _, err = svc.Login("nobody@example.com", "SuperSecret1")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization))
}
