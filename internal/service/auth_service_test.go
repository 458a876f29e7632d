package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agrariahq/agraria-api/internal/models"
)

type authRepoStub struct {
	users         map[string]*models.User
	usersByEmail  map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	revokedAll    []string
	auditLogs     []models.AuditLog
}

func newAuthRepoStub() *authRepoStub {
	return &authRepoStub{
		users:         make(map[string]*models.User),
		usersByEmail:  make(map[string]*models.User),
		refreshTokens: make(map[string]*models.RefreshToken),
	}
}

func (s *authRepoStub) addUser(user *models.User) {
	s.users[user.ID] = user
	s.usersByEmail[user.Email] = user
}

func (s *authRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if user, ok := s.usersByEmail[email]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := s.users[id]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if user, ok := s.users[id]; ok {
		user.LastLogin = &ts
	}
	return nil
}

func (s *authRepoStub) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if user, ok := s.users[id]; ok {
		user.PasswordHash = passwordHash
		return nil
	}
	return sql.ErrNoRows
}

func (s *authRepoStub) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	s.revokedAll = append(s.revokedAll, userID)
	for _, token := range s.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func (s *authRepoStub) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	copied := *token
	s.refreshTokens[token.Token] = &copied
	return nil
}

func (s *authRepoStub) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if stored, ok := s.refreshTokens[token]; ok {
		copied := *stored
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range s.refreshTokens {
		if token.ID == id {
			token.Revoked = true
		}
	}
	return nil
}

func (s *authRepoStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.auditLogs = append(s.auditLogs, *log)
	return nil
}

type authRolesStub struct {
	roles map[string][]string
}

func (s *authRolesStub) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	return s.roles[userID], nil
}

func newAuthFixture(t *testing.T) (*AuthService, *authRepoStub) {
	t.Helper()
	repo := newAuthRepoStub()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.addUser(&models.User{
		ID:           "u1",
		SiteID:       "site-1",
		Email:        "admin@agraria.test",
		PasswordHash: string(hash),
		FullName:     "Admin",
		Active:       true,
	})
	roles := &authRolesStub{roles: map[string][]string{"u1": {models.RoleSuperAdmin}}}
	svc := NewAuthService(repo, roles, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "agraria-api",
	})
	return svc, repo
}

func TestAuthServiceLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("success issues tokens and roles", func(t *testing.T) {
		svc, repo := newAuthFixture(t)
		resp, err := svc.Login(ctx, models.LoginRequest{Email: "admin@agraria.test", Password: "secret123"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)
		assert.Equal(t, []string{models.RoleSuperAdmin}, resp.User.Roles)
		assert.Len(t, repo.auditLogs, 1)
		assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)

		claims, err := svc.ValidateToken(resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.UserID)
		assert.Equal(t, "site-1", claims.SiteID)
		assert.True(t, claims.HasRole(models.RoleSuperAdmin))
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, _ := newAuthFixture(t)
		_, err := svc.Login(ctx, models.LoginRequest{Email: "admin@agraria.test", Password: "wrong"})
		assert.Error(t, err)
	})

	t.Run("unknown email", func(t *testing.T) {
		svc, _ := newAuthFixture(t)
		_, err := svc.Login(ctx, models.LoginRequest{Email: "ghost@agraria.test", Password: "secret123"})
		assert.Error(t, err)
	})

	t.Run("inactive account", func(t *testing.T) {
		svc, repo := newAuthFixture(t)
		repo.users["u1"].Active = false
		repo.usersByEmail["admin@agraria.test"].Active = false
		_, err := svc.Login(ctx, models.LoginRequest{Email: "admin@agraria.test", Password: "secret123"})
		assert.Error(t, err)
	})
}

func TestAuthServiceRefreshToken(t *testing.T) {
	ctx := context.Background()
	svc, repo := newAuthFixture(t)

	login, err := svc.Login(ctx, models.LoginRequest{Email: "admin@agraria.test", Password: "secret123"})
	require.NoError(t, err)

	resp, err := svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEqual(t, login.RefreshToken, resp.RefreshToken)

	// the used token is revoked and cannot be replayed
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)
	_, err = svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.Error(t, err)
}

func TestAuthServiceLogout(t *testing.T) {
	ctx := context.Background()
	svc, repo := newAuthFixture(t)

	login, err := svc.Login(ctx, models.LoginRequest{Email: "admin@agraria.test", Password: "secret123"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, login.RefreshToken, "u1", models.LoginRequest{}))
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)

	// revoked token cannot be exchanged
	_, err = svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.Error(t, err)
	err = svc.Logout(ctx, "missing-token", "u1", models.LoginRequest{})
	assert.Error(t, err)
}

func TestAuthServiceChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, repo := newAuthFixture(t)

	login, err := svc.Login(ctx, models.LoginRequest{Email: "admin@agraria.test", Password: "secret123"})
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, "u1", models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "newpass1"})
	require.Error(t, err)

	require.NoError(t, svc.ChangePassword(ctx, "u1", models.ChangePasswordRequest{OldPassword: "secret123", NewPassword: "newpass1"}))

	// existing sessions are revoked
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)

	_, err = svc.Login(ctx, models.LoginRequest{Email: "admin@agraria.test", Password: "newpass1"})
	assert.NoError(t, err)
}

func TestAuthServiceValidateToken(t *testing.T) {
	svc, _ := newAuthFixture(t)
	_, err := svc.ValidateToken("not-a-token")
	assert.Error(t, err)

	other := NewAuthService(newAuthRepoStub(), &authRolesStub{}, nil, nil, AuthConfig{
		AccessTokenSecret: "different-secret",
		AccessTokenExpiry: time.Minute,
	})
	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@agraria.test", Password: "secret123"})
	require.NoError(t, err)
	_, err = other.ValidateToken(login.AccessToken)
	assert.Error(t, err)
}
