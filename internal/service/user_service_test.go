package service

import (
	"context"
	"errors"
	"testing"

	"synapse-go/internal/model"
	"synapse-go/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserFixture() (UserService, *fakeTokenRepo, *token.JWTManager) {
	tokens := &fakeTokenRepo{}
	jwtManager := token.NewJWTManager("test-secret", 30, 7)
	return NewUserService(newFakeUserRepo(), tokens, jwtManager), tokens, jwtManager
}

func TestUserService_RegisterAndLogin(t *testing.T) {
	svc, _, jwtManager := newUserFixture()
	ctx := context.Background()

	user, err := svc.Register(ctx, " Ann@Example.com ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", user.Email)
	assert.NotEqual(t, "correct horse", user.Password)
	assert.True(t, user.IsActive)

	_, err = svc.Register(ctx, "ann@example.com", "another password")
	assert.True(t, errors.Is(err, model.ErrEmailTaken))

	pair, err := svc.Login(ctx, "ANN@example.com", "correct horse")
	require.NoError(t, err)
	claims, err := jwtManager.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, err = svc.Login(ctx, "ann@example.com", "wrong password")
	assert.True(t, errors.Is(err, model.ErrInvalidCredentials))
	_, err = svc.Login(ctx, "nobody@example.com", "correct horse")
	assert.True(t, errors.Is(err, model.ErrInvalidCredentials))

	profile, err := svc.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", profile.Email)
}

func TestUserService_RegisterValidation(t *testing.T) {
	svc, _, _ := newUserFixture()
	tests := []struct{ email, password string }{
		{"not-an-email", "long enough"},
		{"", "long enough"},
		{"a@b.c", "short"},
	}
	for _, tt := range tests {
		_, err := svc.Register(context.Background(), tt.email, tt.password)
		assert.True(t, errors.Is(err, model.ErrInvalidRequest), "%s / %s", tt.email, tt.password)
	}
}

func TestUserService_LogoutAndRefresh(t *testing.T) {
	svc, tokens, _ := newUserFixture()
	ctx := context.Background()
	_, err := svc.Register(ctx, "bob@example.com", "password123")
	require.NoError(t, err)
	pair, err := svc.Login(ctx, "bob@example.com", "password123")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.AccessToken))
	revoked, _ := tokens.IsBlacklisted(ctx, pair.AccessToken)
	assert.True(t, revoked)
	assert.True(t, errors.Is(svc.Logout(ctx, "garbage"), model.ErrInvalidCredentials))

	// access token 不能用来刷新
	_, err = svc.RefreshToken(ctx, pair.AccessToken)
	assert.True(t, errors.Is(err, model.ErrInvalidCredentials))

	next, err := svc.RefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// 旧 refresh token 只能使用一次
	_, err = svc.RefreshToken(ctx, pair.RefreshToken)
	assert.True(t, errors.Is(err, model.ErrInvalidCredentials))
	_, err = svc.RefreshToken(ctx, next.RefreshToken)
	assert.NoError(t, err)
}
