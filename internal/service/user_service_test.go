package service

import (
	"context"
	"testing"
	"time"

	"machinehub/internal/model"
	"machinehub/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUsers(env *testEnv) *userService {
	return NewUserService(repository.NewUserRepository(env.db)).(*userService)
}

func TestUserCreateAndLogin(t *testing.T) {
	env := newTestEnv(t)
	users := newUsers(env)
	ctx := context.Background()

	created, err := users.CreateUser(ctx, CreateUserRequest{
		Username: "alice",
		Email:    "alice@example.com",
		FullName: "Alice Liddell",
		Password: "secret123",
		Role:     model.RoleStaff,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", created.Username)

	_, err = users.CreateUser(ctx, CreateUserRequest{
		Username: "alice2", Email: "alice@example.com", Password: "secret123", Role: model.RoleStaff,
	})
	assert.EqualError(t, err, "email already exists")

	_, err = users.CreateUser(ctx, CreateUserRequest{
		Username: "bob", Email: "bob@example.com", Password: "secret123", Role: "manager",
	})
	assert.EqualError(t, err, "invalid role: must be admin or staff")

	tokens, err := users.Login(ctx, LoginUserRequest{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.Token)
	assert.NotEmpty(t, tokens.RefreshToken)

	_, err = users.Login(ctx, LoginUserRequest{Email: "alice@example.com", Password: "wrong"})
	assert.EqualError(t, err, "invalid email or password")
}

func TestRefreshTokenRotation(t *testing.T) {
	env := newTestEnv(t)
	users := newUsers(env)
	ctx := context.Background()

	_, err := users.CreateUser(ctx, CreateUserRequest{
		Username: "alice", Email: "alice@example.com", Password: "secret123", Role: model.RoleStaff,
	})
	require.NoError(t, err)

	tokens, err := users.Login(ctx, LoginUserRequest{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)

	rotated, err := users.RefreshToken(ctx, RefreshTokenRequest{RefreshToken: tokens.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// The consumed token is gone.
	_, err = users.RefreshToken(ctx, RefreshTokenRequest{RefreshToken: tokens.RefreshToken})
	assert.EqualError(t, err, "invalid refresh token")
}

func TestRefreshTokenExpiry(t *testing.T) {
	env := newTestEnv(t)
	users := newUsers(env)
	ctx := context.Background()

	_, err := users.CreateUser(ctx, CreateUserRequest{
		Username: "alice", Email: "alice@example.com", Password: "secret123", Role: model.RoleStaff,
	})
	require.NoError(t, err)

	tokens, err := users.Login(ctx, LoginUserRequest{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)

	users.now = fixedClock(time.Now().Add(refreshTokenTTL + time.Hour))
	_, err = users.RefreshToken(ctx, RefreshTokenRequest{RefreshToken: tokens.RefreshToken})
	assert.EqualError(t, err, "refresh token expired")

	// The expired token was removed on sight.
	var n int64
	require.NoError(t, env.db.Model(&model.RefreshToken{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	users := newUsers(env)
	ctx := context.Background()

	_, err := users.CreateUser(ctx, CreateUserRequest{
		Username: "alice", Email: "alice@example.com", Password: "secret123", Role: model.RoleStaff,
	})
	require.NoError(t, err)

	tokens, err := users.Login(ctx, LoginUserRequest{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)

	require.NoError(t, users.Logout(ctx, tokens.RefreshToken))

	_, err = users.RefreshToken(ctx, RefreshTokenRequest{RefreshToken: tokens.RefreshToken})
	assert.EqualError(t, err, "invalid refresh token")
}
