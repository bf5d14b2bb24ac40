package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lora-pkt-fwd/internal/config"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/crypto"
)

func newManager(t *testing.T, ttl time.Duration) *JWTManager {
	hash, err := crypto.HashPassword("s3cret")
	require.NoError(t, err)
	return NewJWTManager(&config.JWTConfig{
		Secret:          "test-secret",
		AccessTokenTTL:  ttl,
		RefreshTokenTTL: time.Hour,
	}, "admin", hash)
}

func TestLogin(t *testing.T) {
	m := newManager(t, time.Minute)

	access, refresh, err := m.Login("admin", "s3cret")
	require.NoError(t, err)

	claims, err := m.ValidateToken(access)
	require.NoError(t, err)
	require.Equal(t, "admin", claims.Subject)

	// refresh token 不能当 access token 用
	_, err = m.ValidateToken(refresh)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = m.RefreshToken(access)
	require.ErrorIs(t, err, ErrInvalidToken)

	access2, _, err := m.RefreshToken(refresh)
	require.NoError(t, err)
	_, err = m.ValidateToken(access2)
	require.NoError(t, err)
}

func TestLoginRejected(t *testing.T) {
	m := newManager(t, time.Minute)

	_, _, err := m.Login("admin", "wrong")
	require.Error(t, err)
	_, _, err = m.Login("root", "s3cret")
	require.Error(t, err)

	// 没有配置密码时禁止登录
	empty := NewJWTManager(&config.JWTConfig{Secret: "x"}, "admin", "")
	_, _, err = empty.Login("admin", "")
	require.Error(t, err)
}

func TestValidateToken(t *testing.T) {
	m := newManager(t, -time.Minute)
	access, _, err := m.GenerateTokenPair("admin")
	require.NoError(t, err)

	_, err = m.ValidateToken(access)
	require.ErrorIs(t, err, ErrInvalidToken)

	other := NewJWTManager(&config.JWTConfig{Secret: "other", AccessTokenTTL: time.Minute}, "admin", "")
	access, _, err = other.GenerateTokenPair("admin")
	require.NoError(t, err)
	_, err = m.ValidateToken(access)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateToken("garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}
