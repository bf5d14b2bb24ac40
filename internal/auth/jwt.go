package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lorawan-server/lora-pkt-fwd/internal/config"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/crypto"
)

const issuer = "lora-pkt-fwd"

// ErrInvalidToken is returned for expired, malformed or wrongly signed tokens
var ErrInvalidToken = errors.New("invalid token")

// JWTManager issues and checks the API tokens of the local operator
type JWTManager struct {
	config *config.JWTConfig
	// 管理员账号，密码为 bcrypt 哈希
	user         string
	passwordHash string
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(cfg *config.JWTConfig, user, passwordHash string) *JWTManager {
	return &JWTManager{
		config:       cfg,
		user:         user,
		passwordHash: passwordHash,
	}
}

// Claims represents JWT claims
type Claims struct {
	jwt.RegisteredClaims
	Refresh bool `json:"refresh,omitempty"`
}

// Login checks the operator credentials and returns a token pair
func (m *JWTManager) Login(user, password string) (string, string, error) {
	if m.passwordHash == "" || user != m.user || !crypto.VerifyPassword(password, m.passwordHash) {
		return "", "", fmt.Errorf("invalid credentials")
	}
	return m.GenerateTokenPair(user)
}

func (m *JWTManager) sign(subject string, ttl time.Duration, refresh bool) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			ID:        uuid.New().String(),
		},
		Refresh: refresh,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.Secret))
}

// GenerateTokenPair generates access and refresh tokens
func (m *JWTManager) GenerateTokenPair(subject string) (string, string, error) {
	access, err := m.sign(subject, m.config.AccessTokenTTL, false)
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := m.sign(subject, m.config.RefreshTokenTTL, true)
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}

	return access, refresh, nil
}

func (m *JWTManager) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateToken validates an access token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Refresh {
		return nil, fmt.Errorf("%w: refresh token used as access token", ErrInvalidToken)
	}
	return claims, nil
}

// RefreshToken exchanges a refresh token for a new pair
func (m *JWTManager) RefreshToken(refreshTokenString string) (string, string, error) {
	claims, err := m.parse(refreshTokenString)
	if err != nil {
		return "", "", err
	}
	if !claims.Refresh || claims.Subject != m.user {
		return "", "", ErrInvalidToken
	}
	return m.GenerateTokenPair(claims.Subject)
}
