// Package crypto holds the credential helpers of the local admin API: the
// bcrypt hash of the operator password and the HMAC secret of its JWTs.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinSecretBytes is the shortest HS256 key GenerateSecret accepts (RFC 7518 §3.2)
const MinSecretBytes = 32

var (
	ErrEmptyPassword = errors.New("empty password")
	// bcrypt 只使用前 72 字节，超长密码直接拒绝
	ErrPasswordTooLong = errors.New("password longer than 72 bytes")
)

// HashPassword returns the bcrypt hash stored as api.admin_password_hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > 72 {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash. An unset hash never matches.
func VerifyPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateSecret returns n random bytes encoded for jwt.secret
func GenerateSecret(n int) (string, error) {
	if n < MinSecretBytes {
		return "", fmt.Errorf("secret of %d bytes is shorter than %d", n, MinSecretBytes)
	}

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
