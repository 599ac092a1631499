package jwtinfra

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ecothreads-notify/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePublicKey(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "public.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), 0600))
	return path
}

func sign(t *testing.T, key *rsa.PrivateKey, role string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "marketplace",
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v, err := NewVerifier(&config.Config{JWTPublicKeyPath: writePublicKey(t, key)})
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		claims, err := v.Verify(sign(t, key, "service", time.Now().Add(time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, "service", claims.Role)
		assert.Equal(t, "marketplace", claims.Subject)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := v.Verify(sign(t, key, "service", time.Now().Add(-time.Hour)))
		assert.Error(t, err)
	})

	t.Run("foreign key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		_, err = v.Verify(sign(t, other, "service", time.Now().Add(time.Hour)))
		assert.Error(t, err)
	})

	t.Run("hmac rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{Role: "service"})
		signed, err := token.SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = v.Verify(signed)
		assert.Error(t, err)
	})
}

func TestNewVerifier_MissingKey(t *testing.T) {
	_, err := NewVerifier(&config.Config{JWTPublicKeyPath: filepath.Join(t.TempDir(), "nope.pem")})
	assert.Error(t, err)
}
