// ABOUTME: Unit tests for HS256 token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens and header-based authorization

package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-jwt-signing-0123")

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("device-7", time.Hour)
	require.NoError(t, err)

	sub, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "device-7", sub)
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	otherSecret, _ := NewJWTVerifier([]byte("a-completely-different-secret-000")).Generate("x", time.Hour)
	noIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "x",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt-token"},
		{"malformed JWT", "header.payload.signature"},
		{"wrong secret", otherSecret},
		{"missing issuer", noIssuer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("device-7", -time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.True(t, errors.Is(err, ErrExpiredToken), "got %v", err)
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": tokenIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestJWTVerifier_Authorize(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, err := verifier.Generate("device-7", time.Hour)
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	id, err := verifier.Authorize(t.Context(), h)
	require.NoError(t, err)
	assert.Equal(t, "device-7", id.Subject)
	assert.Equal(t, "jwt", id.Method)

	h.Set("Authorization", "Bearer nope")
	_, err = verifier.Authorize(t.Context(), h)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = verifier.Authorize(t.Context(), http.Header{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}
