// ABOUTME: Authorizer capability and its selection from configuration.
// ABOUTME: Parses Basic and Bearer credentials from handshake headers.

package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/asr-gateway/internal/config"
)

// ErrUnauthorized is wrapped by every rejection.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the caller an Authorizer accepted.
type Identity struct {
	Subject string
	Method  string
}

// Authorizer decides whether a connection may proceed.
type Authorizer interface {
	Authorize(ctx context.Context, header http.Header) (Identity, error)
}

// CredentialStore checks a username and password.
type CredentialStore interface {
	IsUser(ctx context.Context, username, password string) (bool, error)
}

// NoAuth accepts every connection.
type NoAuth struct{}

// Authorize always succeeds.
func (NoAuth) Authorize(context.Context, http.Header) (Identity, error) {
	return Identity{Subject: "anonymous", Method: config.AuthMethodNone}, nil
}

// New returns the Authorizer selected by cfg. creds is only needed for the
// database method.
func New(cfg config.AuthConfig, creds CredentialStore, logger *slog.Logger) (Authorizer, error) {
	if !cfg.Enabled {
		logger.Info("authentication disabled")
		return NoAuth{}, nil
	}

	switch cfg.Method {
	case config.AuthMethodNone:
		return NoAuth{}, nil
	case config.AuthMethodDatabase:
		if creds == nil {
			return nil, fmt.Errorf("auth method %q needs a credential store", cfg.Method)
		}
		return NewBasicAuthorizer(creds, logger), nil
	case config.AuthMethodAuth0:
		ttl := cfg.JWKSCacheTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		return NewJWKSAuthorizer(cfg.Auth0Domain, cfg.Audience, WithCacheTTL(ttl), WithJWKSLogger(logger)), nil
	case config.AuthMethodJWT:
		return NewJWTVerifier([]byte(cfg.JWTSecret)), nil
	default:
		return nil, fmt.Errorf("unknown auth method %q", cfg.Method)
	}
}

// credentials splits an Authorization header into its scheme and value.
// The scheme comparison is case-insensitive.
func credentials(header http.Header, scheme string) (string, error) {
	raw := header.Get("Authorization")
	if raw == "" {
		return "", fmt.Errorf("%w: missing authorization header", ErrUnauthorized)
	}
	got, value, ok := strings.Cut(strings.TrimSpace(raw), " ")
	if !ok || !strings.EqualFold(got, scheme) {
		return "", fmt.Errorf("%w: expected %s authorization", ErrUnauthorized, scheme)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty %s credentials", ErrUnauthorized, scheme)
	}
	return value, nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(header http.Header) (string, error) {
	return credentials(header, "Bearer")
}

// basicCredentials decodes "Authorization: Basic <base64(user:pass)>".
func basicCredentials(header http.Header) (string, string, error) {
	value, err := credentials(header, "Basic")
	if err != nil {
		return "", "", err
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", "", fmt.Errorf("%w: malformed basic credentials", ErrUnauthorized)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok || user == "" {
		return "", "", fmt.Errorf("%w: malformed basic credentials", ErrUnauthorized)
	}
	return user, pass, nil
}
