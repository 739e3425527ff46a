// ABOUTME: Basic-credential authorizer backed by the credential store.
// ABOUTME: Implements the "database" auth method.

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/asr-gateway/internal/config"
)

// BasicAuthorizer checks Basic credentials against a CredentialStore.
type BasicAuthorizer struct {
	creds  CredentialStore
	logger *slog.Logger
}

// NewBasicAuthorizer creates a BasicAuthorizer.
func NewBasicAuthorizer(creds CredentialStore, logger *slog.Logger) *BasicAuthorizer {
	return &BasicAuthorizer{creds: creds, logger: logger}
}

// Authorize accepts the request when the store knows the user and password.
func (b *BasicAuthorizer) Authorize(ctx context.Context, header http.Header) (Identity, error) {
	user, pass, err := basicCredentials(header)
	if err != nil {
		return Identity{}, err
	}

	ok, err := b.creds.IsUser(ctx, user, pass)
	if err != nil {
		b.logger.Error("credential lookup failed", "username", user, "error", err)
		return Identity{}, fmt.Errorf("%w: credential lookup: %v", ErrUnauthorized, err)
	}
	if !ok {
		return Identity{}, fmt.Errorf("%w: invalid password for user %q", ErrUnauthorized, user)
	}

	b.logger.Debug("user authenticated", "username", user)
	return Identity{Subject: user, Method: config.AuthMethodDatabase}, nil
}
