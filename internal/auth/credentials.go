// Package auth holds per-user Google Calendar credential bundles and
// refreshes access tokens transparently when they expire.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"eventra/internal/store"
)

// Bundle is the opaque token set stored for one connected user.
type Bundle struct {
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Scopes       []string  `json:"scopes"`
	Expiry       time.Time `json:"expiry"`
}

// Expired reports whether the access token is past its expiry. A zero
// expiry is treated as still valid; the remote call will surface any
// authorization failure.
func (b *Bundle) Expired() bool {
	return !b.Expiry.IsZero() && time.Now().After(b.Expiry)
}

// Token converts the bundle to an oauth2 token.
func (b *Bundle) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		Expiry:       b.Expiry,
	}
}

// CredentialStore manages the connect/disconnect lifecycle of one
// credential bundle per user.
type CredentialStore struct {
	store  *store.Store
	logger *slog.Logger
}

// NewCredentialStore creates a credential store backed by the given database.
func NewCredentialStore(st *store.Store, logger *slog.Logger) *CredentialStore {
	return &CredentialStore{store: st, logger: logger}
}

// IsConnected reports whether the user has a stored bundle.
func (c *CredentialStore) IsConnected(user string) bool {
	return c.store.IsConnected(user)
}

// Connect stores the bundle and marks the user connected.
func (c *CredentialStore) Connect(user string, b *Bundle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal credential bundle: %w", err)
	}
	return c.store.PutCredentials(user, data)
}

// Disconnect clears the bundle. Disconnecting an already-disconnected user
// succeeds silently.
func (c *CredentialStore) Disconnect(user string) error {
	return c.store.DeleteCredentials(user)
}

// Resolve returns the current bundle for the user, refreshing the access
// token first when it has expired and a refresh token is present. A failed
// refresh is logged and the stale bundle returned; the caller will observe
// the authorization failure at the next remote call.
func (c *CredentialStore) Resolve(ctx context.Context, user string) (*Bundle, error) {
	data, err := c.store.GetCredentials(user)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode credential bundle: %w", err)
	}

	if !b.Expired() || b.RefreshToken == "" {
		return &b, nil
	}

	refreshed, err := c.refresh(ctx, &b)
	if err != nil {
		c.logger.Warn("Token refresh failed, returning stale credentials.", "user", user, "error", err)
		return &b, nil
	}
	if err := c.Connect(user, refreshed); err != nil {
		c.logger.Warn("Failed to persist refreshed credentials.", "user", user, "error", err)
	}
	return refreshed, nil
}

func (c *CredentialStore) refresh(ctx context.Context, b *Bundle) (*Bundle, error) {
	cfg := &oauth2.Config{
		ClientID:     b.ClientID,
		ClientSecret: b.ClientSecret,
		Scopes:       b.Scopes,
		Endpoint:     oauth2.Endpoint{TokenURL: b.TokenURI},
	}
	tok, err := cfg.TokenSource(ctx, b.Token()).Token()
	if err != nil {
		return nil, err
	}

	out := *b
	out.AccessToken = tok.AccessToken
	out.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	return &out, nil
}
