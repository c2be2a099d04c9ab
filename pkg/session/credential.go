// Package session manages the lifecycle state of integration plugins:
// credential acquisition and refresh, per-plugin rate budgets and the retry
// envelope around each remote call.
package session

import (
	"context"
	"time"
)

// AuthState is the credential lifecycle position of one integration.
type AuthState string

const (
	StateUnauthenticated AuthState = "unauthenticated"
	StateAuthenticating  AuthState = "authenticating"
	StateAuthenticated   AuthState = "authenticated"
	StateExpired         AuthState = "expired"
	// StateRevoked is terminal until an explicit re-authentication.
	StateRevoked AuthState = "revoked"
)

// Credential holds the token material for one integration. It is owned by
// the session manager and never exposed to calling code; integrations see
// only the access token through the invocation context.
type Credential struct {
	PluginName   string    `json:"plugin_name"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Revoked      bool      `json:"revoked"`
}

// Expired reports whether the credential needs a refresh at the given time.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return true
	}
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// Store persists credentials across restarts. Load returns a NOT_FOUND
// coded error when no credential exists for the plugin. Invalidate marks
// the credential revoked without deleting it, so later loads fail fast
// instead of silently re-authenticating with stale state.
type Store interface {
	Load(ctx context.Context, plugin string) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	Invalidate(ctx context.Context, plugin string) error
	Close() error
}

type tokenKey struct{}

// WithToken returns a context carrying the capability-scoped access token.
// Integrations read it with TokenFromContext; refresh tokens and expiry
// never cross this boundary.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext extracts the access token placed by the session manager.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}
