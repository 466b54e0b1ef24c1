// Package auth manages the access token used for every API call.
package auth

import (
	"context"
	"time"
)

// Token is an access token and the instant after which it must not be used.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token is set and not expired at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// Source obtains a fresh token from the authorization server.
type Source interface {
	Fetch(ctx context.Context) (Token, error)
}

// Provider hands out a current access token.
type Provider interface {
	// Token returns a valid token, refreshing it first when expired.
	Token(ctx context.Context) (string, error)
	// ForceRefresh replaces stale after the server rejected it. If stale was
	// already replaced by a concurrent refresh the newer token is returned.
	ForceRefresh(ctx context.Context, stale string) (string, error)
}
