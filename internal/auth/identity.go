package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthenticated is the single outcome callers see for any credential failure.
// Verifiers wrap their internal cause so logs keep the detail.
var ErrUnauthenticated = errors.New("auth: authentication failed")

// Identity is the verified caller of a request. It lives for one request and is never persisted.
type Identity struct {
	Subject string
	Email   string
}

// Verifier validates an opaque bearer credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type identityContextKey struct{}

// WithIdentity attaches the verified identity to ctx.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity attached by the admin gateway.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || identity.Subject == "" {
		return Identity{}, false
	}
	return identity, true
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
