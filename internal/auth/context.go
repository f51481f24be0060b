package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID   int64
	Username string
	Email    string
	Roles    []string
	// Role is the primary role used for approval and time window decisions.
	Role string
	// Token is the raw bearer token the identity was derived from.
	Token string
}

// HasRole reports whether the identity carries role in its claims or as its primary role.
func (i *Identity) HasRole(role string) bool {
	if i.Role == role {
		return true
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext extracts the identity from a request context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	return id, ok && id != nil
}

// ExtractTokenFromHeader extracts the bearer token from the Authorization header.
func ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}
