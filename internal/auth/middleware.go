package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/providentiaww/taskflow/internal/models"
	"github.com/providentiaww/taskflow/internal/token"
	"github.com/sirupsen/logrus"
)

// DefaultPublicPrefixes are served without credentials.
var DefaultPublicPrefixes = []string{
	"/account/login",
	"/account/token/refresh",
	"/health",
	"/metrics",
}

// TokenValidator checks a raw token against required roles at a point in time.
type TokenValidator interface {
	Validate(tokenString string, requiredRoles []string, now time.Time) (*token.Claims, error)
}

// RevocationChecker reports whether a raw token has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, rawToken string) (bool, error)
}

// UserDirectory resolves the stored account behind a token.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// AccessGate authenticates bearer tokens and attaches an Identity to the request.
type AccessGate struct {
	validator      TokenValidator
	revocations    RevocationChecker
	users          UserDirectory
	publicPrefixes []string
	now            func() time.Time
	log            logrus.FieldLogger
}

// GateOption customises an AccessGate.
type GateOption func(*AccessGate)

// WithUserDirectory makes the gate take the primary role from the stored user.
func WithUserDirectory(users UserDirectory) GateOption {
	return func(g *AccessGate) { g.users = users }
}

// WithPublicPrefixes replaces the default public path prefixes.
func WithPublicPrefixes(prefixes []string) GateOption {
	return func(g *AccessGate) { g.publicPrefixes = prefixes }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) GateOption {
	return func(g *AccessGate) { g.now = now }
}

// NewAccessGate creates the gate. revocations may be nil to skip revocation checks.
func NewAccessGate(validator TokenValidator, revocations RevocationChecker, log logrus.FieldLogger, opts ...GateOption) *AccessGate {
	g := &AccessGate{
		validator:      validator,
		revocations:    revocations,
		publicPrefixes: DefaultPublicPrefixes,
		now:            time.Now,
		log:            log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsPublic reports whether path bypasses authentication.
func (g *AccessGate) IsPublic(path string) bool {
	return hasAnyPrefix(path, g.publicPrefixes)
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Handler authenticates without requiring any role.
func (g *AccessGate) Handler(next http.Handler) http.Handler {
	return g.Require()(next)
}

// Require returns middleware that only admits tokens carrying at least one of roles.
func (g *AccessGate) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// CORS preflight carries no credentials
			if r.Method == http.MethodOptions || g.IsPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			raw := ExtractTokenFromHeader(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "Authentication credentials not provided")
				return
			}

			if g.revocations != nil {
				revoked, err := g.revocations.IsRevoked(r.Context(), raw)
				if err != nil {
					g.log.WithError(err).WithField("path", r.URL.Path).Error("revocation lookup failed")
					writeError(w, http.StatusInternalServerError, "Internal server error")
					return
				}
				if revoked {
					writeError(w, http.StatusUnauthorized, "Token has been revoked")
					return
				}
			}

			claims, err := g.validator.Validate(raw, roles, g.now())
			if err != nil {
				var authErr *token.AuthError
				if errors.As(err, &authErr) {
					writeError(w, http.StatusUnauthorized, authErr.Message)
					return
				}
				g.log.WithError(err).Error("token validation failed")
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			id, err := g.identity(r.Context(), raw, claims)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequirePrimary authenticates like Handler and then only admits identities whose primary
// role is one of roles. The primary role comes from the user directory when one is configured,
// so it tracks role changes made after the token was issued.
func (g *AccessGate) RequirePrimary(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		check := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || g.IsPublic(r.URL.Path) || len(roles) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := IdentityFromContext(r.Context())
			if !ok || !slices.Contains(roles, id.Role) {
				writeError(w, http.StatusUnauthorized, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
		return g.Handler(check)
	}
}

func (g *AccessGate) identity(ctx context.Context, raw string, claims *token.Claims) (*Identity, error) {
	id := &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
		Roles:    claims.Roles,
		Token:    raw,
	}
	if len(claims.Roles) > 0 {
		id.Role = claims.Roles[0]
	}
	if g.users == nil {
		return id, nil
	}

	user, err := g.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		g.log.WithError(err).WithField("user_id", claims.UserID).Warn("token subject could not be resolved")
		return nil, errors.New("User not found")
	}
	id.Role = user.Role
	return id, nil
}
