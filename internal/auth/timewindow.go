package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/providentiaww/taskflow/internal/models"
	"github.com/providentiaww/taskflow/internal/token"
)

// DefaultRoleWindows restricts plain users to evening hours.
func DefaultRoleWindows() map[string]token.Window {
	return map[string]token.Window{
		models.RoleUser: {
			Start: token.MustParseTimeOfDay("20:00"),
			End:   token.MustParseTimeOfDay("23:59"),
		},
	}
}

// RoleWindowGate denies requests whose primary role is outside its configured
// time-of-day window. Roles without a window are unrestricted.
type RoleWindowGate struct {
	windows        map[string]token.Window
	publicPrefixes []string
	loc            *time.Location
	now            func() time.Time
}

// NewRoleWindowGate creates the gate. Times are compared in loc (time.Local when nil).
func NewRoleWindowGate(windows map[string]token.Window, publicPrefixes []string, loc *time.Location, now func() time.Time) *RoleWindowGate {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	copied := make(map[string]token.Window, len(windows))
	for role, w := range windows {
		copied[role] = w
	}
	return &RoleWindowGate{
		windows:        copied,
		publicPrefixes: publicPrefixes,
		loc:            loc,
		now:            now,
	}
}

// Window returns the window configured for role.
func (g *RoleWindowGate) Window(role string) (token.Window, bool) {
	w, ok := g.windows[role]
	return w, ok
}

func (g *RoleWindowGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || hasAnyPrefix(r.URL.Path, g.publicPrefixes) {
			next.ServeHTTP(w, r)
			return
		}

		id, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication credentials not provided")
			return
		}

		window, restricted := g.windows[id.Role]
		if restricted && !window.ContainsTime(g.now().In(g.loc)) {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error":         fmt.Sprintf("Access denied. %s role is only allowed from %s to %s", id.Role, window.Start, window.End),
				"allowed_start": window.Start.String(),
				"allowed_end":   window.End.String(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
