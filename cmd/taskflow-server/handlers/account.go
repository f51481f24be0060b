package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/providentiaww/taskflow/internal/auth"
	"github.com/providentiaww/taskflow/internal/models"
	"github.com/providentiaww/taskflow/internal/storage"
	"github.com/providentiaww/taskflow/internal/token"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// TokenIssuer mints and checks account tokens.
type TokenIssuer interface {
	Issue(sub token.Subject, roles []string, accessStart, accessEnd string, now time.Time) (string, error)
	IssueRefresh(sub token.Subject, now time.Time) (string, error)
	ValidateRefresh(tokenString string, now time.Time) (*token.Claims, error)
}

// Revocations records and answers revoked tokens.
type Revocations interface {
	Revoke(ctx context.Context, rawToken string) error
	IsRevoked(ctx context.Context, rawToken string) (bool, error)
}

// AccountHandler serves login, refresh and logout.
type AccountHandler struct {
	users       storage.UserStore
	tokens      TokenIssuer
	revocations Revocations
	loginWindow token.Window
	loc         *time.Location
	now         func() time.Time
	log         logrus.FieldLogger
}

func NewAccountHandler(users storage.UserStore, tokens TokenIssuer, revocations Revocations,
	loginWindow token.Window, loc *time.Location, log logrus.FieldLogger) *AccountHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AccountHandler{
		users:       users,
		tokens:      tokens,
		revocations: revocations,
		loginWindow: loginWindow,
		loc:         loc,
		now:         time.Now,
		log:         log,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// HandleLogin handles POST /account/login
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	local := now.In(h.loc)
	if !h.loginWindow.ContainsTime(local) {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": fmt.Sprintf("This view is only accessible between %s and %s",
				h.loginWindow.Start, h.loginWindow.End),
			"current_time": local.Format("15:04:05"),
		})
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeErrorMessage(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, h.log, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeErrorMessage(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}

	pair, err := h.issuePair(user, now)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.log.WithField("user", user.Username).Info("user logged in")
	writeJSON(w, http.StatusOK, pair)
}

func (h *AccountHandler) issuePair(user *models.User, now time.Time) (*tokenPair, error) {
	sub := subjectOf(user)
	access, err := h.tokens.Issue(sub, []string{user.Role}, user.AccessStart, user.AccessEnd, now)
	if err != nil {
		return nil, err
	}
	refresh, err := h.tokens.IssueRefresh(sub, now)
	if err != nil {
		return nil, err
	}
	return &tokenPair{Access: access, Refresh: refresh}, nil
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// HandleRefresh handles POST /account/token/refresh
func (h *AccountHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		writeErrorMessage(w, http.StatusBadRequest, "refresh is required")
		return
	}

	revoked, err := h.revocations.IsRevoked(r.Context(), req.Refresh)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if revoked {
		writeErrorMessage(w, http.StatusUnauthorized, "Token has been revoked")
		return
	}

	now := h.now()
	claims, err := h.tokens.ValidateRefresh(req.Refresh, now)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	// the stored account is authoritative for role and access window
	user, err := h.users.GetUserByID(r.Context(), claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		writeErrorMessage(w, http.StatusUnauthorized, "User not found")
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	access, err := h.tokens.Issue(subjectOf(user), []string{user.Role}, user.AccessStart, user.AccessEnd, now)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPair{Access: access})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleLogout handles POST /account/logout. The refresh token, when given, is revoked.
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.IdentityFromContext(r.Context()); !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "Authentication credentials not provided")
		return
	}

	var req logoutRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.RefreshToken != "" {
		if err := h.revocations.Revoke(r.Context(), req.RefreshToken); err != nil {
			writeError(w, h.log, err)
			return
		}
	}
	writeMessage(w, http.StatusOK, "Logout successful.")
}

func subjectOf(u *models.User) token.Subject {
	return token.Subject{UserID: u.ID, Username: u.Username, Email: u.Email}
}
