package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/providentiaww/taskflow/internal/approval"
	"github.com/providentiaww/taskflow/internal/lifecycle"
	"github.com/providentiaww/taskflow/internal/storage"
	"github.com/providentiaww/taskflow/internal/token"
	"github.com/sirupsen/logrus"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps service errors to HTTP responses. Unknown errors are logged and reported as 500.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	var (
		authErr       *token.AuthError
		transitionErr *lifecycle.TransitionError
	)
	switch {
	case errors.As(err, &authErr):
		writeErrorMessage(w, http.StatusUnauthorized, authErr.Message)
	case errors.Is(err, approval.ErrPermissionDenied):
		writeErrorMessage(w, http.StatusForbidden, "You do not have permission to approve tasks.")
	case errors.Is(err, approval.ErrNotPendingApproval):
		writeErrorMessage(w, http.StatusBadRequest, "This task cannot be approved as it is not pending approval.")
	case errors.Is(err, approval.ErrNotApproved):
		writeErrorMessage(w, http.StatusBadRequest, "This task cannot be revoked as it is not approved.")
	case errors.Is(err, approval.ErrInvalidTransition):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &transitionErr):
		writeErrorMessage(w, http.StatusBadRequest, transitionErr.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "Task not found.")
	default:
		log.WithError(err).Error("request failed")
		writeErrorMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

// taskIDFromPath parses the {task_id} path value.
func taskIDFromPath(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("task_id"), 10, 64)
	return id, err == nil && id > 0
}
