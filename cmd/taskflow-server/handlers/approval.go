package handlers

import (
	"context"
	"net/http"

	"github.com/providentiaww/taskflow/internal/auth"
	"github.com/providentiaww/taskflow/internal/models"
	"github.com/sirupsen/logrus"
)

// ApprovalService is the workflow behind the approval endpoints.
type ApprovalService interface {
	Approve(ctx context.Context, who *auth.Identity, taskID int64) (*models.Task, error)
	Revoke(ctx context.Context, who *auth.Identity, taskID int64) (*models.Task, error)
	Pending(ctx context.Context) ([]models.Task, error)
	Transition(ctx context.Context, who *auth.Identity, taskID int64, name string) (*models.Task, error)
}

// ApprovalHandler serves the approve, revoke and task lifecycle endpoints.
type ApprovalHandler struct {
	svc ApprovalService
	log logrus.FieldLogger
}

func NewApprovalHandler(svc ApprovalService, log logrus.FieldLogger) *ApprovalHandler {
	return &ApprovalHandler{svc: svc, log: log}
}

// HandleApprove handles POST /approve/{task_id}
func (h *ApprovalHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	who, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "Authentication credentials not provided")
		return
	}
	taskID, ok := taskIDFromPath(r)
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid task id.")
		return
	}

	if _, err := h.svc.Approve(r.Context(), who, taskID); err != nil {
		writeError(w, h.log.WithField("task_id", taskID), err)
		return
	}
	writeMessage(w, http.StatusOK, "Task has been approved and will be saved in 5 minutes.")
}

// HandleRevoke handles POST /revoke/{task_id}
func (h *ApprovalHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	who, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "Authentication credentials not provided")
		return
	}
	taskID, ok := taskIDFromPath(r)
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid task id.")
		return
	}

	if _, err := h.svc.Revoke(r.Context(), who, taskID); err != nil {
		writeError(w, h.log.WithField("task_id", taskID), err)
		return
	}
	writeMessage(w, http.StatusOK, "Task approval has been revoked and will not be saved to the database.")
}

// HandlePending handles GET /tasks/pending
func (h *ApprovalHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.Pending(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// HandleTransition handles POST /tasks/{task_id}/{transition}
func (h *ApprovalHandler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	who, _ := auth.IdentityFromContext(r.Context())
	taskID, ok := taskIDFromPath(r)
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid task id.")
		return
	}

	task, err := h.svc.Transition(r.Context(), who, taskID, r.PathValue("transition"))
	if err != nil {
		writeError(w, h.log.WithField("task_id", taskID), err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
