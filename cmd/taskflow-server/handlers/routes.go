package handlers

import (
	"net/http"

	"github.com/providentiaww/taskflow/internal/auth"
	"github.com/providentiaww/taskflow/internal/models"
)

// Router wires the handlers to their routes.
type Router struct {
	Approval *ApprovalHandler
	Account  *AccountHandler
	Health   *HealthHandler
	Metrics  http.Handler

	Gate    *auth.AccessGate
	Windows *auth.RoleWindowGate
}

// protect runs the access gate, then the role time window gate, then h. When roles are
// given the caller's primary role must be one of them.
func (rt *Router) protect(h http.HandlerFunc, roles ...string) http.Handler {
	var next http.Handler = h
	if rt.Windows != nil {
		next = rt.Windows.Handler(next)
	}
	return rt.Gate.RequirePrimary(roles...)(next)
}

// Mux builds the route table. Approval routes are served under /base and at the bare paths.
func (rt *Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	for _, prefix := range []string{"/base", ""} {
		mux.Handle("POST "+prefix+"/approve/{task_id}", rt.protect(rt.Approval.HandleApprove))
		mux.Handle("POST "+prefix+"/revoke/{task_id}", rt.protect(rt.Approval.HandleRevoke))
		mux.Handle("GET "+prefix+"/tasks/pending", rt.protect(rt.Approval.HandlePending, models.RoleManager))
		mux.Handle("POST "+prefix+"/tasks/{task_id}/{transition}", rt.protect(rt.Approval.HandleTransition))
	}

	mux.HandleFunc("POST /account/login", rt.Account.HandleLogin)
	mux.HandleFunc("POST /account/token/refresh", rt.Account.HandleRefresh)
	mux.Handle("POST /account/logout", rt.protect(rt.Account.HandleLogout))

	if rt.Health != nil {
		mux.HandleFunc("GET /health", rt.Health.HandleHealth)
	}
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}
	return mux
}
