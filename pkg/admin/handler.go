// Package admin provides the operator REST API: engine status and
// connect/disconnect control.
package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/txn2/room-engine/pkg/activity"
	"github.com/txn2/room-engine/pkg/health"
	"github.com/txn2/room-engine/pkg/transport"
)

// Connector controls the chat connection.
type Connector interface {
	Connect(ctx context.Context, creds transport.Credentials) error
	Disconnect()
	State() transport.State
	Connected() bool
	Rooms() []string
}

// Counter reports a size.
type Counter interface {
	Len() int
}

// Deps holds the components the handler reports on and controls.
type Deps struct {
	Connector Connector
	Sessions  Counter
	Plugins   Counter
	Health    *health.Checker
	Activity  *activity.Log
}

// Handler provides admin REST API endpoints.
type Handler struct {
	mux        *http.ServeMux
	deps       Deps
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates a new admin API handler. Health endpoints are never
// wrapped by authMiddle.
func NewHandler(deps Deps, authMiddle func(http.Handler) http.Handler) *Handler {
	if deps.Health == nil {
		deps.Health = health.NewChecker()
	}
	h := &Handler{
		mux:        http.NewServeMux(),
		deps:       deps,
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all admin API routes.
func (h *Handler) registerRoutes() {
	h.mux.Handle("GET /healthz", h.deps.Health.LivenessHandler())
	h.mux.Handle("GET /readyz", h.deps.Health.ReadinessHandler())

	h.mux.Handle("GET /api/v1/status", h.protect(http.HandlerFunc(h.getStatus)))
	h.mux.Handle("POST /api/v1/connect", h.protect(http.HandlerFunc(h.connect)))
	h.mux.Handle("POST /api/v1/disconnect", h.protect(http.HandlerFunc(h.disconnect)))
}

func (h *Handler) protect(next http.Handler) http.Handler {
	if h.authMiddle == nil {
		return next
	}
	return h.authMiddle(next)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Verify interface compliance.
var _ Connector = (*transport.Client)(nil)
