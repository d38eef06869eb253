// Package api is the operator-facing HTTP API: stateless dry runs, session
// constraint management, the audit trail, health and metrics.
package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/auth"
	"github.com/chatabc/open-safe-frame/internal/guard"
	"github.com/chatabc/open-safe-frame/internal/metrics"
	"github.com/chatabc/open-safe-frame/internal/storage"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Guard    *guard.Service
	Auth     auth.Authenticator
	Reader   storage.EventReader // nil if no audit store is queryable
	Metrics  *metrics.Metrics    // nil = no request metrics
	Gatherer prometheus.Gatherer // nil = /metrics not served
	Logger   *zap.Logger

	validate *validator.Validate
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.validate = validator.New()

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/assess", deps.authMiddleware(deps.handleAssess))

	mux.HandleFunc("GET /v1/sessions/{session_key}/constraints", deps.authMiddleware(deps.handleListConstraints))
	mux.HandleFunc("PUT /v1/sessions/{session_key}/constraints", deps.authMiddleware(deps.handleReplaceConstraints))
	mux.HandleFunc("DELETE /v1/sessions/{session_key}/constraints/{constraint_id}", deps.authMiddleware(deps.handleDeleteConstraint))

	mux.HandleFunc("GET /v1/assessments", deps.authMiddleware(deps.handleListAssessments))

	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(deps.requestLogging(mux))
}
