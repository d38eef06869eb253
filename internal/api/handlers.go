package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/auth"
	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/engine"
	"github.com/chatabc/open-safe-frame/internal/guard"
	"github.com/chatabc/open-safe-frame/internal/session"
	"github.com/chatabc/open-safe-frame/internal/storage"
)

const maxPageSize = 200

// handleAssess implements POST /v1/assess: one stateless assessment.
func (d *Dependencies) handleAssess(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := d.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	tenant := tenantOrAbort(w, r)
	if tenant == nil {
		return
	}

	tc := &engine.ToolContext{ToolName: req.ToolName, Params: req.Params}
	for _, h := range req.History {
		tc.History = append(tc.History, engine.SessionEvent{
			Kind:     engine.EventKind(h.Kind),
			Text:     h.Text,
			ToolName: h.ToolName,
			Params:   h.Params,
			Result:   h.Result,
		})
	}

	a, err := d.Guard.DryRun(r.Context(), tenant, req.Message, tc)
	if err != nil {
		d.Logger.Warn("dry run aborted", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Assessment aborted"})
		return
	}
	writeJSON(w, http.StatusOK, AssessResponse{
		Action:     string(a.Decision.Action),
		Message:    engine.FormatDecision(a, tc),
		Assessment: a,
	})
}

func (d *Dependencies) handleListConstraints(w http.ResponseWriter, r *http.Request) {
	tenant := tenantOrAbort(w, r)
	if tenant == nil {
		return
	}
	key := r.PathValue("session_key")
	cs, err := d.Guard.ExportConstraints(r.Context(), tenant, key)
	if err != nil {
		d.writeGuardError(w, err)
		return
	}
	if cs == nil {
		cs = []constraint.Constraint{}
	}
	writeJSON(w, http.StatusOK, ConstraintListResp{SessionKey: key, Constraints: cs})
}

func (d *Dependencies) handleReplaceConstraints(w http.ResponseWriter, r *http.Request) {
	var req ReplaceConstraintsReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	tenant := tenantOrAbort(w, r)
	if tenant == nil {
		return
	}
	n, err := d.Guard.ImportConstraints(r.Context(), tenant, r.PathValue("session_key"), req.Constraints, req.Secret)
	if err != nil {
		d.writeGuardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReplaceConstraintsResp{Imported: n})
}

func (d *Dependencies) handleDeleteConstraint(w http.ResponseWriter, r *http.Request) {
	var req DeleteConstraintReq
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	tenant := tenantOrAbort(w, r)
	if tenant == nil {
		return
	}
	err := d.Guard.DeactivateConstraint(r.Context(), tenant, r.PathValue("session_key"), r.PathValue("constraint_id"), req.Secret)
	if err != nil {
		d.writeGuardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListAssessments implements GET /v1/assessments for the caller's tenant.
func (d *Dependencies) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Audit store not configured"})
		return
	}
	tenant := tenantOrAbort(w, r)
	if tenant == nil {
		return
	}

	q := r.URL.Query()
	params := storage.ListParams{
		TenantID: tenant.TenantID,
		Page:     queryInt(q, "page", 1),
		PageSize: queryInt(q, "page_size", 50),
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}
	if params.PageSize < 1 {
		params.PageSize = 1
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if v := q.Get("session_key"); v != "" {
		params.SessionKey = &v
	}
	if v := q.Get("action"); v != "" {
		params.Action = &v
	}
	if v := q.Get("tool_name"); v != "" {
		params.ToolName = &v
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	events, total, err := d.Reader.ListAssessments(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list assessments", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list assessments"})
		return
	}

	resp := AssessmentListResp{
		Assessments: make([]AssessmentResp, 0, len(events)),
		Total:       total,
		Page:        params.Page,
		PageSize:    params.PageSize,
	}
	for _, e := range events {
		resp.Assessments = append(resp.Assessments, eventToResp(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func eventToResp(e storage.AssessmentEvent) AssessmentResp {
	return AssessmentResp{
		RequestID:             e.RequestID,
		SessionKey:            e.SessionKey,
		Timestamp:             e.Timestamp,
		ToolName:              e.ToolName,
		ParamsPreview:         e.ParamsPreview,
		Stage:                 e.Stage,
		Action:                e.Action,
		IsShadow:              e.IsShadow,
		FailedOpen:            e.FailedOpen,
		Reason:                e.Reason,
		Severity:              e.Severity,
		Reversibility:         e.Reversibility,
		RiskScore:             e.RiskScore,
		UserInterestScore:     e.UserInterestScore,
		ConsequenceTypes:      nonNil(e.ConsequenceTypes),
		ConsequenceSeverities: nonNil(e.ConsequenceSeverities),
		ViolatedConstraints:   nonNil(e.ViolatedConstraints),
		LatencyMs:             e.LatencyMs,
	}
}

// writeGuardError maps guard and ledger errors onto HTTP statuses.
func (d *Dependencies) writeGuardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, guard.ErrMissingSessionKey):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
	case errors.Is(err, guard.ErrUnknownSession):
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Session not found"})
	case errors.Is(err, constraint.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Constraint not found"})
	case errors.Is(err, constraint.ErrInactive):
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "Constraint is no longer active"})
	case errors.Is(err, constraint.ErrSecretRequired):
		writeJSON(w, http.StatusForbidden, ErrorResp{Detail: "Override secret required"})
	case errors.Is(err, constraint.ErrInvalidPriority), errors.Is(err, constraint.ErrDuplicateID),
		errors.Is(err, constraint.ErrMissingID):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
	case errors.Is(err, session.ErrSessionClosed):
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "Session ended"})
	default:
		d.Logger.Error("session operation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
	}
}

func tenantOrAbort(w http.ResponseWriter, r *http.Request) *auth.TenantContext {
	tenant, ok := auth.TenantFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing tenant context"})
		return nil
	}
	return tenant
}

func queryInt(q url.Values, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
