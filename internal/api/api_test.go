package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/auth"
	"github.com/chatabc/open-safe-frame/internal/backend"
	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/engine"
	"github.com/chatabc/open-safe-frame/internal/engine/consequence"
	"github.com/chatabc/open-safe-frame/internal/engine/intent"
	"github.com/chatabc/open-safe-frame/internal/engine/values"
	"github.com/chatabc/open-safe-frame/internal/guard"
	"github.com/chatabc/open-safe-frame/internal/metrics"
	"github.com/chatabc/open-safe-frame/internal/session"
	"github.com/chatabc/open-safe-frame/internal/storage"
)

const (
	testKey    = "sfk_api_test"
	testSecret = "open sesame"
)

type fixedSecret string

func (s fixedSecret) Verify(secret string) bool { return string(s) == secret }

type fixture struct {
	handler  http.Handler
	store    *storage.MemoryStore
	sessions *session.Registry
}

func newFixture(t *testing.T, withReader bool) *fixture {
	t.Helper()

	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := storage.NewMemoryStore(100)

	sessions := session.NewRegistry(session.RegistryConfig{
		NewLedger: func(string, string) *constraint.Ledger {
			return constraint.NewLedger(constraint.LedgerConfig{
				Extractor: backend.NewRuleAnalyzer(),
				Secret:    fixedSecret(testSecret),
			})
		},
	})
	t.Cleanup(sessions.Close)

	svc := guard.New(guard.Config{
		Sessions: sessions,
		Assessor: engine.NewCoordinator(engine.CoordinatorConfig{
			Intent:    intent.NewInterpreter(nil, 10, nil),
			Predictor: consequence.NewPredictor(nil, nil, 10, nil),
			Values:    values.NewEvaluator(),
		}),
		Writer:  store,
		Metrics: m,
		Logger:  logger,
	})

	deps := &Dependencies{
		Guard:    svc,
		Auth:     auth.NewStaticAuthenticator(auth.StaticAuthConfig{APIKey: testKey, TenantID: "tenant_api"}),
		Metrics:  m,
		Gatherer: reg,
		Logger:   logger,
	}
	if withReader {
		deps.Reader = store
	}
	return &fixture{handler: NewRouter(deps), store: store, sessions: sessions}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, true)

	req := httptest.NewRequest(http.MethodGet, "/v1/assessments", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/assessments", nil)
	req.Header.Set("Authorization", "Bearer sfk_wrong")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, false)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "safeframe_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, false)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/assess", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAssess(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/v1/assess", AssessRequest{Message: "买一个咖啡"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "tool_name is required")

	rec = f.do(t, http.MethodPost, "/v1/assess", AssessRequest{
		Message:  "买一个咖啡",
		ToolName: "purchase",
		History:  []HistoryEventReq{{Kind: "user_message", Text: "帮我点单"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AssessResponse](t, rec)
	assert.Equal(t, string(engine.ActionConfirm), resp.Action)
	require.NotNil(t, resp.Assessment)
	assert.NotNil(t, resp.Assessment.Decision.Confirmation)
	assert.NotEmpty(t, resp.Message)

	rec = f.do(t, http.MethodPost, "/v1/assess", AssessRequest{
		ToolName: "read_file",
		History:  []HistoryEventReq{{Kind: "telepathy"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown history kind")
}

func TestAssess_InvalidJSON(t *testing.T) {
	f := newFixture(t, false)
	req := httptest.NewRequest(http.MethodPost, "/v1/assess", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConstraintsLifecycle(t *testing.T) {
	f := newFixture(t, false)
	const base = "/v1/sessions/s1/constraints"

	rec := f.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, f.sessions.Len(), "reading constraints must not create the session")

	rec = f.do(t, http.MethodPut, base, ReplaceConstraintsReq{Constraints: []constraint.Constraint{
		{ID: "c1", Content: "不要发邮件", Priority: constraint.PriorityNormal, IsActive: true},
		{ID: "c2", Content: "不要删除任何文件", Priority: constraint.PriorityCritical, IsActive: true},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[ReplaceConstraintsResp](t, rec).Imported)

	rec = f.do(t, http.MethodGet, base, nil)
	list := decode[ConstraintListResp](t, rec)
	assert.Equal(t, "s1", list.SessionKey)
	assert.Len(t, list.Constraints, 2)

	rec = f.do(t, http.MethodDelete, base+"/c1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, base+"/c1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "already inactive")

	rec = f.do(t, http.MethodDelete, base+"/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, base+"/c2", DeleteConstraintReq{Secret: "guess"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "critical needs the override secret")
}

func TestReplaceConstraints_GuardsPrivileged(t *testing.T) {
	f := newFixture(t, false)
	const base = "/v1/sessions/s1/constraints"

	c1 := constraint.Constraint{ID: "c1", Content: "不要发邮件", Priority: constraint.PriorityNormal, IsActive: true}
	c2 := constraint.Constraint{ID: "c2", Content: "不要删除任何文件", Priority: constraint.PriorityCritical, IsActive: true}
	rec := f.do(t, http.MethodPut, base, ReplaceConstraintsReq{Constraints: []constraint.Constraint{c1, c2}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPut, base, ReplaceConstraintsReq{Constraints: []constraint.Constraint{c1}})
	assert.Equal(t, http.StatusForbidden, rec.Code, "dropping a critical constraint needs the secret")

	off := c2
	off.IsActive = false
	rec = f.do(t, http.MethodPut, base, ReplaceConstraintsReq{Constraints: []constraint.Constraint{c1, off}})
	assert.Equal(t, http.StatusForbidden, rec.Code, "deactivating a critical constraint needs the secret")

	rec = f.do(t, http.MethodPut, base, ReplaceConstraintsReq{Constraints: []constraint.Constraint{c1, off}, Secret: testSecret})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPut, base, ReplaceConstraintsReq{Constraints: []constraint.Constraint{c1, c2}, Secret: testSecret})
	assert.Equal(t, http.StatusConflict, rec.Code, "a deactivated constraint stays deactivated")

	rec = f.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range decode[ConstraintListResp](t, rec).Constraints {
		if c.ID == "c2" {
			assert.False(t, c.IsActive)
		}
	}
}

func TestReplaceConstraints_Invalid(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPut, "/v1/sessions/s1/constraints", ReplaceConstraintsReq{Constraints: []constraint.Constraint{
		{ID: "c1", Content: "x", Priority: "urgent"},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/sessions/s1/constraints", ReplaceConstraintsReq{Constraints: []constraint.Constraint{
		{ID: "c1", Content: "x", Priority: constraint.PriorityNormal},
		{ID: "c1", Content: "y", Priority: constraint.PriorityNormal},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAssessments(t *testing.T) {
	f := newFixture(t, true)

	now := time.Now().UTC()
	for _, ev := range []storage.AssessmentEvent{
		{RequestID: "r1", TenantID: "tenant_api", SessionKey: "a", ToolName: "read_file", Action: "proceed", Timestamp: now.Add(-3 * time.Hour)},
		{RequestID: "r2", TenantID: "tenant_api", SessionKey: "a", ToolName: "delete_file", Action: "reject", Timestamp: now.Add(-2 * time.Hour)},
		{RequestID: "r3", TenantID: "tenant_api", SessionKey: "b", ToolName: "purchase", Action: "confirm", Timestamp: now.Add(-time.Hour)},
		{RequestID: "r4", TenantID: "other", SessionKey: "a", ToolName: "read_file", Action: "proceed", Timestamp: now},
	} {
		f.store.Write(&ev)
	}

	rec := f.do(t, http.MethodGet, "/v1/assessments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[AssessmentListResp](t, rec)
	assert.Equal(t, 3, all.Total, "other tenants are invisible")
	assert.Equal(t, 1, all.Page)
	assert.Equal(t, 50, all.PageSize)
	require.Len(t, all.Assessments, 3)
	assert.Equal(t, "r3", all.Assessments[0].RequestID, "newest first")
	assert.NotNil(t, all.Assessments[0].ViolatedConstraints)

	rec = f.do(t, http.MethodGet, "/v1/assessments?session_key=a&action=reject", nil)
	filtered := decode[AssessmentListResp](t, rec)
	require.Len(t, filtered.Assessments, 1)
	assert.Equal(t, "r2", filtered.Assessments[0].RequestID)

	since := now.Add(-90 * time.Minute).Format(time.RFC3339)
	rec = f.do(t, http.MethodGet, "/v1/assessments?start_time="+since, nil)
	assert.Equal(t, 1, decode[AssessmentListResp](t, rec).Total)

	rec = f.do(t, http.MethodGet, "/v1/assessments?page_size=1000&page=0", nil)
	clamped := decode[AssessmentListResp](t, rec)
	assert.Equal(t, maxPageSize, clamped.PageSize)
	assert.Equal(t, 1, clamped.Page)
}

func TestListAssessments_NoReader(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/v1/assessments", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQueryInt(t *testing.T) {
	q := map[string][]string{"n": {"7"}, "bad": {"x"}}
	assert.Equal(t, 7, queryInt(q, "n", 1))
	assert.Equal(t, 1, queryInt(q, "bad", 1))
	assert.Equal(t, 3, queryInt(q, "missing", 3))
}
