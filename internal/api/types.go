package api

import (
	"time"

	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/engine"
)

// ErrorResp is the body of every non-2xx response.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// --- POST /v1/assess ---

// HistoryEventReq is one prior session event supplied with a dry run.
type HistoryEventReq struct {
	Kind     string         `json:"kind" validate:"oneof=user_message tool_call tool_result"`
	Text     string         `json:"text,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Result   string         `json:"result,omitempty"`
}

// AssessRequest is the JSON body for POST /v1/assess.
type AssessRequest struct {
	Message  string            `json:"message" validate:"max=8000"`
	ToolName string            `json:"tool_name" validate:"required,max=200"`
	Params   map[string]any    `json:"params,omitempty"`
	History  []HistoryEventReq `json:"history,omitempty" validate:"max=200,dive"`
}

// AssessResponse carries the full assessment and the text a host would show.
type AssessResponse struct {
	Action     string                   `json:"action"`
	Message    string                   `json:"message,omitempty"`
	Assessment *engine.SafetyAssessment `json:"assessment"`
}

// --- Session constraints ---

type ConstraintListResp struct {
	SessionKey  string                  `json:"session_key"`
	Constraints []constraint.Constraint `json:"constraints"`
}

type ReplaceConstraintsReq struct {
	Constraints []constraint.Constraint `json:"constraints" validate:"dive"`
	Secret      string                  `json:"secret,omitempty"`
}

type ReplaceConstraintsResp struct {
	Imported int `json:"imported"`
}

// DeleteConstraintReq is the optional body for DELETE .../constraints/{id}.
type DeleteConstraintReq struct {
	Secret string `json:"secret,omitempty"`
}

// --- GET /v1/assessments ---

type AssessmentResp struct {
	RequestID             string    `json:"request_id"`
	SessionKey            string    `json:"session_key"`
	Timestamp             time.Time `json:"timestamp"`
	ToolName              string    `json:"tool_name"`
	ParamsPreview         string    `json:"params_preview"`
	Stage                 string    `json:"stage"`
	Action                string    `json:"action"`
	IsShadow              bool      `json:"is_shadow"`
	FailedOpen            bool      `json:"failed_open"`
	Reason                string    `json:"reason"`
	Severity              string    `json:"severity,omitempty"`
	Reversibility         string    `json:"reversibility,omitempty"`
	RiskScore             float32   `json:"risk_score"`
	UserInterestScore     float32   `json:"user_interest_score"`
	ConsequenceTypes      []string  `json:"consequence_types"`
	ConsequenceSeverities []string  `json:"consequence_severities"`
	ViolatedConstraints   []string  `json:"violated_constraints"`
	LatencyMs             float32   `json:"latency_ms"`
}

type AssessmentListResp struct {
	Assessments []AssessmentResp `json:"assessments"`
	Total       int              `json:"total"`
	Page        int              `json:"page"`
	PageSize    int              `json:"page_size"`
}
