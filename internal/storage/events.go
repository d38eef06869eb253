package storage

import (
	"context"
	"time"
)

// EventWriter persists assessment events. Write must never block the caller.
type EventWriter interface {
	Write(event *AssessmentEvent)
	Close()
}

// EventReader queries persisted assessment events.
type EventReader interface {
	ListAssessments(ctx context.Context, params ListParams) ([]AssessmentEvent, int, error)
}

// Decision stages.
const (
	StagePass       = "pass"       // a one-time pass let the call through
	StageConstraint = "constraint" // the constraint ledger blocked the call
	StageAssessment = "assessment" // the full pipeline decided
)

// AssessmentEvent is one before-tool-call outcome.
type AssessmentEvent struct {
	RequestID  string    `json:"request_id"`
	TenantID   string    `json:"tenant_id"`
	SessionKey string    `json:"session_key"`
	Timestamp  time.Time `json:"timestamp"`
	ToolName   string    `json:"tool_name"`
	// ParamsPreview is the first 500 chars of the JSON-encoded params.
	ParamsPreview string `json:"params_preview"`

	Stage      string `json:"stage"`
	Action     string `json:"action"`
	IsShadow   bool   `json:"is_shadow"`
	FailedOpen bool   `json:"failed_open"`
	Reason     string `json:"reason"`

	Severity              string   `json:"severity"`
	Reversibility         string   `json:"reversibility"`
	RiskScore             float32  `json:"risk_score"`
	UserInterestScore     float32  `json:"user_interest_score"`
	ConsequenceTypes      []string `json:"consequence_types"`
	ConsequenceSeverities []string `json:"consequence_severities"`
	ViolatedConstraints   []string `json:"violated_constraints"`

	IntentSource     string  `json:"intent_source"`
	PredictionSource string  `json:"prediction_source"`
	DecisionSource   string  `json:"decision_source"`
	LatencyMs        float32 `json:"latency_ms"`
}

// ListParams holds filters and pagination for event listing.
type ListParams struct {
	TenantID   string
	SessionKey *string
	Action     *string
	ToolName   *string
	StartTime  *time.Time
	EndTime    *time.Time
	Page       int
	PageSize   int
}

// Matches reports whether e passes the filters (pagination aside).
func (p *ListParams) Matches(e *AssessmentEvent) bool {
	switch {
	case e.TenantID != p.TenantID:
		return false
	case p.SessionKey != nil && e.SessionKey != *p.SessionKey:
		return false
	case p.Action != nil && e.Action != *p.Action:
		return false
	case p.ToolName != nil && e.ToolName != *p.ToolName:
		return false
	case p.StartTime != nil && e.Timestamp.Before(*p.StartTime):
		return false
	case p.EndTime != nil && e.Timestamp.After(*p.EndTime):
		return false
	}
	return true
}

// MultiWriter fans every event out to several writers.
type MultiWriter []EventWriter

func (m MultiWriter) Write(event *AssessmentEvent) {
	for _, w := range m {
		w.Write(event)
	}
}

func (m MultiWriter) Close() {
	for _, w := range m {
		w.Close()
	}
}
