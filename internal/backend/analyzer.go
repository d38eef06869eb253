package backend

import (
	"context"
	"errors"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

var (
	// ErrNoBackend is returned by analyzers that do not implement an analysis endpoint.
	// Callers fall back to rules without logging a warning.
	ErrNoBackend = errors.New("backend: analysis not available")

	// ErrInvalidOutput is returned when a backend reply is empty, not JSON, or fails schema validation.
	ErrInvalidOutput = errors.New("backend: invalid output")
)

// Analyzer is the pluggable analysis backend. Every method is a blocking I/O call;
// any error means "fall back to the rule path".
type Analyzer interface {
	AnalyzeIntent(ctx context.Context, req *Request) (*IntentResult, error)
	AnalyzeConsequence(ctx context.Context, req *Request) (*ConsequenceResult, error)
	SynthesizeDecision(ctx context.Context, req *Request) (*DecisionResult, error)
	ExtractConstraints(ctx context.Context, req *Request) (*ConstraintResult, error)
}

// Request is the input to every analysis endpoint.
type Request struct {
	UserMessage    string                `json:"userMessage"`
	ToolName       string                `json:"toolName,omitempty"`
	ToolParams     map[string]any        `json:"toolParams,omitempty"`
	SessionHistory []engine.SessionEvent `json:"sessionHistory,omitempty"`
	// Assessment carries the rule-path result to decision synthesis.
	Assessment *engine.SafetyAssessment `json:"assessment,omitempty"`
}

// NewRequest builds a Request, trimming history to the last window events.
func NewRequest(message string, tc *engine.ToolContext, window int) *Request {
	req := &Request{UserMessage: message}
	if tc == nil {
		return req
	}
	req.ToolName = tc.ToolName
	req.ToolParams = tc.Params
	req.SessionHistory = LastEvents(tc.History, window)
	return req
}

// LastEvents returns the trailing n events of history (all of them when n <= 0).
func LastEvents(history []engine.SessionEvent, n int) []engine.SessionEvent {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// DataItem is one data category in an intent reply.
type DataItem struct {
	Category        string `json:"category"`
	Description     string `json:"description"`
	EstimatedVolume string `json:"estimatedVolume"`
}

// IntentResult is the intent analysis reply.
type IntentResult struct {
	Understood   string     `json:"understood"`
	Confidence   float64    `json:"confidence"`
	KeyActions   []string   `json:"keyActions"`
	Constraints  []string   `json:"constraints"`
	DataInvolved []DataItem `json:"dataInvolved"`
}

// ConsequenceItem is one consequence in a consequence reply.
type ConsequenceItem struct {
	Type            string  `json:"type"`
	Description     string  `json:"description"`
	Severity        string  `json:"severity"`
	Reversibility   string  `json:"reversibility"`
	AffectedData    string  `json:"affectedData,omitempty"`
	EstimatedImpact string  `json:"estimatedImpact,omitempty"`
	Likelihood      float64 `json:"likelihood,omitempty"`
}

// ConsequenceResult is the consequence analysis reply.
type ConsequenceResult struct {
	Consequences    []ConsequenceItem `json:"consequences"`
	OverallSeverity string            `json:"overallSeverity"`
	Reversibility   string            `json:"reversibility"`
	Confidence      float64           `json:"confidence"`
	Reasoning       string            `json:"reasoning"`
}

// DecisionResult is the decision synthesis reply.
type DecisionResult struct {
	Action     string  `json:"action"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// ExtractedConstraint is one constraint phrase pulled from an utterance.
type ExtractedConstraint struct {
	Content  string `json:"content"`
	Priority string `json:"priority"`
	Scope    string `json:"scope"`
}

// ConstraintResult is the constraint extraction reply.
type ConstraintResult struct {
	Constraints []ExtractedConstraint `json:"constraints"`
	Confidence  float64               `json:"confidence"`
}
