package engine

import "time"

// Severity is the ordered scale applied to predicted consequences.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank orders severities: low < medium < high < critical. Unknown values rank -1.
func (s Severity) Rank() int {
	r, ok := severityRank[s]
	if !ok {
		return -1
	}
	return r
}

func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// MaxSeverity returns the higher of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Reversibility describes whether a consequence can be undone.
type Reversibility string

const (
	Reversible          Reversibility = "reversible"
	PartiallyReversible Reversibility = "partially_reversible"
	Irreversible        Reversibility = "irreversible"
)

func (r Reversibility) IsValid() bool {
	switch r {
	case Reversible, PartiallyReversible, Irreversible:
		return true
	}
	return false
}

// ConsequenceType is the canonical consequence taxonomy.
type ConsequenceType string

const (
	ConsequenceDataLoss            ConsequenceType = "data_loss"
	ConsequenceFinancialLoss       ConsequenceType = "financial_loss"
	ConsequencePrivacyBreach       ConsequenceType = "privacy_breach"
	ConsequenceSystemDamage        ConsequenceType = "system_damage"
	ConsequenceScopeEscape         ConsequenceType = "scope_escape"
	ConsequencePermissionViolation ConsequenceType = "permission_violation"
	ConsequenceOther               ConsequenceType = "other"
)

func (t ConsequenceType) IsValid() bool {
	switch t {
	case ConsequenceDataLoss, ConsequenceFinancialLoss, ConsequencePrivacyBreach,
		ConsequenceSystemDamage, ConsequenceScopeEscape, ConsequencePermissionViolation,
		ConsequenceOther:
		return true
	}
	return false
}

// DataCategory classifies the data an intent touches.
type DataCategory string

const (
	DataFiles       DataCategory = "files"
	DataEmails      DataCategory = "emails"
	DataFinancial   DataCategory = "financial"
	DataSystem      DataCategory = "system"
	DataCredentials DataCategory = "credentials"
	DataOther       DataCategory = "other"
)

func (c DataCategory) IsValid() bool {
	switch c {
	case DataFiles, DataEmails, DataFinancial, DataSystem, DataCredentials, DataOther:
		return true
	}
	return false
}

// Volume is the estimated amount of data involved.
type Volume string

const (
	VolumeSmall   Volume = "small"
	VolumeMedium  Volume = "medium"
	VolumeLarge   Volume = "large"
	VolumeUnknown Volume = "unknown"
)

func (v Volume) IsValid() bool {
	switch v {
	case VolumeSmall, VolumeMedium, VolumeLarge, VolumeUnknown:
		return true
	}
	return false
}

// Action is the outcome of one assessment.
type Action string

const (
	ActionProceed Action = "proceed"
	ActionConfirm Action = "confirm"
	ActionReject  Action = "reject"
)

var actionRank = map[Action]int{
	ActionProceed: 0,
	ActionConfirm: 1,
	ActionReject:  2,
}

// Rank orders actions by strictness: proceed < confirm < reject.
func (a Action) Rank() int {
	r, ok := actionRank[a]
	if !ok {
		return -1
	}
	return r
}

func (a Action) IsValid() bool {
	_, ok := actionRank[a]
	return ok
}

// ConfirmationType selects how a user unblocks a confirmation.
type ConfirmationType string

const (
	ConfirmSimple   ConfirmationType = "simple"
	ConfirmPassword ConfirmationType = "password"
)

// Source records which path produced a stage's output.
const (
	SourceRules   = "rules"
	SourceBackend = "backend"
	SourceMerged  = "rules+backend"
)

// DataInvolvement is one data category touched by an intent.
type DataInvolvement struct {
	Category        DataCategory `json:"category"`
	Description     string       `json:"description"`
	EstimatedVolume Volume       `json:"estimated_volume"`
}

// UserIntent is the structured reading of a user utterance. Never mutated after construction.
type UserIntent struct {
	Raw          string            `json:"raw"`
	Understood   string            `json:"understood"`
	Confidence   float64           `json:"confidence"`
	KeyActions   []string          `json:"key_actions"`
	Constraints  []string          `json:"constraints"`
	DataInvolved []DataInvolvement `json:"data_involved"`
	Source       string            `json:"source"`
}

// VolumeOf returns the largest estimated volume recorded for a category, or "" if absent.
func (i *UserIntent) VolumeOf(cat DataCategory) Volume {
	var found Volume
	for _, d := range i.DataInvolved {
		if d.Category != cat {
			continue
		}
		if found == "" || d.EstimatedVolume == VolumeLarge {
			found = d.EstimatedVolume
		}
	}
	return found
}

// HasLargeVolume reports whether any involved data is estimated as large.
func (i *UserIntent) HasLargeVolume() bool {
	for _, d := range i.DataInvolved {
		if d.EstimatedVolume == VolumeLarge {
			return true
		}
	}
	return false
}

// Consequence is one possible negative outcome of a tool call.
type Consequence struct {
	Type            ConsequenceType `json:"type"`
	Description     string          `json:"description"`
	Severity        Severity        `json:"severity"`
	Reversibility   Reversibility   `json:"reversibility"`
	AffectedData    string          `json:"affected_data,omitempty"`
	EstimatedImpact string          `json:"estimated_impact,omitempty"`
	Likelihood      float64         `json:"likelihood,omitempty"`
}

// ConsequencePrediction is the output of the consequence stage.
type ConsequencePrediction struct {
	Consequences    []Consequence `json:"consequences"`
	OverallSeverity Severity      `json:"overall_severity"`
	Reversibility   Reversibility `json:"reversibility"`
	Confidence      float64       `json:"confidence"`
	Reasoning       string        `json:"reasoning"`
	Source          string        `json:"source"`
}

// ValueScore is one weighted core value's score for an action.
type ValueScore struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

// ValueJudgment is the overall alignment verdict derived from value scores.
type ValueJudgment struct {
	Aligned         bool     `json:"aligned"`
	Score           float64  `json:"score"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations"`
}

// ValueAssessment is the output of the value stage.
type ValueAssessment struct {
	Judgment          ValueJudgment `json:"judgment"`
	Scores            []ValueScore  `json:"scores"`
	Reasoning         string        `json:"reasoning"`
	UserInterestScore float64       `json:"user_interest_score"`
	RiskScore         float64       `json:"risk_score"`
}

// ConfirmationRequest is what the user is shown before a confirm decision can proceed.
type ConfirmationRequest struct {
	UnderstoodIntent     string           `json:"understood_intent"`
	PlannedAction        string           `json:"planned_action"`
	PossibleConsequences []Consequence    `json:"possible_consequences"`
	Severity             Severity         `json:"severity"`
	ConfirmationType     ConfirmationType `json:"confirmation_type"`
	TimeoutMs            int64            `json:"timeout_ms"`
}

// Decision is the terminal artifact of one assessment.
type Decision struct {
	Action       Action               `json:"action"`
	Reason       string               `json:"reason"`
	Confirmation *ConfirmationRequest `json:"confirmation,omitempty"`
	Source       string               `json:"source"`
}

// EventKind tags entries in a session's history.
type EventKind string

const (
	EventUserMessage EventKind = "user_message"
	EventToolCall    EventKind = "tool_call"
	EventToolResult  EventKind = "tool_result"
)

// SessionEvent is one entry of a session's history.
type SessionEvent struct {
	Kind      EventKind      `json:"kind"`
	Text      string         `json:"text,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Result    string         `json:"result,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SafetyAssessment is one complete intent -> consequence -> value -> decision run.
type SafetyAssessment struct {
	Intent           *UserIntent            `json:"intent"`
	Prediction       *ConsequencePrediction `json:"consequence_prediction"`
	Values           *ValueAssessment       `json:"value_alignment"`
	Decision         *Decision              `json:"decision"`
	ProcessingTimeMs float64                `json:"processing_time_ms"`
	// FailedOpen is set when the pipeline faulted and the decision defaulted to proceed.
	FailedOpen bool `json:"failed_open,omitempty"`
}
