package constraint

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("constraint not found")
	ErrInactive        = errors.New("constraint is no longer active")
	ErrSecretRequired  = errors.New("password required")
	ErrNoPendingAppeal = errors.New("no pending appeal")
	ErrInvalidPriority = errors.New("invalid constraint priority")
	ErrDuplicateID     = errors.New("duplicate constraint id")
	ErrMissingID       = errors.New("constraint id is required")
)

// Priority orders constraints: critical > high > normal.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
)

var priorityRank = map[Priority]int{
	PriorityNormal:   0,
	PriorityHigh:     1,
	PriorityCritical: 2,
}

func (p Priority) Rank() int {
	r, ok := priorityRank[p]
	if !ok {
		return -1
	}
	return r
}

func (p Priority) IsValid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Privileged reports whether removing or overriding the constraint needs the shared secret.
func (p Priority) Privileged() bool {
	return p == PriorityCritical || p == PriorityHigh
}

// appealThresholds is the number of violation attempts before an appeal opens.
var appealThresholds = map[Priority]int{
	PriorityCritical: 3,
	PriorityHigh:     2,
	PriorityNormal:   1,
}

// AppealThreshold returns the attempt threshold for a priority.
func AppealThreshold(p Priority) int {
	if t, ok := appealThresholds[p]; ok {
		return t
	}
	return appealThresholds[PriorityNormal]
}

// Scope is how long a constraint lives.
type Scope string

const (
	ScopeSession   Scope = "session"
	ScopeOperation Scope = "operation"
)

// Source records where a constraint came from.
type Source string

const (
	SourceUserExplicit Source = "user_explicit"
	SourceUserImplicit Source = "user_implicit"
	SourceSystem       Source = "system"
)

// AppealDecision is the user's ruling on an appeal.
type AppealDecision string

const (
	AppealApproved AppealDecision = "approved"
	AppealRejected AppealDecision = "rejected"
)

// AppealRecord is one entry of a constraint's appeal history. Records are appended, never
// mutated: a ruling is recorded as a new record carrying the decision.
type AppealRecord struct {
	Timestamp    time.Time      `json:"timestamp"`
	Reason       string         `json:"reason"`
	ToolName     string         `json:"tool_name"`
	Params       map[string]any `json:"params,omitempty"`
	UserDecision AppealDecision `json:"user_decision,omitempty"`
}

// Constraint is a user-issued restriction. Deactivation is a tombstone: inactive
// constraints are kept for audit but never checked or reactivated.
type Constraint struct {
	ID                string         `json:"id"`
	Content           string         `json:"content"`
	Source            Source         `json:"source"`
	Priority          Priority       `json:"priority"`
	CreatedAt         time.Time      `json:"created_at"`
	SourceMessage     string         `json:"source_message"`
	Scope             Scope          `json:"scope"`
	IsActive          bool           `json:"is_active"`
	ViolationAttempts int            `json:"violation_attempts"`
	LastAttemptAt     *time.Time     `json:"last_attempt_at,omitempty"`
	AppealHistory     []AppealRecord `json:"appeal_history"`
}

// PendingAppeal returns the latest appeal if the user has not ruled on it yet.
func (c *Constraint) PendingAppeal() (*AppealRecord, bool) {
	n := len(c.AppealHistory)
	if n == 0 || c.AppealHistory[n-1].UserDecision != "" {
		return nil, false
	}
	return &c.AppealHistory[n-1], true
}

func (c *Constraint) clone() Constraint {
	out := *c
	out.AppealHistory = append([]AppealRecord(nil), c.AppealHistory...)
	if c.LastAttemptAt != nil {
		t := *c.LastAttemptAt
		out.LastAttemptAt = &t
	}
	return out
}

// Action is a pending tool call as seen by the violation check.
type Action struct {
	Type        string
	Description string
	Params      map[string]any
}

// CheckResult is the outcome of a violation check.
type CheckResult struct {
	Violated bool
	// Violations are snapshots taken before the attempt counter was incremented,
	// ordered highest priority first.
	Violations        []Constraint
	CanAppeal         bool
	AppealThreshold   int
	RemainingAttempts int
}

// Primary returns the highest-priority violated constraint.
func (r *CheckResult) Primary() (Constraint, bool) {
	if len(r.Violations) == 0 {
		return Constraint{}, false
	}
	return r.Violations[0], true
}
