package constraint

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/backend"
	"github.com/chatabc/open-safe-frame/internal/engine"
)

// Extractor pulls constraint phrases out of an utterance.
type Extractor interface {
	ExtractConstraints(ctx context.Context, req *backend.Request) (*backend.ConstraintResult, error)
}

// SecretVerifier checks the shared override secret. Implementations must compare
// against a salted hash in constant time and never retain the plaintext.
type SecretVerifier interface {
	Verify(secret string) bool
}

// Ledger is the per-session set of constraints. Safe for concurrent use.
type Ledger struct {
	mu          sync.Mutex
	constraints map[string]*Constraint
	order       []string        // insertion order, for export
	retired     map[string]bool // ids deactivated here, kept across imports

	extractor     Extractor
	secret        SecretVerifier // nil = privileged operations always fail
	historyWindow int
	now           func() time.Time
	logger        *zap.Logger
}

// LedgerConfig configures a Ledger.
type LedgerConfig struct {
	Extractor     Extractor
	Secret        SecretVerifier
	HistoryWindow int
	Logger        *zap.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(cfg LedgerConfig) *Ledger {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = 10
	}
	return &Ledger{
		constraints:   make(map[string]*Constraint),
		retired:       make(map[string]bool),
		extractor:     cfg.Extractor,
		secret:        cfg.Secret,
		historyWindow: window,
		now:           time.Now,
		logger:        logger,
	}
}

// ExtractAndAdd asks the extractor for constraint phrases and records each as an active
// user_explicit constraint. Extraction failures are logged and yield nothing. Nothing is
// written if ctx is done by the time the extractor returns.
func (l *Ledger) ExtractAndAdd(ctx context.Context, utterance string, history []engine.SessionEvent) []Constraint {
	if l.extractor == nil || strings.TrimSpace(utterance) == "" {
		return nil
	}

	res, err := l.extractor.ExtractConstraints(ctx, &backend.Request{
		UserMessage:    utterance,
		SessionHistory: backend.LastEvents(history, l.historyWindow),
	})
	if err != nil {
		l.logger.Warn("constraint extraction failed", zap.Error(err))
		return nil
	}
	if ctx.Err() != nil || res == nil {
		return nil
	}

	var added []Constraint
	for _, ec := range res.Constraints {
		priority := Priority(ec.Priority)
		if !priority.IsValid() {
			priority = PriorityNormal
		}
		scope := Scope(ec.Scope)
		if scope != ScopeOperation {
			scope = ScopeSession
		}
		if c, ok := l.Add(ec.Content, priority, scope, SourceUserExplicit, utterance); ok {
			added = append(added, c)
		}
	}
	return added
}

// Add records a new active constraint. An identical active constraint is not duplicated;
// the second return is false in that case.
func (l *Ledger) Add(content string, priority Priority, scope Scope, source Source, sourceMessage string) (Constraint, bool) {
	content = strings.Join(strings.Fields(content), " ")
	if content == "" {
		return Constraint{}, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range l.order {
		c := l.constraints[id]
		if c.IsActive && c.Content == content {
			return Constraint{}, false
		}
	}

	c := &Constraint{
		ID:            "c-" + uuid.NewString(),
		Content:       content,
		Source:        source,
		Priority:      priority,
		CreatedAt:     l.now(),
		SourceMessage: sourceMessage,
		Scope:         scope,
		IsActive:      true,
	}
	l.constraints[c.ID] = c
	l.order = append(l.order, c.ID)
	return c.clone(), true
}

// Check tests action against every active constraint. Appeal eligibility is judged
// on the attempts recorded before this one; each violated constraint's counter is
// then incremented.
func (l *Ledger) Check(a Action) *CheckResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	var violated []*Constraint
	for _, c := range l.activeLocked() {
		if _, ok := violates(c, a); ok {
			violated = append(violated, c)
		}
	}
	if len(violated) == 0 {
		return &CheckResult{}
	}

	primary := violated[0] // activeLocked is priority ordered
	threshold := AppealThreshold(primary.Priority)
	prior := primary.ViolationAttempts

	res := &CheckResult{
		Violated:          true,
		CanAppeal:         prior >= threshold-1,
		AppealThreshold:   threshold,
		RemainingAttempts: max(0, threshold-1-prior),
	}

	now := l.now()
	for _, c := range violated {
		res.Violations = append(res.Violations, c.clone())
		c.ViolationAttempts++
		c.LastAttemptAt = &now
	}
	return res
}

// Appeal files an agent appeal against a constraint.
func (l *Ledger) Appeal(id, reason, toolName string, params map[string]any) (AppealRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.activeByID(id)
	if err != nil {
		return AppealRecord{}, err
	}
	rec := AppealRecord{
		Timestamp: l.now(),
		Reason:    reason,
		ToolName:  toolName,
		Params:    params,
	}
	c.AppealHistory = append(c.AppealHistory, rec)
	return rec, nil
}

// ResolveAppeal records the user's ruling on the pending appeal. Approving an appeal
// against a critical or high constraint requires the shared secret; without it the
// appeal stays pending and ErrSecretRequired is returned.
func (l *Ledger) ResolveAppeal(id string, decision AppealDecision, secret string) (AppealRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.activeByID(id)
	if err != nil {
		return AppealRecord{}, err
	}
	pending, ok := c.PendingAppeal()
	if !ok {
		return AppealRecord{}, ErrNoPendingAppeal
	}
	if decision == AppealApproved && c.Priority.Privileged() && !l.verify(secret) {
		return AppealRecord{}, ErrSecretRequired
	}

	rec := *pending
	rec.Timestamp = l.now()
	rec.UserDecision = decision
	c.AppealHistory = append(c.AppealHistory, rec)
	return rec, nil
}

// Deactivate tombstones a constraint. Critical and high constraints require the shared secret.
func (l *Ledger) Deactivate(id, secret string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.activeByID(id)
	if err != nil {
		return err
	}
	if c.Priority.Privileged() && !l.verify(secret) {
		return ErrSecretRequired
	}
	c.IsActive = false
	return nil
}

// DeactivateOperationScoped clears every active operation-scoped constraint after a
// proceed decision. Returns how many were cleared.
func (l *Ledger) DeactivateOperationScoped() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, c := range l.constraints {
		if c.IsActive && c.Scope == ScopeOperation {
			c.IsActive = false
			n++
		}
	}
	return n
}

// Get returns a snapshot of a constraint, active or not.
func (l *Ledger) Get(id string) (Constraint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.constraints[id]
	if !ok {
		return Constraint{}, false
	}
	return c.clone(), true
}

// Active returns snapshots of the active constraints, highest priority first.
func (l *Ledger) Active() []Constraint {
	l.mu.Lock()
	defer l.mu.Unlock()

	active := l.activeLocked()
	out := make([]Constraint, 0, len(active))
	for _, c := range active {
		out = append(out, c.clone())
	}
	return out
}

// Export returns every constraint, including tombstones, in creation order.
func (l *Ledger) Export() []Constraint {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Constraint, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.constraints[id].clone())
	}
	return out
}

// Import replaces the whole constraint set. The ledger is unchanged if the input is invalid.
// Dropping, deactivating or downgrading an active critical or high constraint needs the
// override secret, and a constraint already deactivated here cannot come back active.
func (l *Ledger) Import(constraints []Constraint, secret string) error {
	next := make(map[string]*Constraint, len(constraints))
	order := make([]string, 0, len(constraints))
	for i := range constraints {
		c := constraints[i].clone()
		if c.ID == "" {
			return fmt.Errorf("Import: constraint %d: %w", i, ErrMissingID)
		}
		if !c.Priority.IsValid() {
			return fmt.Errorf("Import: constraint %s: %w", c.ID, ErrInvalidPriority)
		}
		if _, dup := next[c.ID]; dup {
			return fmt.Errorf("Import: constraint %s: %w", c.ID, ErrDuplicateID)
		}
		if c.Scope != ScopeOperation {
			c.Scope = ScopeSession
		}
		next[c.ID] = &c
		order = append(order, c.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, cur := range l.constraints {
		if !cur.IsActive {
			l.retired[id] = true
		}
	}
	for _, id := range order {
		if next[id].IsActive && l.retired[id] {
			return fmt.Errorf("Import: constraint %s: %w", id, ErrInactive)
		}
	}
	privileged := false
	for id, cur := range l.constraints {
		in, kept := next[id]
		if cur.IsActive && cur.Priority.Privileged() && (!kept || !in.IsActive || !in.Priority.Privileged()) {
			privileged = true
		}
	}
	if privileged && !l.verify(secret) {
		return fmt.Errorf("Import: %w", ErrSecretRequired)
	}

	for _, id := range order {
		if !next[id].IsActive {
			l.retired[id] = true
		}
	}
	l.constraints = next
	l.order = order
	return nil
}

func (l *Ledger) activeByID(id string) (*Constraint, error) {
	c, ok := l.constraints[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.IsActive {
		return nil, ErrInactive
	}
	return c, nil
}

// activeLocked returns active constraints ordered by priority, then creation order.
func (l *Ledger) activeLocked() []*Constraint {
	var active []*Constraint
	for _, id := range l.order {
		if c := l.constraints[id]; c.IsActive {
			active = append(active, c)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority.Rank() > active[j].Priority.Rank()
	})
	return active
}

func (l *Ledger) verify(secret string) bool {
	if l.secret == nil || secret == "" {
		return false
	}
	return l.secret.Verify(secret)
}
