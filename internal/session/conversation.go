package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/engine"
)

const (
	// DefaultHistoryLimit caps the events kept per session; older events are dropped.
	DefaultHistoryLimit = 200

	// MaxPasswordAttempts is how many wrong secrets end a password prompt.
	MaxPasswordAttempts = 3
)

// PendingConfirmation is a confirm decision waiting for the user's reply.
type PendingConfirmation struct {
	RequestID   string
	ToolName    string
	Params      map[string]any
	Fingerprint string
	Type        engine.ConfirmationType
	Assessment  *engine.SafetyAssessment
	CreatedAt   time.Time
}

// PendingAppeal is a filed appeal waiting for the user's ruling.
type PendingAppeal struct {
	ConstraintID string
	ToolName     string
	Params       map[string]any
	Fingerprint  string
	// Privileged appeals can only be approved with the override secret.
	Privileged bool
	CreatedAt  time.Time
}

// Violation is the last tool call the ledger blocked with the appeal channel open.
// An appeal from the agent is filed against it.
type Violation struct {
	ConstraintID string
	ToolName     string
	Params       map[string]any
	Context      constraint.AppealContext
}

// Conversation is a session's mutable state. It is only touched from inside
// Session.Do, which serializes access.
type Conversation struct {
	Key      string
	TenantID string
	Ledger   *constraint.Ledger

	State        State
	History      []engine.SessionEvent
	Confirmation *PendingConfirmation
	Appeal       *PendingAppeal
	Violation    *Violation

	passwordFailures int
	passes           map[string]int
	historyLimit     int
	now              func() time.Time
}

func newConversation(tenantID, key string, ledger *constraint.Ledger, historyLimit int) *Conversation {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Conversation{
		Key:          key,
		TenantID:     tenantID,
		Ledger:       ledger,
		State:        StateIdle,
		passes:       make(map[string]int),
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// Record appends an event to the history, stamping it if needed.
func (c *Conversation) Record(ev engine.SessionEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now()
	}
	c.History = append(c.History, ev)
	if over := len(c.History) - c.historyLimit; over > 0 {
		c.History = append(c.History[:0:0], c.History[over:]...)
	}
}

// HistorySnapshot returns a copy of the history safe to hand to the pipeline.
func (c *Conversation) HistorySnapshot() []engine.SessionEvent {
	return append([]engine.SessionEvent(nil), c.History...)
}

// LastUserMessage returns the most recent user utterance, or "".
func (c *Conversation) LastUserMessage() string {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Kind == engine.EventUserMessage {
			return c.History[i].Text
		}
	}
	return ""
}

// AwaitConfirmation parks a confirm decision. Password confirmations go straight
// to the password prompt.
func (c *Conversation) AwaitConfirmation(p *PendingConfirmation) {
	c.clearPending()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = c.now()
	}
	c.Confirmation = p
	if p.Type == engine.ConfirmPassword {
		c.State = StateAwaitingPassword
	} else {
		c.State = StateAwaitingConfirmation
	}
}

// AwaitAppeal parks a filed appeal.
func (c *Conversation) AwaitAppeal(p *PendingAppeal) {
	c.clearPending()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = c.now()
	}
	c.Appeal = p
	if p.Privileged {
		c.State = StateAwaitingPassword
	} else {
		c.State = StateAwaitingAppealDecision
	}
}

// Apply runs a reply through the transition table and moves to the next state.
// Pending slots are kept so the caller can act on the returned effect; call Reset
// once the effect is applied.
func (c *Conversation) Apply(r Reply) (Effect, bool) {
	to, effect, consumed := Transition(c.State, r)
	c.State = to
	return effect, consumed
}

// PasswordResult records the outcome of an EffectVerifyPassword. A correct secret
// returns the session to idle; after MaxPasswordAttempts wrong ones the prompt is
// abandoned. The return reports whether the prompt is still open.
func (c *Conversation) PasswordResult(ok bool) bool {
	if ok {
		c.State = StateIdle
		c.passwordFailures = 0
		return false
	}
	c.passwordFailures++
	if c.passwordFailures >= MaxPasswordAttempts {
		c.Reset()
		return false
	}
	return true
}

// PasswordAttemptsLeft returns how many wrong secrets the open prompt still tolerates.
func (c *Conversation) PasswordAttemptsLeft() int {
	return MaxPasswordAttempts - c.passwordFailures
}

// Reset drops any pending prompt and returns to idle.
func (c *Conversation) Reset() {
	c.clearPending()
	c.State = StateIdle
}

func (c *Conversation) clearPending() {
	c.Confirmation = nil
	c.Appeal = nil
	c.passwordFailures = 0
}

// GrantPass lets the next identical tool call through without reassessment.
func (c *Conversation) GrantPass(toolName string, params map[string]any) {
	c.passes[Fingerprint(toolName, params)]++
}

// ConsumePass uses up a pass for the tool call, if one was granted.
func (c *Conversation) ConsumePass(toolName string, params map[string]any) bool {
	fp := Fingerprint(toolName, params)
	n := c.passes[fp]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(c.passes, fp)
	} else {
		c.passes[fp] = n - 1
	}
	return true
}

// Fingerprint identifies a tool call by name and parameters. Map keys are
// marshalled in sorted order, so equal params always hash the same.
func Fingerprint(toolName string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	if len(params) > 0 {
		b, err := json.Marshal(params)
		if err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
