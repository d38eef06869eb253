package constraint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatabc/open-safe-frame/internal/backend"
)

type stubSecret string

func (s stubSecret) Verify(secret string) bool { return string(s) == secret }

type failingExtractor struct{}

func (failingExtractor) ExtractConstraints(context.Context, *backend.Request) (*backend.ConstraintResult, error) {
	return nil, errors.New("backend unreachable")
}

func deleteFile() Action {
	return Action{Type: "delete_file", Description: `delete_file(path=/tmp/a.txt)`}
}

func newTestLedger(secret SecretVerifier) *Ledger {
	return NewLedger(LedgerConfig{Extractor: backend.NewRuleAnalyzer(), Secret: secret})
}

func TestLedger_CriticalConstraintAppealOpensOnThirdAttempt(t *testing.T) {
	l := newTestLedger(nil)
	added := l.ExtractAndAdd(context.Background(), "不要删除任何文件", nil)
	require.Len(t, added, 1)
	assert.Equal(t, PriorityCritical, added[0].Priority)
	assert.Equal(t, ScopeSession, added[0].Scope)
	assert.Equal(t, SourceUserExplicit, added[0].Source)

	want := []bool{false, false, true}
	for i, canAppeal := range want {
		res := l.Check(deleteFile())
		require.True(t, res.Violated, "attempt %d", i+1)
		assert.Equal(t, canAppeal, res.CanAppeal, "attempt %d", i+1)
		assert.Equal(t, 3, res.AppealThreshold)
	}

	c, ok := l.Get(added[0].ID)
	require.True(t, ok)
	assert.Equal(t, 3, c.ViolationAttempts)
	assert.NotNil(t, c.LastAttemptAt)
}

func TestLedger_AppealThresholdByPriority(t *testing.T) {
	tests := []struct {
		priority  Priority
		openAfter int // attempt number on which canAppeal first becomes true
	}{
		{PriorityNormal, 1},
		{PriorityHigh, 2},
		{PriorityCritical, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			l := newTestLedger(nil)
			l.Add("不要删除文件", tt.priority, ScopeSession, SourceUserExplicit, "")

			for attempt := 1; attempt <= 5; attempt++ {
				res := l.Check(deleteFile())
				assert.Equal(t, attempt >= tt.openAfter, res.CanAppeal, "attempt %d", attempt)
				assert.GreaterOrEqual(t, res.RemainingAttempts, 0)
			}
		})
	}
}

func TestLedger_HighestPriorityDrivesThreshold(t *testing.T) {
	l := newTestLedger(nil)
	l.Add("不要删除文件", PriorityNormal, ScopeSession, SourceUserExplicit, "")
	l.Add("绝对不要删除", PriorityCritical, ScopeSession, SourceUserExplicit, "")

	res := l.Check(deleteFile())
	require.Len(t, res.Violations, 2)
	assert.Equal(t, PriorityCritical, res.Violations[0].Priority)
	assert.Equal(t, 3, res.AppealThreshold)
	assert.False(t, res.CanAppeal)
	assert.Equal(t, 2, res.RemainingAttempts)
}

func TestLedger_NoViolation(t *testing.T) {
	l := newTestLedger(nil)
	l.Add("不要删除任何文件", PriorityCritical, ScopeSession, SourceUserExplicit, "")

	res := l.Check(Action{Type: "read_file", Description: "read_file(path=/tmp/a.txt)"})
	assert.False(t, res.Violated)
	assert.Empty(t, res.Violations)
}

func TestLedger_DeactivateCriticalRequiresSecret(t *testing.T) {
	l := newTestLedger(stubSecret("hunter2"))
	c, _ := l.Add("不要删除任何文件", PriorityCritical, ScopeSession, SourceUserExplicit, "")

	assert.ErrorIs(t, l.Deactivate(c.ID, ""), ErrSecretRequired)
	assert.ErrorIs(t, l.Deactivate(c.ID, "wrong"), ErrSecretRequired)
	got, _ := l.Get(c.ID)
	assert.True(t, got.IsActive)

	require.NoError(t, l.Deactivate(c.ID, "hunter2"))
	got, _ = l.Get(c.ID)
	assert.False(t, got.IsActive)
	assert.False(t, l.Check(deleteFile()).Violated)
}

func TestLedger_DeactivateWithoutConfiguredSecretAlwaysFails(t *testing.T) {
	l := newTestLedger(nil)
	c, _ := l.Add("必须先备份", PriorityHigh, ScopeSession, SourceUserExplicit, "")

	assert.ErrorIs(t, l.Deactivate(c.ID, "anything"), ErrSecretRequired)
	got, _ := l.Get(c.ID)
	assert.True(t, got.IsActive)
}

func TestLedger_DeactivateNormalNeedsNoSecret(t *testing.T) {
	l := newTestLedger(nil)
	c, _ := l.Add("只处理图片", PriorityNormal, ScopeSession, SourceUserExplicit, "")

	require.NoError(t, l.Deactivate(c.ID, ""))
	assert.ErrorIs(t, l.Deactivate(c.ID, ""), ErrInactive)
}

func TestLedger_UnknownID(t *testing.T) {
	l := newTestLedger(stubSecret("s"))
	assert.ErrorIs(t, l.Deactivate("missing", "s"), ErrNotFound)
	_, err := l.Appeal("missing", "reason", "delete_file", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.ResolveAppeal("missing", AppealApproved, "s")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_OperationScopedClearedAfterProceed(t *testing.T) {
	l := newTestLedger(nil)
	op, _ := l.Add("这次不要修改配置", PriorityNormal, ScopeOperation, SourceUserExplicit, "")
	sess, _ := l.Add("不要删除任何文件", PriorityCritical, ScopeSession, SourceUserExplicit, "")

	assert.Equal(t, 1, l.DeactivateOperationScoped())

	gotOp, _ := l.Get(op.ID)
	gotSess, _ := l.Get(sess.ID)
	assert.False(t, gotOp.IsActive)
	assert.True(t, gotSess.IsActive)
	assert.Equal(t, 0, l.DeactivateOperationScoped())
}

func TestLedger_AppealResolution(t *testing.T) {
	l := newTestLedger(stubSecret("hunter2"))
	c, _ := l.Add("不要删除任何文件", PriorityCritical, ScopeSession, SourceUserExplicit, "")

	_, err := l.ResolveAppeal(c.ID, AppealApproved, "hunter2")
	assert.ErrorIs(t, err, ErrNoPendingAppeal)

	_, err = l.Appeal(c.ID, "清理测试数据", "delete_file", map[string]any{"path": "/tmp/a"})
	require.NoError(t, err)

	_, err = l.ResolveAppeal(c.ID, AppealApproved, "wrong")
	assert.ErrorIs(t, err, ErrSecretRequired)
	got, _ := l.Get(c.ID)
	_, pending := got.PendingAppeal()
	assert.True(t, pending, "appeal must stay pending after a wrong secret")

	rec, err := l.ResolveAppeal(c.ID, AppealApproved, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, AppealApproved, rec.UserDecision)

	got, _ = l.Get(c.ID)
	require.Len(t, got.AppealHistory, 2)
	assert.Empty(t, got.AppealHistory[0].UserDecision, "original record is never mutated")
	_, pending = got.PendingAppeal()
	assert.False(t, pending)
}

func TestLedger_RejectingAppealNeedsNoSecret(t *testing.T) {
	l := newTestLedger(nil)
	c, _ := l.Add("不要删除任何文件", PriorityCritical, ScopeSession, SourceUserExplicit, "")
	_, err := l.Appeal(c.ID, "reason", "delete_file", nil)
	require.NoError(t, err)

	rec, err := l.ResolveAppeal(c.ID, AppealRejected, "")
	require.NoError(t, err)
	assert.Equal(t, AppealRejected, rec.UserDecision)
}

func TestLedger_ExportImportRoundTrip(t *testing.T) {
	src := newTestLedger(nil)
	a, _ := src.Add("不要删除任何文件", PriorityCritical, ScopeSession, SourceUserExplicit, "msg")
	src.Add("这次不要修改配置", PriorityNormal, ScopeOperation, SourceUserExplicit, "msg")
	src.Check(deleteFile())
	_, err := src.Appeal(a.ID, "reason", "delete_file", map[string]any{"path": "/tmp"})
	require.NoError(t, err)

	dst := newTestLedger(nil)
	dst.Add("stale", PriorityNormal, ScopeSession, SourceSystem, "")
	require.NoError(t, dst.Import(src.Export(), ""))

	assert.Equal(t, src.Export(), dst.Export())
	assert.Equal(t, src.Active(), dst.Active())
}

func TestLedger_ImportInvalidLeavesLedgerUnchanged(t *testing.T) {
	l := newTestLedger(nil)
	l.Add("不要删除任何文件", PriorityCritical, ScopeSession, SourceUserExplicit, "")
	before := l.Export()

	err := l.Import([]Constraint{
		{ID: "x", Content: "a", Priority: PriorityNormal},
		{ID: "x", Content: "b", Priority: PriorityNormal},
	}, "")
	assert.ErrorIs(t, err, ErrDuplicateID)

	err = l.Import([]Constraint{{ID: "y", Content: "a", Priority: "urgent"}}, "")
	assert.ErrorIs(t, err, ErrInvalidPriority)

	assert.Equal(t, before, l.Export())
}

func TestLedger_ImportGuardsPrivilegedConstraints(t *testing.T) {
	l := newTestLedger(stubSecret("open sesame"))
	c, _ := l.Add("不要删除任何文件", PriorityCritical, ScopeSession, SourceUserExplicit, "")
	n, _ := l.Add("不要发邮件", PriorityNormal, ScopeSession, SourceUserExplicit, "")
	before := l.Export()

	require.ErrorIs(t, l.Deactivate(c.ID, ""), ErrSecretRequired)

	off := c
	off.IsActive = false
	downgraded := c
	downgraded.Priority = PriorityNormal
	for name, set := range map[string][]Constraint{
		"dropped":     {n},
		"deactivated": {n, off},
		"downgraded":  {n, downgraded},
	} {
		assert.ErrorIs(t, l.Import(set, ""), ErrSecretRequired, name)
		assert.ErrorIs(t, l.Import(set, "guess"), ErrSecretRequired, name)
	}
	assert.Equal(t, before, l.Export())
	assert.Len(t, l.Active(), 2)

	require.NoError(t, l.Import([]Constraint{c}, ""), "dropping a normal constraint needs no secret")
	require.NoError(t, l.Import([]Constraint{off}, "open sesame"))
	assert.Empty(t, l.Active())
}

func TestLedger_ImportNeverReactivates(t *testing.T) {
	l := newTestLedger(nil)
	c, _ := l.Add("不要发邮件", PriorityNormal, ScopeSession, SourceUserExplicit, "")
	require.NoError(t, l.Deactivate(c.ID, ""))

	revived, _ := l.Get(c.ID)
	revived.IsActive = true
	assert.ErrorIs(t, l.Import([]Constraint{revived}, ""), ErrInactive)
	assert.Empty(t, l.Active())

	// Dropping the tombstone first does not open a way back.
	require.NoError(t, l.Import(nil, ""))
	assert.ErrorIs(t, l.Import([]Constraint{revived}, ""), ErrInactive)
	assert.Empty(t, l.Active())
}

func TestLedger_ExtractionFailureAddsNothing(t *testing.T) {
	l := NewLedger(LedgerConfig{Extractor: failingExtractor{}})
	assert.Empty(t, l.ExtractAndAdd(context.Background(), "不要删除任何文件", nil))
	assert.Empty(t, l.Active())
}

func TestLedger_ExtractionAfterCancelAddsNothing(t *testing.T) {
	l := newTestLedger(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, l.ExtractAndAdd(ctx, "不要删除任何文件", nil))
	assert.Empty(t, l.Active())
}

func TestLedger_DuplicateContentNotAdded(t *testing.T) {
	l := newTestLedger(nil)
	_, ok := l.Add("不要删除任何文件", PriorityCritical, ScopeSession, SourceUserExplicit, "")
	require.True(t, ok)
	_, ok = l.Add("不要删除任何文件", PriorityCritical, ScopeSession, SourceUserExplicit, "")
	assert.False(t, ok)
	assert.Len(t, l.Active(), 1)
}
