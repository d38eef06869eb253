package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func event(tenant, session, action string, i int) *AssessmentEvent {
	return &AssessmentEvent{
		RequestID:  fmt.Sprintf("req-%d", i),
		TenantID:   tenant,
		SessionKey: session,
		Action:     action,
		ToolName:   "delete_file",
		Timestamp:  time.Unix(int64(1000+i), 0),
	}
}

func TestMemoryStore_NewestFirstAndPaging(t *testing.T) {
	m := NewMemoryStore(10)
	for i := 0; i < 5; i++ {
		m.Write(event("t1", "s1", "proceed", i))
	}

	got, total, err := m.ListAssessments(context.Background(), ListParams{TenantID: "t1", Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, got, 2)
	assert.Equal(t, "req-4", got[0].RequestID)
	assert.Equal(t, "req-3", got[1].RequestID)

	got, _, _ = m.ListAssessments(context.Background(), ListParams{TenantID: "t1", Page: 3, PageSize: 2})
	require.Len(t, got, 1)
	assert.Equal(t, "req-0", got[0].RequestID)

	got, total, _ = m.ListAssessments(context.Background(), ListParams{TenantID: "t1", Page: 9, PageSize: 2})
	assert.Empty(t, got)
	assert.Equal(t, 5, total)
}

func TestMemoryStore_RingOverwritesOldest(t *testing.T) {
	m := NewMemoryStore(3)
	for i := 0; i < 5; i++ {
		m.Write(event("t1", "s1", "proceed", i))
	}

	got, total, err := m.ListAssessments(context.Background(), ListParams{TenantID: "t1", Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"req-4", "req-3", "req-2"}, []string{got[0].RequestID, got[1].RequestID, got[2].RequestID})
}

func TestMemoryStore_Filters(t *testing.T) {
	m := NewMemoryStore(10)
	m.Write(event("t1", "s1", "reject", 0))
	m.Write(event("t1", "s2", "proceed", 1))
	m.Write(event("t2", "s1", "reject", 2))

	reject := "reject"
	got, total, _ := m.ListAssessments(context.Background(), ListParams{TenantID: "t1", Action: &reject, Page: 1, PageSize: 10})
	assert.Equal(t, 1, total)
	assert.Equal(t, "req-0", got[0].RequestID)

	s2 := "s2"
	_, total, _ = m.ListAssessments(context.Background(), ListParams{TenantID: "t1", SessionKey: &s2, Page: 1, PageSize: 10})
	assert.Equal(t, 1, total)

	start := time.Unix(1001, 0)
	_, total, _ = m.ListAssessments(context.Background(), ListParams{TenantID: "t1", StartTime: &start, Page: 1, PageSize: 10})
	assert.Equal(t, 1, total)
}

func TestMemoryStore_CopiesSlices(t *testing.T) {
	m := NewMemoryStore(2)
	e := event("t1", "s1", "reject", 0)
	e.ConsequenceTypes = []string{"data_loss"}
	m.Write(e)
	e.ConsequenceTypes[0] = "mutated"

	got, _, _ := m.ListAssessments(context.Background(), ListParams{TenantID: "t1", Page: 1, PageSize: 1})
	assert.Equal(t, "data_loss", got[0].ConsequenceTypes[0])
}

func TestMultiWriter(t *testing.T) {
	a, b := NewMemoryStore(2), NewMemoryStore(2)
	w := MultiWriter{a, b, NewLogWriter(zap.NewNop())}
	w.Write(event("t1", "s1", "confirm", 0))
	w.Close()

	for _, m := range []*MemoryStore{a, b} {
		_, total, _ := m.ListAssessments(context.Background(), ListParams{TenantID: "t1", Page: 1, PageSize: 1})
		assert.Equal(t, 1, total)
	}
}
