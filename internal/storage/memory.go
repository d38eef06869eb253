package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps the most recent events in a ring buffer. It serves the
// audit API when no ClickHouse DSN is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	events []AssessmentEvent
	next   int
	full   bool
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{events: make([]AssessmentEvent, capacity)}
}

func (m *MemoryStore) Write(event *AssessmentEvent) {
	e := *event
	e.ConsequenceTypes = append([]string(nil), event.ConsequenceTypes...)
	e.ConsequenceSeverities = append([]string(nil), event.ConsequenceSeverities...)
	e.ViolatedConstraints = append([]string(nil), event.ViolatedConstraints...)

	m.mu.Lock()
	m.events[m.next] = e
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
}

func (m *MemoryStore) Close() {}

// ListAssessments returns matching events newest first.
func (m *MemoryStore) ListAssessments(_ context.Context, params ListParams) ([]AssessmentEvent, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.next
	if m.full {
		n = len(m.events)
	}

	var matched []AssessmentEvent
	for i := 1; i <= n; i++ {
		e := &m.events[(m.next-i+len(m.events))%len(m.events)]
		if params.Matches(e) {
			matched = append(matched, *e)
		}
	}

	total := len(matched)
	start := (params.Page - 1) * params.PageSize
	if start < 0 || params.PageSize <= 0 || start >= total {
		return nil, total, nil
	}
	end := min(start+params.PageSize, total)
	return matched[start:end], total, nil
}
