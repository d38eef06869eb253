package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/constraint"
)

// LedgerFactory builds the constraint ledger for a new session.
type LedgerFactory func(tenantID, key string) *constraint.Ledger

// Registry owns every live session. Sessions are created on their first event
// and destroyed on EndSession or when swept idle.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	newLedger    LedgerFactory
	historyLimit int
	logger       *zap.Logger
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	NewLedger    LedgerFactory
	HistoryLimit int
	Logger       *zap.Logger
}

func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newLedger := cfg.NewLedger
	if newLedger == nil {
		newLedger = func(string, string) *constraint.Ledger {
			return constraint.NewLedger(constraint.LedgerConfig{Logger: logger})
		}
	}
	return &Registry{
		sessions:     make(map[string]*Session),
		newLedger:    newLedger,
		historyLimit: cfg.HistoryLimit,
		logger:       logger,
	}
}

func registryKey(tenantID, key string) string {
	return tenantID + ":" + key
}

// GetOrCreate returns the session, creating it if needed. created reports
// whether this call created it.
func (r *Registry) GetOrCreate(tenantID, key string) (s *Session, created bool) {
	rk := registryKey(tenantID, key)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[rk]; ok {
		return s, false
	}
	s = newSession(tenantID, key, r.newLedger(tenantID, key), r.historyLimit)
	r.sessions[rk] = s
	r.logger.Debug("session started",
		zap.String("tenant_id", tenantID),
		zap.String("session_key", key),
	)
	return s, true
}

// Get returns a live session without creating one.
func (r *Registry) Get(tenantID, key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[registryKey(tenantID, key)]
	return s, ok
}

// End tears a session down. In-flight work is cancelled and its results dropped.
// Returns false if no such session was live.
func (r *Registry) End(tenantID, key string) bool {
	rk := registryKey(tenantID, key)

	r.mu.Lock()
	s, ok := r.sessions[rk]
	delete(r.sessions, rk)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.close()
	r.logger.Debug("session ended",
		zap.String("tenant_id", tenantID),
		zap.String("session_key", key),
	)
	return true
}

// Sweep ends sessions with no activity for longer than idle. Returns how many ended.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	var stale []*Session
	for rk, s := range r.sessions {
		if s.LastActive().Before(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, rk)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.close()
	}
	if len(stale) > 0 {
		r.logger.Info("idle sessions swept", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends every session.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}
