// Package guard handles the host runtime's hook events. It ties together the
// session registry, each session's constraint ledger, the assessment pipeline,
// the audit trail and metrics.
package guard

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/auth"
	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/engine"
	"github.com/chatabc/open-safe-frame/internal/metrics"
	"github.com/chatabc/open-safe-frame/internal/registry"
	"github.com/chatabc/open-safe-frame/internal/session"
	"github.com/chatabc/open-safe-frame/internal/storage"
	"github.com/chatabc/open-safe-frame/internal/wire/safeframev1"
)

var (
	ErrMissingSessionKey = errors.New("session_key is required")
	ErrUnknownSession    = errors.New("session not found")
)

// maxResultLen caps tool results kept in history.
const maxResultLen = 2000

// Assessor runs one safety assessment. *engine.Coordinator implements it.
type Assessor interface {
	Assess(ctx context.Context, message string, tc *engine.ToolContext) (*engine.SafetyAssessment, error)
}

// Service implements the hook handlers for every tenant.
type Service struct {
	sessions *session.Registry
	assessor Assessor
	profiles registry.ProfileRegistry // nil = families from tool names only
	writer   storage.EventWriter
	metrics  *metrics.Metrics
	secret   constraint.SecretVerifier // nil = password confirmations degrade to simple
	logger   *zap.Logger
}

// Config wires a Service.
type Config struct {
	Sessions *session.Registry
	Assessor Assessor
	Profiles registry.ProfileRegistry
	Writer   storage.EventWriter
	Metrics  *metrics.Metrics
	Secret   constraint.SecretVerifier
	Logger   *zap.Logger
}

func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessions: cfg.Sessions,
		assessor: cfg.Assessor,
		profiles: cfg.Profiles,
		writer:   cfg.Writer,
		metrics:  cfg.Metrics,
		secret:   cfg.Secret,
		logger:   logger,
	}
}

// StartSession creates the session if it is not live yet.
func (s *Service) StartSession(tenant *auth.TenantContext, key string) (bool, error) {
	if key == "" {
		return false, ErrMissingSessionKey
	}
	_, created := s.sessions.GetOrCreate(tenant.TenantID, key)
	return created, nil
}

// EndSession tears the session down. Work in flight for it is discarded.
func (s *Service) EndSession(tenant *auth.TenantContext, key string) (bool, error) {
	if key == "" {
		return false, ErrMissingSessionKey
	}
	return s.sessions.End(tenant.TenantID, key), nil
}

// AfterToolCall appends an executed call and its result to the session history.
func (s *Service) AfterToolCall(ctx context.Context, tenant *auth.TenantContext, req *safeframev1.AfterToolCallRequest) error {
	sess, err := s.session(tenant, req.SessionKey)
	if err != nil {
		return err
	}
	result := req.Result
	if req.Error != "" {
		result = "error: " + req.Error
	}
	if r := []rune(result); len(r) > maxResultLen {
		result = string(r[:maxResultLen])
	}
	return sess.Do(ctx, func(_ context.Context, c *session.Conversation) error {
		c.Record(engine.SessionEvent{
			Kind:     engine.EventToolCall,
			ToolName: req.ToolName,
			Params:   req.Params,
			Result:   result,
		})
		return nil
	})
}

// ExportConstraints snapshots the session's ledger, tombstones included. It never
// creates a session.
func (s *Service) ExportConstraints(ctx context.Context, tenant *auth.TenantContext, key string) ([]constraint.Constraint, error) {
	if key == "" {
		return nil, ErrMissingSessionKey
	}
	sess, ok := s.sessions.Get(tenant.TenantID, key)
	if !ok {
		return nil, ErrUnknownSession
	}
	var out []constraint.Constraint
	err := sess.Do(ctx, func(_ context.Context, c *session.Conversation) error {
		out = c.Ledger.Export()
		return nil
	})
	return out, err
}

// ImportConstraints replaces the session's ledger contents. secret is only needed when the
// import would drop or deactivate an active critical or high constraint.
func (s *Service) ImportConstraints(ctx context.Context, tenant *auth.TenantContext, key string, cs []constraint.Constraint, secret string) (int, error) {
	sess, err := s.session(tenant, key)
	if err != nil {
		return 0, err
	}
	err = sess.Do(ctx, func(_ context.Context, c *session.Conversation) error {
		err := c.Ledger.Import(cs, secret)
		if errors.Is(err, constraint.ErrSecretRequired) && secret != "" {
			s.metrics.PasswordFailures.Inc()
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(cs), nil
}

// DeactivateConstraint removes a constraint by id. Critical and high constraints
// need the override secret.
func (s *Service) DeactivateConstraint(ctx context.Context, tenant *auth.TenantContext, key, id, secret string) error {
	sess, err := s.session(tenant, key)
	if err != nil {
		return err
	}
	return sess.Do(ctx, func(_ context.Context, c *session.Conversation) error {
		if err := c.Ledger.Deactivate(id, secret); err != nil {
			if errors.Is(err, constraint.ErrSecretRequired) && secret != "" {
				s.metrics.PasswordFailures.Inc()
			}
			return err
		}
		s.metrics.ConstraintEvents.WithLabelValues("removed").Inc()
		return nil
	})
}

// DryRun assesses a tool call without any session state.
func (s *Service) DryRun(ctx context.Context, tenant *auth.TenantContext, message string, tc *engine.ToolContext) (*engine.SafetyAssessment, error) {
	s.applyProfile(ctx, tenant, tc)
	start := time.Now()
	a, err := s.assessor.Assess(ctx, message, tc)
	if err != nil {
		return nil, err
	}
	s.metrics.AssessLatency.Observe(time.Since(start).Seconds())
	s.degradePassword(a)
	return a, nil
}

func (s *Service) session(tenant *auth.TenantContext, key string) (*session.Session, error) {
	if key == "" {
		return nil, ErrMissingSessionKey
	}
	sess, _ := s.sessions.GetOrCreate(tenant.TenantID, key)
	return sess, nil
}

// applyProfile adds operator-declared families and returns the profile, if any.
func (s *Service) applyProfile(ctx context.Context, tenant *auth.TenantContext, tc *engine.ToolContext) *registry.ToolProfile {
	if s.profiles == nil {
		return nil
	}
	p, err := s.profiles.GetProfile(ctx, tenant.TenantID, tc.ToolName)
	if err != nil {
		s.logger.Warn("tool profile lookup failed",
			zap.String("tenant_id", tenant.TenantID),
			zap.String("tool_name", tc.ToolName),
			zap.Error(err),
		)
		return nil
	}
	p.Apply(tc)
	return p
}

// degradePassword turns password confirmations into simple ones when no
// override secret is configured; nobody could ever answer them otherwise.
func (s *Service) degradePassword(a *engine.SafetyAssessment) {
	if s.secret != nil || a.Decision == nil || a.Decision.Confirmation == nil {
		return
	}
	if a.Decision.Confirmation.ConfirmationType != engine.ConfirmPassword {
		return
	}
	req := *a.Decision.Confirmation
	req.ConfirmationType = engine.ConfirmSimple
	a.Decision.Confirmation = &req
}

func (s *Service) verifySecret(secret string) bool {
	return s.secret != nil && s.secret.Verify(secret)
}
