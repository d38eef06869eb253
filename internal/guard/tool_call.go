package guard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/auth"
	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/engine"
	"github.com/chatabc/open-safe-frame/internal/session"
	"github.com/chatabc/open-safe-frame/internal/storage"
	"github.com/chatabc/open-safe-frame/internal/wire/safeframev1"
)

const sourceProfile = "tool_profile"

// outcome is what one before-tool-call produced, before shadow mode is applied.
type outcome struct {
	stage      string
	action     engine.Action
	reason     string
	message    string
	assessment *engine.SafetyAssessment
	violated   []constraint.Constraint
}

// BeforeToolCall judges a pending tool call. In order: a one-time pass from an
// earlier approval, then the session's constraints, then the full assessment.
// The call must not run until this returns.
func (s *Service) BeforeToolCall(ctx context.Context, tenant *auth.TenantContext, req *safeframev1.BeforeToolCallRequest) (*safeframev1.BeforeToolCallResponse, error) {
	start := time.Now()

	sess, err := s.session(tenant, req.SessionKey)
	if err != nil {
		return nil, err
	}

	tc := &engine.ToolContext{ToolName: req.ToolName, Params: req.Params}
	profile := s.applyProfile(ctx, tenant, tc)
	requestID := uuid.NewString()

	var out outcome
	err = sess.Do(ctx, func(ctx context.Context, c *session.Conversation) error {
		tc.History = c.HistorySnapshot()

		if c.ConsumePass(req.ToolName, req.Params) {
			out = outcome{stage: storage.StagePass, action: engine.ActionProceed, reason: "用户已批准此操作"}
			s.clearOperationScoped(c)
			return nil
		}

		action := constraint.Action{Type: req.ToolName, Description: tc.Describe(), Params: req.Params}
		if res := c.Ledger.Check(action); res.Violated {
			o, err := s.constraintBlock(ctx, c, tc, action, res)
			if err != nil {
				return err
			}
			out = o
			return nil
		}

		a, err := s.assessor.Assess(ctx, c.LastUserMessage(), tc)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.metrics.AssessLatency.Observe(a.ProcessingTimeMs / 1000)
		s.finalizeDecision(tenant, a, tc, profile != nil && profile.RequiresConfirm)

		out = outcome{
			stage:      storage.StageAssessment,
			action:     a.Decision.Action,
			reason:     a.Decision.Reason,
			message:    engine.FormatDecision(a, tc),
			assessment: a,
		}

		if tenant.Shadow() {
			return nil
		}
		switch a.Decision.Action {
		case engine.ActionProceed:
			s.clearOperationScoped(c)
		case engine.ActionConfirm:
			c.AwaitConfirmation(&session.PendingConfirmation{
				RequestID:   requestID,
				ToolName:    req.ToolName,
				Params:      req.Params,
				Fingerprint: session.Fingerprint(req.ToolName, req.Params),
				Type:        a.Decision.Confirmation.ConfirmationType,
				Assessment:  a,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	shadow := tenant.Shadow()
	resp := &safeframev1.BeforeToolCallResponse{
		Block:      out.action != engine.ActionProceed && !shadow,
		Action:     string(out.action),
		Reason:     out.reason,
		RequestID:  requestID,
		Shadow:     shadow,
		Assessment: out.assessment,
	}
	if !shadow {
		resp.Message = out.message
	}

	if out.action != engine.ActionProceed {
		s.logger.Info("tool call held",
			zap.String("tenant_id", tenant.TenantID),
			zap.String("session_key", req.SessionKey),
			zap.String("tool_name", req.ToolName),
			zap.String("stage", out.stage),
			zap.String("action", string(out.action)),
			zap.Bool("shadow", shadow),
			zap.String("request_id", requestID),
		)
	}

	latencyMs := float32(float64(time.Since(start)) / float64(time.Millisecond))
	s.record(tenant, req, requestID, out, latencyMs)
	return resp, nil
}

// constraintBlock builds the outcome for a ledger violation. Once the appeal
// channel is open the call is also assessed, so an appeal can show the user
// what the call would do.
func (s *Service) constraintBlock(ctx context.Context, c *session.Conversation, tc *engine.ToolContext, action constraint.Action, res *constraint.CheckResult) (outcome, error) {
	primary, _ := res.Primary()
	s.metrics.ConstraintEvents.WithLabelValues("violated").Inc()

	c.Violation = nil
	var a *engine.SafetyAssessment
	if res.CanAppeal {
		var err error
		a, err = s.assessor.Assess(ctx, c.LastUserMessage(), tc)
		if err != nil {
			return outcome{}, err
		}
		c.Violation = &session.Violation{
			ConstraintID: primary.ID,
			ToolName:     tc.ToolName,
			Params:       tc.Params,
			Context: constraint.AppealContext{
				Understood:   a.Intent.Understood,
				Consequences: a.Prediction.Consequences,
				Severity:     a.Prediction.OverallSeverity,
			},
		}
	}

	return outcome{
		stage:      storage.StageConstraint,
		action:     engine.ActionReject,
		reason:     "违反约束: " + primary.Content,
		message:    constraint.FormatViolation(res, action),
		assessment: a,
		violated:   res.Violations,
	}, nil
}

// finalizeDecision applies tenant and tool policy on top of the pipeline's decision.
func (s *Service) finalizeDecision(tenant *auth.TenantContext, a *engine.SafetyAssessment, tc *engine.ToolContext, requiresConfirm bool) {
	consequences := a.Prediction.Consequences

	if a.FailedOpen {
		s.metrics.FailOpen.Inc()
		if !tenant.FailOpen {
			a.Decision = &engine.Decision{
				Action:       engine.ActionConfirm,
				Reason:       "安全评估出现异常，需要用户确认后才能执行",
				Confirmation: engine.BuildConfirmation(a.Intent, consequences),
				Source:       engine.SourceFailOpen,
			}
		}
	}

	if requiresConfirm && a.Decision.Action == engine.ActionProceed {
		a.Decision = &engine.Decision{
			Action:       engine.ActionConfirm,
			Reason:       "此工具需要用户确认后才能执行: " + tc.ToolName,
			Confirmation: engine.BuildConfirmation(a.Intent, consequences),
			Source:       sourceProfile,
		}
	}

	if a.Decision.Action == engine.ActionConfirm && a.Decision.Confirmation == nil {
		a.Decision.Confirmation = engine.BuildConfirmation(a.Intent, consequences)
	}
	s.degradePassword(a)
}

func (s *Service) clearOperationScoped(c *session.Conversation) {
	if n := c.Ledger.DeactivateOperationScoped(); n > 0 {
		s.metrics.ConstraintEvents.WithLabelValues("cleared").Add(float64(n))
	}
}

func (s *Service) record(tenant *auth.TenantContext, req *safeframev1.BeforeToolCallRequest, requestID string, out outcome, latencyMs float32) {
	shadow := tenant.Shadow()
	s.metrics.Decisions.WithLabelValues(out.stage, string(out.action), boolLabel(shadow)).Inc()

	event := &storage.AssessmentEvent{
		RequestID:     requestID,
		TenantID:      tenant.TenantID,
		SessionKey:    req.SessionKey,
		Timestamp:     time.Now(),
		ToolName:      req.ToolName,
		ParamsPreview: paramsPreview(req.Params),
		Stage:         out.stage,
		Action:        string(out.action),
		IsShadow:      shadow,
		Reason:        out.reason,
		LatencyMs:     latencyMs,
	}
	for _, c := range out.violated {
		event.ViolatedConstraints = append(event.ViolatedConstraints, c.Content)
	}
	if a := out.assessment; a != nil {
		event.FailedOpen = a.FailedOpen
		event.Severity = string(a.Prediction.OverallSeverity)
		event.Reversibility = string(a.Prediction.Reversibility)
		event.RiskScore = float32(a.Values.RiskScore)
		event.UserInterestScore = float32(a.Values.UserInterestScore)
		event.IntentSource = a.Intent.Source
		event.PredictionSource = a.Prediction.Source
		if a.Decision != nil {
			event.DecisionSource = a.Decision.Source
		}
		for _, c := range a.Prediction.Consequences {
			event.ConsequenceTypes = append(event.ConsequenceTypes, string(c.Type))
			event.ConsequenceSeverities = append(event.ConsequenceSeverities, string(c.Severity))
			s.metrics.Consequences.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
		}
	}
	s.writer.Write(event)
}

func paramsPreview(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	if len(b) > 500 {
		b = b[:500]
	}
	return string(b)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
