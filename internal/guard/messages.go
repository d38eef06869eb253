package guard

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/auth"
	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/engine"
	"github.com/chatabc/open-safe-frame/internal/session"
	"github.com/chatabc/open-safe-frame/internal/wire/safeframev1"
)

var ErrInvalidSender = errors.New("from must be user or agent")

var (
	appealPattern = regexp.MustCompile(`(?is)^\s*(?:申诉|appeal)\s*[:：]\s*(.+)$`)
	removePattern = regexp.MustCompile(`(?i)^(?:删除约束|remove constraint)\s*(?:[:：]\s*(.*))?$`)
	listPattern   = regexp.MustCompile(`(?i)^(?:约束列表|constraints|list constraints)$`)
)

// MessageReceived handles one chat message before the agent sees it. User
// messages may answer a pending prompt or run a constraint command, in which
// case they are consumed; anything else is recorded and mined for constraints.
// Agent messages can only file an appeal against the last blocked call.
func (s *Service) MessageReceived(ctx context.Context, tenant *auth.TenantContext, req *safeframev1.MessageReceivedRequest) (*safeframev1.MessageReceivedResponse, error) {
	from := req.From
	if from == "" {
		from = safeframev1.FromUser
	}
	if from != safeframev1.FromUser && from != safeframev1.FromAgent {
		return nil, ErrInvalidSender
	}
	sess, err := s.session(tenant, req.SessionKey)
	if err != nil {
		return nil, err
	}

	resp := &safeframev1.MessageReceivedResponse{}
	err = sess.Do(ctx, func(ctx context.Context, c *session.Conversation) error {
		if from == safeframev1.FromAgent {
			s.agentMessage(c, req.Text, resp)
		} else if err := s.userMessage(ctx, tenant, c, req.Text, resp); err != nil {
			return err
		}
		resp.State = string(c.State)
		resp.PromptContext = constraint.FormatForPrompt(c.Ledger.Active())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) agentMessage(c *session.Conversation, text string, resp *safeframev1.MessageReceivedResponse) {
	m := appealPattern.FindStringSubmatch(text)
	if m == nil {
		return
	}
	v := c.Violation
	if v == nil {
		s.logger.Debug("appeal without an open violation", zap.String("session_key", c.Key))
		return
	}

	reason := strings.TrimSpace(m[1])
	rec, err := c.Ledger.Appeal(v.ConstraintID, reason, v.ToolName, v.Params)
	if err != nil {
		s.logger.Warn("appeal rejected by ledger",
			zap.String("session_key", c.Key),
			zap.String("constraint_id", v.ConstraintID),
			zap.Error(err),
		)
		c.Violation = nil
		return
	}
	con, _ := c.Ledger.Get(v.ConstraintID)

	c.AwaitAppeal(&session.PendingAppeal{
		ConstraintID: v.ConstraintID,
		ToolName:     v.ToolName,
		Params:       v.Params,
		Fingerprint:  session.Fingerprint(v.ToolName, v.Params),
		Privileged:   con.Priority.Privileged(),
	})
	c.Violation = nil
	s.metrics.ConstraintEvents.WithLabelValues("appealed").Inc()

	resp.Consumed = true
	resp.Reply = constraint.FormatAppealRequest(con, rec, v.Context)
}

func (s *Service) userMessage(ctx context.Context, tenant *auth.TenantContext, c *session.Conversation, text string, resp *safeframev1.MessageReceivedResponse) error {
	if s.confirmationExpired(c) {
		c.Reset()
		resp.Reply = "之前的确认请求已过期，请重新发起操作。"
	}

	if c.State == session.StateAwaitingPassword {
		// The text may be the secret: it is never recorded or logged.
		effect, consumed := c.Apply(session.NormalizeReply(text))
		resp.Consumed = consumed
		switch effect {
		case session.EffectCancel:
			resp.Reply = s.cancel(c)
		case session.EffectVerifyPassword:
			resp.Reply = s.verifyPassword(c, text)
		}
		return nil
	}

	if c.State != session.StateIdle {
		effect, consumed := c.Apply(session.NormalizeReply(text))
		if consumed {
			resp.Consumed = true
			resp.Reply = s.applyEffect(c, effect)
			return nil
		}
	}

	trimmed := strings.TrimSpace(text)
	if m := removePattern.FindStringSubmatch(trimmed); m != nil {
		resp.Consumed = true
		resp.Reply = s.removeConstraint(c, strings.TrimSpace(m[1]))
		return nil
	}
	if listPattern.MatchString(trimmed) {
		resp.Consumed = true
		resp.Reply = constraint.FormatList(c.Ledger.Active())
		return nil
	}

	c.Record(engine.SessionEvent{Kind: engine.EventUserMessage, Text: text})
	added := c.Ledger.ExtractAndAdd(ctx, text, c.HistorySnapshot())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(added) > 0 {
		s.metrics.ConstraintEvents.WithLabelValues("added").Add(float64(len(added)))
		s.logger.Info("constraints added",
			zap.String("tenant_id", tenant.TenantID),
			zap.String("session_key", c.Key),
			zap.Int("count", len(added)),
		)
	}
	return nil
}

// applyEffect performs a simple confirmation or appeal ruling.
func (s *Service) applyEffect(c *session.Conversation, effect session.Effect) string {
	defer c.Reset()

	switch effect {
	case session.EffectConfirm:
		if p := c.Confirmation; p != nil {
			c.GrantPass(p.ToolName, p.Params)
			return "已确认，操作将继续执行。"
		}
	case session.EffectCancel:
		return "已取消该操作。"
	case session.EffectApproveAppeal:
		return s.resolveAppeal(c, constraint.AppealApproved, "")
	case session.EffectRejectAppeal:
		return s.resolveAppeal(c, constraint.AppealRejected, "")
	}
	return ""
}

func (s *Service) cancel(c *session.Conversation) string {
	defer c.Reset()
	if c.Appeal != nil {
		return s.resolveAppeal(c, constraint.AppealRejected, "")
	}
	return "已取消该操作。"
}

// verifyPassword checks text as the override secret for the open password prompt.
func (s *Service) verifyPassword(c *session.Conversation, text string) string {
	secret := strings.TrimSpace(text)
	conf, appeal := c.Confirmation, c.Appeal

	var ok bool
	switch {
	case appeal != nil:
		_, err := c.Ledger.ResolveAppeal(appeal.ConstraintID, constraint.AppealApproved, secret)
		if err != nil && !errors.Is(err, constraint.ErrSecretRequired) {
			c.Reset()
			return "申诉对应的约束已不存在，申诉已关闭。"
		}
		ok = err == nil
	case conf != nil:
		ok = s.verifySecret(secret)
	}

	open := c.PasswordResult(ok)
	if ok {
		c.Reset()
		if appeal != nil {
			c.GrantPass(appeal.ToolName, appeal.Params)
			s.metrics.ConstraintEvents.WithLabelValues("appeal_approved").Inc()
			return "✅ 密码验证通过，已批准申诉，操作将继续执行。"
		}
		c.GrantPass(conf.ToolName, conf.Params)
		return "✅ 密码验证通过，操作将继续执行。"
	}

	s.metrics.PasswordFailures.Inc()
	s.logger.Warn("override secret rejected", zap.String("session_key", c.Key))
	if open {
		return fmt.Sprintf("❌ 密码错误，还可尝试 %d 次。回复「%s」放弃。", c.PasswordAttemptsLeft(), engine.ReplyCancel)
	}
	if appeal != nil {
		if _, err := c.Ledger.ResolveAppeal(appeal.ConstraintID, constraint.AppealRejected, ""); err == nil {
			s.metrics.ConstraintEvents.WithLabelValues("appeal_rejected").Inc()
		}
	}
	return "❌ 密码错误次数过多，操作已取消。"
}

func (s *Service) resolveAppeal(c *session.Conversation, decision constraint.AppealDecision, secret string) string {
	p := c.Appeal
	if p == nil {
		return ""
	}
	if _, err := c.Ledger.ResolveAppeal(p.ConstraintID, decision, secret); err != nil {
		s.logger.Warn("appeal ruling failed",
			zap.String("session_key", c.Key),
			zap.String("constraint_id", p.ConstraintID),
			zap.Error(err),
		)
		return "申诉处理失败: " + err.Error()
	}
	s.metrics.ConstraintEvents.WithLabelValues("appeal_" + string(decision)).Inc()
	if decision == constraint.AppealApproved {
		c.GrantPass(p.ToolName, p.Params)
		return "已批准申诉，操作将继续执行。"
	}
	return "已拒绝申诉，约束继续生效。"
}

// removeConstraint handles the remove command. The target is the constraint
// under appeal, else the last violated one, else the only active one.
func (s *Service) removeConstraint(c *session.Conversation, secret string) string {
	var id string
	switch {
	case c.Appeal != nil:
		id = c.Appeal.ConstraintID
	case c.Violation != nil:
		id = c.Violation.ConstraintID
	default:
		active := c.Ledger.Active()
		if len(active) != 1 {
			return constraint.FormatList(active)
		}
		id = active[0].ID
	}

	con, _ := c.Ledger.Get(id)
	if err := c.Ledger.Deactivate(id, secret); err != nil {
		if errors.Is(err, constraint.ErrSecretRequired) {
			if secret != "" {
				s.metrics.PasswordFailures.Inc()
				return "❌ 密码错误，约束未删除。"
			}
			return fmt.Sprintf("🔐 删除%s约束需要安全密码，请回复「%s:<安全密码>」。", constraint.PriorityLabel(con.Priority), constraint.RemoveConstraint)
		}
		return "删除约束失败: " + err.Error()
	}

	s.metrics.ConstraintEvents.WithLabelValues("removed").Inc()
	if c.Appeal != nil && c.Appeal.ConstraintID == id {
		c.Reset()
	}
	if c.Violation != nil && c.Violation.ConstraintID == id {
		c.Violation = nil
	}
	return "已删除约束: " + con.Content
}

// confirmationExpired reports whether a parked confirmation outlived its timeout.
func (s *Service) confirmationExpired(c *session.Conversation) bool {
	p := c.Confirmation
	if p == nil || p.Assessment == nil || p.Assessment.Decision == nil || p.Assessment.Decision.Confirmation == nil {
		return false
	}
	timeout := time.Duration(p.Assessment.Decision.Confirmation.TimeoutMs) * time.Millisecond
	return timeout > 0 && time.Since(p.CreatedAt) > timeout
}
