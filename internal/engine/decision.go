package engine

import (
	"fmt"
	"strings"
)

// Decide maps the value stage's judgment onto proceed, confirm or reject.
// It is a pure function of its inputs.
//
// Rules (applied in order, first match wins):
//  1. Reject if (not aligned AND risk > 0.7) OR judgment score < 0.3
//  2. Confirm if risk > 0.4 OR any high/critical consequence OR not aligned OR concerns present
//  3. Proceed otherwise
func Decide(intent *UserIntent, consequences []Consequence, va *ValueAssessment) *Decision {
	j := va.Judgment

	var rejectWhy []string
	if !j.Aligned && va.RiskScore > RejectRiskThreshold {
		rejectWhy = append(rejectWhy, fmt.Sprintf("风险评分 %.2f 超过拒绝阈值，且操作与用户利益不一致", va.RiskScore))
	}
	if j.Score < MinJudgmentScore {
		rejectWhy = append(rejectWhy, fmt.Sprintf("价值对齐评分过低 (%.2f)", j.Score))
	}
	if len(rejectWhy) > 0 {
		return &Decision{
			Action: ActionReject,
			Reason: explain(intent, append(rejectWhy, severeDetails(consequences)...)),
			Source: SourceRules,
		}
	}

	var confirmWhy []string
	if va.RiskScore > ConfirmRiskThreshold {
		confirmWhy = append(confirmWhy, fmt.Sprintf("风险评分 %.2f 超过确认阈值", va.RiskScore))
	}
	confirmWhy = append(confirmWhy, severeDetails(consequences)...)
	if !j.Aligned {
		confirmWhy = append(confirmWhy, "操作与用户利益的对齐程度不足")
	}
	confirmWhy = append(confirmWhy, j.Concerns...)

	if len(confirmWhy) > 0 {
		return &Decision{
			Action:       ActionConfirm,
			Reason:       explain(intent, confirmWhy),
			Confirmation: BuildConfirmation(intent, consequences),
			Source:       SourceRules,
		}
	}

	return &Decision{
		Action: ActionProceed,
		Reason: "操作与用户意图一致，风险可接受",
		Source: SourceRules,
	}
}

// BuildConfirmation assembles the request shown to the user for a confirm decision.
func BuildConfirmation(intent *UserIntent, consequences []Consequence) *ConfirmationRequest {
	severity := SeverityMedium
	var shown []Consequence
	for _, c := range consequences {
		if c.Severity == SeverityLow {
			continue
		}
		shown = append(shown, c)
		severity = MaxSeverity(severity, c.Severity)
	}

	req := &ConfirmationRequest{
		UnderstoodIntent:     intent.Understood,
		PlannedAction:        PlannedAction(intent),
		PossibleConsequences: shown,
		Severity:             severity,
		ConfirmationType:     ConfirmSimple,
		TimeoutMs:            DefaultConfirmTimeout.Milliseconds(),
	}
	if severity == SeverityCritical {
		req.ConfirmationType = ConfirmPassword
		req.TimeoutMs = CriticalConfirmTimeout.Milliseconds()
	}
	return req
}

// Escalate applies backend advice on top of the arbiter's decision.
// Advice can only make the outcome stricter; a weaker or invalid advice is ignored.
func Escalate(base, advised *Decision, intent *UserIntent, consequences []Consequence) *Decision {
	if advised == nil || !advised.Action.IsValid() || advised.Action.Rank() <= base.Action.Rank() {
		return base
	}

	out := &Decision{
		Action: advised.Action,
		Reason: advised.Reason,
		Source: SourceBackend,
	}
	if out.Reason == "" {
		out.Reason = base.Reason
	}
	if out.Action == ActionConfirm {
		out.Confirmation = advised.Confirmation
		if out.Confirmation == nil {
			out.Confirmation = BuildConfirmation(intent, consequences)
		}
	}
	return out
}

// PlannedAction summarizes the intent's key actions for display.
func PlannedAction(intent *UserIntent) string {
	if len(intent.KeyActions) == 0 {
		return "执行工具调用"
	}
	return strings.Join(intent.KeyActions, "，")
}

func severeDetails(consequences []Consequence) []string {
	var out []string
	for _, c := range consequences {
		if c.Severity == SeverityHigh || c.Severity == SeverityCritical {
			out = append(out, fmt.Sprintf("%s [%s]", c.Description, c.Severity))
		}
	}
	return out
}

func explain(intent *UserIntent, reasons []string) string {
	return fmt.Sprintf("理解的意图: %s；原因: %s", intent.Understood, strings.Join(reasons, "；"))
}
