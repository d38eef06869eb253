package engine

import (
	"strings"
	"testing"
)

func TestFormatDecision_ProceedIsEmpty(t *testing.T) {
	a := &SafetyAssessment{Decision: &Decision{Action: ActionProceed}}
	if got := FormatDecision(a, &ToolContext{ToolName: "x"}); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestFormatConfirmation_Password(t *testing.T) {
	intent := &UserIntent{Understood: "批量删除操作", KeyActions: []string{"删除"}}
	cs := []Consequence{
		{Description: "递归删除", Severity: SeverityCritical, Reversibility: Irreversible},
		{Description: "小问题", Severity: SeverityLow, Reversibility: Reversible},
	}
	a := &SafetyAssessment{
		Intent:     intent,
		Prediction: &ConsequencePrediction{Consequences: cs, OverallSeverity: SeverityCritical},
		Decision:   &Decision{Action: ActionConfirm, Reason: "风险高", Confirmation: BuildConfirmation(intent, cs)},
	}
	out := FormatDecision(a, &ToolContext{ToolName: "shell_exec", Params: map[string]any{"command": "rm -rf build"}})

	for _, want := range []string{"批量删除操作", "shell_exec(command=rm -rf build)", "🔴 递归删除 [严重, ⚠️不可逆]", "安全密码", "300 秒"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "小问题") {
		t.Errorf("low consequences must not be listed:\n%s", out)
	}
}

func TestFormatConfirmation_Simple(t *testing.T) {
	intent := &UserIntent{Understood: "单个购买操作"}
	cs := []Consequence{{Description: "支付", Severity: SeverityMedium, Reversibility: PartiallyReversible}}
	a := &SafetyAssessment{
		Intent:     intent,
		Prediction: &ConsequencePrediction{Consequences: cs},
		Decision:   &Decision{Action: ActionConfirm, Reason: "r"},
	}
	out := FormatDecision(a, &ToolContext{ToolName: "purchase"})
	if !strings.Contains(out, "回复「确认」继续执行") {
		t.Fatalf("expected simple instruction:\n%s", out)
	}
}

func TestFormatRejection(t *testing.T) {
	a := &SafetyAssessment{
		Intent:     &UserIntent{Understood: "批量删除操作"},
		Prediction: &ConsequencePrediction{OverallSeverity: SeverityHigh},
		Decision:   &Decision{Action: ActionReject, Reason: "不安全"},
	}
	out := FormatDecision(a, &ToolContext{ToolName: "email_delete"})
	if !strings.Contains(out, "操作已被拒绝") || !strings.Contains(out, "🟠 高") || !strings.Contains(out, "不安全") {
		t.Fatalf("unexpected rejection text:\n%s", out)
	}
}
