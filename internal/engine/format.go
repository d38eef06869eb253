package engine

import (
	"fmt"
	"strings"
)

// Reply tokens the user is asked to send.
const (
	ReplyConfirm = "确认"
	ReplyCancel  = "取消"
)

var banner = strings.Repeat("═", 40)

var severityIcons = map[Severity]string{
	SeverityLow:      "🟢",
	SeverityMedium:   "🟡",
	SeverityHigh:     "🟠",
	SeverityCritical: "🔴",
}

var severityLabels = map[Severity]string{
	SeverityLow:      "低",
	SeverityMedium:   "中",
	SeverityHigh:     "高",
	SeverityCritical: "严重",
}

var reversibilityLabels = map[Reversibility]string{
	Reversible:          "可逆",
	PartiallyReversible: "部分可逆",
	Irreversible:        "⚠️不可逆",
}

// SeverityIcon returns the display icon for a severity.
func SeverityIcon(s Severity) string {
	if icon, ok := severityIcons[s]; ok {
		return icon
	}
	return "⚪"
}

// SeverityLabel returns the localized severity label.
func SeverityLabel(s Severity) string {
	if l, ok := severityLabels[s]; ok {
		return l
	}
	return string(s)
}

// FormatDecision renders an assessment's decision for the user. Proceed renders as "".
func FormatDecision(a *SafetyAssessment, tc *ToolContext) string {
	switch a.Decision.Action {
	case ActionConfirm:
		return FormatConfirmation(a, tc)
	case ActionReject:
		return FormatRejection(a, tc)
	}
	return ""
}

// FormatConfirmation renders a confirm decision with the reply the user must give.
func FormatConfirmation(a *SafetyAssessment, tc *ToolContext) string {
	req := a.Decision.Confirmation
	if req == nil {
		req = BuildConfirmation(a.Intent, a.Prediction.Consequences)
	}

	var b strings.Builder
	b.WriteString(banner + "\n")
	b.WriteString("🛡️ 安全确认\n")
	b.WriteString(banner + "\n")
	fmt.Fprintf(&b, "理解的意图: %s\n", req.UnderstoodIntent)
	fmt.Fprintf(&b, "计划操作: %s\n", req.PlannedAction)
	fmt.Fprintf(&b, "工具调用: %s\n", tc.Describe())
	writeConsequences(&b, req.PossibleConsequences)
	fmt.Fprintf(&b, "总体严重程度: %s %s\n", SeverityIcon(req.Severity), SeverityLabel(req.Severity))
	fmt.Fprintf(&b, "原因: %s\n", a.Decision.Reason)
	b.WriteString(banner + "\n")
	if req.ConfirmationType == ConfirmPassword {
		fmt.Fprintf(&b, "此操作需要安全密码确认。请直接回复安全密码以继续，或回复「%s」放弃。\n", ReplyCancel)
	} else {
		fmt.Fprintf(&b, "回复「%s」继续执行，回复「%s」放弃。\n", ReplyConfirm, ReplyCancel)
	}
	fmt.Fprintf(&b, "(确认有效期 %d 秒)", req.TimeoutMs/1000)
	return b.String()
}

// FormatRejection renders a reject decision.
func FormatRejection(a *SafetyAssessment, tc *ToolContext) string {
	var b strings.Builder
	b.WriteString(banner + "\n")
	b.WriteString("⛔ 操作已被拒绝\n")
	b.WriteString(banner + "\n")
	fmt.Fprintf(&b, "理解的意图: %s\n", a.Intent.Understood)
	fmt.Fprintf(&b, "计划操作: %s\n", PlannedAction(a.Intent))
	fmt.Fprintf(&b, "工具调用: %s\n", tc.Describe())

	var shown []Consequence
	for _, c := range a.Prediction.Consequences {
		if c.Severity != SeverityLow {
			shown = append(shown, c)
		}
	}
	writeConsequences(&b, shown)
	fmt.Fprintf(&b, "总体严重程度: %s %s\n", SeverityIcon(a.Prediction.OverallSeverity), SeverityLabel(a.Prediction.OverallSeverity))
	fmt.Fprintf(&b, "原因: %s\n", a.Decision.Reason)
	b.WriteString(banner + "\n")
	b.WriteString("如确需执行，请明确说明目标范围后重新发起请求。")
	return b.String()
}

func writeConsequences(b *strings.Builder, consequences []Consequence) {
	if len(consequences) == 0 {
		return
	}
	b.WriteString("可能的后果:\n")
	for i, c := range consequences {
		fmt.Fprintf(b, "  %d. %s %s [%s, %s]\n",
			i+1, SeverityIcon(c.Severity), c.Description, SeverityLabel(c.Severity), reversibilityLabels[c.Reversibility])
	}
}
