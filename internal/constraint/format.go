package constraint

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

// Reply tokens shown in constraint messages.
const (
	ReplyAllow        = "允许"
	ReplyDeny         = "拒绝"
	AppealPrefix      = "申诉:"
	RemoveConstraint  = "删除约束"
	ListConstraintCmd = "约束列表"
)

var banner = strings.Repeat("═", 40)

var priorityLabels = map[Priority]string{
	PriorityCritical: "🔴严重",
	PriorityHigh:     "🟠高",
	PriorityNormal:   "🟡普通",
}

// PriorityLabel returns the display label for a priority.
func PriorityLabel(p Priority) string {
	if l, ok := priorityLabels[p]; ok {
		return l
	}
	return string(p)
}

// FormatViolation renders a blocked tool call and, once eligible, how to appeal.
func FormatViolation(res *CheckResult, a Action) string {
	var b strings.Builder
	b.WriteString(banner + "\n")
	b.WriteString("⚠️ 约束冲突\n")
	b.WriteString(banner + "\n")
	fmt.Fprintf(&b, "即将执行的操作:\n  工具: %s\n  描述: %s\n", a.Type, a.Description)
	b.WriteString("违反的约束:\n")
	for _, c := range res.Violations {
		fmt.Fprintf(&b, "  %s %s\n", PriorityLabel(c.Priority), c.Content)
		fmt.Fprintf(&b, "      已尝试: %d次 / 申诉门槛: %d次\n", c.ViolationAttempts+1, AppealThreshold(c.Priority))
	}
	if res.CanAppeal {
		b.WriteString("申诉通道已开启。如确有必要，请说明理由，将向用户请求许可。\n")
		fmt.Fprintf(&b, "格式: %s <理由>\n", AppealPrefix)
	} else {
		fmt.Fprintf(&b, "此操作与约束冲突。还需尝试 %d 次后可申诉。\n", res.RemainingAttempts)
	}
	b.WriteString(banner)
	return b.String()
}

// AppealContext is the assessment summary shown to the user with an appeal.
type AppealContext struct {
	Understood   string
	Consequences []engine.Consequence
	Severity     engine.Severity
}

// FormatAppealRequest renders an appeal for the user to rule on.
func FormatAppealRequest(c Constraint, rec AppealRecord, ac AppealContext) string {
	var b strings.Builder
	b.WriteString(banner + "\n")
	b.WriteString("🔔 操作申诉请求\n")
	b.WriteString(banner + "\n")
	fmt.Fprintf(&b, "申诉理由: %s\n", rec.Reason)
	if ac.Understood != "" {
		fmt.Fprintf(&b, "理解的意图: %s\n", ac.Understood)
	}
	fmt.Fprintf(&b, "即将执行的操作: %s %s\n", rec.ToolName, paramsPreview(rec.Params))
	if len(ac.Consequences) > 0 {
		b.WriteString("预测后果:\n")
		for _, cq := range ac.Consequences {
			fmt.Fprintf(&b, "  • %s %s [%s]\n", engine.SeverityIcon(cq.Severity), cq.Description, cq.Reversibility)
		}
	}
	if ac.Severity != "" {
		fmt.Fprintf(&b, "风险等级: %s %s\n", engine.SeverityIcon(ac.Severity), engine.SeverityLabel(ac.Severity))
	}
	fmt.Fprintf(&b, "违反的约束: %s %s\n", PriorityLabel(c.Priority), c.Content)
	fmt.Fprintf(&b, "累计尝试: %d次，历史申诉: %d次\n", c.ViolationAttempts, len(c.AppealHistory))
	b.WriteString(banner + "\n")
	if c.Priority.Privileged() {
		fmt.Fprintf(&b, "🔐 此操作需要安全密码。请直接回复安全密码以允许此操作，或回复「%s」阻止。", ReplyDeny)
	} else {
		fmt.Fprintf(&b, "回复「%s」执行此操作，回复「%s」阻止。\n", ReplyAllow, ReplyDeny)
		fmt.Fprintf(&b, "如需删除此约束，请回复「%s」。", RemoveConstraint)
	}
	return b.String()
}

// FormatList renders the active constraints for the user.
func FormatList(active []Constraint) string {
	if len(active) == 0 {
		return "当前没有活跃约束。"
	}
	var b strings.Builder
	b.WriteString("当前活跃约束:\n")
	for i, c := range active {
		fmt.Fprintf(&b, "  %d. %s %s %s", i+1, PriorityLabel(c.Priority), scopeLabel(c.Scope), c.Content)
		if c.ViolationAttempts > 0 {
			fmt.Fprintf(&b, " (已尝试%d次)", c.ViolationAttempts)
		}
		fmt.Fprintf(&b, " [id: %s]\n", c.ID)
	}
	fmt.Fprintf(&b, "删除约束请回复「%s:<安全密码>」，普通约束可直接回复「%s」。", RemoveConstraint, RemoveConstraint)
	return b.String()
}

// FormatForPrompt renders active constraints as context for the agent.
func FormatForPrompt(active []Constraint) string {
	if len(active) == 0 {
		return ""
	}
	lines := []string{"## 当前会话约束（必须遵守）"}
	for _, c := range active {
		line := fmt.Sprintf("%s %s %s", PriorityLabel(c.Priority), scopeLabel(c.Scope), c.Content)
		if c.ViolationAttempts > 0 {
			line += fmt.Sprintf(" (已尝试%d次)", c.ViolationAttempts)
		}
		lines = append(lines, line)
	}
	lines = append(lines,
		"⚠️ 违反约束的操作将被阻止",
		fmt.Sprintf("💡 如果操作确有必要，可以用「%s <理由>」申诉", AppealPrefix),
	)
	return strings.Join(lines, "\n")
}

func scopeLabel(s Scope) string {
	if s == ScopeOperation {
		return "[操作级]"
	}
	return "[会话级]"
}

func paramsPreview(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	s := string(b)
	if r := []rune(s); len(r) > 300 {
		s = string(r[:300]) + "…"
	}
	return s
}
