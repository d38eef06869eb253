package intent

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

// verbPatterns are tried in order; the first match names the intent.
var verbPatterns = []struct {
	re    *regexp.Regexp
	label string
}{
	{regexp.MustCompile(`(?i)整理|清理|organize|clean`), "整理"},
	{regexp.MustCompile(`(?i)删除|移除|delete|remove`), "删除"},
	{regexp.MustCompile(`(?i)发送|send|email`), "发送"},
	{regexp.MustCompile(`(?i)购买|买|buy|purchase`), "购买"},
	{regexp.MustCompile(`(?i)修改|更改|modify|change`), "修改"},
	{regexp.MustCompile(`(?i)查看|检查|check|view`), "查看"},
	{regexp.MustCompile(`(?i)备份|保存|backup|save`), "备份"},
}

var (
	bulkPattern       = regexp.MustCompile(`(?i)所有|全部|批量|\ball\b|\bbulk\b|\bevery`)
	allPattern        = regexp.MustCompile(`(?i)所有|全部|\ball\b|\bevery`)
	batchPattern      = regexp.MustCompile(`(?i)批量|\bbulk\b`)
	explicitMarker    = regexp.MustCompile(`(?i)请|帮我|需要|想要|please|help|need|want`)
	scopeMarker       = regexp.MustCompile(`(?i)所有|全部|批量|单个|特定|\ball\b|\bbulk\b|specific`)
	restrictiveMarker = regexp.MustCompile(`(?i)不要|别|仅|只|don'?t|only|just`)
	recursiveFlag     = regexp.MustCompile(`(?i)(^|\s)(-[a-z]*r[a-z]*|--recursive|/s)(\s|$)`)
	sensitivePath     = regexp.MustCompile(`(?i)password|passwd|密码|secret|密钥|token|credential|凭证|\.ssh|id_rsa|\.env\b`)
)

// constraintPhrases turn restriction phrases in the current message into informal constraints.
var constraintPhrases = []struct {
	re     *regexp.Regexp
	render func(m []string) string
}{
	{regexp.MustCompile(`(?i)(?:不要|别|don'?t|do not)\s*([^，,。.;；!！?？]{1,20})`), func(m []string) string { return "禁止: " + m[1] }},
	{regexp.MustCompile(`(?i)(?:只|仅|only|just)\s*([^，,。.;；!！?？]{1,20})`), func(m []string) string { return "限制: 仅" + m[1] }},
	{regexp.MustCompile(`(?i)先.+再|before.+after`), func([]string) string { return "顺序约束: 需按指定顺序执行" }},
	{regexp.MustCompile(`(?i)确认|批准|confirm|approve`), func([]string) string { return "需要用户确认" }},
}

var historyNegative = regexp.MustCompile(`(?i)不要|别|don'?t`)

// keyActionLabels maps well-known tool names to readable actions.
var keyActionLabels = map[string]string{
	"delete_file":  "删除文件",
	"delete_email": "删除邮件",
	"email_delete": "删除邮件",
	"shell_exec":   "执行系统命令",
	"send_email":   "发送邮件",
	"purchase":     "购买商品",
	"modify_file":  "修改文件",
	"write_file":   "写入文件",
	"read_file":    "读取文件",
	"web_fetch":    "获取网页内容",
}

const (
	baseConfidence    = 0.6
	confidenceBoost   = 0.15
	maxConfidence     = 0.95
	shortMessageLimit = 10
	shortMessageCap   = 0.5
)

// Interpret is the rule path: a pure function of the message and tool context.
func Interpret(message string, tc *engine.ToolContext) *engine.UserIntent {
	return &engine.UserIntent{
		Raw:          message,
		Understood:   understand(message, tc),
		Confidence:   confidence(message),
		KeyActions:   keyActions(tc),
		Constraints:  constraints(message, tc),
		DataInvolved: dataInvolved(message, tc),
		Source:       engine.SourceRules,
	}
}

func understand(message string, tc *engine.ToolContext) string {
	for _, v := range verbPatterns {
		if !v.re.MatchString(message) {
			continue
		}
		if bulkPattern.MatchString(message) {
			return "批量" + v.label + "操作"
		}
		return "单个" + v.label + "操作"
	}

	if recent := tc.RecentUserMessages(3); len(recent) > 0 {
		for i, m := range recent {
			recent[i] = truncate(m, 30)
		}
		return "基于对话上下文的操作: " + strings.Join(recent, " -> ")
	}
	return "执行用户请求的操作"
}

func confidence(message string) float64 {
	c := baseConfidence
	if explicitMarker.MatchString(message) {
		c += confidenceBoost
	}
	if scopeMarker.MatchString(message) {
		c += confidenceBoost
	}
	if restrictiveMarker.MatchString(message) {
		c += confidenceBoost
	}
	c = min(c, maxConfidence)
	if utf8.RuneCountInString(strings.TrimSpace(message)) < shortMessageLimit {
		c = min(c, shortMessageCap)
	}
	return c
}

func keyActions(tc *engine.ToolContext) []string {
	label, ok := keyActionLabels[strings.ToLower(tc.ToolName)]
	if !ok {
		label = "使用工具: " + tc.ToolName
	}
	actions := []string{label}

	if p := tc.String("path"); p != "" {
		actions = append(actions, "目标路径: "+p)
	}
	if n, ok := tc.Number("count"); ok {
		actions = append(actions, fmt.Sprintf("数量: %g", n))
	}
	if cmd := tc.Command(); cmd != "" {
		actions = append(actions, "命令: "+cmd)
	}
	return actions
}

func constraints(message string, tc *engine.ToolContext) []string {
	var out []string
	for _, p := range constraintPhrases {
		if m := p.re.FindStringSubmatch(message); m != nil {
			out = append(out, p.render(m))
		}
	}

	history := tc.History
	if len(history) > 5 {
		history = history[len(history)-5:]
	}
	for _, ev := range history {
		if ev.Kind == engine.EventUserMessage && historyNegative.MatchString(ev.Text) {
			out = append(out, "历史约束: "+truncate(ev.Text, 50))
		}
	}
	return out
}

func dataInvolved(message string, tc *engine.ToolContext) []engine.DataInvolvement {
	var out []engine.DataInvolvement

	if tc.Is(engine.FamilyEmail) {
		out = append(out, engine.DataInvolvement{
			Category:        engine.DataEmails,
			Description:     "邮件数据",
			EstimatedVolume: estimateVolume(message, tc, false),
		})
	} else if tc.Is(engine.FamilyFile) {
		out = append(out, engine.DataInvolvement{
			Category:        engine.DataFiles,
			Description:     "文件数据",
			EstimatedVolume: estimateVolume(message, tc, true),
		})
	}
	if tc.Is(engine.FamilyPurchase) {
		out = append(out, engine.DataInvolvement{
			Category:        engine.DataFinancial,
			Description:     "支付信息",
			EstimatedVolume: engine.VolumeUnknown,
		})
	}
	if tc.Is(engine.FamilyShell) {
		out = append(out, engine.DataInvolvement{
			Category:        engine.DataSystem,
			Description:     "系统命令",
			EstimatedVolume: engine.VolumeUnknown,
		})
	}
	if p := tc.String("path"); p != "" && sensitivePath.MatchString(p) {
		out = append(out, engine.DataInvolvement{
			Category:        engine.DataCredentials,
			Description:     "敏感凭证: " + p,
			EstimatedVolume: engine.VolumeSmall,
		})
	}
	return out
}

// estimateVolume reads an explicit count first, then recursion flags (files only), then bulk keywords.
func estimateVolume(message string, tc *engine.ToolContext, files bool) engine.Volume {
	if n, ok := tc.Number("count"); ok {
		switch {
		case n <= 5:
			return engine.VolumeSmall
		case n <= 20:
			return engine.VolumeMedium
		default:
			return engine.VolumeLarge
		}
	}
	if files && (tc.Bool("recursive") || recursiveFlag.MatchString(tc.Command())) {
		return engine.VolumeLarge
	}
	switch {
	case allPattern.MatchString(message):
		return engine.VolumeLarge
	case batchPattern.MatchString(message):
		return engine.VolumeMedium
	}
	return engine.VolumeSmall
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
