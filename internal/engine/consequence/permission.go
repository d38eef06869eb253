package consequence

import (
	"regexp"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

var overridePhrases = regexp.MustCompile(`(?i)disable\s+(?:the\s+)?safety|bypass\s+(?:the\s+)?constraints?|ignore\s+(?:the\s+|all\s+)?rules|禁用安全|关闭安全|绕过约束|绕过限制|忽略规则|忽略约束`)

const fetchExecLookback = 3

// PermissionAnalyzer flags attempts to switch off the guard and shell
// execution that directly follows fetched web content.
type PermissionAnalyzer struct{}

func NewPermissionAnalyzer() *PermissionAnalyzer {
	return &PermissionAnalyzer{}
}

func (a *PermissionAnalyzer) Name() string {
	return "permission"
}

func (a *PermissionAnalyzer) Analyze(intent *engine.UserIntent, tc *engine.ToolContext) []engine.Consequence {
	var out []engine.Consequence

	if overridePhrases.MatchString(intent.Raw) || overridePhrases.MatchString(tc.Command()) {
		out = append(out, engine.Consequence{
			Type:          engine.ConsequencePermissionViolation,
			Description:   "请求试图禁用或绕过安全约束",
			Severity:      engine.SeverityCritical,
			Reversibility: engine.PartiallyReversible,
		})
	}

	if tc.Is(engine.FamilyShell) {
		for _, call := range tc.RecentToolCalls(fetchExecLookback) {
			if engine.ToolNameIn(call.ToolName, engine.FamilyWeb) {
				out = append(out, engine.Consequence{
					Type:          engine.ConsequencePermissionViolation,
					Description:   "在获取网页内容后执行命令，可能受到注入指令影响",
					Severity:      engine.SeverityHigh,
					Reversibility: engine.PartiallyReversible,
					AffectedData:  call.ToolName,
				})
				break
			}
		}
	}
	return out
}
