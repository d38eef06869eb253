package consequence

import (
	"fmt"
	"regexp"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

// sensitivePatterns classify a file path read earlier in the session.
var sensitivePatterns = []struct {
	re     *regexp.Regexp
	detail string
}{
	{regexp.MustCompile(`(?i)password|passwd|密码|secret|密钥|token|(?:^|[^a-z])key|credential|凭证|id_rsa|\.ssh/|\.env$`), "凭证"},
	{regexp.MustCompile(`(?i)personal|个人|private|私有|confidential|机密`), "个人隐私"},
	{regexp.MustCompile(`(?i)id_card|身份证|\bssn\b|social`), "身份信息"},
}

const privacyLookback = 3

// PrivacyAnalyzer flags outbound network tools that follow a read of sensitive files.
type PrivacyAnalyzer struct{}

func NewPrivacyAnalyzer() *PrivacyAnalyzer {
	return &PrivacyAnalyzer{}
}

func (a *PrivacyAnalyzer) Name() string {
	return "privacy"
}

func (a *PrivacyAnalyzer) Analyze(_ *engine.UserIntent, tc *engine.ToolContext) []engine.Consequence {
	if !tc.Is(engine.FamilyNetwork) {
		return nil
	}

	for _, call := range tc.RecentToolCalls(privacyLookback) {
		if !engine.ToolNameIn(call.ToolName, engine.FamilyRead) {
			continue
		}
		read := &engine.ToolContext{ToolName: call.ToolName, Params: call.Params}
		path := read.String("path")
		if path == "" {
			path = read.String("file")
		}
		if path == "" {
			continue
		}
		for _, p := range sensitivePatterns {
			if p.re.MatchString(path) {
				return []engine.Consequence{{
					Type:          engine.ConsequencePrivacyBreach,
					Description:   fmt.Sprintf("可能外发刚读取的敏感文件 (%s): %s", p.detail, path),
					Severity:      engine.SeverityCritical,
					Reversibility: engine.Irreversible,
					AffectedData:  path,
				}}
			}
		}
	}
	return nil
}
