package consequence

import (
	"regexp"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

var (
	recursiveFlag = regexp.MustCompile(`(?i)(^|\s)(-[a-z]*r[a-z]*|--recursive|/s|/q)(\s|$)`)
	bulkKeyword   = regexp.MustCompile(`(?i)所有|全部|批量|\ball\b|\bbulk\b`)
	wipeCommand   = regexp.MustCompile(`(?i)格式化|清空|\bwipe\b|\bformat\s+[a-z]:`)
)

// DataLossAnalyzer flags delete-family tools and format/wipe requests.
type DataLossAnalyzer struct{}

func NewDataLossAnalyzer() *DataLossAnalyzer {
	return &DataLossAnalyzer{}
}

func (a *DataLossAnalyzer) Name() string {
	return "data_loss"
}

func (a *DataLossAnalyzer) Analyze(intent *engine.UserIntent, tc *engine.ToolContext) []engine.Consequence {
	var out []engine.Consequence

	if tc.Is(engine.FamilyDelete) {
		c := engine.Consequence{
			Type:          engine.ConsequenceDataLoss,
			Description:   "删除操作可能导致数据丢失",
			Severity:      engine.SeverityMedium,
			Reversibility: engine.PartiallyReversible,
			AffectedData:  affectedData(tc),
		}

		recursive := tc.Bool("recursive") || recursiveFlag.MatchString(tc.Command())
		switch {
		case recursive:
			c.Description = "递归删除将不可逆地移除整个目录树"
			c.Severity = engine.SeverityCritical
			c.Reversibility = engine.Irreversible
		case bulkKeyword.MatchString(intent.Raw):
			c.Description = "批量删除将不可逆地移除大量数据"
			c.Severity = engine.SeverityCritical
			c.Reversibility = engine.Irreversible
		case intent.HasLargeVolume():
			c.Description = "删除涉及大量数据，可能无法恢复"
			c.Severity = engine.SeverityHigh
			c.Reversibility = engine.Irreversible
		}

		if tc.Is(engine.FamilyEmail) && c.Severity == engine.SeverityMedium {
			c.Description = "删除的邮件可能无法找回"
			c.Severity = engine.SeverityHigh
		}
		out = append(out, c)
	}

	if wipeCommand.MatchString(tc.Command()) || wipeCommand.MatchString(intent.Raw) {
		out = append(out, engine.Consequence{
			Type:          engine.ConsequenceDataLoss,
			Description:   "格式化或清空操作将永久抹除数据",
			Severity:      engine.SeverityCritical,
			Reversibility: engine.Irreversible,
			AffectedData:  affectedData(tc),
		})
	}
	return out
}

func affectedData(tc *engine.ToolContext) string {
	for _, key := range []string{"path", "target", "file", "directory", "command"} {
		if v := tc.String(key); v != "" {
			return v
		}
	}
	return tc.ToolName
}
