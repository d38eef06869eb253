package consequence

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

// dangerousPaths are delete targets that escape any reasonable task scope.
var dangerousPaths = []*regexp.Regexp{
	regexp.MustCompile(`^/$`),
	regexp.MustCompile(`^/\*$`),
	regexp.MustCompile(`^/home/?$`),
	regexp.MustCompile(`^/Users/?$`),
	regexp.MustCompile(`^/(?:etc|usr|bin|boot|var|lib)/?$`),
	regexp.MustCompile(`^[A-Za-z]:\\?$`),
	regexp.MustCompile(`(?i)^[A-Za-z]:\\Users\\?$`),
	regexp.MustCompile(`(?i)^[A-Za-z]:\\Users\\[^\\]+\\?$`),
	regexp.MustCompile(`^~/?$`),
	regexp.MustCompile(`^\.$`),
	regexp.MustCompile(`^\.\.$`),
	regexp.MustCompile(`^\*$`),
}

var windowsFlag = regexp.MustCompile(`^/[a-zA-Z]$`)

const bulkDeleteCount = 10

// ScopeAnalyzer flags deletes aimed at root, home or system directories and deletes
// that touch more items than a single task normally would.
type ScopeAnalyzer struct{}

func NewScopeAnalyzer() *ScopeAnalyzer {
	return &ScopeAnalyzer{}
}

func (a *ScopeAnalyzer) Name() string {
	return "scope"
}

func (a *ScopeAnalyzer) Analyze(_ *engine.UserIntent, tc *engine.ToolContext) []engine.Consequence {
	isDelete := tc.Is(engine.FamilyDelete)

	var targets []string
	if isDelete {
		for _, key := range []string{"path", "target", "dir", "directory"} {
			if v := tc.String(key); v != "" {
				targets = append(targets, v)
			}
		}
	}
	if tc.Is(engine.FamilyShell) {
		targets = append(targets, deleteTargets(tc.Command())...)
	}

	var out []engine.Consequence
	seen := make(map[string]bool)
	for _, t := range targets {
		if seen[t] || !isDangerousPath(t) {
			continue
		}
		seen[t] = true
		out = append(out, engine.Consequence{
			Type:          engine.ConsequenceScopeEscape,
			Description:   fmt.Sprintf("删除目标超出任务范围: %s", t),
			Severity:      engine.SeverityCritical,
			Reversibility: engine.Irreversible,
			AffectedData:  t,
		})
	}

	if isDelete {
		if n, ok := tc.Number("count"); ok && n > bulkDeleteCount {
			out = append(out, engine.Consequence{
				Type:            engine.ConsequenceScopeEscape,
				Description:     fmt.Sprintf("一次删除 %d 项，超出常规任务范围", int(n)),
				Severity:        engine.SeverityHigh,
				Reversibility:   engine.PartiallyReversible,
				EstimatedImpact: fmt.Sprintf("%d 项", int(n)),
			})
		}
	}
	return out
}

func isDangerousPath(p string) bool {
	p = strings.TrimSpace(p)
	for _, re := range dangerousPaths {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// deleteTargets returns the non-flag arguments of every rm/del/rmdir/rd segment of cmd.
func deleteTargets(cmd string) []string {
	var out []string
	for _, seg := range splitCommands(cmd) {
		fields := strings.Fields(seg)
		if len(fields) == 0 {
			continue
		}
		start := 0
		if strings.EqualFold(fields[0], "sudo") {
			start = 1
		}
		if start >= len(fields) {
			continue
		}
		switch strings.ToLower(fields[start]) {
		case "rm", "del", "rmdir", "rd":
		default:
			continue
		}
		for _, f := range fields[start+1:] {
			if strings.HasPrefix(f, "-") || windowsFlag.MatchString(f) {
				continue
			}
			if f = strings.Trim(f, `"'`); f != "" {
				out = append(out, f)
			}
		}
	}
	return out
}
