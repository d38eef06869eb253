package consequence

import (
	"regexp"
	"strings"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

// dangerousCommands each yield a critical, irreversible system_damage consequence.
var dangerousCommands = []struct {
	re     *regexp.Regexp
	detail string
}{
	{regexp.MustCompile(`(?i)\brm\s+(?:-[a-z]*r[a-z]*|--recursive)\b`), "递归删除命令"},
	{regexp.MustCompile(`(?i)\bdel\s+/[sf]\b`), "递归删除命令"},
	{regexp.MustCompile(`(?i)\brmdir\s+/[sq]\b`), "递归删除目录"},
	{regexp.MustCompile(`(?i)(?:^|[;&|]\s*)format\s+[a-z]:|\bmkfs(?:\.\w+)?\b|\bdiskpart\b`), "磁盘格式化命令"},
	{regexp.MustCompile(`(?i)\bchmod\s+(?:-R\s+)?777\b`), "开放全部权限"},
	{regexp.MustCompile(`(?i)\bchown\s+(?:-R\s+)?root\b`), "修改文件属主为 root"},
	{regexp.MustCompile(`>{1,2}\s*/(?:\s|$|etc/|dev/sd|bin/|boot/|usr/|sys/|proc/)`), "重定向写入系统路径"},
	{regexp.MustCompile(`(?i)\b(?:curl|wget)\b.*\|\s*(?:ba|z)?sh\b`), "下载并执行远程脚本"},
	{regexp.MustCompile(`(?i)\bsudo\b|\brunas\b`), "提权执行"},
}

var deleteCommand = regexp.MustCompile(`(?i)\b(?:rm|del|rmdir|rd)\b`)

// SystemAnalyzer flags dangerous shell commands.
type SystemAnalyzer struct{}

func NewSystemAnalyzer() *SystemAnalyzer {
	return &SystemAnalyzer{}
}

func (a *SystemAnalyzer) Name() string {
	return "system"
}

func (a *SystemAnalyzer) Analyze(_ *engine.UserIntent, tc *engine.ToolContext) []engine.Consequence {
	if !tc.Is(engine.FamilyShell) {
		return nil
	}
	cmd := tc.Command()
	if cmd == "" {
		return nil
	}

	var out []engine.Consequence
	seen := make(map[string]bool)
	for _, p := range dangerousCommands {
		if !p.re.MatchString(cmd) || seen[p.detail] {
			continue
		}
		seen[p.detail] = true
		out = append(out, engine.Consequence{
			Type:          engine.ConsequenceSystemDamage,
			Description:   "危险命令: " + p.detail,
			Severity:      engine.SeverityCritical,
			Reversibility: engine.Irreversible,
			AffectedData:  cmd,
		})
	}

	if deleteCommand.MatchString(cmd) && strings.Contains(strings.TrimSpace(cmd), " ") {
		out = append(out, engine.Consequence{
			Type:          engine.ConsequenceSystemDamage,
			Description:   "删除命令包含空格，路径可能被截断而误删其他文件",
			Severity:      engine.SeverityHigh,
			Reversibility: engine.Irreversible,
			AffectedData:  cmd,
		})
	}
	return out
}

// splitCommands breaks a compound shell command on ;, &&, || and | outside quotes.
func splitCommands(cmd string) []string {
	var (
		parts []string
		cur   strings.Builder
		quote rune
	)
	runes := []rune(cmd)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == ';' || r == '|' || r == '\n':
			flush()
		case r == '&' && i+1 < len(runes) && runes[i+1] == '&':
			flush()
			i++
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return parts
}
