package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/chatabc/open-safe-frame/internal/config"
	"github.com/chatabc/open-safe-frame/internal/engine"
	"github.com/chatabc/open-safe-frame/internal/registry"
)

var (
	assessMessage string
	assessTool    string
	assessParams  string
	assessJSON    bool
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Assess one tool call locally and print the decision",
	Example: `  safeframe assess -m "清理一下临时文件" -t delete_file -p '{"path":"/tmp/*"}'
  safeframe assess -m "buy a coffee" -t purchase --json`,
	RunE: runAssess,
}

func init() {
	f := assessCmd.Flags()
	f.StringVarP(&assessMessage, "message", "m", "", "the user's latest message")
	f.StringVarP(&assessTool, "tool", "t", "", "tool name")
	f.StringVarP(&assessParams, "params", "p", "", "tool parameters as a JSON object")
	f.BoolVar(&assessJSON, "json", false, "print the full assessment as JSON")
	_ = assessCmd.MarkFlagRequired("tool")
}

func runAssess(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	params, err := parseParams(assessParams)
	if err != nil {
		return err
	}

	logger := mustBuildLogger(cfg.LogLevel, "stderr")
	defer logger.Sync() //nolint:errcheck // best-effort flush

	p, err := buildPipeline(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	defer p.Close()

	tc := &engine.ToolContext{ToolName: assessTool, Params: params}
	profile, _ := registry.NewStaticRegistry(cfg.Profiles()).GetProfile(cmd.Context(), cfg.StaticTenantID, assessTool)
	profile.Apply(tc)

	a, err := p.coordinator.Assess(cmd.Context(), assessMessage, tc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if assessJSON || !isTerminal(out) {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}
	_, err = fmt.Fprintln(out, renderAssessment(a, tc))
	return err
}

func parseParams(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("--params must be a JSON object: %w", err)
	}
	return params, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var labelStyle = lipgloss.NewStyle().Bold(true).Width(14)

var boxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("240")).
	Padding(0, 1)

var actionColors = map[engine.Action]lipgloss.Color{
	engine.ActionProceed: lipgloss.Color("42"),
	engine.ActionConfirm: lipgloss.Color("214"),
	engine.ActionReject:  lipgloss.Color("196"),
}

// renderAssessment formats an assessment for a terminal.
func renderAssessment(a *engine.SafetyAssessment, tc *engine.ToolContext) string {
	action := a.Decision.Action
	badge := lipgloss.NewStyle().Bold(true).Foreground(actionColors[action]).
		Render(strings.ToUpper(string(action)))

	rows := []string{
		labelStyle.Render("decision") + badge,
		labelStyle.Render("reason") + a.Decision.Reason,
	}
	if a.Intent != nil {
		rows = append(rows, labelStyle.Render("intent")+a.Intent.Understood)
	}
	if a.Prediction != nil {
		rows = append(rows, labelStyle.Render("severity")+string(a.Prediction.OverallSeverity))
		for _, c := range a.Prediction.Consequences {
			rows = append(rows, labelStyle.Render("")+fmt.Sprintf("• [%s] %s", c.Severity, c.Description))
		}
	}
	if a.Values != nil {
		rows = append(rows, labelStyle.Render("risk")+fmt.Sprintf("%.2f  user interest %.2f", a.Values.RiskScore, a.Values.UserInterestScore))
	}
	if a.FailedOpen {
		rows = append(rows, labelStyle.Render("")+"assessment failed open")
	}

	out := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
	if msg := engine.FormatDecision(a, tc); msg != "" {
		out += "\n\n" + msg
	}
	return out
}
