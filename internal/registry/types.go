package registry

import "github.com/chatabc/open-safe-frame/internal/engine"

// ToolProfile is what an operator declares about a custom tool.
// Loaded from the tool_profiles table or the config file.
type ToolProfile struct {
	ID       string
	TenantID string
	ToolName string
	// Families are added to the families matched from the tool name.
	Families    []engine.Family
	Description string
	// RequiresConfirm raises a proceed decision for this tool to confirm.
	RequiresConfirm bool
}

// Apply copies the profile's families onto a tool context. Unknown families are skipped.
func (p *ToolProfile) Apply(tc *engine.ToolContext) {
	if p == nil {
		return
	}
	for _, f := range p.Families {
		if engine.KnownFamily(f) {
			tc.Families = append(tc.Families, f)
		}
	}
}
