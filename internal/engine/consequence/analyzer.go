package consequence

import (
	"github.com/chatabc/open-safe-frame/internal/engine"
)

// Analyzer is one independent rule-path risk check.
// Implementations are pure and must not retain their inputs.
type Analyzer interface {
	// Name returns the analyzer's unique identifier.
	Name() string

	// Analyze returns zero or more consequences for the pending tool call.
	Analyze(intent *engine.UserIntent, tc *engine.ToolContext) []engine.Consequence
}

// DefaultAnalyzers returns the built-in analyzers in evaluation order.
func DefaultAnalyzers() []Analyzer {
	return []Analyzer{
		NewDataLossAnalyzer(),
		NewFinancialAnalyzer(),
		NewPrivacyAnalyzer(),
		NewSystemAnalyzer(),
		NewScopeAnalyzer(),
		NewPermissionAnalyzer(),
	}
}
