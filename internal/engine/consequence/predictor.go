package consequence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/backend"
	"github.com/chatabc/open-safe-frame/internal/engine"
)

// Predictor runs every rule analyzer and, when configured, merges in backend predictions.
type Predictor struct {
	analyzers     []Analyzer
	backend       backend.Analyzer // nil = rules only
	historyWindow int
	logger        *zap.Logger
}

// NewPredictor creates a Predictor. A nil analyzers slice selects DefaultAnalyzers.
func NewPredictor(analyzers []Analyzer, b backend.Analyzer, historyWindow int, logger *zap.Logger) *Predictor {
	if analyzers == nil {
		analyzers = DefaultAnalyzers()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{analyzers: analyzers, backend: b, historyWindow: historyWindow, logger: logger}
}

// Predict never fails. The rule analyzers always run so a lenient backend
// cannot hide a rule-detected consequence.
func (p *Predictor) Predict(ctx context.Context, intent *engine.UserIntent, tc *engine.ToolContext) *engine.ConsequencePrediction {
	var found []engine.Consequence
	for _, a := range p.analyzers {
		found = append(found, a.Analyze(intent, tc)...)
	}

	if p.backend == nil {
		return Summarize(found, intent)
	}

	res, err := p.backend.AnalyzeConsequence(ctx, backend.NewRequest(intent.Raw, tc, p.historyWindow))
	if err != nil {
		if !errors.Is(err, backend.ErrNoBackend) {
			p.logger.Warn("consequence analysis failed, using rules",
				zap.String("tool_name", tc.ToolName),
				zap.Error(err),
			)
		}
		return Summarize(found, intent)
	}

	out := Summarize(merge(found, fromBackend(res)), intent)
	out.Source = engine.SourceMerged
	if r := strings.TrimSpace(res.Reasoning); r != "" {
		out.Reasoning = r + "；" + out.Reasoning
	}
	return out
}

// fromBackend drops entries with an unknown severity and normalizes the other enums.
func fromBackend(res *backend.ConsequenceResult) []engine.Consequence {
	out := make([]engine.Consequence, 0, len(res.Consequences))
	for _, item := range res.Consequences {
		sev := engine.Severity(item.Severity)
		if !sev.IsValid() {
			continue
		}
		typ := engine.ConsequenceType(item.Type)
		if !typ.IsValid() {
			typ = engine.ConsequenceOther
		}
		rev := engine.Reversibility(item.Reversibility)
		if !rev.IsValid() {
			rev = engine.PartiallyReversible
		}
		out = append(out, engine.Consequence{
			Type:            typ,
			Description:     item.Description,
			Severity:        sev,
			Reversibility:   rev,
			AffectedData:    item.AffectedData,
			EstimatedImpact: item.EstimatedImpact,
			Likelihood:      max(0, min(1, item.Likelihood)),
		})
	}
	return out
}

// merge appends extra to base, skipping entries already present by type and description.
func merge(base, extra []engine.Consequence) []engine.Consequence {
	seen := make(map[string]bool, len(base))
	key := func(c engine.Consequence) string { return string(c.Type) + "\x00" + c.Description }
	for _, c := range base {
		seen[key(c)] = true
	}
	for _, c := range extra {
		if seen[key(c)] {
			continue
		}
		seen[key(c)] = true
		base = append(base, c)
	}
	return base
}

// Summarize derives overall severity, reversibility, confidence and reasoning
// from a consequence list. Overall severity is the maximum present (low when empty)
// and reversibility is the least reversible present.
func Summarize(consequences []engine.Consequence, intent *engine.UserIntent) *engine.ConsequencePrediction {
	overall := engine.SeverityLow
	rev := engine.Reversible
	for _, c := range consequences {
		overall = engine.MaxSeverity(overall, c.Severity)
		switch {
		case c.Reversibility == engine.Irreversible:
			rev = engine.Irreversible
		case c.Reversibility == engine.PartiallyReversible && rev == engine.Reversible:
			rev = engine.PartiallyReversible
		}
	}

	confidence := 0.7
	if intent != nil {
		if intent.Confidence > 0.8 {
			confidence += 0.1
		}
		if len(intent.Constraints) > 0 {
			confidence += 0.05
		}
	}
	if len(consequences) == 0 {
		confidence -= 0.1
	}
	confidence = max(0.5, min(0.95, confidence))

	reasoning := "未检测到明显的负面后果"
	if len(consequences) > 0 {
		descs := make([]string, 0, len(consequences))
		for _, c := range consequences {
			descs = append(descs, c.Description)
		}
		reasoning = fmt.Sprintf("检测到 %d 项潜在后果: %s", len(consequences), strings.Join(descs, "; "))
	}

	return &engine.ConsequencePrediction{
		Consequences:    consequences,
		OverallSeverity: overall,
		Reversibility:   rev,
		Confidence:      confidence,
		Reasoning:       reasoning,
		Source:          engine.SourceRules,
	}
}
