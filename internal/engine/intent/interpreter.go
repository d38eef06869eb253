package intent

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/backend"
	"github.com/chatabc/open-safe-frame/internal/engine"
)

// Interpreter asks the analysis backend for an intent and falls back to the rule tables.
type Interpreter struct {
	backend       backend.Analyzer // nil = rules only
	historyWindow int
	logger        *zap.Logger
}

// NewInterpreter creates an Interpreter. analyzer may be nil.
func NewInterpreter(analyzer backend.Analyzer, historyWindow int, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{backend: analyzer, historyWindow: historyWindow, logger: logger}
}

// Understand never fails; backend errors degrade to the rule path.
func (i *Interpreter) Understand(ctx context.Context, message string, tc *engine.ToolContext) *engine.UserIntent {
	if i.backend == nil {
		return Interpret(message, tc)
	}

	res, err := i.backend.AnalyzeIntent(ctx, backend.NewRequest(message, tc, i.historyWindow))
	if err != nil {
		if !errors.Is(err, backend.ErrNoBackend) {
			i.logger.Warn("intent analysis failed, using rules",
				zap.String("tool_name", tc.ToolName),
				zap.Error(err),
			)
		}
		return Interpret(message, tc)
	}
	return fromBackend(message, tc, res)
}

// fromBackend normalizes a backend reply; missing or invalid fields take rule values.
func fromBackend(message string, tc *engine.ToolContext, res *backend.IntentResult) *engine.UserIntent {
	rules := Interpret(message, tc)

	out := &engine.UserIntent{
		Raw:         message,
		Understood:  strings.TrimSpace(res.Understood),
		Confidence:  clamp01(res.Confidence),
		KeyActions:  res.KeyActions,
		Constraints: res.Constraints,
		Source:      engine.SourceBackend,
	}
	if out.Understood == "" {
		out.Understood = rules.Understood
	}
	if len(out.KeyActions) == 0 {
		out.KeyActions = rules.KeyActions
	}

	for _, d := range res.DataInvolved {
		cat := engine.DataCategory(d.Category)
		if !cat.IsValid() {
			cat = engine.DataOther
		}
		vol := engine.Volume(d.EstimatedVolume)
		if !vol.IsValid() {
			vol = engine.VolumeUnknown
		}
		out.DataInvolved = append(out.DataInvolved, engine.DataInvolvement{
			Category:        cat,
			Description:     d.Description,
			EstimatedVolume: vol,
		})
	}
	if len(out.DataInvolved) == 0 {
		out.DataInvolved = rules.DataInvolved
	}
	return out
}

func clamp01(f float64) float64 {
	return max(0, min(1, f))
}
