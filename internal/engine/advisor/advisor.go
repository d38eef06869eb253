package advisor

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/backend"
	"github.com/chatabc/open-safe-frame/internal/engine"
)

// Advisor asks the analysis backend to synthesize a decision from the rule-path assessment.
type Advisor struct {
	backend       backend.Analyzer
	historyWindow int
	logger        *zap.Logger
}

func New(b backend.Analyzer, historyWindow int, logger *zap.Logger) *Advisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advisor{backend: b, historyWindow: historyWindow, logger: logger}
}

// Advise returns false when the backend is unavailable or replies with an unknown action.
func (a *Advisor) Advise(ctx context.Context, message string, tc *engine.ToolContext, sa *engine.SafetyAssessment) (*engine.Decision, bool) {
	if a.backend == nil {
		return nil, false
	}

	req := backend.NewRequest(message, tc, a.historyWindow)
	req.Assessment = sa

	res, err := a.backend.SynthesizeDecision(ctx, req)
	if err != nil {
		if !errors.Is(err, backend.ErrNoBackend) {
			a.logger.Warn("decision synthesis failed, keeping rule decision",
				zap.String("tool_name", tc.ToolName),
				zap.Error(err),
			)
		}
		return nil, false
	}

	action := engine.Action(strings.ToLower(strings.TrimSpace(res.Action)))
	if !action.IsValid() {
		a.logger.Warn("decision synthesis returned unknown action",
			zap.String("tool_name", tc.ToolName),
			zap.String("action", res.Action),
		)
		return nil, false
	}
	return &engine.Decision{
		Action: action,
		Reason: strings.TrimSpace(res.Reason),
		Source: engine.SourceBackend,
	}, true
}
