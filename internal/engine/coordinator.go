package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SourceFailOpen marks a decision produced by the fail-open path.
const SourceFailOpen = "fail_open"

// Coordinator runs intent -> consequence -> value -> decision for one tool call.
// Stages run strictly in order; each consumes only earlier outputs and the ToolContext.
type Coordinator struct {
	intent    IntentInterpreter
	predictor ConsequencePredictor
	values    ValueEvaluator
	advisor   DecisionAdvisor // nil = arbiter only
	timeout   time.Duration
	logger    *zap.Logger
}

// CoordinatorConfig wires the pipeline stages.
type CoordinatorConfig struct {
	Intent    IntentInterpreter
	Predictor ConsequencePredictor
	Values    ValueEvaluator
	Advisor   DecisionAdvisor
	Timeout   time.Duration
	Logger    *zap.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultAssessTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		intent:    cfg.Intent,
		predictor: cfg.Predictor,
		values:    cfg.Values,
		advisor:   cfg.Advisor,
		timeout:   timeout,
		logger:    logger,
	}
}

// Assess runs one assessment.
//
// An unexpected fault inside any stage is recovered here, logged at error level,
// and the call fails open: the returned assessment proceeds with FailedOpen set.
// The only error returned is the caller's context error, in which case the
// result must be discarded.
func (c *Coordinator) Assess(ctx context.Context, message string, tc *ToolContext) (*SafetyAssessment, error) {
	start := time.Now()

	stageCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	a, err := c.run(stageCtx, message, tc)
	if err != nil {
		c.logger.Error("safety assessment failed, allowing tool call",
			zap.String("tool_name", tc.ToolName),
			zap.Error(err),
		)
		a = failOpen(message, a, err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	a.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return a, nil
}

func (c *Coordinator) run(ctx context.Context, message string, tc *ToolContext) (a *SafetyAssessment, err error) {
	a = &SafetyAssessment{}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	a.Intent = c.intent.Understand(ctx, message, tc)
	a.Prediction = c.predictor.Predict(ctx, a.Intent, tc)
	a.Values = c.values.Evaluate(ctx, a.Intent, a.Prediction, tc)
	a.Decision = Decide(a.Intent, a.Prediction.Consequences, a.Values)

	if c.advisor != nil {
		if advised, ok := c.advisor.Advise(ctx, message, tc, a); ok {
			a.Decision = Escalate(a.Decision, advised, a.Intent, a.Prediction.Consequences)
		}
	}
	return a, nil
}

func failOpen(message string, partial *SafetyAssessment, cause error) *SafetyAssessment {
	a := partial
	if a == nil {
		a = &SafetyAssessment{}
	}
	if a.Intent == nil {
		a.Intent = &UserIntent{Raw: message, Understood: "执行用户请求的操作", Source: SourceFailOpen}
	}
	if a.Prediction == nil {
		a.Prediction = &ConsequencePrediction{
			OverallSeverity: SeverityLow,
			Reversibility:   Reversible,
			Source:          SourceFailOpen,
		}
	}
	if a.Values == nil {
		a.Values = &ValueAssessment{}
	}
	a.Decision = &Decision{
		Action: ActionProceed,
		Reason: "安全评估出现异常，按既定策略放行: " + cause.Error(),
		Source: SourceFailOpen,
	}
	a.FailedOpen = true
	return a
}
