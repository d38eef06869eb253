package engine

import "context"

// IntentInterpreter turns a raw utterance plus the pending tool call into a UserIntent.
// Implementations never fail: backend errors fall back to rules and a well-formed intent is returned.
type IntentInterpreter interface {
	Understand(ctx context.Context, message string, tc *ToolContext) *UserIntent
}

// ConsequencePredictor enumerates possible negative consequences of a tool call.
type ConsequencePredictor interface {
	Predict(ctx context.Context, intent *UserIntent, tc *ToolContext) *ConsequencePrediction
}

// ValueEvaluator scores an action against the weighted core values.
type ValueEvaluator interface {
	Evaluate(ctx context.Context, intent *UserIntent, prediction *ConsequencePrediction, tc *ToolContext) *ValueAssessment
}

// DecisionAdvisor optionally proposes a decision from an external backend.
// The second return is false when no advice is available.
// Advice is applied only when it is stricter than the arbiter's decision.
type DecisionAdvisor interface {
	Advise(ctx context.Context, message string, tc *ToolContext, a *SafetyAssessment) (*Decision, bool)
}
