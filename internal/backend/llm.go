package backend

import (
	"context"
	"fmt"
	"text/template"

	"go.uber.org/zap"
)

// Completer sends one system+user prompt pair to a language model and returns the raw reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

// LLMAnalyzer implements Analyzer on top of any Completer.
type LLMAnalyzer struct {
	completer Completer
	logger    *zap.Logger
}

// NewLLMAnalyzer creates an analyzer backed by completer.
func NewLLMAnalyzer(completer Completer, logger *zap.Logger) *LLMAnalyzer {
	return &LLMAnalyzer{completer: completer, logger: logger}
}

func (a *LLMAnalyzer) AnalyzeIntent(ctx context.Context, req *Request) (*IntentResult, error) {
	return complete[IntentResult](ctx, a, intentTmpl, intentSchema, req)
}

func (a *LLMAnalyzer) AnalyzeConsequence(ctx context.Context, req *Request) (*ConsequenceResult, error) {
	return complete[ConsequenceResult](ctx, a, consequenceTmpl, consequenceSchema, req)
}

func (a *LLMAnalyzer) SynthesizeDecision(ctx context.Context, req *Request) (*DecisionResult, error) {
	return complete[DecisionResult](ctx, a, decisionTmpl, decisionSchema, req)
}

func (a *LLMAnalyzer) ExtractConstraints(ctx context.Context, req *Request) (*ConstraintResult, error) {
	return complete[ConstraintResult](ctx, a, constraintTmpl, constraintSchema, req)
}

func complete[T any](ctx context.Context, a *LLMAnalyzer, tmpl *template.Template, schema *Schema, req *Request) (*T, error) {
	prompt, err := renderPrompt(tmpl, req)
	if err != nil {
		return nil, err
	}

	raw, err := a.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", a.completer.Name(), tmpl.Name(), err)
	}

	out, err := ExtractJSON[T](raw, schema)
	if err != nil {
		a.logger.Debug("backend reply rejected",
			zap.String("backend", a.completer.Name()),
			zap.String("endpoint", tmpl.Name()),
			zap.Int("reply_bytes", len(raw)),
			zap.Error(err),
		)
		return nil, err
	}
	return &out, nil
}
