package backend

import (
	"context"
	"regexp"
	"strings"
)

// RuleAnalyzer is the null backend: intent, consequence and decision analysis are
// unavailable (callers use their rule paths) and constraint extraction runs on phrase patterns.
type RuleAnalyzer struct{}

func NewRuleAnalyzer() *RuleAnalyzer {
	return &RuleAnalyzer{}
}

func (RuleAnalyzer) AnalyzeIntent(context.Context, *Request) (*IntentResult, error) {
	return nil, ErrNoBackend
}

func (RuleAnalyzer) AnalyzeConsequence(context.Context, *Request) (*ConsequenceResult, error) {
	return nil, ErrNoBackend
}

func (RuleAnalyzer) SynthesizeDecision(context.Context, *Request) (*DecisionResult, error) {
	return nil, ErrNoBackend
}

var clauseSplit = regexp.MustCompile(`[，,。;；！!？?\n]+`)

// restrictionPatterns mark a clause as a constraint.
var restrictionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)不要|不许|不准|不能|禁止|(?:^|[^特区个级])别|\bdon'?t\b|\bdo not\b|\bnever\b|\bmust not\b`),
	regexp.MustCompile(`(?i)只|仅|\bonly\b`),
	regexp.MustCompile(`(?i)(先|之前|前).{0,6}(确认|批准)|confirm (first|before)|ask (me )?before`),
}

var (
	criticalMarker  = regexp.MustCompile(`(?i)任何|所有|全部|绝对|永远|\bnever\b|\bany\b|\ball\b|\babsolutely\b`)
	highMarker      = regexp.MustCompile(`(?i)必须|一定|务必|\bmust\b|\balways\b`)
	operationMarker = regexp.MustCompile(`(?i)这次|本次|这一步|暂时|this time|for now|this step`)
)

// ExtractConstraints pulls restriction clauses out of the message.
func (RuleAnalyzer) ExtractConstraints(_ context.Context, req *Request) (*ConstraintResult, error) {
	return &ConstraintResult{Constraints: ExtractConstraintPhrases(req.UserMessage), Confidence: 0.7}, nil
}

// ExtractConstraintPhrases applies the phrase patterns to one utterance.
func ExtractConstraintPhrases(message string) []ExtractedConstraint {
	var out []ExtractedConstraint
	for _, clause := range clauseSplit.Split(message, -1) {
		clause = strings.Join(strings.Fields(clause), " ")
		if clause == "" || !matchesAny(restrictionPatterns, clause) {
			continue
		}

		c := ExtractedConstraint{Content: clause, Priority: "normal", Scope: "session"}
		switch {
		case criticalMarker.MatchString(clause):
			c.Priority = "critical"
		case highMarker.MatchString(clause):
			c.Priority = "high"
		}
		if operationMarker.MatchString(clause) {
			c.Scope = "operation"
		}
		out = append(out, c)
	}
	return out
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
