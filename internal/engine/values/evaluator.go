package values

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/chatabc/open-safe-frame/internal/engine"
	"github.com/chatabc/open-safe-frame/internal/engine/consequence"
)

// Core value names.
const (
	DataSafety      = "data_safety"
	FinancialSafety = "financial_safety"
	Privacy         = "privacy"
	IntentAlignment = "intent_alignment"
	Reversibility   = "reversibility"
	Efficiency      = "efficiency"
)

// CoreValue is one weighted dimension of user interest.
type CoreValue struct {
	Name        string
	Weight      float64
	Description string
}

// CoreValues is the fixed value table, heaviest first.
var CoreValues = []CoreValue{
	{DataSafety, 1.0, "保护用户数据安全"},
	{FinancialSafety, 0.95, "保护用户财务安全"},
	{Privacy, 0.9, "保护用户隐私"},
	{IntentAlignment, 0.85, "行为符合用户意图"},
	{Reversibility, 0.7, "操作可逆性"},
	{Efficiency, 0.5, "操作效率"},
}

// missingScore stands in for a value with no computed score.
const missingScore = 0.5

var dataLossPenalty = map[engine.Severity]float64{
	engine.SeverityCritical: 0.5,
	engine.SeverityHigh:     0.3,
	engine.SeverityMedium:   0.15,
	engine.SeverityLow:      0.05,
}

// alignmentTable pairs intent verbs with tool-name keywords. First match wins.
var alignmentTable = []struct {
	intent *regexp.Regexp
	tools  []string
	score  float64
}{
	{regexp.MustCompile(`(?i)整理|清理|organize|clean`), []string{"organize", "clean", "sort", "arrange"}, 0.9},
	{regexp.MustCompile(`(?i)删除|移除|delete|remove`), []string{"delete", "remove", "del", "rm"}, 0.85},
	{regexp.MustCompile(`(?i)查看|检查|check|view|read`), []string{"read", "view", "check", "cat", "ls"}, 0.95},
	{regexp.MustCompile(`(?i)发送|发邮件|send|email`), []string{"send", "email", "mail", "post"}, 0.85},
}

// lowScoreThreshold marks a value as worth mentioning in the reasoning.
const lowScoreThreshold = 0.6

// Evaluator scores a pending action against CoreValues. It holds no state.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate never fails.
func (e *Evaluator) Evaluate(_ context.Context, intent *engine.UserIntent, prediction *engine.ConsequencePrediction, tc *engine.ToolContext) *engine.ValueAssessment {
	var cs []engine.Consequence
	if prediction != nil {
		cs = prediction.Consequences
	}

	scores := Score(intent, cs, tc)
	uis := UserInterest(scores)
	risk := Risk(cs)

	return &engine.ValueAssessment{
		Judgment:          Judge(intent, cs, uis, risk),
		Scores:            scores,
		Reasoning:         reasoning(intent, cs, scores),
		UserInterestScore: uis,
		RiskScore:         risk,
	}
}

// Score computes every core value independently, in CoreValues order.
func Score(intent *engine.UserIntent, cs []engine.Consequence, tc *engine.ToolContext) []engine.ValueScore {
	computed := map[string]float64{
		DataSafety:      dataSafety(cs),
		FinancialSafety: financialSafety(cs, intent),
		Privacy:         privacy(cs),
		IntentAlignment: intentAlignment(intent, tc),
		Reversibility:   reversibility(cs),
		Efficiency:      efficiency(intent),
	}
	out := make([]engine.ValueScore, 0, len(CoreValues))
	for _, v := range CoreValues {
		out = append(out, engine.ValueScore{Name: v.Name, Weight: v.Weight, Score: computed[v.Name]})
	}
	return out
}

// UserInterest is the weighted mean of the scores. Core values missing from
// scores count as 0.5.
func UserInterest(scores []engine.ValueScore) float64 {
	byName := make(map[string]float64, len(scores))
	for _, s := range scores {
		byName[s.Name] = s.Score
	}
	var total, weight float64
	for _, v := range CoreValues {
		s, ok := byName[v.Name]
		if !ok {
			s = missingScore
		}
		total += s * v.Weight
		weight += v.Weight
	}
	return total / weight
}

// Risk is the mean severity weight over all consequences, at most 1 and 0 when empty.
func Risk(cs []engine.Consequence) float64 {
	if len(cs) == 0 {
		return 0
	}
	var total float64
	for _, c := range cs {
		total += engine.SeverityWeight(c.Severity)
	}
	return min(1, total/float64(len(cs)))
}

// Judge derives the alignment verdict.
func Judge(intent *engine.UserIntent, cs []engine.Consequence, uis, risk float64) engine.ValueJudgment {
	var concerns, recs []string
	var critical, high []string
	spends := false
	for _, c := range cs {
		switch c.Severity {
		case engine.SeverityCritical:
			critical = append(critical, c.Description)
		case engine.SeverityHigh:
			high = append(high, c.Description)
		default:
			spends = spends || c.Type == engine.ConsequenceFinancialLoss
		}
	}
	switch {
	case len(critical) > 0:
		concerns = append(concerns, critical...)
		recs = append(recs, "建议用户确认后再执行")
	case len(high) > 0:
		concerns = append(concerns, high...)
		recs = append(recs, "建议用户了解风险后确认")
	}
	// Spending money is never silent, however small the amount.
	if spends {
		concerns = append(concerns, "将产生实际支付")
		recs = append(recs, "建议支付前与用户确认金额")
	}
	if intent != nil && intent.Confidence < engine.LowConfidenceThreshold {
		concerns = append(concerns, "用户意图不够明确")
		recs = append(recs, "建议与用户确认具体需求")
	}

	return engine.ValueJudgment{
		Aligned:         uis >= engine.AlignedInterestThreshold && risk < engine.AlignedRiskThreshold,
		Score:           (uis + uis*(1-risk)) / 2,
		Concerns:        concerns,
		Recommendations: recs,
	}
}

func dataSafety(cs []engine.Consequence) float64 {
	score := 1.0
	for _, c := range cs {
		if c.Type == engine.ConsequenceDataLoss {
			score -= dataLossPenalty[c.Severity]
		}
	}
	return max(0, score)
}

func financialSafety(cs []engine.Consequence, intent *engine.UserIntent) float64 {
	found := false
	for _, c := range cs {
		if c.Type != engine.ConsequenceFinancialLoss {
			continue
		}
		if c.Severity == engine.SeverityCritical {
			return 0
		}
		found = true
	}
	switch {
	case !found:
		return 1
	case intent == nil || !consequence.HasPurchaseVerb(intent.Raw):
		return 0.3
	}
	return 0.7
}

func privacy(cs []engine.Consequence) float64 {
	score := 1.0
	for _, c := range cs {
		if c.Type != engine.ConsequencePrivacyBreach {
			continue
		}
		if c.Severity == engine.SeverityCritical {
			return 0
		}
		score = 0.5
	}
	return score
}

func intentAlignment(intent *engine.UserIntent, tc *engine.ToolContext) float64 {
	if intent == nil || intent.Confidence < 0.5 {
		return 0.5
	}
	name := ""
	if tc != nil {
		name = strings.ToLower(tc.ToolName)
	}
	for _, row := range alignmentTable {
		if !row.intent.MatchString(intent.Raw) {
			continue
		}
		for _, t := range row.tools {
			if strings.Contains(name, t) {
				return row.score
			}
		}
	}
	return intent.Confidence
}

func reversibility(cs []engine.Consequence) float64 {
	if len(cs) == 0 {
		return 1
	}
	partial := false
	for _, c := range cs {
		switch c.Reversibility {
		case engine.Irreversible:
			return 0.2
		case engine.PartiallyReversible:
			partial = true
		}
	}
	if partial {
		return 0.5
	}
	return 0.9
}

func efficiency(intent *engine.UserIntent) float64 {
	if intent != nil && intent.HasLargeVolume() && len(intent.Constraints) > 0 {
		return 0.6
	}
	return 0.8
}

func reasoning(intent *engine.UserIntent, cs []engine.Consequence, scores []engine.ValueScore) string {
	var parts []string
	if intent != nil {
		parts = append(parts, fmt.Sprintf("用户意图: %q (置信度: %.0f%%)", intent.Understood, intent.Confidence*100))
	}
	if len(cs) > 0 {
		parts = append(parts, fmt.Sprintf("检测到 %d 个潜在后果:", len(cs)))
		for _, c := range cs[:min(3, len(cs))] {
			parts = append(parts, fmt.Sprintf("  - [%s] %s", strings.ToUpper(string(c.Severity)), c.Description))
		}
	}
	var low []string
	for _, s := range scores {
		if s.Score < lowScoreThreshold {
			low = append(low, fmt.Sprintf("%s: %.0f%%", s.Name, s.Score*100))
		}
	}
	if len(low) > 0 {
		parts = append(parts, "需要关注的价值维度: "+strings.Join(low, ", "))
	}
	return strings.Join(parts, "\n")
}
