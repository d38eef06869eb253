package engine

import (
	"sort"
	"time"
)

// Default thresholds.
const (
	DefaultAssessTimeout = 10 * time.Second

	// Decision arbiter.
	RejectRiskThreshold  = 0.7
	ConfirmRiskThreshold = 0.4
	MinJudgmentScore     = 0.3

	// Value judgment.
	AlignedInterestThreshold = 0.6
	AlignedRiskThreshold     = 0.5
	LowConfidenceThreshold   = 0.6

	CriticalConfirmTimeout = 300 * time.Second
	DefaultConfirmTimeout  = 60 * time.Second
)

// severityWeights feed the risk score.
var severityWeights = map[Severity]float64{
	SeverityLow:      0.1,
	SeverityMedium:   0.3,
	SeverityHigh:     0.6,
	SeverityCritical: 1.0,
}

// SeverityWeight returns the risk weight of a severity (0 for unknown values).
func SeverityWeight(s Severity) float64 {
	return severityWeights[s]
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
