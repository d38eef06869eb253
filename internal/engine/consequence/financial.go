package consequence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

// amountPatterns are tried in order against the raw message.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$?(\d+(?:\.\d{1,2})?)\s*(?:美元|dollars?|usd)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d{1,2})?)\s*(?:元|块|rmb|cny)`),
	regexp.MustCompile(`(?i)(?:price|amount|total|价格|金额)[:：\s]*\$?(\d+(?:\.\d{1,2})?)`),
	regexp.MustCompile(`\$(\d+(?:\.\d{1,2})?)`),
}

var (
	purchaseVerb    = regexp.MustCompile(`(?i)买|购买|支付|下单|\bpay\b|\bpurchase\b|\bbuy\b`)
	explicitRequest = regexp.MustCompile(`(?i)帮我|请|想要|\bneed\b|\bwant\b|\bplease\b`)
	leadingPurchase = regexp.MustCompile(`(?i)^\s*(买|购买|下单|支付|buy|purchase|pay|order)`)
)

// FinancialAnalyzer flags purchase and payment tools.
type FinancialAnalyzer struct{}

func NewFinancialAnalyzer() *FinancialAnalyzer {
	return &FinancialAnalyzer{}
}

func (a *FinancialAnalyzer) Name() string {
	return "financial"
}

func (a *FinancialAnalyzer) Analyze(intent *engine.UserIntent, tc *engine.ToolContext) []engine.Consequence {
	if !tc.Is(engine.FamilyPurchase) {
		return nil
	}

	amount, known := extractAmount(intent.Raw, tc)
	impact := "金额未知"
	if known {
		impact = fmt.Sprintf("金额约 %.2f", amount)
	}

	if !PurchaseAuthorized(intent.Raw) {
		return []engine.Consequence{{
			Type:            engine.ConsequenceFinancialLoss,
			Description:     "用户未明确授权的支付操作",
			Severity:        engine.SeverityCritical,
			Reversibility:   engine.PartiallyReversible,
			EstimatedImpact: impact,
		}}
	}

	// Any real spend needs a confirmation, whatever the amount.
	return []engine.Consequence{{
		Type:            engine.ConsequenceFinancialLoss,
		Description:     "支付操作将产生实际费用",
		Severity:        engine.SeverityMedium,
		Reversibility:   engine.PartiallyReversible,
		EstimatedImpact: impact,
	}}
}

// PurchaseAuthorized reports whether the message explicitly asks for a purchase: a purchase
// verb together with an explicit-request marker, or a message that opens with the verb.
func PurchaseAuthorized(raw string) bool {
	if !purchaseVerb.MatchString(raw) {
		return false
	}
	return explicitRequest.MatchString(raw) || leadingPurchase.MatchString(raw)
}

// HasPurchaseVerb reports whether the message mentions buying or paying at all.
func HasPurchaseVerb(raw string) bool {
	return purchaseVerb.MatchString(raw)
}

func extractAmount(raw string, tc *engine.ToolContext) (float64, bool) {
	for _, re := range amountPatterns {
		if m := re.FindStringSubmatch(raw); m != nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64); err == nil {
				return f, true
			}
		}
	}
	for _, key := range []string{"amount", "price", "total"} {
		if f, ok := tc.Number(key); ok {
			return f, true
		}
	}
	return 0, false
}
