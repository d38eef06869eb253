package constraint

import (
	"regexp"
	"strings"
)

// keywordPair declares a violation when the constraint mentions a verb family and
// the action's type or description belongs to the same family.
type keywordPair struct {
	name    string
	content *regexp.Regexp
	action  *regexp.Regexp // nil = every action matches
}

var keywordPairs = []keywordPair{
	{
		name:    "delete",
		content: regexp.MustCompile(`(?i)删除|移除|delete|remove`),
		action:  regexp.MustCompile(`(?i)delete|remove|删除|移除`),
	},
	{
		name:    "modify",
		content: regexp.MustCompile(`(?i)修改|写入|更改|modify|write|edit`),
		action:  regexp.MustCompile(`(?i)write|edit|modify|修改|写入`),
	},
	{
		name:    "execute",
		content: regexp.MustCompile(`(?i)执行|运行|exec|run`),
		action:  regexp.MustCompile(`(?i)exec|run|shell|执行|运行`),
	},
	{
		// "confirm first" constraints force every action through the user.
		name:    "confirm",
		content: regexp.MustCompile(`(?i)确认|confirm`),
	},
}

var negativeMarkers = regexp.MustCompile(`(?i)不要|禁止|不|别|don'?t|do not|never`)

// violates reports whether an active constraint is violated by action, and which rule fired.
func violates(c *Constraint, a Action) (string, bool) {
	content := strings.ToLower(c.Content)
	typ := strings.ToLower(a.Type)
	desc := strings.ToLower(a.Description)

	for _, p := range keywordPairs {
		if !p.content.MatchString(content) {
			continue
		}
		if p.action == nil || p.action.MatchString(typ) || p.action.MatchString(desc) {
			return p.name, true
		}
	}

	if negativeMarkers.MatchString(content) {
		forbidden := strings.TrimSpace(negativeMarkers.ReplaceAllString(content, ""))
		if len([]rune(forbidden)) >= 2 && (strings.Contains(desc, forbidden) || strings.Contains(typ, forbidden)) {
			return "negative", true
		}
	}
	return "", false
}
