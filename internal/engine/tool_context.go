package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Family is a coarse class of tool derived from the tool name or an operator profile.
type Family string

const (
	FamilyDelete   Family = "delete"
	FamilyEmail    Family = "email"
	FamilyFile     Family = "file"
	FamilyPurchase Family = "purchase"
	FamilyNetwork  Family = "network"
	FamilyShell    Family = "shell"
	FamilyRead     Family = "read"
	FamilyWeb      Family = "web"
)

// familyPatterns match tool names to families. Names may belong to several families.
var familyPatterns = map[Family]*regexp.Regexp{
	FamilyDelete:   regexp.MustCompile(`(?i)delete|remove|删除|移除`),
	FamilyEmail:    regexp.MustCompile(`(?i)email|mail|邮件`),
	FamilyFile:     regexp.MustCompile(`(?i)file|fs|文件`),
	FamilyPurchase: regexp.MustCompile(`(?i)purchase|buy|payment|transfer|购买|支付|转账`),
	FamilyNetwork:  regexp.MustCompile(`(?i)send|upload|post|http|fetch|发送|上传`),
	FamilyShell:    regexp.MustCompile(`(?i)shell|bash|cmd|terminal|exec`),
	FamilyRead:     regexp.MustCompile(`(?i)read|file|cat`),
	FamilyWeb:      regexp.MustCompile(`(?i)web|fetch|browse|http|curl|wget`),
}

// KnownFamily reports whether f names a family.
func KnownFamily(f Family) bool {
	_, ok := familyPatterns[f]
	return ok
}

// ToolNameIn reports whether a bare tool name belongs to family f by name alone.
func ToolNameIn(toolName string, f Family) bool {
	re, ok := familyPatterns[f]
	return ok && re.MatchString(toolName)
}

// ToolContext is the pending tool call plus the session history it is judged against.
type ToolContext struct {
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params"`
	History  []SessionEvent `json:"history,omitempty"`
	// Families adds operator-assigned families on top of name matching.
	Families []Family `json:"families,omitempty"`
}

// Is reports whether the tool belongs to family f.
func (tc *ToolContext) Is(f Family) bool {
	if ToolNameIn(tc.ToolName, f) {
		return true
	}
	for _, extra := range tc.Families {
		if extra == f {
			return true
		}
	}
	return false
}

// String returns a parameter rendered as a string, or "" when absent.
func (tc *ToolContext) String(key string) string {
	v, ok := tc.Params[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// Number returns a numeric parameter. Numeric strings are accepted.
func (tc *ToolContext) Number(key string) (float64, bool) {
	v, ok := tc.Params[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Bool returns a boolean parameter; "true" strings count.
func (tc *ToolContext) Bool(key string) bool {
	switch b := tc.Params[key].(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	}
	return false
}

// Command returns the shell command parameter, if any.
func (tc *ToolContext) Command() string {
	return tc.String("command")
}

// RecentToolCalls returns up to n most recent tool_call events, newest last.
func (tc *ToolContext) RecentToolCalls(n int) []SessionEvent {
	var calls []SessionEvent
	for i := len(tc.History) - 1; i >= 0 && len(calls) < n; i-- {
		if tc.History[i].Kind == EventToolCall {
			calls = append(calls, tc.History[i])
		}
	}
	for l, r := 0, len(calls)-1; l < r; l, r = l+1, r-1 {
		calls[l], calls[r] = calls[r], calls[l]
	}
	return calls
}

// RecentUserMessages returns up to n most recent user messages, newest last.
func (tc *ToolContext) RecentUserMessages(n int) []string {
	var msgs []string
	for i := len(tc.History) - 1; i >= 0 && len(msgs) < n; i-- {
		if tc.History[i].Kind == EventUserMessage && tc.History[i].Text != "" {
			msgs = append(msgs, tc.History[i].Text)
		}
	}
	for l, r := 0, len(msgs)-1; l < r; l, r = l+1, r-1 {
		msgs[l], msgs[r] = msgs[r], msgs[l]
	}
	return msgs
}

// Describe renders the call as "tool(param=value, ...)" for messages and logs.
func (tc *ToolContext) Describe() string {
	if len(tc.Params) == 0 {
		return tc.ToolName
	}
	keys := sortedKeys(tc.Params)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, tc.Params[k]))
	}
	return tc.ToolName + "(" + strings.Join(parts, ", ") + ")"
}
