package backend

import (
	"context"
	"testing"
)

func TestExtractConstraintPhrases(t *testing.T) {
	tests := []struct {
		message  string
		content  string
		priority string
		scope    string
	}{
		{"帮我整理文件，不要删除任何文件", "不要删除任何文件", "critical", "session"},
		{"必须先确认再付款", "必须先确认再付款", "high", "session"},
		{"这次别动配置", "这次别动配置", "normal", "operation"},
		{"only touch the docs folder", "only touch the docs folder", "normal", "session"},
		{"never push to main!", "never push to main", "critical", "session"},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := ExtractConstraintPhrases(tt.message)
			if len(got) != 1 {
				t.Fatalf("expected 1 constraint, got %+v", got)
			}
			c := got[0]
			if c.Content != tt.content || c.Priority != tt.priority || c.Scope != tt.scope {
				t.Fatalf("got %+v, want {%s %s %s}", c, tt.content, tt.priority, tt.scope)
			}
		})
	}
}

func TestExtractConstraintPhrases_NoRestriction(t *testing.T) {
	for _, msg := range []string{"特别感谢你的帮助", "帮我整理一下桌面", ""} {
		if got := ExtractConstraintPhrases(msg); len(got) != 0 {
			t.Errorf("%q: expected nothing, got %+v", msg, got)
		}
	}
}

func TestRuleAnalyzer_NoBackendForAnalysis(t *testing.T) {
	a := NewRuleAnalyzer()
	if _, err := a.AnalyzeIntent(context.Background(), &Request{}); err != ErrNoBackend {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
	res, err := a.ExtractConstraints(context.Background(), &Request{UserMessage: "不要删除"})
	if err != nil || len(res.Constraints) != 1 {
		t.Fatalf("unexpected result %+v, %v", res, err)
	}
}
