package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatabc/open-safe-frame/internal/engine"
	"github.com/chatabc/open-safe-frame/internal/engine/consequence"
	"github.com/chatabc/open-safe-frame/internal/engine/intent"
	"github.com/chatabc/open-safe-frame/internal/engine/values"
)

func newCoordinator() *engine.Coordinator {
	return engine.NewCoordinator(engine.CoordinatorConfig{
		Intent:    intent.NewInterpreter(nil, 10, nil),
		Predictor: consequence.NewPredictor(nil, nil, 10, nil),
		Values:    values.NewEvaluator(),
	})
}

func TestPipeline_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		message string
		tool    string
		params  map[string]any
		want    engine.Action
	}{
		{"bulk email delete", "帮我删除所有邮件", "email_delete", nil, engine.ActionReject},
		{"root wipe", "清理一下", "shell_exec", map[string]any{"command": "rm -rf /"}, engine.ActionReject},
		{"coffee purchase", "买一个咖啡", "purchase", nil, engine.ActionConfirm},
		{"polite purchase with price", "请帮我买一杯咖啡，价格30元", "purchase", map[string]any{"amount": 30}, engine.ActionConfirm},
		{"polite purchase, amount in params", "please buy me a coffee for the team meeting", "purchase", map[string]any{"amount": 25}, engine.ActionConfirm},
		{"read a file", "请帮我查看一下 README 文件的内容", "read_file", map[string]any{"path": "README.md"}, engine.ActionProceed},
	}
	c := newCoordinator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := c.Assess(context.Background(), tt.message, &engine.ToolContext{ToolName: tt.tool, Params: tt.params})
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Decision.Action, a.Decision.Reason)
			assert.False(t, a.FailedOpen)
		})
	}
}

func TestPipeline_CoffeeConfirmationIsSimple(t *testing.T) {
	a, err := newCoordinator().Assess(context.Background(), "买一个咖啡", &engine.ToolContext{ToolName: "purchase"})
	require.NoError(t, err)
	require.NotNil(t, a.Decision.Confirmation)
	assert.Equal(t, engine.ConfirmSimple, a.Decision.Confirmation.ConfirmationType)
	assert.Equal(t, engine.SeverityMedium, a.Decision.Confirmation.Severity)
}

func TestPipeline_SmallPurchaseStaysMedium(t *testing.T) {
	a, err := newCoordinator().Assess(context.Background(), "请帮我买一杯咖啡，价格30元",
		&engine.ToolContext{ToolName: "purchase", Params: map[string]any{"amount": 30}})
	require.NoError(t, err)
	require.Len(t, a.Prediction.Consequences, 1)
	c := a.Prediction.Consequences[0]
	assert.Equal(t, engine.ConsequenceFinancialLoss, c.Type)
	assert.Equal(t, engine.SeverityMedium, c.Severity)
	assert.Equal(t, engine.PartiallyReversible, c.Reversibility)
	require.NotNil(t, a.Decision.Confirmation)
	assert.Equal(t, engine.ConfirmSimple, a.Decision.Confirmation.ConfirmationType)
}

func BenchmarkAssess(b *testing.B) {
	c := newCoordinator()
	tc := &engine.ToolContext{ToolName: "shell_exec", Params: map[string]any{"command": "rm -rf ./build && ls"}}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Assess(ctx, "帮我清理构建目录", tc); err != nil {
			b.Fatal(err)
		}
	}
}
