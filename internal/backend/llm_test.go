package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

type scriptedCompleter struct {
	reply      string
	err        error
	lastPrompt string
}

func (s *scriptedCompleter) Name() string { return "scripted" }

func (s *scriptedCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	s.lastPrompt = prompt
	return s.reply, s.err
}

func TestLLMAnalyzer_Intent(t *testing.T) {
	c := &scriptedCompleter{reply: "```json\n{\"understood\":\"批量删除邮件\",\"confidence\":0.9,\"dataInvolved\":[{\"category\":\"emails\",\"estimatedVolume\":\"large\"}]}\n```"}
	a := NewLLMAnalyzer(c, zap.NewNop())

	req := NewRequest("帮我删除所有邮件", &engine.ToolContext{ToolName: "email_delete"}, 10)
	res, err := a.AnalyzeIntent(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "批量删除邮件", res.Understood)
	assert.Equal(t, "large", res.DataInvolved[0].EstimatedVolume)
	assert.Contains(t, c.lastPrompt, "帮我删除所有邮件")
	assert.Contains(t, c.lastPrompt, "email_delete")
}

func TestLLMAnalyzer_InvalidReply(t *testing.T) {
	a := NewLLMAnalyzer(&scriptedCompleter{reply: `{"action":"yolo"}`}, zap.NewNop())
	_, err := a.SynthesizeDecision(context.Background(), &Request{UserMessage: "x"})
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestLLMAnalyzer_CompleterError(t *testing.T) {
	a := NewLLMAnalyzer(&scriptedCompleter{err: errors.New("connection refused")}, zap.NewNop())
	_, err := a.ExtractConstraints(context.Background(), &Request{UserMessage: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestOpenAICompleter(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"action\":\"confirm\",\"reason\":\"irreversible\"}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAICompleter(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"})
	a := NewLLMAnalyzer(c, zap.NewNop())
	res, err := a.SynthesizeDecision(context.Background(), &Request{UserMessage: "rm -rf build"})
	require.NoError(t, err)
	assert.Equal(t, "confirm", res.Action)
	assert.Equal(t, defaultOpenAIModel, gotModel)
}

func TestOpenAICompleter_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAICompleter(OpenAIConfig{APIKey: "test", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "s", "p")
	assert.ErrorIs(t, err, ErrInvalidOutput)
}
