package backend

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LangChainCompleter adapts a langchaingo model (ollama, anthropic) to Completer.
type LangChainCompleter struct {
	model llms.Model
	name  string
}

// NewLangChainCompleter wraps an already constructed langchaingo model.
func NewLangChainCompleter(name string, model llms.Model) *LangChainCompleter {
	return &LangChainCompleter{model: model, name: name}
}

// NewOllamaCompleter connects to an ollama server. serverURL may be empty for the default.
func NewOllamaCompleter(model, serverURL string) (*LangChainCompleter, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("NewOllamaCompleter: %w", err)
	}
	return NewLangChainCompleter("ollama", llm), nil
}

// NewAnthropicCompleter creates an anthropic messages client.
func NewAnthropicCompleter(apiKey, model, baseURL string) (*LangChainCompleter, error) {
	opts := []anthropic.Option{anthropic.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, anthropic.WithModel(model))
	}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("NewAnthropicCompleter: %w", err)
	}
	return NewLangChainCompleter("anthropic", llm), nil
}

func (l *LangChainCompleter) Name() string { return l.name }

func (l *LangChainCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := l.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, llms.WithTemperature(0.1), llms.WithMaxTokens(1000))
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", l.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %s returned no choices", ErrInvalidOutput, l.name)
	}
	return resp.Choices[0].Content, nil
}
