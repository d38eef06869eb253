package backend

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAICompleter talks to any OpenAI-compatible chat completion endpoint.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// OpenAIConfig configures an OpenAICompleter. BaseURL is optional.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAICompleter creates a completer from cfg.
func NewOpenAICompleter(cfg OpenAIConfig) *OpenAICompleter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAICompleter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (o *OpenAICompleter) Name() string { return "openai" }

func (o *OpenAICompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", ErrInvalidOutput)
	}
	return resp.Choices[0].Message.Content, nil
}
