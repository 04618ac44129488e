package models

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

// OpenAIChatModel talks to any service speaking the OpenAI chat completions API.
type OpenAIChatModel struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      zerolog.Logger
}

func NewOpenAIChatModel(cfg config.LLMConfig, logger zerolog.Logger) *OpenAIChatModel {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIChatModel{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger.With().Str("component", "openai_model").Str("model", cfg.Model).Logger(),
	}
}

// Invoke sends the conversation and returns the first choice.
func (m *OpenAIChatModel) Invoke(ctx context.Context, messages []ports.Message) (ports.Message, error) {
	req := openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		MaxTokens:   m.maxTokens,
		Temperature: m.temperature,
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openAIRole(msg.Role),
			Content: msg.Content,
		})
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return ports.Message{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ports.Message{}, ErrEmptyResponse
	}

	m.logger.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Msg("chat completion")

	return ports.Message{Role: ports.RoleAssistant, Content: resp.Choices[0].Message.Content}, nil
}

func openAIRole(r ports.Role) string {
	switch r {
	case ports.RoleSystem:
		return openai.ChatMessageRoleSystem
	case ports.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

var _ ports.ChatModel = (*OpenAIChatModel)(nil)
