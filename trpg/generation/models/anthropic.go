package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

// AnthropicChatModel talks to the Anthropic Messages API.
type AnthropicChatModel struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	logger      zerolog.Logger
}

func NewAnthropicChatModel(cfg config.LLMConfig, logger zerolog.Logger, opts ...option.RequestOption) *AnthropicChatModel {
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicChatModel{
		client:      anthropic.NewClient(append(base, opts...)...),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		logger:      logger.With().Str("component", "anthropic_model").Str("model", cfg.Model).Logger(),
	}
}

// Invoke sends the conversation. System messages are joined into the system
// prompt. A trailing assistant message is sent as a user turn so the reply
// is a fresh answer rather than a continuation of it.
func (m *AnthropicChatModel) Invoke(ctx context.Context, messages []ports.Message) (ports.Message, error) {
	var system []anthropic.TextBlockParam
	turns := make([]anthropic.MessageParam, 0, len(messages))
	for i, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch {
		case msg.Role == ports.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case msg.Role == ports.RoleAssistant && i < len(messages)-1:
			turns = append(turns, anthropic.NewAssistantMessage(block))
		default:
			turns = append(turns, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(m.model),
		MaxTokens:   int64(m.maxTokens),
		Messages:    turns,
		Temperature: anthropic.Float(float64(m.temperature)),
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return ports.Message{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if sb.Len() == 0 {
		return ports.Message{}, ErrEmptyResponse
	}

	m.logger.Debug().
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Str("stop_reason", string(resp.StopReason)).
		Msg("message created")

	return ports.Message{Role: ports.RoleAssistant, Content: sb.String()}, nil
}

var _ ports.ChatModel = (*AnthropicChatModel)(nil)
