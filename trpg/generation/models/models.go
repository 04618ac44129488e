// Package models adapts hosted chat completion APIs to the harness ChatModel
// port.
package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	internal "github.com/yanghanggit/ai-trpg-sub001/trpg"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

// ErrEmptyResponse is returned when the backend answers without any text choice.
var ErrEmptyResponse = errors.New("models: empty response")

// New selects a backend by cfg.Provider. DeepSeek and other OpenAI
// compatible services go through the openai provider with a BaseURL; a
// deepseek model with no BaseURL gets the DeepSeek endpoint.
func New(cfg config.LLMConfig, logger zerolog.Logger) (ports.ChatModel, error) {
	switch provider := strings.ToLower(strings.TrimSpace(cfg.Provider)); provider {
	case "", "openai", "deepseek":
		if cfg.BaseURL == "" && (provider == "deepseek" || strings.HasPrefix(cfg.Model, "deepseek")) {
			cfg.BaseURL = internal.DefaultDeepSeekBaseURL
		}
		return NewOpenAIChatModel(cfg, logger), nil
	case "anthropic":
		return NewAnthropicChatModel(cfg, logger), nil
	default:
		return nil, fmt.Errorf("models: unknown provider %q", cfg.Provider)
	}
}
