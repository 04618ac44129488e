package models

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

type chatRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestOpenAIChatModel_Invoke(t *testing.T) {
	var got chatRequest
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "The tavern is quiet."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	}))
	defer ts.Close()

	model := NewOpenAIChatModel(config.LLMConfig{
		Model:       "deepseek-chat",
		BaseURL:     ts.URL + "/v1",
		APIKey:      "sk-test",
		MaxTokens:   256,
		Temperature: 0.5,
	}, zerolog.Nop())

	reply, err := model.Invoke(context.Background(), []ports.Message{
		{Role: ports.RoleSystem, Content: "You are the game master."},
		{Role: ports.RoleUser, Content: "Describe the tavern."},
		{Role: ports.RoleAssistant, Content: "Which one?"},
		{Role: ports.RoleUser, Content: "The Prancing Pony."},
	})

	require.NoError(t, err)
	assert.Equal(t, ports.Message{Role: ports.RoleAssistant, Content: "The tavern is quiet."}, reply)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "deepseek-chat", got.Model)
	assert.Equal(t, 256, got.MaxTokens)
	assert.InDelta(t, 0.5, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "The Prancing Pony.", got.Messages[3].Content)
}

func TestOpenAIChatModel_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": {"message": "invalid api key", "type": "auth"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id": "x", "choices": []}`))
	}))
	defer ts.Close()

	bad := NewOpenAIChatModel(config.LLMConfig{Model: "m", BaseURL: ts.URL, APIKey: "bad"}, zerolog.Nop())
	_, err := bad.Invoke(context.Background(), []ports.Message{{Role: ports.RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")

	empty := NewOpenAIChatModel(config.LLMConfig{Model: "m", BaseURL: ts.URL, APIKey: "ok"}, zerolog.Nop())
	_, err = empty.Invoke(context.Background(), []ports.Message{{Role: ports.RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNew_SelectsProvider(t *testing.T) {
	m, err := New(config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &OpenAIChatModel{}, m)

	m, err = New(config.LLMConfig{Provider: "Anthropic", Model: "claude-sonnet-4-5"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &AnthropicChatModel{}, m)

	_, err = New(config.LLMConfig{Provider: "llama"}, zerolog.Nop())
	assert.Error(t, err)
}
