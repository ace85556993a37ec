package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ChatConfig holds the chat model settings.
type ChatConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Chat is a chat-completion client bound to one model.
type Chat struct {
	client *openai.Client
	model  string
}

// NewChat creates an OpenAI-compatible chat client.
func NewChat(cfg *ChatConfig) *Chat {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Chat{client: openai.NewClientWithConfig(clientCfg), model: cfg.Model}
}

// Complete sends one chat-completion request. An empty request model is filled from config.
func (c *Chat) Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return openai.ChatCompletionResponse{}, fmt.Errorf("chat API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return openai.ChatCompletionResponse{}, fmt.Errorf("chat request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("chat response has no choices")
	}
	return resp, nil
}
