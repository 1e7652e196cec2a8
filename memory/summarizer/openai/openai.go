// Package openai implements summarizer.Provider on top of the OpenAI
// Chat Completions API via github.com/openai/openai-go.
package openai

import (
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatClient is the subset of the openai-go client used here.
type ChatClient interface {
	New(ctx context.Context, params oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
}

// Provider implements summarizer.Provider via OpenAI Chat Completions.
type Provider struct {
	chat  ChatClient
	model string
}

// New constructs a Provider from an already-configured chat client.
func New(chat ChatClient, model string) (*Provider, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if model == "" {
		return nil, errors.New("openai: model is required")
	}
	return &Provider{chat: chat, model: model}, nil
}

// NewFromAPIKey constructs a Provider using the default openai-go HTTP
// client.
func NewFromAPIKey(apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	client := oai.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Chat.Completions, model)
}

// Complete issues a single chat completion with systemPrompt and
// userPayload as the only two messages, returning the first choice's
// text content.
func (p *Provider) Complete(ctx context.Context, systemPrompt, userPayload string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(userPayload),
		},
	}
	resp, err := p.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: response had no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
