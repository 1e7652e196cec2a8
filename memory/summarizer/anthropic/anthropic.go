// Package anthropic implements summarizer.Provider on top of the
// Anthropic Claude Messages API, mirroring the request shape used by the
// model-client adapter this module was generalized from.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient is the subset of the Anthropic SDK used here, letting
// callers substitute a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Provider implements summarizer.Provider via Anthropic Messages.
type Provider struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

// New constructs a Provider. model is a Claude model identifier, e.g.
// string(sdk.ModelClaudeSonnet4_5_20250929) or a small/cheap variant.
func New(msg MessagesClient, model string, maxTokens int64) (*Provider, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Provider{msg: msg, model: model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a Provider using the default Anthropic HTTP
// client, reading credentials from apiKey.
func NewFromAPIKey(apiKey, model string, maxTokens int64) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, model, maxTokens)
}

// Complete issues a single non-streaming Messages.New call with
// systemPrompt as the system block and userPayload as the sole user
// message, returning the concatenated text content.
func (p *Provider) Complete(ctx context.Context, systemPrompt, userPayload string) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: p.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(userPayload)),
		},
	}
	msg, err := p.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}
