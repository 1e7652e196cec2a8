// Package bedrock implements summarizer.Provider on top of the AWS
// Bedrock Converse API.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// RuntimeClient is the subset of *bedrockruntime.Client used here.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Provider implements summarizer.Provider via Bedrock Converse.
type Provider struct {
	runtime RuntimeClient
	model   string
}

// New constructs a Provider. model is a Bedrock model identifier, e.g. an
// Anthropic Claude model ARN/ID served through Bedrock.
func New(runtime RuntimeClient, model string) (*Provider, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if model == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	return &Provider{runtime: runtime, model: model}, nil
}

// Complete issues a single Converse call with systemPrompt as the system
// block and userPayload as the sole user message.
func (p *Provider) Complete(ctx context.Context, systemPrompt, userPayload string) (string, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: &p.model,
		System:  []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: systemPrompt}},
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: userPayload}},
			},
		},
	}
	out, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("bedrock converse: %w", err)
	}
	member, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock: response had no message output")
	}
	var text string
	for _, block := range member.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += t.Value
		}
	}
	return text, nil
}
