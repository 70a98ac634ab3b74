package infrastructure

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"legal-snippets/domain"
)

const systemPrompt = `You are a legal research assistant with access to a library of saved case snippets.
Use the snippet tools to look up, save and organize citations. Quote key language exactly as stored
and always give the citation for any snippet you rely on.`

// AnthropicClient is a wrapper around the Anthropic API client.
// It provides a simplified interface for interacting with the Anthropic API.
type AnthropicClient struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient creates a new Anthropic client for model.
// It returns an error if apiKey is empty.
func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is not set")
	}
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicClient{
		client:    &client,
		model:     anthropic.Model(model),
		maxTokens: 1024,
	}, nil
}

// RunInference sends a conversation to the Anthropic API and returns the response.
//
// It converts each domain.ToolDefinition to an anthropic.ToolParam so the model
// can call the snippet tools.
func (a *AnthropicClient) RunInference(ctx context.Context, conversation []anthropic.MessageParam, tools []domain.ToolDefinition) (*anthropic.Message, error) {
	anthropicTools := []anthropic.ToolUnionParam{}
	for _, tool := range tools {
		anthropicTools = append(anthropicTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: tool.InputSchema,
			},
		})
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  conversation,
		Tools:     anthropicTools,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic inference failed: %w", err)
	}

	return message, nil
}
