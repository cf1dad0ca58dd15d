package textmode

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dawnvoice/dawn/pkg/convo"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAICompleter is a [Completer] backed by the OpenAI chat completions API.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

// NewOpenAICompleter creates an OpenAI-backed completer. baseURL and model
// may be empty for the defaults.
func NewOpenAICompleter(apiKey, baseURL, model string) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("textmode: openai api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAICompleter{client: openai.NewClient(opts...), model: model}, nil
}

// Complete implements [Completer].
func (o *OpenAICompleter) Complete(ctx context.Context, systemPrompt string, history []convo.Turn, message string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: buildOpenAIMessages(systemPrompt, history, message),
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func buildOpenAIMessages(systemPrompt string, history []convo.Turn, message string) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if systemPrompt != "" {
		params = append(params, openai.SystemMessage(systemPrompt))
	}
	for _, t := range history {
		switch t.Role {
		case convo.RoleUser:
			params = append(params, openai.UserMessage(t.Content))
		case convo.RoleAssistant:
			params = append(params, openai.AssistantMessage(t.Content))
		}
	}
	params = append(params, openai.UserMessage(message))
	return params
}

// Ensure OpenAICompleter implements Completer.
var _ Completer = (*OpenAICompleter)(nil)
