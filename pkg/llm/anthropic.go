package llm

import (
	"context"
	stderrors "errors"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/editorai/copilot-core/pkg/config"
	"github.com/editorai/copilot-core/pkg/errors"
	"github.com/editorai/copilot-core/pkg/logging"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient implements Client over the official Anthropic SDK.
type AnthropicClient struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient creates an Anthropic-backed client. The API key
// falls back to ANTHROPIC_API_KEY when unset in config.
func NewAnthropicClient(cfg config.LLMConfig) (*AnthropicClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New(errors.InvalidInput, "API key is required for the anthropic provider")
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &AnthropicClient{
		client: &client,
		model:  anthropic.Model(cfg.Model),
	}, nil
}

func (a *AnthropicClient) ProviderName() string { return "anthropic" }

// splitMessages separates system messages (joined into the system
// prompt) from the user/assistant turn sequence.
func splitMessages(messages []ChatMessage) (string, []anthropic.MessageParam) {
	var system []string
	var params []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return strings.Join(system, "\n\n"), params
}

func (a *AnthropicClient) newParams(messages []ChatMessage) anthropic.MessageNewParams {
	system, params := splitMessages(messages)

	req := anthropic.MessageNewParams{
		Model:     a.model,
		Messages:  params,
		MaxTokens: int64(defaultAnthropicMaxTokens),
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return req
}

// Complete implements Client.
func (a *AnthropicClient) Complete(ctx context.Context, messages []ChatMessage) (*Response, error) {
	logger := logging.GetLogger()

	message, err := a.client.Messages.New(ctx, a.newParams(messages))
	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			logger.Error(ctx, "anthropic API error: status code %d", apiErr.StatusCode)
		}
		return nil, errors.WithFields(
			errors.Wrap(err, errors.CompletionFailed, "anthropic completion failed"),
			errors.Fields{"model": string(a.model)})
	}

	if message == nil || len(message.Content) == 0 {
		return nil, errors.New(errors.InvalidResponse, "received empty content from anthropic")
	}

	var text string
	if block := message.Content[0]; block.Type == "text" {
		text = block.Text
	}

	return &Response{
		Content: text,
		Model:   string(message.Model),
		Usage: &Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}, nil
}

// StreamComplete implements Client using the SDK's iterator pattern.
func (a *AnthropicClient) StreamComplete(ctx context.Context, messages []ChatMessage) (<-chan StreamChunk, error) {
	logger := logging.GetLogger()
	chunks := make(chan StreamChunk)

	go func() {
		defer close(chunks)

		stream := a.client.Messages.NewStreaming(ctx, a.newParams(messages))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()

			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if textDelta := variant.Delta.AsTextDelta(); textDelta.Text != "" {
					select {
					case chunks <- StreamChunk{Content: textDelta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case anthropic.MessageStopEvent:
				select {
				case chunks <- StreamChunk{Done: true}:
				case <-ctx.Done():
					return
				}
			case anthropic.MessageStartEvent, anthropic.MessageDeltaEvent, anthropic.ContentBlockStartEvent:
				// Nothing to forward
			default:
				logger.Debug(ctx, "unhandled stream event type: %T", event)
			}
		}

		if err := stream.Err(); err != nil {
			var apiErr *anthropic.Error
			if stderrors.As(err, &apiErr) {
				logger.Error(ctx, "anthropic streaming error: status code %d", apiErr.StatusCode)
			}
			select {
			case chunks <- StreamChunk{
				Err: errors.Wrap(err, errors.StreamInterrupted, "anthropic stream failed"),
			}:
			case <-ctx.Done():
			}
		}
	}()

	return chunks, nil
}

// New builds a Client for the configured provider. An empty provider
// defaults to openai for local OpenAI-compatible servers.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg)
	case "openai", "":
		return NewOpenAIClient(cfg), nil
	default:
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unknown completion provider"),
			errors.Fields{"provider": cfg.Provider})
	}
}
