package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/editorai/copilot-core/pkg/config"
	"github.com/editorai/copilot-core/pkg/errors"
	"github.com/editorai/copilot-core/pkg/logging"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// The API key falls back to OPENAI_API_KEY when unset in config.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIClient{
		baseURL: baseURL,
		model:   cfg.Model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OpenAIClient) ProviderName() string { return "openai" }

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type chatCompletionStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete implements Client.
func (o *OpenAIClient) Complete(ctx context.Context, messages []ChatMessage) (*Response, error) {
	resp, err := o.post(ctx, chatCompletionRequest{Model: o.model, Messages: messages})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CompletionFailed, "failed to read completion response")
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, errors.Wrap(err, errors.InvalidResponse, "failed to decode completion response")
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New(errors.InvalidResponse, "completion response contained no choices")
	}

	return &Response{
		Content: completion.Choices[0].Message.Content,
		Model:   completion.Model,
		Usage:   completion.Usage,
	}, nil
}

// StreamComplete implements Client. Chunks arrive as SSE "data: " lines;
// the stream ends on "[DONE]" or a finish_reason.
func (o *OpenAIClient) StreamComplete(ctx context.Context, messages []ChatMessage) (<-chan StreamChunk, error) {
	resp, err := o.post(ctx, chatCompletionRequest{Model: o.model, Messages: messages, Stream: true})
	if err != nil {
		return nil, err
	}

	logger := logging.GetLogger()
	chunks := make(chan StreamChunk)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			if data == "[DONE]" {
				select {
				case chunks <- StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}

			var streamResp chatCompletionStreamResponse
			if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
				logger.Debug(ctx, "skipping malformed stream chunk: %v", err)
				continue
			}

			if len(streamResp.Choices) == 0 {
				continue
			}
			choice := streamResp.Choices[0]
			if choice.Delta.Content != "" {
				select {
				case chunks <- StreamChunk{Content: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
			if choice.FinishReason != "" {
				select {
				case chunks <- StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case chunks <- StreamChunk{
				Err: errors.Wrap(err, errors.StreamInterrupted, "stream ended unexpectedly"),
			}:
			case <-ctx.Done():
			}
		}
	}()

	return chunks, nil
}

func (o *OpenAIClient) post(ctx context.Context, payload chatCompletionRequest) (*http.Response, error) {
	requestID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, requestID)
	logger := logging.GetLogger()

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to encode completion request")
	}

	url := o.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, errors.CompletionFailed, "failed to build completion request")
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	logger.Debug(ctx, "sending completion request to %s (model=%s stream=%t)", url, payload.Model, payload.Stream)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.CompletionFailed, "completion request failed"),
			errors.Fields{"url": url, "request_id": requestID})
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		code := errors.CompletionFailed
		if resp.StatusCode == http.StatusTooManyRequests {
			code = errors.RateLimitExceeded
		}
		return nil, errors.WithFields(
			errors.New(code, "completion endpoint returned an error"),
			errors.Fields{
				"status_code": resp.StatusCode,
				"body":        string(body),
				"request_id":  requestID,
			})
	}

	return resp, nil
}
