// ABOUTME: OpenAI-compatible chat completions backend built on openai-go
// ABOUTME: Streams text deltas and accumulates tool calls and usage per invocation

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/2389/coven-chat/internal/llm"
)

// openAIClient implements llm.Client against a chat completions endpoint.
type openAIClient struct {
	client   openai.Client
	model    string
	settings Settings
	logger   *slog.Logger
}

var _ llm.Client = (*openAIClient)(nil)

func newOpenAIClient(cfg OpenAICompatibleConfig, model string, settings Settings, httpClient *http.Client, logger *slog.Logger) *openAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	return &openAIClient{
		client:   openai.NewClient(opts...),
		model:    model,
		settings: settings,
		logger:   logger,
	}
}

func (c *openAIClient) Model() string { return c.model }

func (c *openAIClient) Generate(ctx context.Context, req llm.Request, onDelta func(string)) (*llm.Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if onDelta != nil && len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onDelta(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("streaming completion: %w", err)
	}

	resp := &llm.Response{
		Usage: llm.Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
		},
	}
	if len(acc.Choices) == 0 {
		return resp, nil
	}

	choice := acc.Choices[0]
	resp.Text = choice.Message.Content
	resp.FinishReason = choice.FinishReason
	for _, tc := range choice.Message.ToolCalls {
		args, err := llm.ParseArguments(tc.Function.Arguments)
		if err != nil {
			// Keep the raw text so the tool sees what the model produced
			c.logger.Warn("tool call arguments are not valid JSON", "tool", tc.Function.Name, "error", err)
			args = map[string]any{"_raw": tc.Function.Arguments}
		}
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return resp, nil
}

func (c *openAIClient) buildParams(req llm.Request) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				}
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("encoding arguments for %s: %w", tc.Name, err)
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case llm.RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	for _, def := range req.Tools {
		schema, err := decodeSchema(def)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(schema),
			},
		})
	}

	if c.settings.Temperature != nil {
		params.Temperature = openai.Float(*c.settings.Temperature)
	}
	if c.settings.MaxTokens != nil {
		params.MaxTokens = openai.Int(*c.settings.MaxTokens)
	}
	if c.settings.TopP != nil {
		params.TopP = openai.Float(*c.settings.TopP)
	}
	return params, nil
}
