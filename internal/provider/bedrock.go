// ABOUTME: AWS Bedrock backend using the Converse API with static credentials
// ABOUTME: Converse is not streaming, so the full text is delivered as one delta

package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/2389/coven-chat/internal/llm"
)

// converser is the slice of the Bedrock runtime client this backend uses.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

func newBedrockRuntime(cfg BedrockConfig) converser {
	awsCfg := aws.Config{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	}
	return bedrockruntime.NewFromConfig(awsCfg)
}

type bedrockClient struct {
	api      converser
	model    string
	settings Settings
	logger   *slog.Logger
}

var _ llm.Client = (*bedrockClient)(nil)

func (c *bedrockClient) Model() string { return c.model }

func (c *bedrockClient) Generate(ctx context.Context, req llm.Request, onDelta func(string)) (*llm.Response, error) {
	input, err := c.buildInput(req)
	if err != nil {
		return nil, err
	}

	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}

	resp := &llm.Response{FinishReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = llm.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp, nil
	}

	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			resp.Text += b.Value
		case *types.ContentBlockMemberToolUse:
			args := map[string]any{}
			if b.Value.Input != nil {
				if err := b.Value.Input.UnmarshalSmithyDocument(&args); err != nil {
					c.logger.Warn("decoding tool input", "tool", aws.ToString(b.Value.Name), "error", err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: args,
			})
		}
	}

	if onDelta != nil && resp.Text != "" {
		onDelta(resp.Text)
	}
	return resp, nil
}

func (c *bedrockClient) buildInput(req llm.Request) (*bedrockruntime.ConverseInput, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.model),
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}

	// Bedrock wants tool results inside a user turn, and consecutive
	// results for one assistant turn grouped together.
	var pendingResults []types.ContentBlock
	flushResults := func() {
		if len(pendingResults) == 0 {
			return
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    types.ConversationRoleUser,
			Content: pendingResults,
		})
		pendingResults = nil
	}

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleTool:
			result := types.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content: []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberText{Value: m.Content},
				},
			}
			if m.IsError {
				result.Status = types.ToolResultStatusError
			}
			pendingResults = append(pendingResults, &types.ContentBlockMemberToolResult{Value: result})
		case llm.RoleUser:
			flushResults()
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		case llm.RoleAssistant:
			flushResults()
			var content []types.ContentBlock
			if m.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(args),
				}})
			}
			if len(content) == 0 {
				continue
			}
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: content,
			})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	flushResults()

	if len(req.Tools) > 0 {
		tools := make([]types.Tool, 0, len(req.Tools))
		for _, def := range req.Tools {
			schema, err := decodeSchema(def)
			if err != nil {
				return nil, err
			}
			tools = append(tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			}})
		}
		input.ToolConfig = &types.ToolConfiguration{Tools: tools}
	}

	if c.settings.Temperature != nil || c.settings.MaxTokens != nil || c.settings.TopP != nil {
		inference := &types.InferenceConfiguration{}
		if c.settings.Temperature != nil {
			inference.Temperature = aws.Float32(float32(*c.settings.Temperature))
		}
		if c.settings.MaxTokens != nil {
			inference.MaxTokens = aws.Int32(int32(*c.settings.MaxTokens))
		}
		if c.settings.TopP != nil {
			inference.TopP = aws.Float32(float32(*c.settings.TopP))
		}
		input.InferenceConfig = inference
	}
	return input, nil
}
