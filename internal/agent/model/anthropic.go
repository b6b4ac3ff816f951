package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// messagesClient captures the subset of the Anthropic SDK client this
// adapter uses, satisfied by *sdk.MessageService so tests can substitute a
// fake.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient implements Client on top of the Anthropic Messages API.
type AnthropicClient struct {
	msg          messagesClient
	defaultModel string
}

// NewAnthropicClient builds a decision-maker client backed by apiKey.
// defaultModel is used for any Request with an empty Model field.
func NewAnthropicClient(apiKey, defaultModel string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("model: anthropic api key is required")
	}
	if defaultModel == "" {
		return nil, errors.New("model: default model identifier is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{msg: &ac.Messages, defaultModel: defaultModel}, nil
}

// Complete issues a single Messages.New call and translates the response
// back into the provider-agnostic shape.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return Response{}, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateMessage(msg), nil
}

func (c *AnthropicClient) prepareRequest(req Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("model: at least one message is required")
	}

	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 16384
	}

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		toolParams, err := encodeTools(req.Tools)
		if err != nil {
			return sdk.MessageNewParams{}, err
		}
		params.Tools = toolParams
	}
	return params, nil
}

func encodeMessages(msgs []Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case ToolUsePart:
				var input any
				if len(v.Input) > 0 {
					if err := json.Unmarshal(v.Input, &input); err != nil {
						return nil, fmt.Errorf("model: decode tool_use input: %w", err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, v.Name))
			case ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("model: unsupported role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("model: no encodable messages")
	}
	return out, nil
}

func encodeToolResult(v ToolResultPart) sdk.ContentBlockParamUnion {
	if len(v.Content) > 0 {
		blocks := make([]sdk.ToolResultBlockParamContentUnion, 0, len(v.Content))
		for _, b := range v.Content {
			switch b.Type {
			case "text":
				blocks = append(blocks, sdk.ToolResultBlockParamContentUnion{
					OfText: &sdk.TextBlockParam{Text: b.Text},
				})
			case "image":
				blocks = append(blocks, sdk.ToolResultBlockParamContentUnion{
					OfImage: &sdk.ImageBlockParam{
						Source: sdk.ImageBlockParamSourceUnion{
							OfBase64: &sdk.Base64ImageSourceParam{
								Data:      b.ImageBase64,
								MediaType: sdk.Base64ImageSourceMediaType(b.ImageMediaType),
							},
						},
					},
				})
			}
		}
		result := sdk.NewToolResultBlock(v.ToolUseID)
		result.OfToolResult.Content = blocks
		result.OfToolResult.IsError = sdk.Bool(v.IsError)
		return result
	}
	return sdk.NewToolResultBlock(v.ToolUseID, v.Text, v.IsError)
}

func encodeTools(defs []ToolSchema) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, errors.New("model: tool missing name")
		}
		schema := sdk.ToolInputSchemaParam{ExtraFields: d.InputSchema}
		u := sdk.ToolUnionParamOfTool(schema, d.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(d.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateMessage(msg *sdk.Message) Response {
	resp := Response{StopReason: mapStopReason(string(msg.StopReason))}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				resp.Parts = append(resp.Parts, TextPart{Text: block.Text})
			}
		case "tool_use":
			input, _ := json.Marshal(block.Input)
			resp.Parts = append(resp.Parts, ToolUsePart{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	return resp
}

func mapStopReason(raw string) StopReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return StopEndTurn
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopOther
	}
}
