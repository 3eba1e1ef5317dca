// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API. It translates this module's provider
// agnostic Request/Response/Chunk types into github.com/anthropics/
// anthropic-sdk-go calls and back, the same responsibility the teacher
// repo's own anthropic adapter carries for its planner types.
package anthropic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentcore/core/message"
	"github.com/agentcore/core/model"
)

// MessagesClient captures the subset of the Anthropic SDK used by this
// adapter, so tests can substitute a fake in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	CountTokens(ctx context.Context, body sdk.MessageCountTokensParams, opts ...option.RequestOption) (*sdk.MessageTokensCount, error)
}

// Options configures the adapter's defaults.
type Options struct {
	// DefaultModel is used when a Request does not set Model.
	DefaultModel string
	// MaxTokens is the completion cap applied when a Request does not set
	// MaxTokens.
	MaxTokens int
	// Temperature is applied when a Request does not set Temperature.
	Temperature float64
}

// Client implements model.Client on top of the Anthropic Messages API.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds an adapter from an existing Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP
// transport, authenticated with apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, Options{DefaultModel: defaultModel})
}

var _ model.Client = (*Client)(nil)

// Complete issues a non-streaming Messages.New call.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, canonToProv, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return model.Response{}, wrapErr(err)
	}
	return translateResponse(msg, invert(canonToProv))
}

// Stream issues a streaming Messages.NewStreaming call.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, canonToProv, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	s := c.msg.NewStreaming(ctx, *params)
	if err := s.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return newStreamer(s, invert(canonToProv)), nil
}

// CountTokens delegates to the Messages.CountTokens endpoint.
func (c *Client) CountTokens(ctx context.Context, req model.Request) (int, error) {
	params, _, err := c.prepareRequest(req)
	if err != nil {
		return 0, err
	}
	count, err := c.msg.CountTokens(ctx, sdk.MessageCountTokensParams{
		Model:    params.Model,
		Messages: params.Messages,
		System:   params.System,
		Tools:    toCountTokensTools(params.Tools),
	})
	if err != nil {
		return 0, wrapErr(err)
	}
	return int(count.InputTokens), nil
}

func wrapErr(err error) error {
	if isRateLimited(err) {
		return fmt.Errorf("%w: %w", model.ErrRateLimited, err)
	}
	return fmt.Errorf("anthropic: %w", err)
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func (c *Client) prepareRequest(req model.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: at least one message is required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	toolParams, canonToProv, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToProv)
	if err != nil {
		return nil, nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		return nil, nil, errors.New("anthropic: max_tokens must be positive")
	}
	params := &sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temperature
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if req.ToolChoice != "" {
		params.ToolChoice = encodeToolChoice(req.ToolChoice, canonToProv)
	}
	return params, canonToProv, nil
}

func encodeToolChoice(choice string, canonToProv map[string]string) sdk.ToolChoiceUnionParam {
	switch choice {
	case "", "auto":
		return sdk.ToolChoiceUnionParam{OfAuto: &sdk.ToolChoiceAutoParam{}}
	case "none":
		return sdk.ToolChoiceUnionParam{OfNone: &sdk.ToolChoiceNoneParam{}}
	default:
		name := choice
		if sanitized, ok := canonToProv[choice]; ok {
			name = sanitized
		}
		return sdk.ToolChoiceUnionParam{OfTool: &sdk.ToolChoiceToolParam{Name: name}}
	}
}

func encodeMessages(msgs []model.Message, canonToProv map[string]string) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, 1)

	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			for _, p := range m.Parts {
				if t, ok := p.(model.TextPart); ok && t.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: t.Text})
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ToolUsePart:
				name := v.ToolCall.Name
				if sanitized, ok := canonToProv[name]; ok {
					name = sanitized
				}
				var args map[string]any
				_ = json.Unmarshal([]byte(v.ToolCall.Arguments), &args)
				blocks = append(blocks, sdk.NewToolUseBlock(v.ToolCall.ID, args, name))
			case model.ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolCallID, v.Content, v.IsError))
			case model.ThinkingPart:
				// Thinking blocks are not re-encoded into follow-up requests;
				// Anthropic regenerates reasoning on each turn.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case message.RoleUser, message.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case message.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []message.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	canonToProv := make(map[string]string, len(defs))
	provToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := provToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, fmt.Errorf("anthropic: tool name %q collides with %q after sanitization", def.Name, prev)
		}
		provToCanon[sanitized] = def.Name
		canonToProv[def.Name] = sanitized

		var schema map[string]any
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				return nil, nil, fmt.Errorf("anthropic: tool %q has invalid parameters schema: %w", def.Name, err)
			}
		}
		out = append(out, sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Properties: schema["properties"],
		}, sanitized))
	}
	return out, canonToProv, nil
}

// toolNameSanitizer matches characters Anthropic's tool name dialect
// disallows ([a-zA-Z0-9_-]{1,128}).
var toolNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// sanitizeToolName maps a canonical dotted tool name ("service.toolset.tool")
// into the provider's restricted character set. Names longer than 100
// characters are truncated and given a short content hash; shorter names
// are not hashed, so two names that differ only in disallowed characters
// map to the same result (encodeTools rejects such a collision).
func sanitizeToolName(name string) string {
	base := toolNameSanitizer.ReplaceAllString(name, "_")
	if len(base) <= 100 {
		return base
	}
	sum := sha256.Sum256([]byte(name))
	return base[:92] + "_" + hex.EncodeToString(sum[:])[:7]
}

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func toCountTokensTools(tools []sdk.ToolUnionParam) []sdk.MessageCountTokensToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]sdk.MessageCountTokensToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.OfTool != nil {
			out = append(out, sdk.MessageCountTokensToolUnionParam{OfTool: t.OfTool})
		}
	}
	return out
}

// translateResponse converts a non-streaming Anthropic message into a
// model.Response, mapping any sanitized tool names back to their canonical
// form via provToCanon.
func translateResponse(msg *sdk.Message, provToCanon map[string]string) (model.Response, error) {
	out := model.Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case sdk.TextBlock:
			out.Message.Parts = append(out.Message.Parts, model.TextPart{Text: v.Text})
		case sdk.ToolUseBlock:
			name := v.Name
			if canon, ok := provToCanon[name]; ok {
				name = canon
			}
			args, _ := json.Marshal(v.Input)
			out.Message.Parts = append(out.Message.Parts, model.ToolUsePart{
				ToolCall: message.ToolCall{ID: v.ID, Name: name, Arguments: string(args)},
			})
		case sdk.ThinkingBlock:
			out.Message.Parts = append(out.Message.Parts, model.ThinkingPart{Text: v.Thinking, Signature: v.Signature})
		}
	}
	out.Message.Role = message.RoleAssistant
	out.Usage = model.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return out, nil
}
