// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API via github.com/openai/openai-go. It is the second
// concrete adapter this module ships (alongside model/anthropic). It
// implements Complete and CountTokens; Stream always returns an error, so the
// Agent Run Loop, which only streams, cannot drive a run through it.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/agentcore/core/message"
	"github.com/agentcore/core/model"
)

// ChatClient captures the subset of the openai-go client this adapter uses.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the adapter's defaults.
type Options struct {
	DefaultModel string
	Temperature  float64
}

// Client implements model.Client via OpenAI Chat Completions.
type Client struct {
	chat        ChatClient
	defaultModel string
	temperature  float64
}

// New builds an adapter from an existing Chat Completions client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, defaultModel: opts.DefaultModel, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP
// transport, authenticated with apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

var _ model.Client = (*Client)(nil)

// Complete issues a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	return translateResponse(resp)
}

// Stream is not implemented: the openai-go Chat Completions streaming
// surface requires a server-sent-events decoder this adapter does not wire,
// so Stream returns an error for every request.
func (c *Client) Stream(context.Context, model.Request) (model.Streamer, error) {
	return nil, errors.New("openai: streaming is not supported by this adapter")
}

// CountTokens has no direct OpenAI endpoint; this adapter approximates it
// with a conservative heuristic (4 characters per token) so the Context
// Manager can still make summarization decisions against this provider.
func (c *Client) CountTokens(_ context.Context, req model.Request) (int, error) {
	total := len(req.System)
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			if t, ok := p.(model.TextPart); ok {
				total += len(t.Text)
			}
		}
	}
	return total / 4, nil
}

func (c *Client) prepareRequest(req model.Request) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	messages, err := encodeMessages(req)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params := &openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
		Tools:    tools,
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temperature
	}
	if temp > 0 {
		params.Temperature = openai.Float(temp)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return params, nil
}

func encodeMessages(req model.Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		var text strings.Builder
		var toolCalls []openai.ChatCompletionMessageToolCallUnionParam
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				text.WriteString(v.Text)
			case model.ToolUsePart:
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: v.ToolCall.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      v.ToolCall.Name,
							Arguments: v.ToolCall.Arguments,
						},
					},
				})
			case model.ToolResultPart:
				out = append(out, openai.ToolMessage(v.Content, v.ToolCallID))
			}
		}
		switch m.Role {
		case message.RoleUser:
			out = append(out, openai.UserMessage(text.String()))
		case message.RoleAssistant:
			msg := openai.ChatCompletionAssistantMessageParam{}
			if text.Len() > 0 {
				msg.Content.OfString = openai.String(text.String())
			}
			msg.ToolCalls = toolCalls
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case message.RoleSystem:
			if text.Len() > 0 {
				out = append(out, openai.SystemMessage(text.String()))
			}
		}
	}
	return out, nil
}

func encodeTools(defs []message.ToolDefinition) ([]openai.ChatCompletionToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var params map[string]any
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &params); err != nil {
				return nil, fmt.Errorf("openai: tool %q has invalid parameters schema: %w", def.Name, err)
			}
		}
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  params,
		}))
	}
	return out, nil
}

func translateResponse(resp *openai.ChatCompletion) (model.Response, error) {
	if len(resp.Choices) == 0 {
		return model.Response{}, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	out := model.Response{
		StopReason: string(choice.FinishReason),
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	out.Message.Role = message.RoleAssistant
	if choice.Message.Content != "" {
		out.Message.Parts = append(out.Message.Parts, model.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Message.Parts = append(out.Message.Parts, model.ToolUsePart{
			ToolCall: message.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out, nil
}
