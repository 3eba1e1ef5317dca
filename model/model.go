// Package model defines the provider-agnostic contract an Agent Run Loop
// uses to talk to an LLM: Client plus the Request/Response/Chunk types every
// concrete adapter (model/anthropic, model/openai) translates its own SDK's
// types into and out of. Nothing above this package ever imports a
// provider's SDK directly.
package model

import (
	"context"
	"errors"

	"github.com/agentcore/core/message"
)

// ErrRateLimited is returned by a Client when the provider signals the
// caller should back off and retry later.
var ErrRateLimited = errors.New("model: rate limited")

// Part is one piece of a multi-part Message. A Message's Parts may mix text,
// tool-use requests, tool results, and (for reasoning models) thinking
// blocks, mirroring how Anthropic and OpenAI both represent a single
// turn as an ordered list of typed content blocks.
type Part interface{ isPart() }

// TextPart is a plain text content block.
type TextPart struct{ Text string }

// ToolUsePart is a model-issued request to call a tool.
type ToolUsePart struct{ ToolCall message.ToolCall }

// ToolResultPart is the result of a previously requested tool call, fed back
// to the model on a later turn.
type ToolResultPart struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ThinkingPart is an extended-reasoning block some providers stream before
// their final answer.
type ThinkingPart struct {
	Text      string
	Signature string
}

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}
func (ThinkingPart) isPart()   {}

// Message is one turn of a Request's conversation, expressed as a role plus
// an ordered list of Parts.
type Message struct {
	Role  message.Role
	Parts []Part
}

// Usage reports token consumption for a Request/Response pair.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is everything a Client needs to generate the next assistant turn.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []message.ToolDefinition
	ToolChoice  string
	MaxTokens   int
	Temperature float64
}

// Response is a Client's complete, non-streamed answer to a Request.
type Response struct {
	Message    Message
	StopReason string
	Usage      Usage
}

// ChunkType identifies what a streamed Chunk carries.
type ChunkType string

const (
	ChunkTypeText          ChunkType = "text"
	ChunkTypeToolCallDelta ChunkType = "tool_call_delta"
	ChunkTypeToolCall      ChunkType = "tool_call"
	ChunkTypeThinking      ChunkType = "thinking"
	ChunkTypeUsage         ChunkType = "usage"
	ChunkTypeStop          ChunkType = "stop"
)

// ToolCallDelta is an incremental fragment of a tool call being assembled
// across several Chunks, keyed by the provider's content-block Index.
type ToolCallDelta struct {
	Index             int
	IDFragment        string
	NameFragment      string
	ArgumentsFragment string
}

// Chunk is one event in a Client.Stream response. Exactly the fields
// relevant to Type are populated; see the Response Processor (package
// stream) for how a sequence of Chunks turns into text/tool-call events.
type Chunk struct {
	Type       ChunkType
	Text       string
	ToolCall   *message.ToolCall
	Delta      *ToolCallDelta
	Thinking   string
	StopReason string
	Usage      *Usage
}

// Streamer is an in-flight streaming response. A ChunkTypeStop chunk marks
// the natural end of the stream; Recv returns io.EOF once the stream is
// exhausted, and the Response Processor treats an io.EOF without a prior
// stop chunk as the end of the turn with no finish reason.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// Client is the external LLM collaborator an Agent Run Loop depends on.
type Client interface {
	// Stream starts a streaming generation for req.
	Stream(ctx context.Context, req Request) (Streamer, error)
	// Complete runs req to completion without streaming, used by the
	// Response Processor's non-streaming path and by the Context Manager's
	// summarization calls.
	Complete(ctx context.Context, req Request) (Response, error)
	// CountTokens estimates the token count req would consume, used by the
	// Context Manager to decide when to summarize or truncate.
	CountTokens(ctx context.Context, req Request) (int, error)
}

// ToolFormatter is an optional capability a Client may implement when its
// provider needs tool definitions translated into a shape other than the
// plain message.ToolDefinition (for instance, a provider-specific name
// sanitization or schema dialect). Callers should type-assert for it and
// fall back to passing message.ToolDefinition verbatim otherwise.
type ToolFormatter interface {
	FormatToolsForProvider(tools []message.ToolDefinition) (any, error)
}
