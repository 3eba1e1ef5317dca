// Package stream implements the Response Processor: it turns a model.Client's
// chunk stream (or a non-streaming model.Response) into the semantic events
// the Agent Run Loop acts on — incremental text, detected tool calls, and a
// terminal stream-end/error — independent of which provider produced the
// chunks. It owns the per-turn index -> partial-tool-call buffer spec.md's
// design notes call for, modeled as an in-memory map rather than
// per-chunk storage writes.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/agentcore/core/message"
	"github.com/agentcore/core/model"
)

// Kind identifies what a processed Event carries.
type Kind string

const (
	KindTextChunk        Kind = "text_chunk"
	KindToolCallDetected Kind = "tool_call_detected"
	KindError            Kind = "error"
	KindStreamEnd        Kind = "stream_end"
)

// ErrorReason enumerates the Response Processor's own failure modes, as
// opposed to errors returned by the underlying model.Streamer itself.
type ErrorReason string

const (
	ReasonLLMParseError      ErrorReason = "llm_parse_error"
	ReasonIncompleteToolCall ErrorReason = "incomplete_tool_call"
)

// Event is one unit of output from the Response Processor.
type Event struct {
	Kind     Kind
	Text     string
	ToolCall message.ToolCall
	Reason   ErrorReason
	Err      error
}

// Result is what Process returns once the stream (or non-streaming response)
// is fully consumed: the finalized text, every successfully detected tool
// call (in ascending content-block-index order, so Tool Executor dispatch
// order matches what the model emitted), and the finish reason.
type Result struct {
	Text         string
	ToolCalls    []message.ToolCall
	FinishReason string
	Usage        model.Usage
}

// ErrDuplicateToolCallID is returned by Process when one assistant message
// buffers two tool calls that finalize to the same id. spec.md §9 names this
// the "safe choice": rather than silently keep one and drop the other, the
// whole turn fails so the caller can decide how to recover.
var ErrDuplicateToolCallID = errors.New("stream: duplicate tool call id in one turn")

type pendingCall struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// Processor assembles a model.Streamer's chunks into Events. A Processor
// holds no state between calls: each Process call keeps its own buffers, so
// one Processor can be reused across turns.
type Processor struct{}

// New constructs a Processor.
func New() *Processor { return &Processor{} }

// Process drains s, invoking onEvent for every Event as it becomes
// available, and returns the finalized Result once the stream signals
// completion. onEvent may be nil.
func (p *Processor) Process(ctx context.Context, s model.Streamer, onEvent func(Event)) (Result, error) {
	emit := onEvent
	if emit == nil {
		emit = func(Event) {}
	}

	buffers := make(map[int]*pendingCall)
	order := make([]int, 0, 4)
	var text strings.Builder
	var usage model.Usage

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return p.finalize(buffers, order, text.String(), "", usage, emit)
		}
		if err != nil {
			emit(Event{Kind: KindError, Err: err})
			return Result{}, err
		}

		switch chunk.Type {
		case model.ChunkTypeText:
			text.WriteString(chunk.Text)
			emit(Event{Kind: KindTextChunk, Text: chunk.Text})
		case model.ChunkTypeToolCallDelta:
			if chunk.Delta == nil {
				continue
			}
			pc, ok := buffers[chunk.Delta.Index]
			if !ok {
				pc = &pendingCall{index: chunk.Delta.Index}
				buffers[chunk.Delta.Index] = pc
				order = append(order, chunk.Delta.Index)
			}
			if chunk.Delta.IDFragment != "" {
				pc.id += chunk.Delta.IDFragment
			}
			if chunk.Delta.NameFragment != "" {
				pc.name += chunk.Delta.NameFragment
			}
			if chunk.Delta.ArgumentsFragment != "" {
				pc.args.WriteString(chunk.Delta.ArgumentsFragment)
			}
		case model.ChunkTypeToolCall:
			// Some providers may hand back an already-finalized call (no
			// incremental deltas); treat it as a one-shot buffer.
			if chunk.ToolCall != nil {
				pc := &pendingCall{index: len(order), id: chunk.ToolCall.ID, name: chunk.ToolCall.Name}
				pc.args.WriteString(chunk.ToolCall.Arguments)
				buffers[pc.index] = pc
				order = append(order, pc.index)
			}
		case model.ChunkTypeUsage:
			if chunk.Usage != nil {
				usage.InputTokens += chunk.Usage.InputTokens
				usage.OutputTokens += chunk.Usage.OutputTokens
			}
		case model.ChunkTypeThinking:
			// Extended-reasoning content is not part of the tracked turn
			// output; the Agent Run Loop never persists it as a message.
		case model.ChunkTypeStop:
			return p.finalize(buffers, order, text.String(), chunk.StopReason, usage, emit)
		}
	}
}

// finalize resolves every buffered tool call in index order, parsing its
// arguments as JSON: success yields a ToolCallDetected event, a parse
// failure yields an Error{llm_parse_error} event, and a call still missing
// its id yields an Error{incomplete_tool_call} event. A duplicate id across
// two distinct buffers fails the whole turn.
func (p *Processor) finalize(
	buffers map[int]*pendingCall,
	order []int,
	text string,
	stopReason string,
	usage model.Usage,
	emit func(Event),
) (Result, error) {
	sort.Ints(order)

	result := Result{Text: text, FinishReason: stopReason, Usage: usage}
	seenIDs := make(map[string]bool, len(order))

	for _, idx := range order {
		pc := buffers[idx]
		if pc.id == "" {
			emit(Event{Kind: KindError, Reason: ReasonIncompleteToolCall})
			continue
		}
		if seenIDs[pc.id] {
			return Result{}, fmt.Errorf("%w: %s", ErrDuplicateToolCallID, pc.id)
		}
		seenIDs[pc.id] = true

		args := pc.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		var probe json.RawMessage
		if err := json.Unmarshal([]byte(args), &probe); err != nil {
			emit(Event{Kind: KindError, Reason: ReasonLLMParseError, Err: err})
			continue
		}

		call := message.ToolCall{ID: pc.id, Name: pc.name, Arguments: args}
		result.ToolCalls = append(result.ToolCalls, call)
		emit(Event{Kind: KindToolCallDetected, ToolCall: call})
	}

	if stopReason == "" {
		// spec.md §9 Open Question (a): a null finish reason is treated
		// leniently rather than as a fatal error. A premature disconnect
		// mid-stream that still produced legible text or complete tool
		// calls is far more common than a provider deliberately omitting
		// the field, and failing the run would discard otherwise-usable
		// output; callers that need strict provider-conformance checks can
		// still inspect Result.FinishReason themselves.
		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		} else {
			result.FinishReason = "stop"
		}
	}

	emit(Event{Kind: KindStreamEnd})
	return result, nil
}

// ProcessResponse is the non-streaming counterpart to Process: it takes an
// already-complete model.Response and emits the equivalent events — one
// ToolCallDetected per tool-use part, or a single TextChunk if the response
// has no tool calls — followed by StreamEnd.
func (p *Processor) ProcessResponse(resp model.Response, onEvent func(Event)) Result {
	emit := onEvent
	if emit == nil {
		emit = func(Event) {}
	}

	result := Result{FinishReason: resp.StopReason, Usage: resp.Usage}
	var text strings.Builder
	for _, part := range resp.Message.Parts {
		switch v := part.(type) {
		case model.TextPart:
			text.WriteString(v.Text)
		case model.ToolUsePart:
			result.ToolCalls = append(result.ToolCalls, v.ToolCall)
		}
	}
	result.Text = text.String()

	// Normalize to the same two finish reasons the streaming path produces
	// (see finalize), regardless of what the provider's non-streaming
	// response actually named its stop reason as.
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	} else {
		result.FinishReason = "stop"
	}

	if len(result.ToolCalls) > 0 {
		for _, tc := range result.ToolCalls {
			emit(Event{Kind: KindToolCallDetected, ToolCall: tc})
		}
	} else if result.Text != "" {
		emit(Event{Kind: KindTextChunk, Text: result.Text})
	}
	emit(Event{Kind: KindStreamEnd})
	return result
}
