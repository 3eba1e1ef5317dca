package anthropic

import (
	"errors"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentcore/core/model"
)

// streamer adapts an Anthropic SSE stream into a model.Streamer, translating
// ContentBlockStartEvent/ContentBlockDeltaEvent/MessageDeltaEvent into
// model.Chunks. It deliberately does NOT assemble tool_use blocks into
// complete tool calls itself: it forwards each fragment (the block's id and
// name at content_block_start, each input_json_delta at
// content_block_delta) as a ChunkTypeToolCallDelta keyed by content-block
// index, leaving the index -> partial-call assembly and finish-time parsing
// to the provider-agnostic Response Processor (package stream).
type streamer struct {
	src         *ssestream.Stream[sdk.MessageStreamEventUnion]
	provToCanon map[string]string
	pending     []model.Chunk
	closed      bool
}

func newStreamer(src *ssestream.Stream[sdk.MessageStreamEventUnion], provToCanon map[string]string) *streamer {
	return &streamer{src: src, provToCanon: provToCanon}
}

var errStreamClosed = errors.New("anthropic: stream closed")

// Recv returns the next chunk, buffering extras when one SSE event produces
// more than one model.Chunk (a message_delta event can carry both a stop
// reason and a usage update).
func (s *streamer) Recv() (model.Chunk, error) {
	if len(s.pending) > 0 {
		c := s.pending[0]
		s.pending = s.pending[1:]
		return c, nil
	}
	if s.closed {
		return model.Chunk{}, errStreamClosed
	}
	for s.src.Next() {
		chunks := s.handle(s.src.Current())
		if len(chunks) == 0 {
			continue
		}
		s.pending = chunks
		c := s.pending[0]
		s.pending = s.pending[1:]
		return c, nil
	}
	if err := s.src.Err(); err != nil {
		return model.Chunk{}, wrapErr(err)
	}
	s.closed = true
	return model.Chunk{}, io.EOF
}

func (s *streamer) Close() error {
	return s.src.Close()
}

func (s *streamer) handle(evt sdk.MessageStreamEventUnion) []model.Chunk {
	switch v := evt.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		tb, ok := v.ContentBlock.AsAny().(sdk.ToolUseBlock)
		if !ok {
			return nil
		}
		name := tb.Name
		if canon, ok := s.provToCanon[name]; ok {
			name = canon
		}
		return []model.Chunk{{
			Type: model.ChunkTypeToolCallDelta,
			Delta: &model.ToolCallDelta{
				Index:        int(v.Index),
				IDFragment:   tb.ID,
				NameFragment: name,
			},
		}}
	case sdk.ContentBlockDeltaEvent:
		switch d := v.Delta.AsAny().(type) {
		case sdk.TextDelta:
			return []model.Chunk{{Type: model.ChunkTypeText, Text: d.Text}}
		case sdk.InputJSONDelta:
			return []model.Chunk{{
				Type: model.ChunkTypeToolCallDelta,
				Delta: &model.ToolCallDelta{
					Index:             int(v.Index),
					ArgumentsFragment: d.PartialJSON,
				},
			}}
		case sdk.ThinkingDelta:
			return []model.Chunk{{Type: model.ChunkTypeThinking, Thinking: d.Thinking}}
		}
		return nil
	case sdk.MessageDeltaEvent:
		var out []model.Chunk
		if v.Delta.StopReason != "" {
			out = append(out, model.Chunk{Type: model.ChunkTypeStop, StopReason: string(v.Delta.StopReason)})
		}
		if v.Usage.OutputTokens > 0 {
			out = append(out, model.Chunk{Type: model.ChunkTypeUsage, Usage: &model.Usage{
				OutputTokens: int(v.Usage.OutputTokens),
			}})
		}
		return out
	default:
		return nil
	}
}
