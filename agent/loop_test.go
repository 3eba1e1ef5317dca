package agent

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	ctxmgr "github.com/agentcore/core/context"
	"github.com/agentcore/core/hooks"
	"github.com/agentcore/core/message"
	"github.com/agentcore/core/model"
	"github.com/agentcore/core/storage/inmem"
	"github.com/agentcore/core/stream"
	"github.com/agentcore/core/toolexec"
)

// fakeStreamer replays a fixed chunk list, then reports io.EOF.
type fakeStreamer struct {
	chunks []model.Chunk
	i      int
}

func (f *fakeStreamer) Recv() (model.Chunk, error) {
	if f.i >= len(f.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := f.chunks[f.i]
	f.i++
	return c, nil
}

func (f *fakeStreamer) Close() error { return nil }

// fakeModelClient drives a scripted sequence of responses, one per call to
// Stream, so a test can assert a multi-turn tool-call continuation.
type fakeModelClient struct {
	streams     [][]model.Chunk
	call        int
	countTokens int
	streamErr   error
}

func (f *fakeModelClient) Stream(context.Context, model.Request) (model.Streamer, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if f.call >= len(f.streams) {
		return &fakeStreamer{chunks: []model.Chunk{{Type: model.ChunkTypeStop, StopReason: "stop"}}}, nil
	}
	chunks := f.streams[f.call]
	f.call++
	return &fakeStreamer{chunks: chunks}, nil
}

func (f *fakeModelClient) Complete(context.Context, model.Request) (model.Response, error) {
	return model.Response{}, nil
}

func (f *fakeModelClient) CountTokens(context.Context, model.Request) (int, error) {
	return f.countTokens, nil
}

// fakeToolProvider serves a single tool, or none at all when def is zero.
type fakeToolProvider struct {
	def message.ToolDefinition
}

func (p fakeToolProvider) Tools() []toolexec.Tool {
	if p.def.Name == "" {
		return nil
	}
	return []toolexec.Tool{fakeExecTool{def: p.def}}
}

func (p fakeToolProvider) Tool(name string) (toolexec.Tool, bool) {
	if p.def.Name == name {
		return fakeExecTool{def: p.def}, true
	}
	return nil, false
}

func (p fakeToolProvider) EnsureInitialized(context.Context) error { return nil }

type fakeExecTool struct {
	def message.ToolDefinition
}

func (t fakeExecTool) Definition() message.ToolDefinition { return t.def }

func (t fakeExecTool) Execute(_ context.Context, _ json.RawMessage, _ toolexec.Context) (message.ToolResult, error) {
	return message.ToolResult{Success: true, Data: "ok"}, nil
}

// cancelingStreamer fires cancel once its second chunk is about to be
// returned, so a test can assert a cancellation checkpoint that lands
// between two already-flowing Response Processor events rather than at the
// top of drive's loop.
type cancelingStreamer struct {
	chunks []model.Chunk
	i      int
	cancel func()
}

func (s *cancelingStreamer) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	if s.i == 1 && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *cancelingStreamer) Close() error { return nil }

type cancelingModelClient struct {
	chunks []model.Chunk
	cancel func()
}

func (m *cancelingModelClient) Stream(context.Context, model.Request) (model.Streamer, error) {
	return &cancelingStreamer{chunks: m.chunks, cancel: m.cancel}, nil
}

func (m *cancelingModelClient) Complete(context.Context, model.Request) (model.Response, error) {
	return model.Response{}, nil
}

func (m *cancelingModelClient) CountTokens(context.Context, model.Request) (int, error) {
	return 0, nil
}

func newTestLoop(t *testing.T, llm model.Client, toolProvider toolexec.Provider) (*Loop, *inmem.Store) {
	t.Helper()
	store := inmem.New()
	_, err := store.CreateThread(context.Background(), message.Thread{ID: "thread-1"})
	require.NoError(t, err)

	mgr := ctxmgr.New(store, llm, nil, 100000, 1000, 500, "summarizer")
	executor := toolexec.New(toolProvider)

	return New(Dependencies{
		Threads:      store,
		Messages:     store,
		Runs:         store,
		Bus:          hooks.NewBus(),
		ContextMgr:   mgr,
		ToolExecutor: executor,
		ToolProvider: toolProvider,
		Model:        llm,
		Processor:    stream.New(),
		SystemPrompt: "you are a test agent",
	}), store
}

func newTestRun(t *testing.T, store *inmem.Store, cfg message.RunConfig) message.AgentRun {
	t.Helper()
	run, err := store.CreateRun(context.Background(), message.AgentRun{
		ID:       "run-1",
		ThreadID: "thread-1",
		Status:   message.RunStatusQueued,
		Config:   cfg.WithDefaults(),
	})
	require.NoError(t, err)
	return run
}

func TestRunHappyPathCompletesOnStop(t *testing.T) {
	llm := &fakeModelClient{
		streams: [][]model.Chunk{
			{
				{Type: model.ChunkTypeText, Text: "hello "},
				{Type: model.ChunkTypeText, Text: "world"},
				{Type: model.ChunkTypeStop, StopReason: "stop"},
			},
		},
	}
	loop, store := newTestLoop(t, llm, fakeToolProvider{})
	run := newTestRun(t, store, message.RunConfig{})

	final, err := loop.Run(context.Background(), run, []message.Message{
		{Role: message.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, message.RunStatusCompleted, final.Status)

	events, err := store.ListEvents(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Equal(t, message.EventRunCompleted, events[len(events)-1].Type)
}

func TestRunToolCallContinuationThenCompletes(t *testing.T) {
	toolDef := message.ToolDefinition{Name: "echo", Parameters: json.RawMessage(`{"type":"object"}`)}
	llm := &fakeModelClient{
		streams: [][]model.Chunk{
			{
				{Type: model.ChunkTypeToolCall, ToolCall: &message.ToolCall{ID: "c1", Name: "echo", Arguments: "{}"}},
				{Type: model.ChunkTypeStop, StopReason: "tool_calls"},
			},
			{
				{Type: model.ChunkTypeText, Text: "done"},
				{Type: model.ChunkTypeStop, StopReason: "stop"},
			},
		},
	}
	loop, store := newTestLoop(t, llm, fakeToolProvider{def: toolDef})
	run := newTestRun(t, store, message.RunConfig{MaxToolCallContinuations: 5})

	final, err := loop.Run(context.Background(), run, []message.Message{
		{Role: message.RoleUser, Content: "use the tool"},
	})
	require.NoError(t, err)
	require.Equal(t, message.RunStatusCompleted, final.Status)
}

func TestRunPausesAtRequiresActionWhenContinuationBudgetExhausted(t *testing.T) {
	toolDef := message.ToolDefinition{Name: "echo", Parameters: json.RawMessage(`{"type":"object"}`)}
	toolCallChunks := []model.Chunk{
		{Type: model.ChunkTypeToolCall, ToolCall: &message.ToolCall{ID: "c1", Name: "echo", Arguments: "{}"}},
		{Type: model.ChunkTypeStop, StopReason: "tool_calls"},
	}
	llm := &fakeModelClient{streams: [][]model.Chunk{toolCallChunks, toolCallChunks}}
	loop, store := newTestLoop(t, llm, fakeToolProvider{def: toolDef})
	run := newTestRun(t, store, message.RunConfig{MaxToolCallContinuations: 1})

	final, err := loop.Run(context.Background(), run, []message.Message{
		{Role: message.RoleUser, Content: "use the tool repeatedly"},
	})
	require.NoError(t, err)
	require.Equal(t, message.RunStatusRequiresAction, final.Status)
}

func TestSubmitToolOutputsResumesAndCompletes(t *testing.T) {
	toolDef := message.ToolDefinition{Name: "echo", Parameters: json.RawMessage(`{"type":"object"}`)}
	toolCallChunks := []model.Chunk{
		{Type: model.ChunkTypeToolCall, ToolCall: &message.ToolCall{ID: "c1", Name: "echo", Arguments: "{}"}},
		{Type: model.ChunkTypeStop, StopReason: "tool_calls"},
	}
	llm := &fakeModelClient{streams: [][]model.Chunk{toolCallChunks}}
	loop, store := newTestLoop(t, llm, fakeToolProvider{def: toolDef})
	run := newTestRun(t, store, message.RunConfig{MaxToolCallContinuations: 1})

	paused, err := loop.Run(context.Background(), run, []message.Message{
		{Role: message.RoleUser, Content: "use the tool"},
	})
	require.NoError(t, err)
	require.Equal(t, message.RunStatusRequiresAction, paused.Status)

	resumed, err := loop.SubmitToolOutputs(context.Background(), paused, []message.Message{
		{Role: message.RoleTool, Content: "manual result", ToolCallID: "c1"},
	})
	require.NoError(t, err)
	require.Equal(t, message.RunStatusCompleted, resumed.Status)
}

func TestSubmitToolOutputsRejectsNonRequiresActionRun(t *testing.T) {
	llm := &fakeModelClient{}
	loop, store := newTestLoop(t, llm, fakeToolProvider{})
	run := newTestRun(t, store, message.RunConfig{})
	run.Status = message.RunStatusCompleted

	_, err := loop.SubmitToolOutputs(context.Background(), run, nil)
	require.Error(t, err)
}

func TestRunFailsOnUnexpectedFinishReason(t *testing.T) {
	llm := &fakeModelClient{
		streams: [][]model.Chunk{
			{{Type: model.ChunkTypeStop, StopReason: "content_filter"}},
		},
	}
	loop, store := newTestLoop(t, llm, fakeToolProvider{})
	run := newTestRun(t, store, message.RunConfig{})

	final, err := loop.Run(context.Background(), run, []message.Message{
		{Role: message.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, message.RunStatusFailed, final.Status)
	require.Contains(t, final.LastError, "content_filter")
}

func TestRunFailsOnIterationLimitExceeded(t *testing.T) {
	// MaxToolCallContinuations(1) makes every turn pause at requires_action
	// immediately; repeatedly resuming it without ever finishing drives the
	// safety counter past MaxToolCallContinuations+safetyMargin.
	toolDef := message.ToolDefinition{Name: "echo", Parameters: json.RawMessage(`{"type":"object"}`)}
	llm := &fakeModelClient{}
	for i := 0; i < safetyMargin+3; i++ {
		llm.streams = append(llm.streams, []model.Chunk{
			{Type: model.ChunkTypeToolCall, ToolCall: &message.ToolCall{ID: "c1", Name: "echo", Arguments: "{}"}},
			{Type: model.ChunkTypeStop, StopReason: "tool_calls"},
		})
	}
	loop, store := newTestLoop(t, llm, fakeToolProvider{def: toolDef})
	run := newTestRun(t, store, message.RunConfig{MaxToolCallContinuations: 1})

	run, err := loop.Run(context.Background(), run, []message.Message{
		{Role: message.RoleUser, Content: "start"},
	})
	require.NoError(t, err)

	for i := 0; i < safetyMargin+2 && run.Status == message.RunStatusRequiresAction; i++ {
		run, err = loop.SubmitToolOutputs(context.Background(), run, []message.Message{
			{Role: message.RoleTool, Content: "result", ToolCallID: "c1"},
		})
		require.NoError(t, err)
	}

	require.Equal(t, message.RunStatusFailed, run.Status)
	require.Contains(t, run.LastError, "maximum turn count")
}

func TestCancelRunStopsAtNextCheckpoint(t *testing.T) {
	llm := &fakeModelClient{
		streams: [][]model.Chunk{
			{{Type: model.ChunkTypeStop, StopReason: "stop"}},
		},
	}
	loop, store := newTestLoop(t, llm, fakeToolProvider{})
	run := newTestRun(t, store, message.RunConfig{})

	loop.CancelRun(run.ID)
	final, err := loop.Run(context.Background(), run, []message.Message{
		{Role: message.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, message.RunStatusCancelled, final.Status)
}

// TestCancelRunStopsMidStream exercises the §5 checkpoint between Response
// Processor events (spec.md S5): cancellation requested after the first
// thread.message.delta must abandon the turn before its second delta, leave
// the partially streamed assistant message persisted as-is, and transition
// straight to cancelling/cancelled with no thread.run.completed.
func TestCancelRunStopsMidStream(t *testing.T) {
	llm := &cancelingModelClient{
		chunks: []model.Chunk{
			{Type: model.ChunkTypeText, Text: "hi"},
			{Type: model.ChunkTypeText, Text: " there"},
			{Type: model.ChunkTypeStop, StopReason: "stop"},
		},
	}
	loop, store := newTestLoop(t, llm, fakeToolProvider{})
	run := newTestRun(t, store, message.RunConfig{})
	llm.cancel = func() { loop.CancelRun(run.ID) }

	final, err := loop.Run(context.Background(), run, []message.Message{
		{Role: message.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, message.RunStatusCancelled, final.Status)

	msgs, err := store.ListMessages(context.Background(), run.ThreadID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[1].Content)

	events, err := store.ListEvents(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Equal(t, message.EventRunStatusChanged, events[len(events)-1].Type)
	for _, ev := range events {
		require.NotEqual(t, message.EventRunCompleted, ev.Type)
		require.NotEqual(t, message.EventMessageCompleted, ev.Type)
	}
}

// TestZeroMaxToolCallContinuationsHaltsAtFirstRequiresAction is spec.md §8's
// B1 boundary case: an explicit maxToolCallContinuations of 0 must not be
// silently coerced to the default of 25, so the first tool-calling turn
// pauses in requires_action instead of ever dispatching the tool.
func TestZeroMaxToolCallContinuationsHaltsAtFirstRequiresAction(t *testing.T) {
	toolDef := message.ToolDefinition{Name: "echo", Parameters: json.RawMessage(`{"type":"object"}`)}
	llm := &fakeModelClient{
		streams: [][]model.Chunk{
			{
				{Type: model.ChunkTypeToolCall, ToolCall: &message.ToolCall{ID: "c1", Name: "echo", Arguments: "{}"}},
				{Type: model.ChunkTypeStop, StopReason: "tool_calls"},
			},
		},
	}
	loop, store := newTestLoop(t, llm, fakeToolProvider{def: toolDef})
	run := newTestRun(t, store, message.RunConfig{MaxToolCallContinuations: 0, DispatchStrategy: "sequential"})
	require.Equal(t, 0, run.Config.MaxToolCallContinuations)

	final, err := loop.Run(context.Background(), run, []message.Message{
		{Role: message.RoleUser, Content: "use the tool"},
	})
	require.NoError(t, err)
	require.Equal(t, message.RunStatusRequiresAction, final.Status)
	require.Equal(t, 1, llm.call)
}
