package interaction

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	ctxmgr "github.com/agentcore/core/context"
	"github.com/agentcore/core/delegate"
	"github.com/agentcore/core/hooks"
	"github.com/agentcore/core/message"
	"github.com/agentcore/core/model"
	"github.com/agentcore/core/storage/inmem"
	"github.com/agentcore/core/telemetry"
	"github.com/agentcore/core/toolexec"
)

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

type fakeModelClient struct {
	streams [][]model.Chunk
	call    int
}

func (f *fakeModelClient) Stream(context.Context, model.Request) (model.Streamer, error) {
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
	return 0, nil
}

type emptyToolProvider struct{}

func (emptyToolProvider) Tools() []toolexec.Tool                  { return nil }
func (emptyToolProvider) Tool(string) (toolexec.Tool, bool)       { return nil, false }
func (emptyToolProvider) EnsureInitialized(context.Context) error { return nil }

type echoTool struct {
	def message.ToolDefinition
}

func (t echoTool) Definition() message.ToolDefinition { return t.def }

func (t echoTool) Execute(context.Context, json.RawMessage, toolexec.Context) (message.ToolResult, error) {
	return message.ToolResult{Success: true, Data: "ok"}, nil
}

type oneToolProvider struct {
	def message.ToolDefinition
}

func (p oneToolProvider) Tools() []toolexec.Tool { return []toolexec.Tool{echoTool{def: p.def}} }

func (p oneToolProvider) Tool(name string) (toolexec.Tool, bool) {
	if p.def.Name == name {
		return echoTool{def: p.def}, true
	}
	return nil, false
}

func (p oneToolProvider) EnsureInitialized(context.Context) error { return nil }

func newCommonDeps(llm model.Client) (CommonDeps, *inmem.Store) {
	store := inmem.New()
	logger := telemetry.NewNoopLogger()
	mgr := ctxmgr.New(store, llm, logger, 100000, 1000, 500, "")
	return CommonDeps{
		Threads:    store,
		Messages:   store,
		Runs:       store,
		Bus:        hooks.NewBus(),
		ContextMgr: mgr,
		Model:      llm,
		Logger:     logger,
	}, store
}

func TestGenericOpenAPIStartRunCompletes(t *testing.T) {
	llm := &fakeModelClient{
		streams: [][]model.Chunk{
			{{Type: model.ChunkTypeText, Text: "done"}, {Type: model.ChunkTypeStop, StopReason: "stop"}},
		},
	}
	deps, store := newCommonDeps(llm)
	thread, err := store.CreateThread(context.Background(), message.Thread{ID: "t1"})
	require.NoError(t, err)

	mgr := NewGenericOpenAPI(deps, emptyToolProvider{}, "you are an assistant")
	run, err := mgr.StartRun(context.Background(), thread.ID, "", message.RunConfig{}, "hello")
	require.NoError(t, err)
	require.Equal(t, message.RunStatusCompleted, run.Status)
	require.Equal(t, string(AgentClassBase), run.AgentType)
}

func TestGenericOpenAPIStartRunUnknownClassFails(t *testing.T) {
	deps, store := newCommonDeps(&fakeModelClient{})
	thread, err := store.CreateThread(context.Background(), message.Thread{ID: "t1"})
	require.NoError(t, err)

	mgr := NewGenericOpenAPI(deps, emptyToolProvider{}, "prompt")
	_, err = mgr.StartRun(context.Background(), thread.ID, AgentClassPlanner, message.RunConfig{}, "hello")
	require.Error(t, err)
}

func TestToolsetsRouterDispatchesToNamedToolset(t *testing.T) {
	toolDef := message.ToolDefinition{Name: "echo", Parameters: json.RawMessage(`{"type":"object"}`)}
	llm := &fakeModelClient{
		streams: [][]model.Chunk{
			{
				{Type: model.ChunkTypeToolCall, ToolCall: &message.ToolCall{ID: "c1", Name: RouterToolName, Arguments: `{"toolSetId":"Weather","toolName":"echo","toolParameters":{}}`}},
				{Type: model.ChunkTypeStop, StopReason: "tool_calls"},
			},
			{{Type: model.ChunkTypeText, Text: "wrapped up"}, {Type: model.ChunkTypeStop, StopReason: "stop"}},
		},
	}
	deps, store := newCommonDeps(llm)
	thread, err := store.CreateThread(context.Background(), message.Thread{ID: "t1"})
	require.NoError(t, err)

	registry := MapToolsetRegistry{"Weather": oneToolProvider{def: toolDef}}
	mgr := NewToolsetsRouter(deps, registry, "route requests")
	run, err := mgr.StartRun(context.Background(), thread.ID, "", message.RunConfig{}, "what's the weather")
	require.NoError(t, err)
	require.Equal(t, message.RunStatusCompleted, run.Status)
}

func TestHierarchicalPlannerDefaultClassUsesDelegateTool(t *testing.T) {
	llm := &fakeModelClient{
		streams: [][]model.Chunk{
			{
				{Type: model.ChunkTypeToolCall, ToolCall: &message.ToolCall{ID: "c1", Name: delegate.ToolName, Arguments: `{"specialistId":"Weather","subTaskDescription":"forecast"}`}},
				{Type: model.ChunkTypeStop, StopReason: "tool_calls"},
			},
			{{Type: model.ChunkTypeText, Text: "sunny"}, {Type: model.ChunkTypeStop, StopReason: "stop"}},
			{{Type: model.ChunkTypeText, Text: "final answer"}, {Type: model.ChunkTypeStop, StopReason: "stop"}},
		},
	}
	deps, store := newCommonDeps(llm)
	thread, err := store.CreateThread(context.Background(), message.Thread{ID: "t1"})
	require.NoError(t, err)

	orchestrator := delegate.MapRegistry{
		"Weather": {ID: "Weather", ToolProvider: emptyToolProvider{}, SystemPrompt: "you know weather"},
	}
	mgr := NewHierarchicalPlanner(deps, HierarchicalPlannerConfig{
		Orchestrator:          orchestrator,
		DelegateContextConfig: delegate.ContextConfig{TokenThreshold: 100000, SummaryTargetTokens: 1000, ReservedTokens: 500},
		PlannerSystemPrompt:   "plan and delegate",
		MasterProvider:        emptyToolProvider{},
		FallbackSystemPrompt:  "fallback",
	})

	run, err := mgr.StartRun(context.Background(), thread.ID, "", message.RunConfig{}, "what's the weather")
	require.NoError(t, err)
	require.Equal(t, message.RunStatusCompleted, run.Status)
	require.Equal(t, string(AgentClassPlanner), run.AgentType)
}

func TestContinueWithToolOutputsRejectsNonRequiresAction(t *testing.T) {
	deps, store := newCommonDeps(&fakeModelClient{})
	run, err := store.CreateRun(context.Background(), message.AgentRun{
		ID: "r1", ThreadID: "t1", AgentType: string(AgentClassBase), Status: message.RunStatusCompleted,
	})
	require.NoError(t, err)

	mgr := NewGenericOpenAPI(deps, emptyToolProvider{}, "prompt")
	_, err = mgr.ContinueWithToolOutputs(context.Background(), run.ID, nil)
	require.Error(t, err)
}

func TestRotateCredentialsReinitializesOnChange(t *testing.T) {
	deps, _ := newCommonDeps(&fakeModelClient{})
	mgr := NewGenericOpenAPI(deps, emptyToolProvider{}, "prompt")

	calls := 0
	provider := &countingProvider{onInit: func() { calls++ }}
	err := mgr.RotateCredentials(context.Background(), func(context.Context) (bool, error) {
		return true, nil
	}, provider)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	err = mgr.RotateCredentials(context.Background(), func(context.Context) (bool, error) {
		return false, nil
	}, provider)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

type countingProvider struct {
	onInit func()
}

func (p *countingProvider) Tools() []toolexec.Tool            { return nil }
func (p *countingProvider) Tool(string) (toolexec.Tool, bool) { return nil, false }
func (p *countingProvider) EnsureInitialized(context.Context) error {
	p.onInit()
	return nil
}
