package toolexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/core/message"
)

type fakeTool struct {
	def     message.ToolDefinition
	spec    json.RawMessage
	execute func(args json.RawMessage) (message.ToolResult, error)
}

func (t fakeTool) Definition() message.ToolDefinition { return t.def }
func (t fakeTool) OpenAPISpec() json.RawMessage       { return t.spec }

func (t fakeTool) Execute(_ context.Context, args json.RawMessage, _ Context) (message.ToolResult, error) {
	return t.execute(args)
}

type fakeProvider struct {
	tools map[string]Tool
}

func (p fakeProvider) Tools() []Tool {
	out := make([]Tool, 0, len(p.tools))
	for _, t := range p.tools {
		out = append(out, t)
	}
	return out
}

func (p fakeProvider) Tool(name string) (Tool, bool) {
	t, ok := p.tools[name]
	return t, ok
}

func (p fakeProvider) EnsureInitialized(context.Context) error { return nil }

func TestExecuteUnknownTool(t *testing.T) {
	ex := New(fakeProvider{tools: map[string]Tool{}})
	results := ex.Execute(context.Background(), []message.ToolCall{{ID: "c1", Name: "missing", Arguments: "{}"}}, Context{}, DispatchSequential)
	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.Equal(t, errorNameToolNotFound, results[0].Metadata["errorName"])
}

func TestExecuteInvalidJSONArguments(t *testing.T) {
	tool := fakeTool{def: message.ToolDefinition{Name: "echo"}}
	ex := New(fakeProvider{tools: map[string]Tool{"echo": tool}})
	results := ex.Execute(context.Background(), []message.ToolCall{{ID: "c1", Name: "echo", Arguments: "{not json"}}, Context{}, DispatchSequential)
	require.False(t, results[0].Success)
	require.Equal(t, errorNameValidation, results[0].Metadata["errorName"])
}

func TestExecuteValidationFailureMissingRequiredField(t *testing.T) {
	tool := fakeTool{
		def: message.ToolDefinition{
			Name:       "search",
			Parameters: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
		},
		execute: func(json.RawMessage) (message.ToolResult, error) {
			t.Fatal("execute should not run after a validation failure")
			return message.ToolResult{}, nil
		},
	}
	ex := New(fakeProvider{tools: map[string]Tool{"search": tool}})
	results := ex.Execute(context.Background(), []message.ToolCall{{ID: "c1", Name: "search", Arguments: "{}"}}, Context{}, DispatchSequential)
	require.False(t, results[0].Success)
	require.Equal(t, errorNameValidation, results[0].Metadata["errorName"])
}

func TestExecuteSuccessfulCall(t *testing.T) {
	tool := fakeTool{
		def: message.ToolDefinition{
			Name:       "search",
			Parameters: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
		},
		execute: func(args json.RawMessage) (message.ToolResult, error) {
			return message.ToolResult{Success: true, Data: "result"}, nil
		},
	}
	ex := New(fakeProvider{tools: map[string]Tool{"search": tool}})
	results := ex.Execute(context.Background(), []message.ToolCall{{ID: "c1", Name: "search", Arguments: `{"query":"go"}`}}, Context{}, DispatchSequential)
	require.True(t, results[0].Success)
	require.Equal(t, "c1", results[0].ToolCallID)
	require.Equal(t, "result", results[0].Data)
}

func TestExecuteResolvesLocalRef(t *testing.T) {
	tool := fakeTool{
		def: message.ToolDefinition{
			Name:       "book",
			Parameters: json.RawMessage(`{"$ref":"#/components/schemas/BookArgs"}`),
		},
		spec: json.RawMessage(`{"components":{"schemas":{"BookArgs":{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}}}}`),
		execute: func(json.RawMessage) (message.ToolResult, error) {
			return message.ToolResult{Success: true}, nil
		},
	}
	ex := New(fakeProvider{tools: map[string]Tool{"book": tool}})

	missing := ex.Execute(context.Background(), []message.ToolCall{{ID: "c1", Name: "book", Arguments: "{}"}}, Context{}, DispatchSequential)
	require.False(t, missing[0].Success)

	ok := ex.Execute(context.Background(), []message.ToolCall{{ID: "c2", Name: "book", Arguments: `{"title":"Go"}`}}, Context{}, DispatchSequential)
	require.True(t, ok[0].Success)
}

func TestExecutePreservesOrderUnderParallelDispatch(t *testing.T) {
	tool := fakeTool{
		def: message.ToolDefinition{Name: "echo"},
		execute: func(args json.RawMessage) (message.ToolResult, error) {
			return message.ToolResult{Success: true, Data: string(args)}, nil
		},
	}
	ex := New(fakeProvider{tools: map[string]Tool{"echo": tool}})
	calls := []message.ToolCall{
		{ID: "c1", Name: "echo", Arguments: `"one"`},
		{ID: "c2", Name: "echo", Arguments: `"two"`},
		{ID: "c3", Name: "echo", Arguments: `"three"`},
	}
	results := ex.Execute(context.Background(), calls, Context{}, DispatchParallel)
	require.Len(t, results, 3)
	require.Equal(t, "c1", results[0].ToolCallID)
	require.Equal(t, "c2", results[1].ToolCallID)
	require.Equal(t, "c3", results[2].ToolCallID)
}

func TestResolveSchemaBreaksCycles(t *testing.T) {
	reg := &registry{byID: map[string]map[string]any{
		"#/components/schemas/Node": {
			"type": "object",
			"properties": map[string]any{
				"child": map[string]any{"$ref": "#/components/schemas/Node"},
			},
		},
	}}
	schema := map[string]any{"$ref": "#/components/schemas/Node"}
	resolved := resolveSchema(schema, reg)

	props, _ := resolved["properties"].(map[string]any)
	child, _ := props["child"].(map[string]any)
	require.Equal(t, "<cycle>", child["description"])
}
