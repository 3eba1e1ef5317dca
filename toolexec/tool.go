// Package toolexec implements the Tool Executor: per-call argument
// validation against JSON Schema (with local $ref resolution) followed by
// sequential or parallel dispatch, returning results in input order
// regardless of strategy.
package toolexec

import (
	"context"
	"encoding/json"

	"github.com/agentcore/core/message"
)

// Tool is a single invocable capability an agent's tool provider exposes.
type Tool interface {
	Definition() message.ToolDefinition
	Execute(ctx context.Context, args json.RawMessage, agentCtx Context) (message.ToolResult, error)
}

// OpenAPISpecProvider is implemented by a Tool that carries a
// components.schemas section its own $ref entries resolve against. The
// Executor checks only the Tool for it, never the Provider.
type OpenAPISpecProvider interface {
	OpenAPISpec() json.RawMessage
}

// Provider is the agent-facing tool registry: getTools/getTool from spec.md
// §6's "Agent-facing tool provider".
type Provider interface {
	Tools() []Tool
	Tool(name string) (Tool, bool)
	EnsureInitialized(ctx context.Context) error
}

// Context is the per-call execution context a Tool's Execute receives: the
// identifiers needed to attribute nested telemetry, events, or (for the
// Delegate-to-Specialist tool) a sub-agent invocation to its parent turn.
// ParentRunConfig is the invoking run's configuration, carried through so a
// tool that spawns a nested run (the Delegate-to-Specialist tool) can derive
// the worker's RunConfig without importing the agent package.
type Context struct {
	RunID           string
	ThreadID        string
	ToolCallID      string
	ParentRunConfig message.RunConfig
}
