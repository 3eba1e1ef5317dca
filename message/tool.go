package message

import "encoding/json"

// ToolCall is an assistant's request to invoke a tool. Arguments is the raw
// JSON the model produced for the call's parameters; it is assembled
// incrementally by the Response Processor from streamed fragments keyed by
// the provider's content-block index before being attached to a finalized
// Message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool an Agent may call: its name, a natural
// language description the model uses to decide when to call it, and a
// JSON-Schema for its parameters. Parameters may contain local $ref entries
// of the form "#/components/schemas/<name>" that the Tool Executor resolves
// against a schema registry before validating a call's Arguments.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult is what a Tool Executor produces for a single ToolCall. Success
// is false for any non-fatal failure (validation error, unknown tool, a tool
// that itself failed) and Error then carries a human-readable explanation;
// Data carries the tool's output on success. Metadata is free-form
// observability data (duration, retry hints, and so on) that never affects
// control flow.
type ToolResult struct {
	ToolCallID string         `json:"toolCallId"`
	Success    bool           `json:"success"`
	Data       any            `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
