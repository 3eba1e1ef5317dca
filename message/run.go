package message

import "time"

// RunStatus is the state an AgentRun occupies in its lifecycle. The allowed
// transitions are: queued -> {in_progress, cancelling}; in_progress <->
// requires_action; in_progress -> {completed, failed, cancelling};
// cancelling -> cancelled. expired is never assigned by the run loop; only
// a caller outside it sets that status.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusExpired        RunStatus = "expired"
)

// Terminal reports whether a run in this status will never transition again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired:
		return true
	default:
		return false
	}
}

// RunConfig bounds a single AgentRun's execution and is snapshotted onto the
// run record at creation so later reads see the settings it actually ran
// under, independent of subsequent config changes.
type RunConfig struct {
	// MaxToolCallContinuations bounds how many turns the Agent Run Loop may
	// run while dispatching tool calls itself: once the turn count reaches
	// it, a tool-calling turn pauses the run in requires_action instead. The
	// run is forced into failed{iteration_limit_exceeded} only when the turn
	// count exceeds MaxToolCallContinuations plus a fixed safety margin.
	MaxToolCallContinuations int `json:"maxToolCallContinuations"`
	// ToolChoice is passed through to the LLM client ("auto", "none", or a
	// specific tool name); it is coerced to "none" by the run loop when the
	// resolved tool set for the turn is empty.
	ToolChoice string `json:"toolChoice,omitempty"`
	// DispatchStrategy selects how the Tool Executor runs multiple tool calls
	// within one turn: "sequential" or "parallel".
	DispatchStrategy string `json:"dispatchStrategy,omitempty"`
	// Model identifies which model the LLM client should target for this run.
	Model string `json:"model,omitempty"`
}

// WithDefaults fills zero-valued fields with the module's defaults and
// returns the result; it never mutates the receiver.
//
// MaxToolCallContinuations only gets the default of 25 when c is the
// entirely-zero RunConfig (a caller that never touched it). A caller that
// explicitly asked for 0 — spec.md §8's boundary case, where the first
// tool-calling turn must emit requires_action and halt rather than silently
// run 25 continuations — is left alone.
func (c RunConfig) WithDefaults() RunConfig {
	out := c
	if c == (RunConfig{}) {
		out.MaxToolCallContinuations = 25
	}
	if out.ToolChoice == "" {
		out.ToolChoice = "auto"
	}
	if out.DispatchStrategy == "" {
		out.DispatchStrategy = "sequential"
	}
	return out
}

// derived returns a RunConfig for a sub-agent spawned by the Delegate tool:
// MaxToolCallContinuations is reduced by two (floor zero) so a chain of
// delegations cannot outlive its parent's own iteration budget.
func (c RunConfig) derived() RunConfig {
	out := c
	out.MaxToolCallContinuations -= 2
	if out.MaxToolCallContinuations < 0 {
		out.MaxToolCallContinuations = 0
	}
	return out
}

// Derived is the exported form of derived, used by the delegate package to
// build a worker run's configuration from its parent's.
func (c RunConfig) Derived() RunConfig { return c.derived() }

// AgentRun is the durable (for the lifetime of the process; this module does
// not implement cross-process durability) record of one Agent Run Loop
// invocation against a Thread.
type AgentRun struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"threadId"`
	AgentType string         `json:"agentType"`
	Status    RunStatus      `json:"status"`
	Config    RunConfig      `json:"config"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	LastError string         `json:"lastError,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy safe to hand back from a storage implementation.
func (r AgentRun) Clone() AgentRun {
	out := r
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
