// Package interaction implements the Interaction Manager: it decides, per
// configured mode, which agent class runs and what tool provider it sees,
// owns AgentRun record lifecycle at the boundary between an outside caller
// and the Agent Run Loop, and exposes the continuation and
// credential-rotation entry points spec.md §4.6 names. Grounded on the
// teacher's runtime.go registry (RegisterAgent/RegisterToolset/Agent/
// Toolset/RunPolicy), restricted to the three modes spec.md defines instead
// of the teacher's broader codegen-driven agent registry.
package interaction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentcore/core/agent"
	ctxmgr "github.com/agentcore/core/context"
	"github.com/agentcore/core/delegate"
	"github.com/agentcore/core/hooks"
	"github.com/agentcore/core/message"
	"github.com/agentcore/core/model"
	"github.com/agentcore/core/storage"
	"github.com/agentcore/core/stream"
	"github.com/agentcore/core/telemetry"
	"github.com/agentcore/core/toolexec"
)

// Mode selects which of the three wiring strategies spec.md §4.6 describes
// an Interaction Manager applies.
type Mode string

const (
	ModeGenericOpenAPI      Mode = "genericOpenApi"
	ModeHierarchicalPlanner Mode = "hierarchicalPlanner"
	ModeToolsetsRouter      Mode = "toolsetsRouter"
)

// AgentClass identifies which agent.Loop configuration a run executes
// under. It is persisted onto AgentRun.AgentType so a later continuation
// resolves back to the same Loop.
type AgentClass string

const (
	AgentClassBase    AgentClass = "base"
	AgentClassPlanner AgentClass = "planner"
)

// CommonDeps are the collaborators shared by every mode's agent.Loop
// construction.
type CommonDeps struct {
	Threads    storage.ThreadStorage
	Messages   storage.MessageStorage
	Runs       storage.AgentRunStorage
	Bus        hooks.Bus
	ContextMgr *ctxmgr.Manager
	Model      model.Client
	Logger     telemetry.Logger
}

func (d CommonDeps) loopDeps(toolProvider toolexec.Provider, systemPrompt string) agent.Dependencies {
	return agent.Dependencies{
		Threads:      d.Threads,
		Messages:     d.Messages,
		Runs:         d.Runs,
		Bus:          d.Bus,
		ContextMgr:   d.ContextMgr,
		ToolExecutor: toolexec.New(toolProvider),
		ToolProvider: toolProvider,
		Model:        d.Model,
		Processor:    stream.New(),
		Logger:       d.Logger,
		SystemPrompt: systemPrompt,
	}
}

// Manager wires one configured Mode onto one or two agent.Loop instances
// (a hierarchicalPlanner Manager may hold both a planner and a fallback
// base Loop) and tracks AgentRun lifecycle for callers outside the core.
type Manager struct {
	deps         CommonDeps
	mode         Mode
	defaultClass AgentClass
	base         *agent.Loop
	planner      *agent.Loop
}

// NewGenericOpenAPI builds a Manager for spec.md's genericOpenApi mode: a
// single opaque tool provider built externally from an OpenAPI spec, run by
// the Base agent class.
func NewGenericOpenAPI(deps CommonDeps, provider toolexec.Provider, systemPrompt string) *Manager {
	return &Manager{
		deps:         deps,
		mode:         ModeGenericOpenAPI,
		defaultClass: AgentClassBase,
		base:         agent.New(deps.loopDeps(provider, systemPrompt)),
	}
}

// NewToolsetsRouter builds a Manager for spec.md's (legacy) toolsetsRouter
// mode: a single synthetic router tool whose parameters name a toolset and
// a tool within it.
func NewToolsetsRouter(deps CommonDeps, registry ToolsetRegistry, systemPrompt string) *Manager {
	provider := RouterProvider{tool: NewRouterTool(registry)}
	return &Manager{
		deps:         deps,
		mode:         ModeToolsetsRouter,
		defaultClass: AgentClassBase,
		base:         agent.New(deps.loopDeps(provider, systemPrompt)),
	}
}

// HierarchicalPlannerConfig configures NewHierarchicalPlanner.
type HierarchicalPlannerConfig struct {
	// Orchestrator resolves specialistId -> Specialist for the Delegate tool.
	Orchestrator delegate.Registry
	// DelegateContextConfig tunes each delegated worker's isolated Context
	// Manager.
	DelegateContextConfig delegate.ContextConfig
	// PlannerSystemPrompt is the Planning Agent's system prompt, used when
	// the caller does not override the agent class.
	PlannerSystemPrompt string
	// MasterProvider aggregates every specialist's tools for the fallback
	// path (the caller explicitly requested the Base class instead of the
	// planner).
	MasterProvider toolexec.Provider
	// FallbackSystemPrompt is the Base agent's system prompt on the
	// fallback path.
	FallbackSystemPrompt string
}

// NewHierarchicalPlanner builds a Manager for spec.md's hierarchicalPlanner
// mode: by default a Planning Agent sees only the Delegate-to-Specialist
// tool wired to cfg.Orchestrator; if the caller overrides the agent class to
// Base, that run instead sees cfg.MasterProvider (the aggregated union of
// every specialist's tools) under cfg.FallbackSystemPrompt.
func NewHierarchicalPlanner(deps CommonDeps, cfg HierarchicalPlannerConfig) *Manager {
	delegateTool := delegate.New(cfg.Orchestrator, deps.Model, cfg.DelegateContextConfig, deps.Logger, deps.Bus)
	planner := agent.New(deps.loopDeps(delegateOnlyProvider{tool: delegateTool}, cfg.PlannerSystemPrompt))

	m := &Manager{
		deps:         deps,
		mode:         ModeHierarchicalPlanner,
		defaultClass: AgentClassPlanner,
		planner:      planner,
	}
	if cfg.MasterProvider != nil {
		m.base = agent.New(deps.loopDeps(cfg.MasterProvider, cfg.FallbackSystemPrompt))
	}
	return m
}

func (m *Manager) loopFor(class AgentClass) (*agent.Loop, bool) {
	switch class {
	case AgentClassPlanner:
		if m.planner == nil {
			return nil, false
		}
		return m.planner, true
	default:
		if m.base == nil {
			return nil, false
		}
		return m.base, true
	}
}

// StartRun creates a new AgentRun record against threadID and drives it to
// completion or a requires_action pause under the given agent class (pass
// "" to use the mode's default class). Per spec.md §4.6, if the run is still
// in a non-terminal, non-requires_action state after the Loop returns, it is
// forced to failed{abnormal_termination}.
func (m *Manager) StartRun(ctx context.Context, threadID string, class AgentClass, cfg message.RunConfig, userMessage string) (message.AgentRun, error) {
	if class == "" {
		class = m.defaultClass
	}
	loop, ok := m.loopFor(class)
	if !ok {
		return message.AgentRun{}, fmt.Errorf("interaction: agent class %q is not configured for mode %q", class, m.mode)
	}

	run, err := m.deps.Runs.CreateRun(ctx, message.AgentRun{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		AgentType: string(class),
		Status:    message.RunStatusQueued,
		Config:    cfg.WithDefaults(),
	})
	if err != nil {
		return message.AgentRun{}, fmt.Errorf("interaction: create run: %w", err)
	}

	final, err := loop.Run(ctx, run, []message.Message{{Role: message.RoleUser, Content: userMessage}})
	if err != nil {
		return message.AgentRun{}, fmt.Errorf("interaction: run: %w", err)
	}
	return m.forceTerminalIfAbandoned(ctx, final), nil
}

// ContinueWithToolOutputs implements spec.md §4.6's
// continueAgentRunWithToolOutputs: it verifies runID exists and is paused in
// requires_action, then resumes the agent class it was originally started
// under.
func (m *Manager) ContinueWithToolOutputs(ctx context.Context, runID string, outputs []message.Message) (message.AgentRun, error) {
	run, err := m.deps.Runs.GetRun(ctx, runID)
	if err != nil {
		return message.AgentRun{}, fmt.Errorf("interaction: get run: %w", err)
	}
	if run.Status != message.RunStatusRequiresAction {
		return message.AgentRun{}, fmt.Errorf("interaction: run %s is not in requires_action (status=%s)", runID, run.Status)
	}

	loop, ok := m.loopFor(AgentClass(run.AgentType))
	if !ok {
		return message.AgentRun{}, fmt.Errorf("interaction: agent class %q is not configured for mode %q", run.AgentType, m.mode)
	}

	final, err := loop.SubmitToolOutputs(ctx, run, outputs)
	if err != nil {
		return message.AgentRun{}, fmt.Errorf("interaction: submit tool outputs: %w", err)
	}
	return m.forceTerminalIfAbandoned(ctx, final), nil
}

// forceTerminalIfAbandoned implements spec.md §4.6's "after the agent
// generator ends, if the record is still in a non-terminal state, force it
// to failed{abnormal_termination}" rule.
func (m *Manager) forceTerminalIfAbandoned(ctx context.Context, run message.AgentRun) message.AgentRun {
	if run.Status.Terminal() || run.Status == message.RunStatusRequiresAction {
		return run
	}
	run.Status = message.RunStatusFailed
	run.LastError = "abnormal_termination"
	updated, err := m.deps.Runs.UpdateRun(ctx, run)
	if err != nil {
		m.deps.Logger.Error(ctx, "interaction: force abnormal termination failed", "runId", run.ID, "err", err)
		return run
	}
	return updated
}

// RotateCredentials implements spec.md §4.6's authentication-rotation
// callback: rotate reports whether it actually changed any credential; if it
// did, every tool provider named in providers is re-initialized so the
// rotation takes effect on the next tool call.
func (m *Manager) RotateCredentials(ctx context.Context, rotate func(ctx context.Context) (bool, error), providers ...toolexec.Provider) error {
	changed, err := rotate(ctx)
	if err != nil {
		return fmt.Errorf("interaction: rotate credentials: %w", err)
	}
	if !changed {
		return nil
	}
	for _, p := range providers {
		if err := p.EnsureInitialized(ctx); err != nil {
			return fmt.Errorf("interaction: re-initialize tool provider: %w", err)
		}
	}
	return nil
}

// ToolsetRegistry looks up a named toolset's Provider for toolsetsRouter
// mode.
type ToolsetRegistry interface {
	Toolset(id string) (toolexec.Provider, bool)
}

// MapToolsetRegistry is the in-memory default ToolsetRegistry.
type MapToolsetRegistry map[string]toolexec.Provider

// Toolset implements ToolsetRegistry.
func (m MapToolsetRegistry) Toolset(id string) (toolexec.Provider, bool) {
	p, ok := m[id]
	return p, ok
}

// RouterToolName is the single synthetic tool toolsetsRouter mode exposes.
const RouterToolName = "routeToTool"

// RouterTool dispatches {toolSetId, toolName, toolParameters} to the named
// tool within the named toolset.
type RouterTool struct {
	registry ToolsetRegistry
}

// NewRouterTool constructs a RouterTool backed by registry.
func NewRouterTool(registry ToolsetRegistry) *RouterTool {
	return &RouterTool{registry: registry}
}

// Definition implements toolexec.Tool.
func (t *RouterTool) Definition() message.ToolDefinition {
	return message.ToolDefinition{
		Name:        RouterToolName,
		Description: "Route a call to a named tool within a named toolset.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"toolSetId": {"type": "string"},
				"toolName": {"type": "string"},
				"toolParameters": {"type": "object"}
			},
			"required": ["toolSetId", "toolName"]
		}`),
	}
}

type routeArgs struct {
	ToolSetID      string          `json:"toolSetId"`
	ToolName       string          `json:"toolName"`
	ToolParameters json.RawMessage `json:"toolParameters"`
}

// Execute implements toolexec.Tool.
func (t *RouterTool) Execute(ctx context.Context, raw json.RawMessage, agentCtx toolexec.Context) (message.ToolResult, error) {
	var args routeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return message.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	provider, ok := t.registry.Toolset(args.ToolSetID)
	if !ok {
		return message.ToolResult{Success: false, Error: fmt.Sprintf("unknown toolset %q", args.ToolSetID)}, nil
	}
	tool, ok := provider.Tool(args.ToolName)
	if !ok {
		return message.ToolResult{Success: false, Error: fmt.Sprintf("unknown tool %q in toolset %q", args.ToolName, args.ToolSetID)}, nil
	}
	params := args.ToolParameters
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return tool.Execute(ctx, params, agentCtx)
}

// RouterProvider exposes only a RouterTool to the agent, per toolsetsRouter
// mode's "single synthetic router tool" contract.
type RouterProvider struct {
	tool *RouterTool
}

// Tools implements toolexec.Provider.
func (p RouterProvider) Tools() []toolexec.Tool { return []toolexec.Tool{p.tool} }

// Tool implements toolexec.Provider.
func (p RouterProvider) Tool(name string) (toolexec.Tool, bool) {
	if name == RouterToolName {
		return p.tool, true
	}
	return nil, false
}

// EnsureInitialized implements toolexec.Provider.
func (p RouterProvider) EnsureInitialized(context.Context) error { return nil }

// delegateOnlyProvider exposes a single Delegate-to-Specialist tool, the
// Planning Agent's tool provider in hierarchicalPlanner mode.
type delegateOnlyProvider struct {
	tool *delegate.Tool
}

func (p delegateOnlyProvider) Tools() []toolexec.Tool { return []toolexec.Tool{p.tool} }

func (p delegateOnlyProvider) Tool(name string) (toolexec.Tool, bool) {
	if name == delegate.ToolName {
		return p.tool, true
	}
	return nil, false
}

func (p delegateOnlyProvider) EnsureInitialized(context.Context) error { return nil }

// AggregateProvider exposes the union of several Providers' tools, used for
// hierarchicalPlanner mode's "aggregated master tool provider" fallback
// path. A later provider's tool silently wins a name collision, matching
// how the teacher's toolset registry treats a duplicate registration.
type AggregateProvider struct {
	providers []toolexec.Provider
}

// NewAggregateProvider constructs an AggregateProvider over providers.
func NewAggregateProvider(providers ...toolexec.Provider) *AggregateProvider {
	return &AggregateProvider{providers: providers}
}

// Tools implements toolexec.Provider.
func (p *AggregateProvider) Tools() []toolexec.Tool {
	seen := make(map[string]toolexec.Tool)
	var order []string
	for _, prov := range p.providers {
		for _, tool := range prov.Tools() {
			name := tool.Definition().Name
			if _, ok := seen[name]; !ok {
				order = append(order, name)
			}
			seen[name] = tool
		}
	}
	out := make([]toolexec.Tool, 0, len(order))
	for _, name := range order {
		out = append(out, seen[name])
	}
	return out
}

// Tool implements toolexec.Provider.
func (p *AggregateProvider) Tool(name string) (toolexec.Tool, bool) {
	var found toolexec.Tool
	ok := false
	for _, prov := range p.providers {
		if tool, present := prov.Tool(name); present {
			found = tool
			ok = true
		}
	}
	return found, ok
}

// EnsureInitialized implements toolexec.Provider, initializing every
// constituent provider.
func (p *AggregateProvider) EnsureInitialized(ctx context.Context) error {
	for _, prov := range p.providers {
		if err := prov.EnsureInitialized(ctx); err != nil {
			return err
		}
	}
	return nil
}
