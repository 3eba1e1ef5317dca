// Package delegate implements the Delegate-to-Specialist tool: a
// toolexec.Tool that, when invoked by a Planning Agent, spawns an isolated
// worker agent.Loop run against a named specialist's toolset and returns its
// final answer (or error) as a ToolResult. Grounded on the teacher's
// agent-as-tool pattern (agents/runtime/runtime's
// defaultAgentToolExecute/ExecuteAgentInline), simplified to a synchronous
// in-process call since durable/replayable workflow execution is out of
// scope here.
package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/core/agent"
	ctxmgr "github.com/agentcore/core/context"
	"github.com/agentcore/core/hooks"
	"github.com/agentcore/core/message"
	"github.com/agentcore/core/model"
	"github.com/agentcore/core/storage/inmem"
	"github.com/agentcore/core/stream"
	"github.com/agentcore/core/telemetry"
	"github.com/agentcore/core/toolexec"
)

// ToolName is the fixed name the Delegate-to-Specialist tool is registered
// under in any tool provider that exposes it.
const ToolName = "delegateToSpecialistAgent"

// Specialist is one named capability a Planning Agent may delegate to: its
// own tool provider and the system prompt describing its toolset.
type Specialist struct {
	ID           string
	ToolProvider toolexec.Provider
	SystemPrompt string
}

// Registry looks up a Specialist by id.
type Registry interface {
	Specialist(id string) (Specialist, bool)
}

// MapRegistry is the in-memory default Registry.
type MapRegistry map[string]Specialist

// Specialist implements Registry.
func (m MapRegistry) Specialist(id string) (Specialist, bool) {
	s, ok := m[id]
	return s, ok
}

// ContextConfig carries the Context Manager tuning the worker's isolated
// Manager is constructed with; it mirrors the parent's own settings.
type ContextConfig struct {
	TokenThreshold      int
	SummaryTargetTokens int
	ReservedTokens      int
	SummarizationModel  string
}

// Tool is the Delegate-to-Specialist toolexec.Tool.
type Tool struct {
	registry Registry
	model    model.Client
	ctxCfg   ContextConfig
	logger   telemetry.Logger
	// parentBus, when set, receives agent.sub_agent.invocation.started
	// immediately on entry, before the worker run begins; the worker's own
	// event stream is otherwise never merged into it.
	parentBus hooks.Bus
}

// New constructs a delegate Tool. parentBus may be nil if the caller does
// not need EventSubAgentInvocationStarted observability.
func New(registry Registry, client model.Client, ctxCfg ContextConfig, logger telemetry.Logger, parentBus hooks.Bus) *Tool {
	return &Tool{registry: registry, model: client, ctxCfg: ctxCfg, logger: logger, parentBus: parentBus}
}

// Definition implements toolexec.Tool.
func (t *Tool) Definition() message.ToolDefinition {
	return message.ToolDefinition{
		Name:        ToolName,
		Description: "Delegate a sub-task to a named specialist agent and return its final answer.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"specialistId": {"type": "string", "description": "Identifies the specialist's toolset."},
				"subTaskDescription": {"type": "string", "description": "What the specialist should accomplish."},
				"requiredOutputFormat": {"type": "string", "description": "Optional format instruction for the specialist's final answer."}
			},
			"required": ["specialistId", "subTaskDescription"]
		}`),
	}
}

type delegateArgs struct {
	SpecialistID         string `json:"specialistId"`
	SubTaskDescription   string `json:"subTaskDescription"`
	RequiredOutputFormat string `json:"requiredOutputFormat,omitempty"`
}

// Execute implements toolexec.Tool: it spawns an isolated worker run and
// maps its terminal state to a ToolResult per spec's isolation rules.
func (t *Tool) Execute(ctx context.Context, raw json.RawMessage, agentCtx toolexec.Context) (message.ToolResult, error) {
	var args delegateArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return message.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	specialist, ok := t.registry.Specialist(args.SpecialistID)
	if !ok {
		return message.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("unknown specialist %q", args.SpecialistID),
			Metadata: map[string]any{
				"specialistId": args.SpecialistID,
			},
		}, nil
	}

	subRunID := uuid.NewString()
	if t.parentBus != nil {
		_ = t.parentBus.Publish(ctx, message.Event{
			Type:      message.EventSubAgentInvocationStarted,
			Timestamp: time.Now(),
			RunID:     agentCtx.RunID,
			ThreadID:  agentCtx.ThreadID,
			Data: message.SubAgentInvocationStartedData{
				ToolCallID:   agentCtx.ToolCallID,
				SpecialistID: args.SpecialistID,
				SubRunID:     subRunID,
			},
		})
	}

	meta := map[string]any{
		"subAgentRunId":      subRunID,
		"specialistId":       args.SpecialistID,
		"subTaskDescription": args.SubTaskDescription,
	}

	store := inmem.New()
	workerThread, err := store.CreateThread(ctx, message.Thread{
		ID: uuid.NewString(),
		Metadata: map[string]any{
			"parentRunId":      agentCtx.RunID,
			"parentThreadId":   agentCtx.ThreadID,
			"specialistId":     args.SpecialistID,
			"parentToolCallId": agentCtx.ToolCallID,
		},
	})
	if err != nil {
		meta["subAgentStatus"] = string(message.RunStatusFailed)
		return message.ToolResult{Success: false, Error: err.Error(), Metadata: meta}, nil
	}

	systemPrompt := specialist.SystemPrompt
	if args.RequiredOutputFormat != "" {
		systemPrompt += "\n\nRespond using this output format: " + args.RequiredOutputFormat
	}

	workerConfig := agentCtx.ParentRunConfig.Derived()
	run, err := store.CreateRun(ctx, message.AgentRun{
		ID:        subRunID,
		ThreadID:  workerThread.ID,
		AgentType: "specialist:" + args.SpecialistID,
		Status:    message.RunStatusQueued,
		Config:    workerConfig,
	})
	if err != nil {
		meta["subAgentStatus"] = string(message.RunStatusFailed)
		return message.ToolResult{Success: false, Error: err.Error(), Metadata: meta}, nil
	}

	var finalText string
	workerBus := hooks.NewBus()
	_, _ = workerBus.Register(hooks.SubscriberFunc(func(_ context.Context, ev message.Event) error {
		if ev.Type == message.EventRunCompleted {
			if data, ok := ev.Data.(message.RunCompletedData); ok && data.FinalMessage != nil {
				finalText = data.FinalMessage.Content
			}
		}
		return nil
	}))

	mgr := ctxmgr.New(store, t.model, t.logger, t.ctxCfg.TokenThreshold, t.ctxCfg.SummaryTargetTokens, t.ctxCfg.ReservedTokens, t.ctxCfg.SummarizationModel)
	worker := agent.New(agent.Dependencies{
		Threads:      store,
		Messages:     store,
		Runs:         store,
		Bus:          workerBus,
		ContextMgr:   mgr,
		ToolExecutor: toolexec.New(specialist.ToolProvider),
		ToolProvider: specialist.ToolProvider,
		Model:        t.model,
		Processor:    stream.New(),
		Logger:       t.logger,
		SystemPrompt: systemPrompt,
	})

	final, err := worker.Run(ctx, run, []message.Message{
		{Role: message.RoleUser, Content: args.SubTaskDescription},
	})
	if err != nil {
		meta["subAgentStatus"] = string(message.RunStatusFailed)
		return message.ToolResult{Success: false, Error: err.Error(), Metadata: meta, ToolCallID: agentCtx.ToolCallID}, nil
	}

	meta["subAgentStatus"] = string(final.Status)
	switch final.Status {
	case message.RunStatusCompleted:
		return message.ToolResult{Success: true, Data: finalText, Metadata: meta, ToolCallID: agentCtx.ToolCallID}, nil
	case message.RunStatusRequiresAction:
		meta["subAgentStatus"] = "stopped_requiring_action"
		return message.ToolResult{
			Success: false, Error: "specialist stopped requiring further tool output", Metadata: meta, ToolCallID: agentCtx.ToolCallID,
		}, nil
	default:
		return message.ToolResult{Success: false, Error: final.LastError, Metadata: meta, ToolCallID: agentCtx.ToolCallID}, nil
	}
}
