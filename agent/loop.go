// Package agent implements the Agent Run Loop: the turn-by-turn driver that
// persists input messages, assembles bounded context, streams an LLM
// response, dispatches any tool calls the model requested, and feeds their
// results back in as the next turn's input, until the run reaches a
// terminal or paused state. The Base and Planning agents described in
// spec.md §4.1/§4.2 are the same Loop under different configuration — a
// different tool Provider and system prompt — never different code.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	ctxmgr "github.com/agentcore/core/context"
	"github.com/agentcore/core/hooks"
	"github.com/agentcore/core/message"
	"github.com/agentcore/core/model"
	"github.com/agentcore/core/storage"
	"github.com/agentcore/core/stream"
	"github.com/agentcore/core/telemetry"
	"github.com/agentcore/core/toolexec"
)

// safetyMargin is added to MaxToolCallContinuations to get the hard
// iteration ceiling spec.md §4.1 step 2 enforces, distinct from the
// "requires_action" pause threshold at exactly MaxToolCallContinuations.
const safetyMargin = 5

// turnCountKey is the AgentRun.Metadata key the loop uses to persist its
// safety counter across SubmitToolOutputs resumptions of a paused run.
const turnCountKey = "_turnCount"

// Dependencies are the collaborators a Loop needs; every field is required
// except Logger, which defaults to a noop implementation.
type Dependencies struct {
	Threads      storage.ThreadStorage
	Messages     storage.MessageStorage
	Runs         storage.AgentRunStorage
	Bus          hooks.Bus
	ContextMgr   *ctxmgr.Manager
	ToolExecutor *toolexec.Executor
	ToolProvider toolexec.Provider
	Model        model.Client
	Processor    *stream.Processor
	Logger       telemetry.Logger
	SystemPrompt string
}

// Loop drives a single AgentRun. A Loop instance is reusable across runs;
// per-run state lives in the message.AgentRun passed to Run, except for the
// cancellation flags, which the Loop keeps keyed by run id.
type Loop struct {
	deps      Dependencies
	cancelled map[string]*bool
}

// New constructs a Loop. It panics if a required dependency is nil.
func New(deps Dependencies) *Loop {
	if deps.Threads == nil || deps.Messages == nil || deps.Runs == nil || deps.Bus == nil ||
		deps.ContextMgr == nil || deps.ToolExecutor == nil || deps.ToolProvider == nil ||
		deps.Model == nil || deps.Processor == nil {
		panic("agent: all Dependencies fields except Logger are required")
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}
	return &Loop{deps: deps, cancelled: make(map[string]*bool)}
}

// CancelRun cooperatively requests that runID stop at its next checkpoint.
func (l *Loop) CancelRun(runID string) {
	if flag, ok := l.cancelled[runID]; ok {
		*flag = true
		return
	}
	v := true
	l.cancelled[runID] = &v
}

func (l *Loop) cancelFlag(runID string) *bool {
	if flag, ok := l.cancelled[runID]; ok {
		return flag
	}
	v := false
	l.cancelled[runID] = &v
	return &v
}

// Run starts or continues run, persisting and processing initialTurnMessages
// as the first turn's input, until the run reaches a terminal state or
// pauses in requires_action. It returns the run's final stored state.
func (l *Loop) Run(ctx context.Context, run message.AgentRun, initialTurnMessages []message.Message) (message.AgentRun, error) {
	return l.drive(ctx, run, initialTurnMessages)
}

// SubmitToolOutputs resumes a run paused in requires_action, re-injecting
// outputs as the next turn's input. Behaves identically to Run afterward.
func (l *Loop) SubmitToolOutputs(ctx context.Context, run message.AgentRun, outputs []message.Message) (message.AgentRun, error) {
	if run.Status != message.RunStatusRequiresAction {
		return run, fmt.Errorf("agent: run %s is not in requires_action (status=%s)", run.ID, run.Status)
	}
	run = l.setStatus(ctx, run, message.RunStatusInProgress)
	return l.drive(ctx, run, outputs)
}

func (l *Loop) drive(ctx context.Context, run message.AgentRun, newMessages []message.Message) (message.AgentRun, error) {
	flag := l.cancelFlag(run.ID)
	turnCount := intMetadata(run, turnCountKey)

	for {
		// Step 1: cancellation checkpoint, between turns.
		if *flag {
			run = l.setStatus(ctx, run, message.RunStatusCancelling)
			run = l.setStatus(ctx, run, message.RunStatusCancelled)
			return run, nil
		}

		// Step 2: safety counter.
		turnCount++
		run = l.setMetadata(ctx, run, turnCountKey, turnCount)
		if turnCount > run.Config.MaxToolCallContinuations+safetyMargin {
			return l.fail(ctx, run, "iteration_limit_exceeded", "exceeded maximum turn count"), nil
		}

		var err error
		var cancelled bool
		run, newMessages, cancelled, err = l.turn(ctx, run, newMessages, turnCount, flag)
		if err != nil {
			return l.fail(ctx, run, "internal_error", err.Error()), nil
		}
		if cancelled {
			run = l.setStatus(ctx, run, message.RunStatusCancelling)
			run = l.setStatus(ctx, run, message.RunStatusCancelled)
			return run, nil
		}
		if run.Status.Terminal() || run.Status == message.RunStatusRequiresAction {
			return run, nil
		}
	}
}

// turn runs spec.md §4.1 steps 3-9 once. It returns the run (possibly
// transitioned to requires_action/failed/completed), the next turn's input
// messages if the run is to continue looping, and whether a cancellation
// checkpoint inside the turn fired (in which case the other two return
// values are not meaningful beyond what's documented at each checkpoint).
func (l *Loop) turn(ctx context.Context, run message.AgentRun, newMessages []message.Message, turnNumber int, flag *bool) (message.AgentRun, []message.Message, bool, error) {
	if run.Status == message.RunStatusQueued {
		run.Status = message.RunStatusInProgress
		l.persistRun(ctx, run)
		l.emit(ctx, run, message.EventRunCreated, message.RunCreatedData{Status: run.Status})
	}
	l.emit(ctx, run, message.EventRunStepCreated, message.RunStepCreatedData{Turn: turnNumber})

	// Step 3: persist new-turn messages.
	for i, msg := range newMessages {
		msg.ThreadID = run.ThreadID
		persisted, err := l.deps.Messages.AppendMessage(ctx, msg)
		if err != nil {
			return run, nil, false, fmt.Errorf("persist new message: %w", err)
		}
		newMessages[i] = persisted
		l.emit(ctx, run, message.EventMessageCreated, message.MessageCompletedData{Message: persisted})
	}

	if len(newMessages) > 0 {
		if err := l.deps.Threads.TouchThread(ctx, run.ThreadID); err != nil {
			l.deps.Logger.Error(ctx, "agent: touch thread failed", "threadId", run.ThreadID, "err", err)
		}
	}

	// Step 4: assemble bounded context. Clears the new-messages buffer by
	// construction: newMessages is not reused after this point.
	outgoing, err := l.deps.ContextMgr.Assemble(ctx, run.ThreadID, l.deps.SystemPrompt, newMessages)
	if err != nil {
		return run, nil, false, fmt.Errorf("assemble context: %w", err)
	}

	// Step 5: tool definitions; coerce toolChoice when none exist.
	tools := make([]message.ToolDefinition, 0, len(l.deps.ToolProvider.Tools()))
	for _, t := range l.deps.ToolProvider.Tools() {
		tools = append(tools, t.Definition())
	}
	toolChoice := run.Config.ToolChoice
	if len(tools) == 0 {
		toolChoice = "none"
	}

	req := model.Request{
		Model:      run.Config.Model,
		System:     l.deps.SystemPrompt,
		Messages:   ctxmgr.ToModelMessages(outgoing),
		Tools:      tools,
		ToolChoice: toolChoice,
	}

	// Step 6: assistant message shell.
	assistantID := newID()
	l.emit(ctx, run, message.EventMessageCreated, message.MessageCompletedData{
		Message: message.Message{ID: assistantID, ThreadID: run.ThreadID, Role: message.RoleAssistant, Metadata: map[string]any{"inProgress": true}},
	})

	// Step 7: stream and process. The cancellation checkpoint here sits
	// between Response Processor events: once flag is set, no further
	// thread.message.delta/tool_call events are emitted for the rest of this
	// stream, and the turn is abandoned without running afterTurn.
	streamer, err := l.deps.Model.Stream(ctx, req)
	if err != nil {
		return l.fail(ctx, run, "llm_stream_error", err.Error()), nil, false, nil
	}
	var text string
	var toolCalls []message.ToolCall
	var processErr error
	result, procErr := l.deps.Processor.Process(ctx, streamer, func(ev stream.Event) {
		if *flag {
			return
		}
		switch ev.Kind {
		case stream.KindTextChunk:
			text += ev.Text
			l.emit(ctx, run, message.EventMessageDelta, message.MessageDeltaData{MessageID: assistantID, Delta: ev.Text})
		case stream.KindToolCallDetected:
			toolCalls = append(toolCalls, ev.ToolCall)
			l.emit(ctx, run, message.EventToolCallCreated, message.ToolCallData{ToolCall: ev.ToolCall})
			l.emit(ctx, run, message.EventToolCallCompletedByLLM, message.ToolCallData{ToolCall: ev.ToolCall})
			l.emit(ctx, run, message.EventMessageDelta, message.MessageDeltaData{MessageID: assistantID, Delta: ev.ToolCall.Arguments})
		case stream.KindError:
			processErr = fmt.Errorf("response processor: %s: %v", ev.Reason, ev.Err)
		}
	})
	_ = streamer.Close()

	if *flag {
		// Persisted as-is with whatever text/tool calls had accumulated
		// before the checkpoint fired; no thread.message.completed and no
		// terminal thread.run.* event follow — drive's caller performs the
		// cancelling -> cancelled transition instead.
		partial := message.Message{
			ID:        assistantID,
			ThreadID:  run.ThreadID,
			Role:      message.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
			CreatedAt: time.Now(),
		}
		if _, err := l.deps.Messages.AppendMessage(ctx, partial); err != nil {
			l.deps.Logger.Error(ctx, "agent: persist cancelled assistant message failed", "runId", run.ID, "err", err)
		}
		return run, nil, true, nil
	}
	if procErr != nil {
		return l.fail(ctx, run, "llm_parse_error", procErr.Error()), nil, false, nil
	}
	if processErr != nil {
		return l.fail(ctx, run, "llm_parse_error", processErr.Error()), nil, false, nil
	}

	// Step 8: persist the finalized assistant message.
	assistantMsg := message.Message{
		ID:        assistantID,
		ThreadID:  run.ThreadID,
		Role:      message.RoleAssistant,
		Content:   text,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
	persistedAssistant, err := l.deps.Messages.AppendMessage(ctx, assistantMsg)
	if err != nil {
		return run, nil, false, fmt.Errorf("persist assistant message: %w", err)
	}
	l.emit(ctx, run, message.EventMessageCompleted, message.MessageCompletedData{Message: persistedAssistant})

	// Step 9: decide next step by finish reason.
	return l.afterTurn(ctx, run, result, toolCalls, flag)
}

func (l *Loop) afterTurn(ctx context.Context, run message.AgentRun, result stream.Result, toolCalls []message.ToolCall, flag *bool) (message.AgentRun, []message.Message, bool, error) {
	switch {
	case len(toolCalls) > 0 && result.FinishReason == "tool_calls":
		turnCount := intMetadata(run, turnCountKey)
		if turnCount >= run.Config.MaxToolCallContinuations {
			run = l.emitStatus(ctx, run, message.RunStatusRequiresAction, message.RequiresActionData{ToolCalls: toolCalls})
			return run, nil, false, nil
		}
		run = l.emitStatus(ctx, run, message.RunStatusRequiresAction, message.RequiresActionData{ToolCalls: toolCalls})

		results, cancelled := l.dispatchTools(ctx, run, toolCalls, flag)
		if cancelled {
			return run, nil, true, nil
		}
		next := make([]message.Message, 0, len(results))
		allFailed := true
		for _, r := range results {
			content := r.Error
			if r.Success {
				allFailed = false
				content = stringifyData(r.Data)
			} else {
				content = "Error: " + content
			}
			next = append(next, message.Message{
				Role:       message.RoleTool,
				Content:    content,
				ToolCallID: r.ToolCallID,
			})
		}
		if allFailed && len(next) == 0 {
			return l.fail(ctx, run, "all_tools_failed", "every tool call failed with no results to return"), nil, false, nil
		}
		run = l.setStatus(ctx, run, message.RunStatusInProgress)
		return run, next, false, nil

	case result.FinishReason == "stop" || result.FinishReason == "":
		run = l.complete(ctx, run, result)
		return run, nil, false, nil

	default:
		return l.fail(ctx, run, "llm_finish_reason_error", fmt.Sprintf("unexpected finish reason %q", result.FinishReason)), nil, false, nil
	}
}

// dispatchTools runs the Tool Executor over toolCalls, emitting per-call
// started/completed events (and sub-agent-invocation-completed for results
// whose metadata marks them as delegated). Sequential dispatch (the default)
// gets a real between-tool-executions cancellation checkpoint: calls go
// through the Tool Executor one at a time so flag can be checked before each;
// a cancellation mid-batch returns whatever results were already gathered
// plus cancelled=true, and the remaining calls never run. Parallel dispatch
// can only be checkpointed before the whole batch starts, since the Tool
// Executor runs it concurrently as one unit.
func (l *Loop) dispatchTools(ctx context.Context, run message.AgentRun, toolCalls []message.ToolCall, flag *bool) ([]message.ToolResult, bool) {
	strategy := toolexec.DispatchStrategy(run.Config.DispatchStrategy)
	agentCtx := toolexec.Context{RunID: run.ID, ThreadID: run.ThreadID, ParentRunConfig: run.Config}

	if strategy == toolexec.DispatchParallel {
		if *flag {
			return nil, true
		}
		for _, tc := range toolCalls {
			l.emit(ctx, run, message.EventToolExecutionStarted, message.ToolExecutionStartedData{ToolCallID: tc.ID, ToolName: tc.Name})
		}
		results := l.deps.ToolExecutor.Execute(ctx, toolCalls, agentCtx, strategy)
		for _, r := range results {
			l.emitToolCompleted(ctx, run, r)
		}
		return results, false
	}

	results := make([]message.ToolResult, 0, len(toolCalls))
	for _, tc := range toolCalls {
		if *flag {
			return results, true
		}
		l.emit(ctx, run, message.EventToolExecutionStarted, message.ToolExecutionStartedData{ToolCallID: tc.ID, ToolName: tc.Name})
		rs := l.deps.ToolExecutor.Execute(ctx, []message.ToolCall{tc}, agentCtx, strategy)
		for _, r := range rs {
			l.emitToolCompleted(ctx, run, r)
		}
		results = append(results, rs...)
	}
	return results, false
}

func (l *Loop) emitToolCompleted(ctx context.Context, run message.AgentRun, r message.ToolResult) {
	l.emit(ctx, run, message.EventToolExecutionCompleted, message.ToolExecutionCompletedData{Result: r})
	if subRunID, ok := r.Metadata["subAgentRunId"].(string); ok && subRunID != "" {
		specialistID, _ := r.Metadata["specialistId"].(string)
		l.emit(ctx, run, message.EventSubAgentInvocationCompleted, message.SubAgentInvocationCompletedData{
			ToolCallID: r.ToolCallID, SpecialistID: specialistID, SubRunID: subRunID, Result: r,
		})
	}
}

func (l *Loop) complete(ctx context.Context, run message.AgentRun, result stream.Result) message.AgentRun {
	var final *message.Message
	if result.Text != "" {
		final = &message.Message{Content: result.Text}
	}
	run = l.emitStatus(ctx, run, message.RunStatusCompleted, message.RunCompletedData{FinalMessage: final})
	run.UpdatedAt = time.Now()
	l.persistRun(ctx, run)
	return run
}

func (l *Loop) fail(ctx context.Context, run message.AgentRun, reason, msg string) message.AgentRun {
	run.LastError = msg
	run = l.emitStatus(ctx, run, message.RunStatusFailed, message.RunFailedData{Reason: reason, Message: msg})
	l.persistRun(ctx, run)
	return run
}

func (l *Loop) setStatus(ctx context.Context, run message.AgentRun, to message.RunStatus) message.AgentRun {
	return l.emitStatus(ctx, run, to, nil)
}

// emitStatus transitions run.Status to to, persists the run, and emits both
// the specific lifecycle event (when data is non-nil) and
// EventRunStatusChanged.
func (l *Loop) emitStatus(ctx context.Context, run message.AgentRun, to message.RunStatus, data any) message.AgentRun {
	from := run.Status
	run.Status = to
	l.persistRun(ctx, run)

	switch to {
	case message.RunStatusRequiresAction:
		l.emit(ctx, run, message.EventRunRequiresAction, data)
	case message.RunStatusFailed:
		l.emit(ctx, run, message.EventRunFailed, data)
	case message.RunStatusCompleted:
		l.emit(ctx, run, message.EventRunCompleted, data)
	}
	if from != to {
		l.emit(ctx, run, message.EventRunStatusChanged, message.RunStatusChangedData{From: from, To: to})
	}
	return run
}

func (l *Loop) setMetadata(ctx context.Context, run message.AgentRun, key string, value any) message.AgentRun {
	if run.Metadata == nil {
		run.Metadata = make(map[string]any)
	}
	run.Metadata[key] = value
	l.persistRun(ctx, run)
	return run
}

func (l *Loop) persistRun(ctx context.Context, run message.AgentRun) {
	if _, err := l.deps.Runs.UpdateRun(ctx, run); err != nil {
		l.deps.Logger.Error(ctx, "agent: persist run failed", "runId", run.ID, "err", err)
	}
}

func (l *Loop) emit(ctx context.Context, run message.AgentRun, eventType message.EventType, data any) {
	ev := message.Event{Type: eventType, Timestamp: time.Now(), RunID: run.ID, ThreadID: run.ThreadID, Data: data}
	if err := l.deps.Runs.AppendEvents(ctx, run.ID, ev); err != nil {
		l.deps.Logger.Error(ctx, "agent: append event failed", "runId", run.ID, "err", err)
	}
	if err := l.deps.Bus.Publish(ctx, ev); err != nil {
		l.deps.Logger.Error(ctx, "agent: publish event failed", "runId", run.ID, "err", err)
	}
}

func intMetadata(run message.AgentRun, key string) int {
	if run.Metadata == nil {
		return 0
	}
	switch v := run.Metadata[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stringifyData(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func newID() string { return uuid.NewString() }
