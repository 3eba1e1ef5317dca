package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/errgroup"

	"github.com/agentcore/core/message"
)

// DispatchStrategy selects how a batch of calls is run. Either strategy
// returns results in the same order as the input calls.
type DispatchStrategy string

const (
	DispatchSequential DispatchStrategy = "sequential"
	DispatchParallel   DispatchStrategy = "parallel"
)

// Executor validates a batch of tool calls against their tool's parameter
// schema (resolving local $refs first) and dispatches the ones that pass,
// sequentially or in parallel per strategy. It never returns an error from
// Execute itself: every call, valid or not, fills exactly one result slot.
type Executor struct {
	provider Provider
}

// New constructs an Executor backed by provider.
func New(provider Provider) *Executor {
	return &Executor{provider: provider}
}

// Execute validates and runs every call in calls, returning one ToolResult
// per call in input order regardless of strategy.
func (e *Executor) Execute(ctx context.Context, calls []message.ToolCall, agentCtx Context, strategy DispatchStrategy) []message.ToolResult {
	results := make([]message.ToolResult, len(calls))

	run := func(i int) {
		results[i] = e.executeOne(ctx, calls[i], Context{
			RunID: agentCtx.RunID, ThreadID: agentCtx.ThreadID, ToolCallID: calls[i].ID, ParentRunConfig: agentCtx.ParentRunConfig,
		})
	}

	if strategy != DispatchParallel {
		for i := range calls {
			run(i)
		}
		return results
	}

	g, _ := errgroup.WithContext(ctx)
	for i := range calls {
		i := i
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// executeOne runs spec.md §4.4's seven-step validation algorithm for a
// single call, never returning an error: every failure mode becomes a
// non-success ToolResult instead.
func (e *Executor) executeOne(ctx context.Context, call message.ToolCall, agentCtx Context) message.ToolResult {
	// 1. Look up the tool.
	tool, ok := e.provider.Tool(call.Name)
	if !ok {
		return failResult(call.ID, errorNameToolNotFound, fmt.Sprintf("unknown tool %q", call.Name), &RetryHint{Reason: RetryReasonToolNotFound, Tool: call.Name})
	}

	// 2. Parse arguments as JSON.
	var args any
	rawArgs := call.Arguments
	if strings.TrimSpace(rawArgs) == "" {
		rawArgs = "{}"
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return failResult(call.ID, errorNameValidation, fmt.Sprintf("invalid JSON arguments: %v", err), &RetryHint{
			Reason: RetryReasonInvalidArguments, Tool: call.Name,
		}, map[string]any{"rawArguments": call.Arguments})
	}

	def := tool.Definition()

	// 3/4. Resolve schema ($ref inlining) and validate.
	if len(def.Parameters) > 0 {
		if errs, missing := e.validate(def, tool, args); len(errs) > 0 {
			reason := RetryReasonInvalidArguments
			if len(missing) > 0 {
				reason = RetryReasonMissingFields
			}
			return failResult(call.ID, errorNameValidation, strings.Join(errs, "; "), &RetryHint{
				Reason: reason, Tool: call.Name, MissingFields: missing,
			}, map[string]any{"validationErrors": errs})
		}
	}

	// 7. Execute.
	rawArgsMsg, _ := json.Marshal(args)
	result, err := tool.Execute(ctx, rawArgsMsg, agentCtx)
	if err != nil {
		return failResult(call.ID, errorNameExecution, err.Error(), nil)
	}
	result.ToolCallID = call.ID
	return result
}

// validate compiles def.Parameters (after resolving local $refs against the
// tool's optional OpenAPI-like components.schemas section) and runs it
// against args, returning human-readable error strings and the subset that
// are missing-required-property failures.
func (e *Executor) validate(def message.ToolDefinition, tool Tool, args any) (errs []string, missing []string) {
	var raw map[string]any
	if err := json.Unmarshal(def.Parameters, &raw); err != nil {
		return []string{fmt.Sprintf("tool %q has an invalid parameters schema: %v", def.Name, err)}, nil
	}

	var spec json.RawMessage
	if provider, ok := tool.(OpenAPISpecProvider); ok {
		spec = provider.OpenAPISpec()
	}
	reg, err := newRegistry(spec)
	if err != nil {
		return []string{err.Error()}, nil
	}
	resolved := resolveSchema(raw, reg)

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	resourceID := "agentcore://tool/" + def.Name + "/parameters.json"
	if err := compiler.AddResource(resourceID, resolved); err != nil {
		return []string{fmt.Sprintf("tool %q: compile schema: %v", def.Name, err)}, nil
	}
	schema, err := compiler.Compile(resourceID)
	if err != nil {
		return []string{fmt.Sprintf("tool %q: compile schema: %v", def.Name, err)}, nil
	}

	if err := schema.Validate(args); err != nil {
		valErr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return []string{err.Error()}, nil
		}
		return flattenValidationErrors(valErr)
	}
	return nil, nil
}

// flattenValidationErrors walks a jsonschema.ValidationError's cause tree,
// producing one "<instancePath> <message> (schema path: <schemaPath>)" line
// per leaf per spec.md §4.4 step 5, plus the list of required-property names
// any leaf reports missing.
func flattenValidationErrors(ve *jsonschema.ValidationError) (errs []string, missing []string) {
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			instancePath := "/" + strings.Join(e.InstanceLocation, "/")
			errs = append(errs, fmt.Sprintf("%s %s (schema path: %s)", instancePath, e.Error(), e.SchemaURL))
			missing = append(missing, missingPropertyNames(e.Error())...)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	sort.Strings(errs)
	return errs, missing
}

// missingPropertyNames extracts property names out of a "required" keyword
// failure's rendered message (jsonschema/v6 phrases it as
// `missing properties: 'a', 'b'`), so the RetryHint's MissingFields can name
// exactly what the model omitted without depending on internal error-kind
// types.
func missingPropertyNames(msg string) []string {
	idx := strings.Index(msg, "missing properties:")
	if idx < 0 {
		return nil
	}
	rest := msg[idx+len("missing properties:"):]
	var names []string
	for _, field := range strings.Split(rest, ",") {
		field = strings.TrimSpace(field)
		field = strings.Trim(field, "'\"")
		if field != "" {
			names = append(names, field)
		}
	}
	return names
}

func failResult(toolCallID, errorName, msg string, hint *RetryHint, extra ...map[string]any) message.ToolResult {
	meta := map[string]any{"errorName": errorName}
	if hint != nil {
		meta["retryHint"] = hint
	}
	for _, m := range extra {
		for k, v := range m {
			meta[k] = v
		}
	}
	return message.ToolResult{ToolCallID: toolCallID, Success: false, Error: msg, Metadata: meta}
}
