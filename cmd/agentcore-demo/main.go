// Command agentcore-demo is a thin CLI wiring binary over the agentcore
// library packages: it loads config, builds a storage backend, an LLM
// client, and a genericOpenApi-mode Interaction Manager with one built-in
// demo tool, then drives a single run from a command-line message. Grounded
// on the teacher's cmd/demo/main.go convention of a minimal runtime.New() +
// RegisterAgent + client.Run wiring example.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	ctxmgr "github.com/agentcore/core/context"
	"github.com/agentcore/core/config"
	"github.com/agentcore/core/hooks"
	"github.com/agentcore/core/interaction"
	"github.com/agentcore/core/message"
	"github.com/agentcore/core/model"
	"github.com/agentcore/core/model/anthropic"
	"github.com/agentcore/core/model/openai"
	"github.com/agentcore/core/storage"
	"github.com/agentcore/core/storage/inmem"
	"github.com/agentcore/core/storage/redisstore"
	"github.com/agentcore/core/telemetry"
	"github.com/agentcore/core/toolexec"
)

func main() {
	configPath := flag.String("config", "", "path to an agentcore TOML config file")
	userMessage := flag.String("message", "What time is it?", "the user message to send")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentcore-demo: load config:", err)
		os.Exit(1)
	}

	logger := telemetry.NewZerologLogger(zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger())

	llm, err := buildModelClient(cfg.Model)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentcore-demo: build model client:", err)
		os.Exit(1)
	}

	threads, messages, runs := buildStorage(cfg.Storage)

	ctxMgr := ctxmgr.New(messages, llm, logger, cfg.Context.TokenThreshold, cfg.Context.SummaryTargetTokens, cfg.Context.ReservedTokens, cfg.Context.SummarizationModel)

	deps := interaction.CommonDeps{
		Threads:    threads,
		Messages:   messages,
		Runs:       runs,
		Bus:        hooks.NewBus(),
		ContextMgr: ctxMgr,
		Model:      llm,
		Logger:     logger,
	}

	mgr := interaction.NewGenericOpenAPI(deps, demoToolProvider{}, "You are a helpful assistant with access to a currentTime tool.")

	ctx := context.Background()
	thread, err := threads.CreateThread(ctx, message.Thread{ID: uuid.NewString()})
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentcore-demo: create thread:", err)
		os.Exit(1)
	}

	runCfg := message.RunConfig{
		MaxToolCallContinuations: cfg.Run.MaxToolCallContinuations,
		ToolChoice:               cfg.Run.ToolChoice,
		DispatchStrategy:         cfg.Run.DispatchStrategy,
	}

	run, err := mgr.StartRun(ctx, thread.ID, "", runCfg, *userMessage)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentcore-demo: run:", err)
		os.Exit(1)
	}

	fmt.Println("RunID:", run.ID)
	fmt.Println("Status:", run.Status)
	if run.Status == message.RunStatusFailed {
		fmt.Println("Error:", run.LastError)
		os.Exit(1)
	}

	history, err := messages.ListMessages(ctx, thread.ID, 0)
	if err == nil && len(history) > 0 {
		fmt.Println("Assistant:", history[len(history)-1].Content)
	}
}

func buildModelClient(cfg config.ModelConfig) (model.Client, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewFromAPIKey(cfg.APIKey, cfg.Name)
	default:
		return anthropic.NewFromAPIKey(cfg.APIKey, cfg.Name)
	}
}

func buildStorage(cfg config.StorageConfig) (storage.ThreadStorage, storage.MessageStorage, storage.AgentRunStorage) {
	store := inmem.New()
	if cfg.Backend != "redis" {
		return store, store, store
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	return store, redisstore.New(rdb, 24*time.Hour), store
}

// demoToolProvider exposes a single currentTime tool so the demo binary has
// something to dispatch through the Tool Executor.
type demoToolProvider struct{}

func (demoToolProvider) Tools() []toolexec.Tool                  { return []toolexec.Tool{currentTimeTool{}} }
func (demoToolProvider) EnsureInitialized(context.Context) error { return nil }

func (demoToolProvider) Tool(name string) (toolexec.Tool, bool) {
	if name == "currentTime" {
		return currentTimeTool{}, true
	}
	return nil, false
}

type currentTimeTool struct{}

func (currentTimeTool) Definition() message.ToolDefinition {
	return message.ToolDefinition{
		Name:        "currentTime",
		Description: "Returns the current UTC time.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}
}

func (currentTimeTool) Execute(context.Context, json.RawMessage, toolexec.Context) (message.ToolResult, error) {
	return message.ToolResult{Success: true, Data: time.Now().UTC().Format(time.RFC3339)}, nil
}
