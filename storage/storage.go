// Package storage defines the three persistence contracts an Agent Run Loop
// depends on: ThreadStorage, MessageStorage, and AgentRunStorage.
// Implementations must be safe for concurrent use, since several runs may
// share one store. This package's inmem subpackage provides the
// required in-memory default; the redisstore subpackage provides a
// Redis-backed MessageStorage for deployments that want message history to
// outlive the process.
package storage

import (
	"context"

	"github.com/agentcore/core/message"
)

// ThreadStorage persists Thread records.
type ThreadStorage interface {
	// CreateThread persists a new thread and returns it with any
	// storage-assigned fields (such as CreatedAt, if unset) filled in.
	CreateThread(ctx context.Context, thread message.Thread) (message.Thread, error)
	// GetThread retrieves a thread by id. Returns ErrThreadNotFound if absent.
	GetThread(ctx context.Context, threadID string) (message.Thread, error)
	// TouchThread updates a thread's UpdatedAt timestamp.
	TouchThread(ctx context.Context, threadID string) error
}

// MessageStorage persists the append-only Message history of a Thread.
type MessageStorage interface {
	// AppendMessage appends msg to its thread's history and returns it with
	// any storage-assigned fields (such as CreatedAt, if unset) populated.
	AppendMessage(ctx context.Context, msg message.Message) (message.Message, error)
	// ListMessages returns a thread's messages in chronological order. limit
	// <= 0 means no limit; otherwise only the most recent limit messages are
	// returned, still in chronological order.
	ListMessages(ctx context.Context, threadID string, limit int) ([]message.Message, error)
}

// AgentRunStorage persists AgentRun records and their event streams.
type AgentRunStorage interface {
	// CreateRun persists a new run and returns it with any storage-assigned
	// fields (such as CreatedAt, if unset) filled in.
	CreateRun(ctx context.Context, run message.AgentRun) (message.AgentRun, error)
	// GetRun retrieves a run by id. Returns ErrRunNotFound if absent.
	GetRun(ctx context.Context, runID string) (message.AgentRun, error)
	// UpdateRun persists the full run record, overwriting the previous one.
	UpdateRun(ctx context.Context, run message.AgentRun) (message.AgentRun, error)
	// AppendEvents appends events to a run's event stream in order.
	AppendEvents(ctx context.Context, runID string, events ...message.Event) error
	// ListEvents returns a run's events in the order they were appended.
	ListEvents(ctx context.Context, runID string) ([]message.Event, error)
}
