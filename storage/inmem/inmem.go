// Package inmem is the in-memory default implementation of the storage
// interfaces, required by every deployment that does not wire a durable
// backend. It keeps all state in process memory guarded by a single mutex
// and defensively copies the Messages, AgentRuns, and Event slices it
// returns so a caller mutating one can never corrupt the store. Thread
// records are stored and returned as plain values, so a Thread's Metadata
// map is shared with the caller.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/agentcore/core/message"
	"github.com/agentcore/core/storage"
)

// Store is a single in-memory backend implementing ThreadStorage,
// MessageStorage, and AgentRunStorage together, mirroring how a single
// durable database typically backs all three in production.
type Store struct {
	mu       sync.RWMutex
	threads  map[string]message.Thread
	messages map[string][]message.Message
	runs     map[string]message.AgentRun
	events   map[string][]message.Event
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		threads:  make(map[string]message.Thread),
		messages: make(map[string][]message.Message),
		runs:     make(map[string]message.AgentRun),
		events:   make(map[string][]message.Event),
	}
}

var (
	_ storage.ThreadStorage   = (*Store)(nil)
	_ storage.MessageStorage  = (*Store)(nil)
	_ storage.AgentRunStorage = (*Store)(nil)
)

func (s *Store) CreateThread(_ context.Context, thread message.Thread) (message.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now
	s.threads[thread.ID] = thread
	return thread, nil
}

func (s *Store) GetThread(_ context.Context, threadID string) (message.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return message.Thread{}, storage.ErrThreadNotFound
	}
	return t, nil
}

func (s *Store) TouchThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return storage.ErrThreadNotFound
	}
	t.UpdatedAt = time.Now()
	s.threads[threadID] = t
	return nil
}

func (s *Store) AppendMessage(_ context.Context, msg message.Message) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], msg.Clone())
	return msg, nil
}

func (s *Store) ListMessages(_ context.Context, threadID string, limit int) ([]message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[threadID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	out := make([]message.Message, len(all)-start)
	for i, m := range all[start:] {
		out[i] = m.Clone()
	}
	return out, nil
}

func (s *Store) CreateRun(_ context.Context, run message.AgentRun) (message.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	s.runs[run.ID] = run.Clone()
	return run, nil
}

func (s *Store) GetRun(_ context.Context, runID string) (message.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return message.AgentRun{}, storage.ErrRunNotFound
	}
	return r.Clone(), nil
}

func (s *Store) UpdateRun(_ context.Context, run message.AgentRun) (message.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return message.AgentRun{}, storage.ErrRunNotFound
	}
	run.UpdatedAt = time.Now()
	s.runs[run.ID] = run.Clone()
	return run, nil
}

func (s *Store) AppendEvents(_ context.Context, runID string, events ...message.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[runID] = append(s.events[runID], events...)
	return nil
}

func (s *Store) ListEvents(_ context.Context, runID string) ([]message.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[runID]
	out := make([]message.Event, len(all))
	copy(out, all)
	return out, nil
}
