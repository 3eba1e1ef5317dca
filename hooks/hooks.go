// Package hooks implements the fan-out event bus the Agent Run Loop
// publishes its message.Event stream onto. It decouples event producers (the
// run loop and the Delegate-to-Specialist tool) from whatever consumers a
// caller registers, such as external streaming sinks. The run loop writes
// events to storage directly rather than through a subscriber.
package hooks

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/agentcore/core/message"
)

var errNilSubscriber = errors.New("hooks: nil subscriber")

// Subscriber receives events published to a Bus.
type Subscriber interface {
	HandleEvent(ctx context.Context, event message.Event) error
}

// SubscriberFunc adapts an ordinary function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event message.Event) error

// HandleEvent implements Subscriber by invoking the function.
func (fn SubscriberFunc) HandleEvent(ctx context.Context, event message.Event) error {
	return fn(ctx, event)
}

// Subscription is a handle returned by Bus.Register; closing it stops the
// corresponding subscriber from receiving further events.
type Subscription interface {
	Close() error
}

// Bus publishes events to every currently registered Subscriber. A Bus is
// safe for concurrent use: Publish may run on the goroutine driving an Agent
// Run Loop while Register/Close run on others.
type Bus interface {
	Publish(ctx context.Context, event message.Event) error
	Register(sub Subscriber) (Subscription, error)
}

// InMemoryBus is the default Bus implementation: a synchronous fan-out over
// an in-process subscriber list. Publish calls each subscriber in
// registration order on the caller's goroutine and returns the first error
// encountered, after still having notified every subscriber.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[int]Subscriber
	next int
}

// NewBus constructs an empty InMemoryBus.
func NewBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[int]Subscriber)}
}

// Register adds sub to the bus. The returned Subscription's Close removes it.
// Register rejects a nil subscriber rather than silently accepting a no-op.
func (b *InMemoryBus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errNilSubscriber
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = sub
	return &busSubscription{bus: b, id: id}, nil
}

// Publish delivers event to every registered subscriber. If multiple
// subscribers return errors, Publish returns the first one.
func (b *InMemoryBus) Publish(ctx context.Context, event message.Event) error {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, b.subs[id])
	}
	b.mu.RUnlock()

	var firstErr error
	for _, s := range subs {
		if err := s.HandleEvent(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type busSubscription struct {
	bus *InMemoryBus
	id  int
}

func (s *busSubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}
