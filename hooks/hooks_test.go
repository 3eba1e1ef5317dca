package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/core/message"
)

func TestBusPublishFanOut(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(_ context.Context, _ message.Event) error {
		count++
		return nil
	})
	_, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, message.Event{Type: message.EventRunCreated}))
	require.NoError(t, bus.Publish(ctx, message.Event{Type: message.EventRunCompleted}))
	require.Equal(t, 2, count)
}

func TestBusRegisterNil(t *testing.T) {
	bus := NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	count := 0
	sub := SubscriberFunc(func(_ context.Context, _ message.Event) error {
		count++
		return nil
	})
	subscription, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, message.Event{Type: message.EventRunCreated}))
	require.NoError(t, subscription.Close())
	require.NoError(t, bus.Publish(ctx, message.Event{Type: message.EventRunCompleted}))
	require.Equal(t, 1, count)
}
