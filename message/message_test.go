package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageIsEmpty(t *testing.T) {
	require.True(t, Message{}.IsEmpty())
	require.False(t, Message{Content: "hi"}.IsEmpty())
	require.False(t, Message{ToolCalls: []ToolCall{{ID: "1"}}}.IsEmpty())
}

func TestMessageCloneIsolatesSlicesAndMaps(t *testing.T) {
	orig := Message{
		ID:        "m1",
		ToolCalls: []ToolCall{{ID: "tc1", Name: "search"}},
		Metadata:  map[string]any{"k": "v"},
	}

	cloned := orig.Clone()
	cloned.ToolCalls[0].Name = "mutated"
	cloned.Metadata["k"] = "mutated"

	assert.Equal(t, "search", orig.ToolCalls[0].Name)
	assert.Equal(t, "v", orig.Metadata["k"])
}

func TestRunConfigWithDefaults(t *testing.T) {
	cfg := RunConfig{}.WithDefaults()
	assert.Equal(t, 25, cfg.MaxToolCallContinuations)
	assert.Equal(t, "auto", cfg.ToolChoice)
	assert.Equal(t, "sequential", cfg.DispatchStrategy)
}

func TestRunConfigDerivedFloorsAtZero(t *testing.T) {
	cfg := RunConfig{MaxToolCallContinuations: 1}
	derived := cfg.Derived()
	assert.Equal(t, 0, derived.MaxToolCallContinuations)

	cfg = RunConfig{MaxToolCallContinuations: 5}
	derived = cfg.Derived()
	assert.Equal(t, 3, derived.MaxToolCallContinuations)
}

func TestRunStatusTerminal(t *testing.T) {
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.True(t, RunStatusCancelled.Terminal())
	assert.True(t, RunStatusExpired.Terminal())
	assert.False(t, RunStatusInProgress.Terminal())
	assert.False(t, RunStatusRequiresAction.Terminal())
}
