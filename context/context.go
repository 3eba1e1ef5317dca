// Package context implements the Context Manager: it produces the bounded
// message list a model.Client sees for the next turn, combining the system
// prompt, a historical tail from storage (summarized or truncated to stay
// under budget), and this turn's new messages.
package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentcore/core/message"
	"github.com/agentcore/core/model"
	"github.com/agentcore/core/storage"
	"github.com/agentcore/core/telemetry"
)

const (
	summaryHeader = "======== CONVERSATION HISTORY SUMMARY ========"
	summaryFooter = "======== END OF SUMMARY ========"

	// historyWindow is how many of the most recent historical messages are
	// fetched from storage before summarization/truncation run, matching
	// spec.md §4.5 step 1's "N ≈ 100".
	historyWindow = 100
)

// Manager assembles the bounded message list an Agent Run Loop hands to
// model.Client for the next turn.
type Manager struct {
	messages storage.MessageStorage
	client   model.Client
	logger   telemetry.Logger

	TokenThreshold      int
	SummaryTargetTokens int
	ReservedTokens      int
	SummarizationModel  string
}

// New constructs a Manager. It panics if the invariant
// TokenThreshold > SummaryTargetTokens + ReservedTokens does not hold — this
// is a configuration error, not a runtime condition.
func New(messages storage.MessageStorage, client model.Client, logger telemetry.Logger, tokenThreshold, summaryTargetTokens, reservedTokens int, summarizationModel string) *Manager {
	if tokenThreshold <= summaryTargetTokens+reservedTokens {
		panic(fmt.Sprintf("context: tokenThreshold (%d) must exceed summaryTargetTokens+reservedTokens (%d)", tokenThreshold, summaryTargetTokens+reservedTokens))
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Manager{
		messages:            messages,
		client:              client,
		logger:              logger,
		TokenThreshold:      tokenThreshold,
		SummaryTargetTokens: summaryTargetTokens,
		ReservedTokens:      reservedTokens,
		SummarizationModel:  summarizationModel,
	}
}

// Assemble builds [system_prompt, <historical tail>, <newMessages>] for
// threadID, summarizing or truncating the historical tail as needed to stay
// within TokenThreshold. It never drops systemPrompt or newMessages.
func (m *Manager) Assemble(ctx context.Context, threadID, systemPrompt string, newMessages []message.Message) ([]message.Message, error) {
	history, err := m.messages.ListMessages(ctx, threadID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("context: list messages: %w", err)
	}

	historical := detectExistingSummary(history)
	historical = removeDuplicateSuffix(historical, newMessages)

	candidate := compose(systemPrompt, historical, newMessages)
	count, err := m.countTokens(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("context: count tokens: %w", err)
	}

	if count > m.TokenThreshold && countNonSystem(historical) >= 2 {
		summary, err := m.summarize(ctx, historical)
		if err != nil {
			return nil, fmt.Errorf("context: summarize: %w", err)
		}
		historical = []message.Message{summaryMessage(summary)}
		candidate = compose(systemPrompt, historical, newMessages)
		count, err = m.countTokens(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("context: count tokens after summarization: %w", err)
		}
	}

	budget := m.TokenThreshold - m.ReservedTokens
	for count > budget && len(historical) > 0 {
		if isSummary(historical[0]) && len(historical) == 1 {
			break
		}
		dropIdx := 0
		if isSummary(historical[0]) {
			if len(historical) < 2 {
				break
			}
			dropIdx = 1
		}
		historical = append(historical[:dropIdx], historical[dropIdx+1:]...)
		candidate = compose(systemPrompt, historical, newMessages)
		var recountErr error
		count, recountErr = m.countTokens(ctx, candidate)
		if recountErr != nil {
			return nil, fmt.Errorf("context: recount tokens: %w", recountErr)
		}
	}

	if count > m.TokenThreshold {
		m.logger.Warn(ctx, "context: assembled message list still exceeds token threshold after truncation",
			"threadId", threadID, "tokenCount", count, "tokenThreshold", m.TokenThreshold)
	}

	return candidate, nil
}

func compose(systemPrompt string, historical, newMessages []message.Message) []message.Message {
	out := make([]message.Message, 0, 1+len(historical)+len(newMessages))
	if systemPrompt != "" {
		out = append(out, message.Message{Role: message.RoleSystem, Content: systemPrompt})
	}
	out = append(out, historical...)
	out = append(out, newMessages...)
	return out
}

func (m *Manager) countTokens(ctx context.Context, msgs []message.Message) (int, error) {
	return m.client.CountTokens(ctx, model.Request{Messages: ToModelMessages(msgs)})
}

// ToModelMessages converts core messages into the model package's
// provider-agnostic request shape. Exported so the Agent Run Loop can reuse
// it when building the model.Request for a turn's streaming call.
func ToModelMessages(msgs []message.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, msg := range msgs {
		mm := model.Message{Role: msg.Role}
		if msg.Content != "" {
			mm.Parts = append(mm.Parts, model.TextPart{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			mm.Parts = append(mm.Parts, model.ToolUsePart{ToolCall: tc})
		}
		if msg.Role == message.RoleTool {
			mm.Parts = append(mm.Parts, model.ToolResultPart{ToolCallID: msg.ToolCallID, Content: msg.Content})
		}
		out = append(out, mm)
	}
	return out
}

// detectExistingSummary finds a prior summary system message in history
// (one whose content begins with summaryHeader) and, if present, returns it
// plus everything chronologically after it; otherwise returns history
// unchanged.
func detectExistingSummary(history []message.Message) []message.Message {
	for i, msg := range history {
		if isSummary(msg) {
			return history[i:]
		}
	}
	return history
}

func isSummary(msg message.Message) bool {
	return msg.Role == message.RoleSystem && strings.HasPrefix(msg.Content, summaryHeader)
}

func summaryMessage(summary string) message.Message {
	return message.Message{
		Role:    message.RoleSystem,
		Content: summaryHeader + "\n" + summary + "\n" + summaryFooter,
	}
}

// removeDuplicateSuffix drops a historical suffix that already duplicates
// newMessages (by role, content, tool-call-id, and tool-calls equality) so
// the same turn is never sent to the model twice.
func removeDuplicateSuffix(historical, newMessages []message.Message) []message.Message {
	if len(newMessages) == 0 || len(historical) < len(newMessages) {
		return historical
	}
	tailStart := len(historical) - len(newMessages)
	for i, nm := range newMessages {
		if !messagesEqual(historical[tailStart+i], nm) {
			return historical
		}
	}
	return historical[:tailStart]
}

func messagesEqual(a, b message.Message) bool {
	if a.Role != b.Role || a.Content != b.Content || a.ToolCallID != b.ToolCallID {
		return false
	}
	if len(a.ToolCalls) != len(b.ToolCalls) {
		return false
	}
	for i := range a.ToolCalls {
		if a.ToolCalls[i] != b.ToolCalls[i] {
			return false
		}
	}
	return true
}

func countNonSystem(msgs []message.Message) int {
	n := 0
	for _, msg := range msgs {
		if msg.Role != message.RoleSystem {
			n++
		}
	}
	return n
}

const summarizationPrompt = "Summarize the conversation so far. Retain every concrete fact, decision, " +
	"open question, and the latest state of the task. Be concise but do not omit information a " +
	"continuation of this conversation would need."

func (m *Manager) summarize(ctx context.Context, historical []message.Message) (string, error) {
	req := model.Request{
		Model:       m.SummarizationModel,
		System:      summarizationPrompt,
		Messages:    ToModelMessages(historical),
		MaxTokens:   m.SummaryTargetTokens,
		Temperature: 0.2,
	}
	resp, err := m.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	var text strings.Builder
	for _, part := range resp.Message.Parts {
		if tp, ok := part.(model.TextPart); ok {
			text.WriteString(tp.Text)
		}
	}
	return text.String(), nil
}
