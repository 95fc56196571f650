package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// Extra keys attached to assistant messages persisted in history.
const (
	ExtraTurnIndex    = "turn_index"
	ExtraCitedSources = "cited_sources"
)

type ConversationRepository interface {
	// AddMessage appends a message to the conversation history
	AddMessage(ctx context.Context, conversationID string, message *schema.Message) error

	// LoadHistory retrieves the conversation history for a conversation
	LoadHistory(ctx context.Context, conversationID string) (*ConversationHistory, error)

	// ClearHistory removes all conversation history for a conversation
	ClearHistory(ctx context.Context, conversationID string) error

	// GetMessageCount returns the number of messages in the conversation
	GetMessageCount(ctx context.Context, conversationID string) (int, error)
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	ConversationID string
	Messages       []*schema.Message
}

// UserMessage builds a history entry for a submitted query.
func UserMessage(q Query) *schema.Message {
	m := schema.UserMessage(q.Text)
	m.Extra = map[string]any{ExtraTurnIndex: q.TurnIndex}
	return m
}

// AssistantMessage builds a history entry for a produced answer, carrying the
// cited sources so later turns can resolve references like "that repo".
func AssistantMessage(a Answer) *schema.Message {
	m := schema.AssistantMessage(a.Text, nil)
	cited := make([]string, 0, len(a.CitedSources))
	for _, t := range a.CitedSources {
		cited = append(cited, string(t))
	}
	m.Extra = map[string]any{
		ExtraTurnIndex:    a.TurnIndex,
		ExtraCitedSources: cited,
	}
	return m
}
