// Package conversation provides bounded multi-turn dialogue memory with
// age, byte, and count based eviction across concurrent conversations.
package conversation

import (
	"time"
	"unicode/utf8"
)

// State tracks where a conversation is in its lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateThinking        State = "thinking"
	StateResponding      State = "responding"
	StateWaitingForInput State = "waiting_for_input"
	StateCompleted       State = "completed"
	StateError           State = "error"
)

// Turn is one user-message/assistant-response pair. Immutable once
// appended.
type Turn struct {
	Timestamp         time.Time              `json:"timestamp"`
	UserMessage       string                 `json:"user_message"`
	AssistantResponse string                 `json:"assistant_response"`
	Context           string                 `json:"context,omitempty"`
	Reasoning         string                 `json:"reasoning,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Conversation is a multi-turn dialogue owned by one agent type.
type Conversation struct {
	ID           string    `json:"id"`
	AgentType    string    `json:"agent_type"`
	State        State     `json:"state"`
	Turns        []Turn    `json:"turns"`
	Context      string    `json:"context,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastActivity time.Time `json:"last_activity"`

	// MaxTurns mirrors the store's configured ceiling for inspection;
	// the store's value is what actually governs trimming.
	MaxTurns int `json:"max_turns"`
}

// EstimatedBytes approximates a conversation's memory footprint at four
// bytes per character across all turn fields and the conversation-level
// context. Deliberately rough: it only needs to rank conversations
// relative to each other for eviction.
func (c *Conversation) EstimatedBytes() int64 {
	chars := utf8.RuneCountInString(c.Context)
	for _, turn := range c.Turns {
		chars += utf8.RuneCountInString(turn.UserMessage)
		chars += utf8.RuneCountInString(turn.AssistantResponse)
		chars += utf8.RuneCountInString(turn.Context)
		chars += utf8.RuneCountInString(turn.Reasoning)
	}
	return int64(chars) * 4
}

// clone returns a deep copy safe to hand outside the store's lock.
func (c *Conversation) clone() *Conversation {
	out := *c
	out.Turns = make([]Turn, len(c.Turns))
	copy(out.Turns, c.Turns)
	for i, turn := range out.Turns {
		if turn.Metadata != nil {
			meta := make(map[string]interface{}, len(turn.Metadata))
			for k, v := range turn.Metadata {
				meta[k] = v
			}
			out.Turns[i].Metadata = meta
		}
	}
	return &out
}
