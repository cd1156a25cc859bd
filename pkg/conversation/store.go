package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/editorai/copilot-core/pkg/config"
	"github.com/editorai/copilot-core/pkg/errors"
	"github.com/editorai/copilot-core/pkg/logging"
)

// Store holds every live conversation and applies the retention policy:
// a per-conversation turn ceiling plus age, aggregate-byte, and count
// based eviction across the whole set.
type Store struct {
	mu sync.Mutex

	cfg           config.ConversationConfig
	conversations map[string]*Conversation
	activeID      string
	archive       *Archive

	now func() time.Time
}

// NewStore creates a conversation store. archive may be nil; when set,
// ended conversations are persisted before leaving memory.
func NewStore(cfg config.ConversationConfig, archive *Archive) *Store {
	return &Store{
		cfg:           cfg,
		conversations: make(map[string]*Conversation),
		archive:       archive,
		now:           time.Now,
	}
}

// Start creates a new conversation keyed by agent type and creation
// epoch, and marks it active.
func (s *Store) Start(agentType, initialContext string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := fmt.Sprintf("%s_%d", agentType, now.Unix())
	// Two conversations started within the same second need distinct ids.
	for seq := 1; ; seq++ {
		if _, taken := s.conversations[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s_%d_%d", agentType, now.Unix(), seq)
	}

	s.conversations[id] = &Conversation{
		ID:           id,
		AgentType:    agentType,
		State:        StateIdle,
		Context:      initialContext,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
		MaxTurns:     s.cfg.MaxTurnsPerConversation,
	}
	s.activeID = id

	logging.GetLogger().Info(context.Background(), "started conversation: %s", id)
	return id
}

// TurnOption attaches optional fields to an appended turn.
type TurnOption func(*Turn)

// WithContext records the editor context snapshot for the turn.
func WithContext(contextText string) TurnOption {
	return func(t *Turn) { t.Context = contextText }
}

// WithReasoning records model reasoning alongside the response.
func WithReasoning(reasoning string) TurnOption {
	return func(t *Turn) { t.Reasoning = reasoning }
}

// WithMetadata attaches an arbitrary key/value to the turn.
func WithMetadata(key string, value interface{}) TurnOption {
	return func(t *Turn) {
		if t.Metadata == nil {
			t.Metadata = make(map[string]interface{})
		}
		t.Metadata[key] = value
	}
}

// AppendTurn adds a completed user/assistant exchange, then trims the
// conversation to the turn ceiling, oldest first. Turns are whole
// units: trimming never splits one.
func (s *Store) AppendTurn(id, userMessage, assistantResponse string, opts ...TurnOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return errors.WithFields(
			errors.New(errors.ConversationNotFound, "conversation not found"),
			errors.Fields{"conversation_id": id})
	}

	now := s.now()
	turn := Turn{
		Timestamp:         now,
		UserMessage:       userMessage,
		AssistantResponse: assistantResponse,
	}
	for _, opt := range opts {
		opt(&turn)
	}

	conv.Turns = append(conv.Turns, turn)
	conv.UpdatedAt = now
	conv.LastActivity = now
	s.trimTurnsLocked(conv)

	return nil
}

func (s *Store) trimTurnsLocked(conv *Conversation) {
	max := s.cfg.MaxTurnsPerConversation
	if len(conv.Turns) > max {
		conv.Turns = conv.Turns[len(conv.Turns)-max:]
	}
}

// SetState transitions a conversation's lifecycle state.
func (s *Store) SetState(id string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return errors.WithFields(
			errors.New(errors.ConversationNotFound, "conversation not found"),
			errors.Fields{"conversation_id": id})
	}

	conv.State = state
	conv.UpdatedAt = s.now()
	return nil
}

// Get returns a snapshot of a conversation.
func (s *Store) Get(id string) (*Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, false
	}
	return conv.clone(), true
}

// Active returns a snapshot of the currently active conversation.
func (s *Store) Active() (*Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID == "" {
		return nil, false
	}
	conv, exists := s.conversations[s.activeID]
	if !exists {
		return nil, false
	}
	return conv.clone(), true
}

// End marks a conversation completed and clears the active pointer if
// it pointed here. The conversation is archived when an archive is
// configured, then stays in memory until swept.
func (s *Store) End(id string) {
	s.mu.Lock()
	conv, exists := s.conversations[id]
	if exists {
		conv.State = StateCompleted
		conv.UpdatedAt = s.now()
	}
	if s.activeID == id {
		s.activeID = ""
	}
	var snapshot *Conversation
	if exists && s.archive != nil {
		snapshot = conv.clone()
	}
	s.mu.Unlock()

	if snapshot != nil {
		if err := s.archive.Save(snapshot); err != nil {
			logging.GetLogger().Warn(context.Background(), "failed to archive conversation %s: %v", id, err)
		}
	}
	if exists {
		logging.GetLogger().Info(context.Background(), "ended conversation: %s", id)
	}
}

// Count reports the number of live conversations.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// Clear drops every conversation. Used at shutdown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]*Conversation)
	s.activeID = ""
}

// SweepResult summarizes one retention pass.
type SweepResult struct {
	RemovedByAge    int
	RemovedByMemory int
	RemovedByCount  int
	TurnsTrimmed    int
}

// Sweep applies the retention policy in order: expired conversations go
// first, then the largest ones until aggregate memory fits the budget,
// then the oldest-by-activity until the count fits, and finally every
// survivor's turn list is trimmed. A conversation that cannot be
// processed is skipped, never fatal.
func (s *Store) Sweep() SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result SweepResult
	now := s.now()

	// (a) age ceiling
	cutoff := now.Add(-s.cfg.MaxAge)
	for id, conv := range s.conversations {
		if conv.LastActivity.Before(cutoff) {
			s.removeLocked(id)
			result.RemovedByAge++
		}
	}

	// (b) aggregate memory ceiling, largest first
	type sized struct {
		id    string
		bytes int64
	}
	var sizes []sized
	var total int64
	for id, conv := range s.conversations {
		b := conv.EstimatedBytes()
		sizes = append(sizes, sized{id: id, bytes: b})
		total += b
	}
	if total > s.cfg.MaxBytes {
		sort.Slice(sizes, func(i, j int) bool { return sizes[i].bytes > sizes[j].bytes })
		for _, entry := range sizes {
			if total <= s.cfg.MaxBytes {
				break
			}
			s.removeLocked(entry.id)
			total -= entry.bytes
			result.RemovedByMemory++
		}
	}

	// (c) count ceiling, oldest activity first
	if len(s.conversations) > s.cfg.MaxConversations {
		type aged struct {
			id       string
			activity time.Time
		}
		var ages []aged
		for id, conv := range s.conversations {
			ages = append(ages, aged{id: id, activity: conv.LastActivity})
		}
		sort.Slice(ages, func(i, j int) bool { return ages[i].activity.Before(ages[j].activity) })
		for _, entry := range ages {
			if len(s.conversations) <= s.cfg.MaxConversations {
				break
			}
			s.removeLocked(entry.id)
			result.RemovedByCount++
		}
	}

	// (d) per-conversation turn ceiling
	for _, conv := range s.conversations {
		before := len(conv.Turns)
		s.trimTurnsLocked(conv)
		result.TurnsTrimmed += before - len(conv.Turns)
	}

	if result.RemovedByAge+result.RemovedByMemory+result.RemovedByCount > 0 {
		logging.GetLogger().Debug(context.Background(),
			"conversation sweep: age=%d memory=%d count=%d trimmed=%d",
			result.RemovedByAge, result.RemovedByMemory, result.RemovedByCount, result.TurnsTrimmed)
	}

	return result
}

func (s *Store) removeLocked(id string) {
	delete(s.conversations, id)
	if s.activeID == id {
		s.activeID = ""
	}
}
