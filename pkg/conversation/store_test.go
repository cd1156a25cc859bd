package conversation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editorai/copilot-core/pkg/config"
	"github.com/editorai/copilot-core/pkg/errors"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func testStoreConfig() config.ConversationConfig {
	return config.ConversationConfig{
		MaxConversations:        5,
		MaxAge:                  24 * time.Hour,
		MaxBytes:                1024 * 1024,
		MaxTurnsPerConversation: 3,
	}
}

func newTestStore(cfg config.ConversationConfig) (*Store, *fakeClock) {
	s := NewStore(cfg, nil)
	clock := &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	return s, clock
}

func TestStartAssignsEpochID(t *testing.T) {
	s, clock := newTestStore(testStoreConfig())

	id := s.Start("code", "editing main.go")
	assert.Equal(t, fmt.Sprintf("code_%d", clock.Now().Unix()), id)

	conv, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "code", conv.AgentType)
	assert.Equal(t, StateIdle, conv.State)
	assert.Equal(t, "editing main.go", conv.Context)
	assert.Equal(t, 3, conv.MaxTurns)
}

func TestStartSameSecondGetsDistinctIDs(t *testing.T) {
	s, _ := newTestStore(testStoreConfig())

	first := s.Start("code", "")
	second := s.Start("code", "")
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, s.Count())
}

func TestStartMarksActive(t *testing.T) {
	s, clock := newTestStore(testStoreConfig())

	s.Start("code", "")
	clock.Advance(time.Second)
	id := s.Start("copywriter", "")

	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, id, active.ID)
}

func TestAppendTurn(t *testing.T) {
	s, clock := newTestStore(testStoreConfig())
	id := s.Start("code", "")
	clock.Advance(time.Minute)

	err := s.AppendTurn(id, "what does this do?", "it parses flags",
		WithContext("func main() {}"),
		WithReasoning("the selection is a main function"),
		WithMetadata("model", "gpt-4o-mini"))
	require.NoError(t, err)

	conv, ok := s.Get(id)
	require.True(t, ok)
	require.Len(t, conv.Turns, 1)

	turn := conv.Turns[0]
	assert.Equal(t, "what does this do?", turn.UserMessage)
	assert.Equal(t, "it parses flags", turn.AssistantResponse)
	assert.Equal(t, "func main() {}", turn.Context)
	assert.Equal(t, "the selection is a main function", turn.Reasoning)
	assert.Equal(t, "gpt-4o-mini", turn.Metadata["model"])
	assert.Equal(t, clock.Now(), conv.LastActivity)
}

func TestAppendTurnUnknownConversation(t *testing.T) {
	s, _ := newTestStore(testStoreConfig())

	err := s.AppendTurn("missing", "q", "a")
	require.Error(t, err)
	assert.Equal(t, errors.ConversationNotFound, errors.Code(err))
}

func TestAppendTurnTrimsOldestFirst(t *testing.T) {
	s, _ := newTestStore(testStoreConfig())
	id := s.Start("code", "")

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.AppendTurn(id, fmt.Sprintf("q%d", i), "a"))
	}

	conv, _ := s.Get(id)
	require.Len(t, conv.Turns, 3)
	assert.Equal(t, "q3", conv.Turns[0].UserMessage)
	assert.Equal(t, "q5", conv.Turns[2].UserMessage)
}

func TestSetState(t *testing.T) {
	s, _ := newTestStore(testStoreConfig())
	id := s.Start("code", "")

	require.NoError(t, s.SetState(id, StateThinking))
	conv, _ := s.Get(id)
	assert.Equal(t, StateThinking, conv.State)

	err := s.SetState("missing", StateThinking)
	assert.Equal(t, errors.ConversationNotFound, errors.Code(err))
}

func TestGetReturnsIsolatedSnapshot(t *testing.T) {
	s, _ := newTestStore(testStoreConfig())
	id := s.Start("code", "")
	require.NoError(t, s.AppendTurn(id, "q", "a", WithMetadata("k", "v")))

	snapshot, _ := s.Get(id)
	snapshot.Turns[0].UserMessage = "mutated"
	snapshot.Turns[0].Metadata["k"] = "mutated"

	fresh, _ := s.Get(id)
	assert.Equal(t, "q", fresh.Turns[0].UserMessage)
	assert.Equal(t, "v", fresh.Turns[0].Metadata["k"])
}

func TestEndCompletesAndClearsActive(t *testing.T) {
	s, _ := newTestStore(testStoreConfig())
	id := s.Start("code", "")

	s.End(id)

	conv, ok := s.Get(id)
	require.True(t, ok, "ended conversations stay in memory until swept")
	assert.Equal(t, StateCompleted, conv.State)

	_, ok = s.Active()
	assert.False(t, ok)
}

func TestEndUnknownIsNoop(t *testing.T) {
	s, _ := newTestStore(testStoreConfig())
	s.End("missing")
}

func TestSweepRemovesExpired(t *testing.T) {
	s, clock := newTestStore(testStoreConfig())

	old := s.Start("code", "")
	clock.Advance(25 * time.Hour)
	fresh := s.Start("code", "")

	result := s.Sweep()
	assert.Equal(t, 1, result.RemovedByAge)

	_, ok := s.Get(old)
	assert.False(t, ok)
	_, ok = s.Get(fresh)
	assert.True(t, ok)
}

func TestSweepEvictsLargestWhenOverMemory(t *testing.T) {
	cfg := testStoreConfig()
	cfg.MaxBytes = 300
	cfg.MaxTurnsPerConversation = 10
	s, clock := newTestStore(cfg)

	small := s.Start("code", "")
	require.NoError(t, s.AppendTurn(small, "hi", "yo")) // 4 chars = 16 bytes

	clock.Advance(time.Second)
	big := s.Start("code", "")
	require.NoError(t, s.AppendTurn(big, "x", strings.Repeat("y", 100))) // > 300 bytes

	result := s.Sweep()
	assert.Equal(t, 1, result.RemovedByMemory)

	_, ok := s.Get(big)
	assert.False(t, ok, "largest conversation goes first")
	_, ok = s.Get(small)
	assert.True(t, ok)
}

func TestSweepEvictsOldestWhenOverCount(t *testing.T) {
	cfg := testStoreConfig()
	cfg.MaxConversations = 2
	s, clock := newTestStore(cfg)

	oldest := s.Start("code", "")
	clock.Advance(time.Second)
	middle := s.Start("code", "")
	clock.Advance(time.Second)
	newest := s.Start("code", "")

	// Refresh the middle one so the first is oldest by activity.
	require.NoError(t, s.AppendTurn(middle, "q", "a"))

	result := s.Sweep()
	assert.Equal(t, 1, result.RemovedByCount)

	_, ok := s.Get(oldest)
	assert.False(t, ok)
	_, ok = s.Get(middle)
	assert.True(t, ok)
	_, ok = s.Get(newest)
	assert.True(t, ok)
}

func TestSweepTrimsSurvivorTurns(t *testing.T) {
	cfg := testStoreConfig()
	s, _ := newTestStore(cfg)
	id := s.Start("code", "")

	conv := s.conversations[id]
	for i := 0; i < 5; i++ {
		conv.Turns = append(conv.Turns, Turn{UserMessage: "q", AssistantResponse: "a"})
	}

	result := s.Sweep()
	assert.Equal(t, 2, result.TurnsTrimmed)

	got, _ := s.Get(id)
	assert.Len(t, got.Turns, 3)
}

func TestSweepClearsActivePointer(t *testing.T) {
	s, clock := newTestStore(testStoreConfig())

	s.Start("code", "")
	clock.Advance(25 * time.Hour)

	s.Sweep()
	_, ok := s.Active()
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	s, _ := newTestStore(testStoreConfig())
	s.Start("code", "")
	s.Start("copywriter", "")

	s.Clear()
	assert.Equal(t, 0, s.Count())
	_, ok := s.Active()
	assert.False(t, ok)
}

func TestEstimatedBytes(t *testing.T) {
	conv := &Conversation{
		Context: "ab",
		Turns: []Turn{
			{UserMessage: "cd", AssistantResponse: "ef", Context: "g", Reasoning: "h"},
		},
	}
	assert.Equal(t, int64(8*4), conv.EstimatedBytes())
}
