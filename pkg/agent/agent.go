// Package agent ties the assistant together: conversation memory,
// response caching, request coalescing, retry with circuit breaking,
// input validation, and the completion client.
package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/editorai/copilot-core/pkg/cache"
	"github.com/editorai/copilot-core/pkg/config"
	"github.com/editorai/copilot-core/pkg/conversation"
	"github.com/editorai/copilot-core/pkg/debounce"
	"github.com/editorai/copilot-core/pkg/errors"
	"github.com/editorai/copilot-core/pkg/llm"
	"github.com/editorai/copilot-core/pkg/logging"
	"github.com/editorai/copilot-core/pkg/perf"
	"github.com/editorai/copilot-core/pkg/recovery"
	"github.com/editorai/copilot-core/pkg/security"
)

// maxUserInputLength bounds how much user text is forwarded to the
// model after validation.
const maxUserInputLength = 50000

// preloadConcurrency caps parallel loader calls during a preload pass.
const preloadConcurrency = 4

// breakerName is the circuit breaker shared by all completion calls an
// agent makes.
const breakerName = "completion"

// Request is one user ask.
type Request struct {
	UserMessage string

	// Context is the surrounding editor text (selection, document
	// excerpt) included in the prompt and, optionally, the cache key.
	Context string

	// IncludeContext mixes a context hash into the cache key so the same
	// question in different files caches separately.
	IncludeContext bool

	// SkipCache bypasses the response cache for this request.
	SkipCache bool

	// RelatedKeys ties this response's cache entry to others, typically
	// every key derived from the same source file.
	RelatedKeys []string
}

// Reply is a completed response.
type Reply struct {
	Content        string
	FromCache      bool
	ConversationID string
}

// Agent is a single assistant persona (code helper, copywriter) bound
// to one conversation store and one shared performance stack.
type Agent struct {
	agentType    string
	systemPrompt string

	client      llm.Client
	store       *conversation.Store
	coordinator *perf.Coordinator
	retry       *recovery.RetryPolicy
	recovery    *recovery.Manager
	detector    *security.Detector

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New assembles an agent and its full supporting stack from config.
// Pass an empty ArchivePath to keep conversations memory-only.
func New(agentType, systemPrompt string, cfg *config.Config, client llm.Client) (*Agent, error) {
	if cfg.Logging.File != "" {
		if err := logging.Configure(cfg.Logging.Level, cfg.Logging.File); err != nil {
			return nil, errors.Wrap(err, errors.InvalidInput, "failed to configure log file")
		}
	}

	var archive *conversation.Archive
	if cfg.Conversations.ArchivePath != "" {
		var err error
		archive, err = conversation.NewArchive(cfg.Conversations.ArchivePath)
		if err != nil {
			return nil, err
		}
	}

	manager := recovery.NewManager(cfg.Recovery)
	coordinator := perf.NewCoordinator(
		cfg.Performance,
		cache.NewBoundedCache(cfg.Cache),
		debounce.NewCoalescer(cfg.Debounce.Delay),
		manager,
	)

	return &Agent{
		agentType:    agentType,
		systemPrompt: systemPrompt,
		client:       client,
		store:        conversation.NewStore(cfg.Conversations, archive),
		coordinator:  coordinator,
		retry:        recovery.NewRetryPolicy(cfg.Retry, manager),
		recovery:     manager,
		detector:     security.NewDetector(),
		closeCh:      make(chan struct{}),
	}, nil
}

// StartMaintenance runs periodic conversation sweeps and cache
// optimization passes until Shutdown.
func (a *Agent) StartMaintenance(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.store.Sweep()
				a.coordinator.AutoOptimize()
			case <-a.closeCh:
				return
			}
		}
	}()
}

// StartConversation opens a new conversation and returns its id.
func (a *Agent) StartConversation(initialContext string) string {
	return a.store.Start(a.agentType, initialContext)
}

// Conversations exposes the underlying store for sweeps and inspection.
func (a *Agent) Conversations() *conversation.Store { return a.store }

// Coordinator exposes the performance stack for diagnostics.
func (a *Agent) Coordinator() *perf.Coordinator { return a.coordinator }

// Recovery exposes the error recovery manager.
func (a *Agent) Recovery() *recovery.Manager { return a.recovery }

// Ask sends a request through validation, cache, and the retried
// completion call, then commits the exchange as a conversation turn.
func (a *Agent) Ask(ctx context.Context, conversationID string, req Request) (*Reply, error) {
	ctx = logging.WithAgentType(ctx, a.agentType)

	validated := a.detector.ValidateUserInput(req.UserMessage, maxUserInputLength, true)
	userMessage := validated.SanitizedText
	if strings.TrimSpace(userMessage) == "" {
		return nil, errors.New(errors.InvalidInput, "empty user message")
	}

	key := a.coordinator.DeriveCacheKey(a.agentType, userMessage, req.Context, req.IncludeContext)

	if !req.SkipCache {
		if cached, ok := a.coordinator.GetCached(key); ok {
			if content, ok := cached.(string); ok {
				logging.GetLogger().Debug(ctx, "cache hit for request")
				a.commitTurn(ctx, conversationID, userMessage, content, req.Context)
				return &Reply{Content: content, FromCache: true, ConversationID: conversationID}, nil
			}
		}
	}

	messages := a.buildMessages(conversationID, userMessage, req.Context)

	result, err := a.retry.Execute(ctx, "completion",
		func(ctx context.Context) (interface{}, error) {
			return a.client.Complete(ctx, messages)
		},
		recovery.WithCategory(recovery.CategoryAPI, recovery.SeverityMedium),
		recovery.WithCircuitBreaker(breakerName),
	)
	if err != nil {
		a.markError(conversationID)
		return nil, err
	}

	response := result.(*llm.Response)

	if !req.SkipCache {
		a.coordinator.CacheWithRelations(key, response.Content, req.RelatedKeys)
	}
	a.commitTurn(ctx, conversationID, userMessage, response.Content, req.Context)
	a.coordinator.AutoOptimize()

	return &Reply{Content: response.Content, ConversationID: conversationID}, nil
}

// AskStreaming streams the response through onChunk and commits the
// turn only after the stream completes cleanly. An interrupted stream
// leaves the conversation unchanged. When streaming is degraded by the
// error budget, it falls back to a blocking Ask.
func (a *Agent) AskStreaming(ctx context.Context, conversationID string, req Request, onChunk func(string)) (*Reply, error) {
	ctx = logging.WithAgentType(ctx, a.agentType)

	if a.recovery.IsFeatureDegraded("streaming") {
		logging.GetLogger().Info(ctx, "streaming degraded, falling back to blocking completion")
		reply, err := a.Ask(ctx, conversationID, req)
		if err == nil && onChunk != nil {
			onChunk(reply.Content)
		}
		return reply, err
	}

	validated := a.detector.ValidateUserInput(req.UserMessage, maxUserInputLength, true)
	userMessage := validated.SanitizedText
	if strings.TrimSpace(userMessage) == "" {
		return nil, errors.New(errors.InvalidInput, "empty user message")
	}

	if !a.recovery.CheckCircuitBreaker(breakerName) {
		return nil, errors.WithFields(
			errors.New(errors.CircuitOpen, "completion blocked by open circuit breaker"),
			errors.Fields{"agent_type": a.agentType})
	}

	a.setState(conversationID, conversation.StateResponding)

	messages := a.buildMessages(conversationID, userMessage, req.Context)
	chunks, err := a.client.StreamComplete(ctx, messages)
	if err != nil {
		a.recovery.RecordError(err, recovery.CategoryAPI, recovery.SeverityMedium,
			map[string]interface{}{"operation": "stream_completion"})
		a.markError(conversationID)
		return nil, err
	}

	var buf strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			a.recovery.RecordError(chunk.Err, recovery.CategoryAPI, recovery.SeverityMedium,
				map[string]interface{}{"operation": "stream_completion"})
			a.markError(conversationID)
			return nil, chunk.Err
		}
		if chunk.Content != "" {
			buf.WriteString(chunk.Content)
			if onChunk != nil {
				onChunk(chunk.Content)
			}
		}
		if chunk.Done {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		a.markError(conversationID)
		return nil, errors.Wrap(err, errors.Canceled, "stream canceled")
	}

	content := buf.String()

	if !req.SkipCache {
		key := a.coordinator.DeriveCacheKey(a.agentType, userMessage, req.Context, req.IncludeContext)
		a.coordinator.CacheWithRelations(key, content, req.RelatedKeys)
	}
	a.commitTurn(ctx, conversationID, userMessage, content, req.Context)
	a.setState(conversationID, conversation.StateWaitingForInput)

	return &Reply{Content: content, ConversationID: conversationID}, nil
}

// AskDebounced defers the request behind the coalescer so bursts of
// keystroke-driven asks collapse into one completion. The callback runs
// on a timer goroutine.
func (a *Agent) AskDebounced(ctx context.Context, conversationID string, req Request, callback func(*Reply, error)) {
	key := a.coordinator.DeriveCacheKey(a.agentType, req.UserMessage, req.Context, req.IncludeContext)
	a.coordinator.Debounce(key, func() {
		callback(a.Ask(ctx, conversationID, req))
	})
}

// Loader resolves a cache key back to a value during preloading.
type Loader func(ctx context.Context, key string) (interface{}, error)

// Preload warms the cache for keys predicted to be requested soon,
// loading up to limit keys concurrently. Failed loads are skipped;
// preloading is opportunistic.
func (a *Agent) Preload(ctx context.Context, limit int, load Loader) int {
	candidates := a.coordinator.PreloadCandidates(limit)
	if len(candidates) == 0 {
		return 0
	}

	logger := logging.GetLogger()
	p := pool.New().WithMaxGoroutines(preloadConcurrency)

	loaded := make(chan string, len(candidates))
	for _, key := range candidates {
		key := key
		p.Go(func() {
			value, err := load(ctx, key)
			if err != nil {
				logger.Debug(ctx, "preload skipped for %s: %v", key, err)
				return
			}
			if a.coordinator.CacheResponse(key, value) {
				loaded <- key
			}
		})
	}
	p.Wait()
	close(loaded)

	count := 0
	for range loaded {
		count++
	}
	if count > 0 {
		logger.Debug(ctx, "preloaded %d predicted cache entries", count)
	}
	return count
}

// InvalidateContext drops every cached response tied to a context key,
// typically after the underlying file changed.
func (a *Agent) InvalidateContext(key string) []string {
	return a.coordinator.InvalidateRelated(key)
}

// EndConversation completes and archives a conversation.
func (a *Agent) EndConversation(conversationID string) {
	a.store.End(conversationID)
}

// Shutdown stops maintenance, sweeps conversation memory, and tears
// down the performance stack.
func (a *Agent) Shutdown() {
	a.closeOnce.Do(func() { close(a.closeCh) })
	a.wg.Wait()

	a.store.Sweep()
	a.store.Clear()
	a.coordinator.Shutdown()
}

func (a *Agent) buildMessages(conversationID, userMessage, contextText string) []llm.ChatMessage {
	var messages []llm.ChatMessage
	if a.systemPrompt != "" {
		messages = append(messages, llm.ChatMessage{Role: "system", Content: a.systemPrompt})
	}

	if conv, ok := a.store.Get(conversationID); ok {
		for _, turn := range conv.Turns {
			messages = append(messages,
				llm.ChatMessage{Role: "user", Content: turn.UserMessage},
				llm.ChatMessage{Role: "assistant", Content: turn.AssistantResponse})
		}
	}

	messages = append(messages, llm.ChatMessage{
		Role:    "user",
		Content: a.detector.SafePrompt(userMessage, contextText, maxUserInputLength),
	})
	return messages
}

func (a *Agent) commitTurn(ctx context.Context, conversationID, userMessage, response, contextText string) {
	if conversationID == "" {
		return
	}

	var opts []conversation.TurnOption
	if contextText != "" {
		opts = append(opts, conversation.WithContext(contextText))
	}
	if err := a.store.AppendTurn(conversationID, userMessage, response, opts...); err != nil {
		logging.GetLogger().Warn(ctx, "failed to record turn: %v", err)
	}
}

func (a *Agent) setState(conversationID string, state conversation.State) {
	if conversationID == "" {
		return
	}
	_ = a.store.SetState(conversationID, state)
}

func (a *Agent) markError(conversationID string) {
	a.setState(conversationID, conversation.StateError)
}
