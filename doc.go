// Package copilotcore is the performance and resilience core for an
// editor AI assistant plugin. It wraps language model calls with the
// layers an interactive editor integration needs to stay fast and
// stable: response caching, request coalescing, error budgets, circuit
// breakers, retries, and bounded conversation memory.
//
// Key Components:
//
//   - cache: BoundedCache, an LRU response cache bounded by entry count,
//     total bytes, and TTL, with access-pattern preload prediction and
//     relation-based group invalidation. KeyGenerator derives cache keys
//     from agent type, normalized user text, and a short context hash.
//
//   - debounce: Coalescer, a trailing-edge per-key debouncer that
//     collapses keystroke-driven request bursts into one completion.
//
//   - recovery: Manager tracks categorized errors in a rolling one-hour
//     window, degrades optional features when the budget is exceeded,
//     and owns per-operation circuit breakers. RetryPolicy wraps
//     operations with linear backoff, breaker checks, and fallbacks.
//
//   - conversation: Store keeps bounded multi-turn dialogue memory with
//     age, byte, and count based sweeps; Archive persists ended
//     conversations to SQLite.
//
//   - perf: Coordinator composes the cache, key generator, coalescer,
//     and recovery manager behind one facade with interval-gated
//     optimization passes and efficiency reporting.
//
//   - llm: the completion client interface with OpenAI-compatible
//     (SSE streaming) and Anthropic (official SDK) implementations.
//
//   - security: prompt-injection detection and user input validation.
//
//   - agent: the assembled assistant. Validation, cache, retried and
//     breaker-guarded completions, streaming with commit-on-success,
//     debounced asks, and concurrent cache preloading.
//
// Simple Example:
//
//	cfg := config.Default()
//	client, err := llm.New(cfg.LLM)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	assistant, err := agent.New("code_assistant", systemPrompt, cfg, client)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer assistant.Shutdown()
//	assistant.StartMaintenance(time.Minute)
//
//	id := assistant.StartConversation(documentContext)
//	reply, err := assistant.Ask(ctx, id, agent.Request{
//	    UserMessage:    "explain the selected function",
//	    Context:        selection,
//	    IncludeContext: true,
//	})
//
// Streaming delivers chunks as they arrive and only records the turn
// once the stream completes cleanly:
//
//	reply, err = assistant.AskStreaming(ctx, id, req, func(chunk string) {
//	    editor.AppendToPanel(chunk)
//	})
package copilotcore
