// Package maestro is a multi-agent orchestrator framework for Go.
//
// It provides the building blocks for a long-running conversational service
// that plans work as a directed state graph, delegates sub-tasks to remote
// specialist agents over a JSON-RPC A2A transport, and maintains an evolving
// structured user memory alongside the conversation.
//
// # Quick Start
//
// Wire the orchestrator and invoke it per conversation turn:
//
//	store := sqlite.New("maestro.db")
//	client := a2a.NewClient()
//	reg := registry.New()
//
//	orch, _ := orchestrator.New(provider, reg, client, store)
//	reply, _ := orch.HandleMessage(ctx, userID, threadID, "get the Acme Corp account")
//	if reply.Suspended {
//	    reply, _ = orch.HandleMessage(ctx, userID, threadID, "yes")
//	}
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider]: LLM backend (chat with tool calling and structured output)
//   - [Store]: namespaced key/value persistence (checkpoints, memory cache)
//   - [MemoryStore]: durable per-user memory backend
//   - [Tool]: pluggable capability for LLM function calling
//   - [Breaker], [Retry], [ResilientCall]: resilience around remote calls
//   - [Graph]: the frozen state-graph runtime with checkpointing and resume
//
// # Included Implementations
//
// Transport: a2a (JSON-RPC 2.0 client/server with pooled sessions).
// Storage: store/sqlite (embedded), store/postgres (relational user memory).
// Providers: provider/openaicompat (any OpenAI-compatible API),
// provider/gemini, and provider/resolve for config-driven selection.
//
// See cmd/maestro for the composition binary.
package maestro
