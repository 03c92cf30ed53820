// Package llmclient talks to locally-hosted OpenAI-compatible chat
// completion endpoints and turns their SSE stream into a channel of typed
// chunks, splitting thinking tokens from content tokens as they arrive
// over the streaming envelope used by LM Studio and llama.cpp servers.
package llmclient

import (
	"context"

	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

// ChunkKind tags the variant carried by a Chunk.
type ChunkKind int

const (
	ChunkThinking ChunkKind = iota
	ChunkContent
	ChunkDone
	ChunkError
)

// Chunk is one unit of a streamed completion. Exactly one of Text or Err is
// meaningful, selected by Kind.
type Chunk struct {
	Kind ChunkKind
	Text string
	Err  error
}

// ChatMessage is one turn in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client streams a chat completion from a single resolved endpoint.
type Client interface {
	StreamChat(ctx context.Context, endpoint models.ModelEndpoint, messages []ChatMessage) (<-chan Chunk, error)

	// ListModels fetches the model ids currently loaded on endpoint's
	// backend, used by startup validation to confirm the configured
	// council and chairman are actually available before serving traffic.
	ListModels(ctx context.Context, endpoint models.ModelEndpoint) ([]string, error)
}
