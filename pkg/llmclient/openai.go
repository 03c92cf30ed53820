package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Dbillionaer/llm-council-local/pkg/ckerrors"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

// OpenAIClient streams completions from an OpenAI-compatible
// /v1/chat/completions endpoint using server-sent events.
type OpenAIClient struct {
	HTTPClient *http.Client
}

// NewOpenAIClient builds a client with no fixed overall timeout for
// long-lived local streams; each request is bounded by its context.
func NewOpenAIClient() *OpenAIClient {
	return &OpenAIClient{
		HTTPClient: &http.Client{
			Timeout: 0, // streaming responses are bounded by ctx, not a fixed deadline
		},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type streamDelta struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamEnvelope struct {
	Choices []streamChoice `json:"choices"`
}

func resolveBase(endpoint models.ModelEndpoint) string {
	base := endpoint.BaseURL
	if base == "" {
		if endpoint.IPAddress != "" {
			port := endpoint.Port
			if port == 0 {
				port = 1234
			}
			base = fmt.Sprintf("http://%s:%d/v1", endpoint.IPAddress, port)
		} else {
			base = "http://127.0.0.1:1234/v1"
		}
	}
	return strings.TrimRight(base, "/")
}

func endpointURL(endpoint models.ModelEndpoint) string {
	return resolveBase(endpoint) + "/chat/completions"
}

func modelsURL(endpoint models.ModelEndpoint) string {
	return resolveBase(endpoint) + "/models"
}

type modelListEntry struct {
	ID string `json:"id"`
}

type modelListEnvelope struct {
	Data []modelListEntry `json:"data"`
}

// ListModels fetches the model ids currently loaded on endpoint's backend
// via GET {base_url}/models, the OpenAI-compatible listing endpoint LM
// Studio and llama.cpp both implement.
func (c *OpenAIClient) ListModels(ctx context.Context, endpoint models.ModelEndpoint) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelsURL(endpoint), nil)
	if err != nil {
		return nil, ckerrors.Wrap(ckerrors.KindProtocolError, endpoint.ModelID, err)
	}
	if endpoint.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, ckerrors.Wrap(ckerrors.KindBackendUnreachable, endpoint.ModelID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ckerrors.New(ckerrors.KindBackendUnreachable, endpoint.ModelID, fmt.Sprintf("listing models returned status %d", resp.StatusCode))
	}

	var env modelListEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, ckerrors.Wrap(ckerrors.KindProtocolError, endpoint.ModelID, err)
	}
	ids := make([]string, 0, len(env.Data))
	for _, m := range env.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

// StreamChat opens the completion request and returns a channel of chunks.
// The channel is closed after a Done chunk, or after an Error chunk for a
// cancelled context or a failed read; an event line that fails to decode
// yields an Error chunk and reading continues. Thinking tokens are
// recognized either through a provider "reasoning_content" delta field or
// through <think>...</think> delimiters embedded in the content stream,
// matching the two conventions seen across local model servers.
func (c *OpenAIClient) StreamChat(ctx context.Context, endpoint models.ModelEndpoint, messages []ChatMessage) (<-chan Chunk, error) {
	body, err := json.Marshal(chatRequest{
		Model:    endpoint.ModelID,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, ckerrors.Wrap(ckerrors.KindProtocolError, endpoint.ModelID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, ckerrors.Wrap(ckerrors.KindProtocolError, endpoint.ModelID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if endpoint.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, ckerrors.Wrap(ckerrors.KindBackendUnreachable, endpoint.ModelID, err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable {
		resp.Body.Close()
		return nil, ckerrors.New(ckerrors.KindModelNotLoaded, endpoint.ModelID, fmt.Sprintf("endpoint returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, ckerrors.New(ckerrors.KindProtocolError, endpoint.ModelID, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	out := make(chan Chunk, 16)
	go c.pump(ctx, resp, out)
	return out, nil
}

func (c *OpenAIClient) pump(ctx context.Context, resp *http.Response, out chan<- Chunk) {
	defer close(out)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	inThink := false

	emit := func(ch Chunk) bool {
		select {
		case out <- ch:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			emit(Chunk{Kind: ChunkError, Err: ckerrors.New(ckerrors.KindCancelled, "", "context cancelled")})
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			emit(Chunk{Kind: ChunkDone})
			return
		}

		var env streamEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			if !emit(Chunk{Kind: ChunkError, Err: ckerrors.Wrap(ckerrors.KindProtocolError, "", err)}) {
				return
			}
			continue
		}
		if len(env.Choices) == 0 {
			continue
		}
		delta := env.Choices[0].Delta

		if delta.ReasoningContent != "" {
			if !emit(Chunk{Kind: ChunkThinking, Text: delta.ReasoningContent}) {
				return
			}
		}
		if delta.Content == "" {
			continue
		}

		text := delta.Content
		for len(text) > 0 {
			if inThink {
				if idx := strings.Index(text, "</think>"); idx >= 0 {
					if idx > 0 {
						emit(Chunk{Kind: ChunkThinking, Text: text[:idx]})
					}
					text = text[idx+len("</think>"):]
					inThink = false
					continue
				}
				emit(Chunk{Kind: ChunkThinking, Text: text})
				text = ""
				continue
			}
			if idx := strings.Index(text, "<think>"); idx >= 0 {
				if idx > 0 {
					emit(Chunk{Kind: ChunkContent, Text: text[:idx]})
				}
				text = text[idx+len("<think>"):]
				inThink = true
				continue
			}
			emit(Chunk{Kind: ChunkContent, Text: text})
			text = ""
		}
	}

	if err := scanner.Err(); err != nil {
		emit(Chunk{Kind: ChunkError, Err: ckerrors.Wrap(ckerrors.KindTimeout, "", err)})
		return
	}
	emit(Chunk{Kind: ChunkDone})
}

// WithTimeout returns ctx bounded by d, used by callers that want a hard
// per-model deadline on top of the shared request context.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
