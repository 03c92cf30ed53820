// Package title runs the background title-generation service: a bounded
// worker pool draining a two-priority queue, an idempotent per-conversation
// enqueue guard, retry with backoff, and a best-effort push broker that
// fans status updates out to subscribers and drops any subscriber that
// falls more than a small buffer behind.
package title

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Dbillionaer/llm-council-local/pkg/llmclient"
	"github.com/Dbillionaer/llm-council-local/pkg/logging"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
	"github.com/Dbillionaer/llm-council-local/pkg/persistence"
)

// Priority selects which queue class a job belongs to. Immediate jobs
// (fired right after a conversation's first exchange) are drained before
// Background jobs (retitle sweeps).
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityImmediate
)

// job is one queued title-generation request.
type job struct {
	conversationID string
	seedText       string
	priority       Priority
	attempt        int
	index          int // enqueue sequence number, for FIFO order within a class
}

// jobQueue orders Immediate ahead of Background, FIFO within a class.
type jobQueue []*job

func (q jobQueue) Len() int { return len(q) }
func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority // Immediate (1) before Background (0)
	}
	return q[i].index < q[j].index
}
func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *jobQueue) Push(x any)   { *q = append(*q, x.(*job)) }
func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Generator produces a short title from a seed message. It is the model
// call abstraction so the service can be tested without a real backend.
type Generator func(ctx context.Context, seedText string) (string, error)

// Service runs the bounded worker pool and enqueue guard.
type Service struct {
	store     persistence.Store
	generator Generator
	broker    *Broker

	modelID       string
	thinkingHints []string

	maxConcurrent int
	retryAttempts int
	retryBackoff  time.Duration

	mu       sync.Mutex
	queue    jobQueue
	pending  map[string]bool // conversation ids currently queued or running
	sequence int
	notify   chan struct{}

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewService builds a title service backed by store, using generator to
// produce titles. modelID and thinkingHints let the service know whether
// the generating model is a reasoning model, so it can push an extra
// "thinking" status while waiting on it. Call Start to launch the worker
// pool.
func NewService(store persistence.Store, generator Generator, modelID string, thinkingHints []string, maxConcurrent, retryAttempts int) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	return &Service{
		store:         store,
		generator:     generator,
		broker:        NewBroker(),
		modelID:       modelID,
		thinkingHints: thinkingHints,
		maxConcurrent: maxConcurrent,
		retryAttempts: retryAttempts,
		retryBackoff:  time.Second,
		pending:       make(map[string]bool),
		notify:        make(chan struct{}, 1),
		quit:          make(chan struct{}),
	}
}

// Broker exposes the push broker subscribers attach to.
func (s *Service) Broker() *Broker { return s.broker }

// Enqueue queues a title job for conversationID unless one is already
// pending, making enqueue idempotent per conversation id.
func (s *Service) Enqueue(conversationID, seedText string, priority Priority) {
	s.mu.Lock()
	if s.pending[conversationID] {
		s.mu.Unlock()
		return
	}
	s.pending[conversationID] = true
	s.sequence++
	heap.Push(&s.queue, &job{conversationID: conversationID, seedText: seedText, priority: priority, index: s.sequence})
	s.mu.Unlock()

	s.broker.Publish(Update{ConversationID: conversationID, Status: StatusQueued})

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Rescan lists every active conversation and re-enqueues, at background
// priority, any whose title still matches the placeholder form and that
// has at least one message to seed generation from. It is meant to run
// once at startup to catch conversations left titleless by a prior crash
// or a title job that exhausted its retries.
func (s *Service) Rescan(ctx context.Context) error {
	convs, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		if !IsPlaceholderTitle(conv.Title) {
			continue
		}
		seed, ok := conv.FirstUserMessage()
		if !ok {
			continue
		}
		s.Enqueue(conv.ID, seed, PriorityBackground)
	}
	return nil
}

// Start launches the worker pool. Call Stop to drain and join.
func (s *Service) Start() {
	for i := 0; i < s.maxConcurrent; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop signals workers to exit and waits for them to join.
func (s *Service) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		j := s.dequeue()
		if j == nil {
			select {
			case <-s.notify:
				continue
			case <-s.quit:
				return
			}
		}
		s.process(j)
	}
}

func (s *Service) dequeue() *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&s.queue).(*job)
}

func (s *Service) process(j *job) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s.broker.Publish(Update{ConversationID: j.conversationID, Status: StatusGenerating})
	if isThinkingModel(s.modelID, s.thinkingHints) {
		s.broker.Publish(Update{ConversationID: j.conversationID, Status: StatusThinking})
	}

	raw, err := s.generator(ctx, j.seedText)
	if err != nil {
		j.attempt++
		if j.attempt < s.retryAttempts {
			logging.Warn("title generation for %s failed (attempt %d/%d): %v", j.conversationID, j.attempt, s.retryAttempts, err)
			time.Sleep(s.retryBackoff * time.Duration(int64(1)<<uint(j.attempt-1)))
			s.mu.Lock()
			s.sequence++
			j.index = s.sequence
			heap.Push(&s.queue, j)
			s.mu.Unlock()
			select {
			case s.notify <- struct{}{}:
			default:
			}
			return
		}
		logging.Error("title generation for %s exhausted retries: %v", j.conversationID, err)
		s.broker.Publish(Update{ConversationID: j.conversationID, Status: StatusFailed})
		s.finish(j.conversationID)
		return
	}

	title := cleanTitle(raw, j.seedText)
	if err := s.store.SetTitle(ctx, j.conversationID, title); err != nil {
		logging.Error("failed to persist title for %s: %v", j.conversationID, err)
		s.broker.Publish(Update{ConversationID: j.conversationID, Status: StatusFailed})
		s.finish(j.conversationID)
		return
	}
	s.broker.Publish(Update{ConversationID: j.conversationID, Status: StatusComplete, Title: title})
	s.finish(j.conversationID)
}

// isThinkingModel reports whether modelID looks like a reasoning model
// per the configured hint substrings (case-insensitive).
func isThinkingModel(modelID string, hints []string) bool {
	lower := strings.ToLower(modelID)
	for _, h := range hints {
		if h == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

// cleanTitle trims quoting and stray whitespace off a generated title and
// falls back to a truncated prefix of the seed message if the result is
// empty or still a generic placeholder (a chairman model that echoes back
// "New Conversation" verbatim, for instance).
func cleanTitle(raw, seedText string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'“”‘’`")
	title = strings.TrimSpace(title)
	title = strings.Join(strings.Fields(title), " ")
	if title == "" || models.IsGenericTitle(title) {
		return fallbackTitle(seedText)
	}
	return title
}

// fallbackTitle takes the first 40 runes of seedText, collapsing internal
// whitespace, appending an ellipsis if it had to truncate.
func fallbackTitle(seedText string) string {
	const maxLen = 40
	collapsed := strings.Join(strings.Fields(seedText), " ")
	runes := []rune(collapsed)
	if len(runes) <= maxLen {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:maxLen])) + "…"
}

func (s *Service) finish(conversationID string) {
	s.mu.Lock()
	delete(s.pending, conversationID)
	s.mu.Unlock()
}

// IsPlaceholderTitle reports whether title is a generic title this
// service may safely replace with a generated one.
func IsPlaceholderTitle(title string) bool {
	return models.IsGenericTitle(title)
}

// DefaultGenerator builds a Generator that asks endpoint's model, via
// client, for a title of five words or fewer. The reply's content is
// returned as is; it is not truncated to any word count.
func DefaultGenerator(client llmclient.Client, endpoint models.ModelEndpoint) Generator {
	return func(ctx context.Context, seedText string) (string, error) {
		prompt := fmt.Sprintf("Summarize the following message as a short conversation title, five words or fewer, no punctuation:\n\n%s", seedText)
		chunks, err := client.StreamChat(ctx, endpoint, []llmclient.ChatMessage{{Role: "user", Content: prompt}})
		if err != nil {
			return "", err
		}
		var out string
		for chunk := range chunks {
			if chunk.Kind == llmclient.ChunkContent {
				out += chunk.Text
			}
			if chunk.Kind == llmclient.ChunkError {
				return "", chunk.Err
			}
		}
		return out, nil
	}
}
