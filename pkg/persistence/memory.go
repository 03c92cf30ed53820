package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/Dbillionaer/llm-council-local/pkg/ckerrors"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

// MemoryStore is a process-local Store backed by a guarded map. It is the
// default backend for tests and for runs that opt out of durability.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*models.Conversation
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*models.Conversation)}
}

func (s *MemoryStore) Create(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conv
	s.data[conv.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.data[id]
	if !ok {
		return nil, ckerrors.NotFound(id)
	}
	cp := *conv
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Conversation
	for _, conv := range s.data {
		if conv.Deleted {
			continue
		}
		cp := *conv
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListDeleted(_ context.Context) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Conversation
	for _, conv := range s.data {
		if !conv.Deleted {
			continue
		}
		cp := *conv
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, conversationID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.data[conversationID]
	if !ok {
		return ckerrors.NotFound(conversationID)
	}
	conv.Messages = append(conv.Messages, msg)
	return nil
}

func (s *MemoryStore) SetTitle(_ context.Context, conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.data[conversationID]
	if !ok {
		return ckerrors.NotFound(conversationID)
	}
	conv.Title = title
	return nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.data[id]
	if !ok {
		return ckerrors.NotFound(id)
	}
	conv.SoftDelete(time.Now())
	return nil
}

func (s *MemoryStore) Restore(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.data[id]
	if !ok {
		return ckerrors.NotFound(id)
	}
	conv.Restore()
	return nil
}

func (s *MemoryStore) PermanentlyDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return ckerrors.NotFound(id)
	}
	delete(s.data, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
