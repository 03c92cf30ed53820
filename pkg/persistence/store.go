// Package persistence defines the conversation store contract and two
// implementations: an in-memory map for tests and default runs, and a
// durable backend on top of a single bbolt file, one key per conversation
// id.
package persistence

import (
	"context"

	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

// Store is the conversation persistence contract. All methods are safe
// for concurrent use.
type Store interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	List(ctx context.Context) ([]*models.Conversation, error)
	ListDeleted(ctx context.Context) ([]*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg models.Message) error
	SetTitle(ctx context.Context, conversationID, title string) error
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	PermanentlyDelete(ctx context.Context, id string) error
	Close() error
}
