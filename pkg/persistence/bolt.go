package persistence

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/Dbillionaer/llm-council-local/pkg/ckerrors"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
	bolt "go.etcd.io/bbolt"
)

var conversationsBucket = []byte("conversations")

// BoltStore is a durable Store backed by a single bbolt file, one key
// per conversation id holding its JSON encoding. This mirrors a
// file-per-conversation key-value layout with a single bucket standing in
// for the directory.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, ckerrors.Wrap(ckerrors.KindConfigInvalid, path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, ckerrors.Wrap(ckerrors.KindConfigInvalid, path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) get(tx *bolt.Tx, id string) (*models.Conversation, error) {
	raw := tx.Bucket(conversationsBucket).Get([]byte(id))
	if raw == nil {
		return nil, ckerrors.NotFound(id)
	}
	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, ckerrors.Wrap(ckerrors.KindProtocolError, id, err)
	}
	return &conv, nil
}

func (s *BoltStore) put(tx *bolt.Tx, conv *models.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return ckerrors.Wrap(ckerrors.KindProtocolError, conv.ID, err)
	}
	return tx.Bucket(conversationsBucket).Put([]byte(conv.ID), raw)
}

func (s *BoltStore) Create(_ context.Context, conv *models.Conversation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.put(tx, conv)
	})
}

func (s *BoltStore) Get(_ context.Context, id string) (*models.Conversation, error) {
	var conv *models.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		c, err := s.get(tx, id)
		conv = c
		return err
	})
	return conv, err
}

func (s *BoltStore) list(deleted bool) ([]*models.Conversation, error) {
	var out []*models.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(k, v []byte) error {
			var conv models.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return ckerrors.Wrap(ckerrors.KindProtocolError, string(k), err)
			}
			if conv.Deleted == deleted {
				out = append(out, &conv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *BoltStore) List(_ context.Context) ([]*models.Conversation, error) {
	return s.list(false)
}

func (s *BoltStore) ListDeleted(_ context.Context) ([]*models.Conversation, error) {
	return s.list(true)
}

func (s *BoltStore) AppendMessage(_ context.Context, conversationID string, msg models.Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		conv, err := s.get(tx, conversationID)
		if err != nil {
			return err
		}
		conv.Messages = append(conv.Messages, msg)
		return s.put(tx, conv)
	})
}

func (s *BoltStore) SetTitle(_ context.Context, conversationID, title string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		conv, err := s.get(tx, conversationID)
		if err != nil {
			return err
		}
		conv.Title = title
		return s.put(tx, conv)
	})
}

func (s *BoltStore) SoftDelete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		conv, err := s.get(tx, id)
		if err != nil {
			return err
		}
		conv.SoftDelete(time.Now())
		return s.put(tx, conv)
	})
}

func (s *BoltStore) Restore(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		conv, err := s.get(tx, id)
		if err != nil {
			return err
		}
		conv.Restore()
		return s.put(tx, conv)
	})
}

func (s *BoltStore) PermanentlyDelete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		if b.Get([]byte(id)) == nil {
			return ckerrors.NotFound(id)
		}
		return b.Delete([]byte(id))
	})
}
