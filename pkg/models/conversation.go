package models

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// LegacyGenericTitle is the literal title the source system sometimes
// stamped on new conversations before the current placeholder form existed.
// It is still treated as "needs a generated title".
const LegacyGenericTitle = "New Conversation"

var placeholderTitlePattern = regexp.MustCompile(`^Conversation [0-9a-f]{8}$`)

// Conversation is the top-level persisted entity: an ordered sequence of
// Messages plus soft-delete bookkeeping.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Messages  []Message  `json:"messages"`
}

// NewConversation builds a Conversation with a fresh id and the placeholder
// title form "Conversation <first 8 chars of id>".
func NewConversation() Conversation {
	id := uuid.New().String()
	return Conversation{
		ID:        id,
		Title:     PlaceholderTitle(id),
		CreatedAt: time.Now(),
		Messages:  make([]Message, 0),
	}
}

// PlaceholderTitle renders the canonical placeholder title for a given
// conversation id. The id's first 8 hex characters are used verbatim (uuid
// v4 ids already start with lowercase hex).
func PlaceholderTitle(id string) string {
	prefix := id
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("Conversation %s", prefix)
}

// IsGenericTitle reports whether title is a placeholder that still needs a
// generated replacement: either the canonical "Conversation <8 hex>" form
// or the legacy literal.
func IsGenericTitle(title string) bool {
	if title == LegacyGenericTitle {
		return true
	}
	return placeholderTitlePattern.MatchString(title)
}

// SoftDelete marks the conversation deleted, setting DeletedAt if it is not
// already set. Calling it twice is a no-op after the first call (P8).
func (c *Conversation) SoftDelete(at time.Time) {
	if c.Deleted {
		return
	}
	c.Deleted = true
	c.DeletedAt = &at
}

// Restore clears the soft-delete flags, returning the conversation to
// exactly its prior visible state (P8).
func (c *Conversation) Restore() {
	c.Deleted = false
	c.DeletedAt = nil
}

// FirstUserMessage returns the content of the first user message, if any.
func (c *Conversation) FirstUserMessage() (string, bool) {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return m.Content, true
		}
	}
	return "", false
}
