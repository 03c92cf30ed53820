package title

import (
	"sync"

	"github.com/Dbillionaer/llm-council-local/pkg/ckerrors"
	"github.com/Dbillionaer/llm-council-local/pkg/logging"
)

// Status tags the lifecycle stage of a title job, pushed to subscribers
// as it progresses from queued to a terminal state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusThinking   Status = "thinking"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Update is one title job's progress, pushed to subscribers. Title is
// only populated once Status is StatusComplete.
type Update struct {
	ConversationID string `json:"conversation_id"`
	Status         Status `json:"status"`
	Title          string `json:"data,omitempty"`
}

// subscriberBuffer bounds how far a subscriber can lag before being
// dropped. Titles are not replayed, so a dropped subscriber simply misses
// updates until it resubscribes.
const subscriberBuffer = 32

// Broker is a best-effort fan-out of title updates. It never blocks a
// publisher: a subscriber whose channel is full is dropped rather than
// slowing everyone else down.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Update]struct{}
}

// NewBroker builds an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Update]struct{})}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function the caller must invoke when done.
func (b *Broker) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish fans u out to every current subscriber. A subscriber whose
// buffer is full is closed and dropped (SubscriberLagged) rather than
// blocking the publisher or silently losing updates it will never catch
// up on.
func (b *Broker) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- u:
		default:
			delete(b.subs, ch)
			close(ch)
			logging.Warn("title subscriber lagged past %d buffered updates: %s", subscriberBuffer, ckerrors.KindSubscriberLagged)
		}
	}
}
