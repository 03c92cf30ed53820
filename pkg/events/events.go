// Package events defines the envelope streamed to a deliberation's caller
// and the bounded, single-consumer channel that carries it. Every stage
// of the council pipeline emits through the same tagged envelope type so
// the HTTP handler has one place to serialize from.
package events

import "time"

// Type tags the variant carried by an Event.
type Type string

const (
	TypeStage1Started   Type = "stage1_start"
	TypeDraftStarted    Type = "draft_started"
	TypeDraftDelta      Type = "draft_delta"
	TypeDraftDone       Type = "draft_done"
	TypeStage1Complete  Type = "stage1_complete"
	TypeRoundStarted    Type = "round_started"
	TypeRankingDelta    Type = "ranking_delta"
	TypeRankingDone     Type = "ranking_done"
	TypeAggregateReady  Type = "aggregate_ready"
	TypeRefinementFired Type = "refinement_fired"
	TypeRoundComplete   Type = "stage2_round_complete"
	TypeStage2Complete  Type = "stage2_complete"
	TypeStage3Started   Type = "stage3_start"
	TypeSynthesisDelta  Type = "synthesis_delta"
	TypeSynthesisDone   Type = "synthesis_done"
	TypeStage3Complete  Type = "stage3_complete"
	TypeWarning         Type = "warning"
	TypeError           Type = "error"
	TypeDone            Type = "done"
)

// Event is the single envelope type emitted for a deliberation request.
// Fields are optional depending on Type; callers switch on Type before
// reading the payload fields.
type Event struct {
	Type      Type      `json:"type"`
	RequestID string    `json:"request_id"`
	Model     string    `json:"model,omitempty"`
	Round     int       `json:"round,omitempty"`
	Text      string    `json:"text,omitempty"`
	Thinking  bool      `json:"thinking,omitempty"`
	Warning   string    `json:"warning,omitempty"`
	Error     string    `json:"error,omitempty"`
	Continued bool      `json:"continued,omitempty"`
	At        time.Time `json:"at"`
}

// bufferSize bounds the per-request event channel. A slow consumer stalls
// producers rather than growing memory without limit; the HTTP handler is
// expected to drain the channel as fast as it can flush to the client.
const bufferSize = 256

// Bus is a single-request, single-consumer event channel. Producers call
// Emit from any goroutine; the HTTP handler ranges over Events until the
// bus is closed.
type Bus struct {
	ch chan Event
}

// NewBus allocates a bounded event bus for one deliberation request.
func NewBus() *Bus {
	return &Bus{ch: make(chan Event, bufferSize)}
}

// Emit sends ev, blocking if the buffer is full. It is safe to call from
// multiple goroutines; ordering across goroutines is send order, not
// program order, so callers that need strict ordering must serialize
// their own emissions (the Stage Runner emits each model's events from
// that model's single goroutine).
func (b *Bus) Emit(ev Event) {
	b.ch <- ev
}

// Events returns the receive-only channel for consumption.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close closes the bus. Callers must ensure no further Emit calls occur
// after Close, typically by closing only after all producer goroutines
// have joined via a sync.WaitGroup.
func (b *Bus) Close() {
	close(b.ch)
}
