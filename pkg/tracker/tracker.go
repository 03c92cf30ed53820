// Package tracker accumulates timing and token counts for a single model
// call as chunks arrive, and derives the tokens-per-second figure shown
// alongside each response. Token counts are a whitespace-word-count proxy,
// not a real tokenizer, kept deliberately simple and identical to what a
// client-side badge would compute from the same stream.
package tracker

import (
	"strings"
	"time"

	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

// Tracker accumulates one call's Timing incrementally.
type Tracker struct {
	timing         models.Timing
	pendingContent string
}

// New starts a tracker with StartedAt set to now.
func New(now time.Time) *Tracker {
	return &Tracker{timing: models.Timing{StartedAt: now}}
}

// ObserveThinking records that a thinking token arrived at now.
func (t *Tracker) ObserveThinking(now time.Time) {
	if t.timing.FirstTokenAt.IsZero() {
		t.timing.FirstTokenAt = now
	}
}

// ObserveContent records a content delta arriving at now and updates the
// running word-count proxy.
func (t *Tracker) ObserveContent(now time.Time, text string) {
	if t.timing.FirstTokenAt.IsZero() {
		t.timing.FirstTokenAt = now
	}
	if t.timing.FirstContentAt.IsZero() {
		t.timing.FirstContentAt = now
	}
	t.pendingContent += text
	t.timing.ContentTokenCount = wordCount(t.pendingContent)
}

// Finish marks the call complete at now and returns the final Timing.
func (t *Tracker) Finish(now time.Time) models.Timing {
	t.timing.EndedAt = now
	return t.timing
}

// Timing returns the current accumulated snapshot.
func (t *Tracker) Timing() models.Timing {
	return t.timing
}

// wordCount is the whitespace-split proxy used throughout: fields of a
// string split on runs of whitespace, matching what a naive client badge
// would compute without a real tokenizer.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

// WordCount exposes the whitespace-word-count proxy so callers outside
// this package can size a response body the same way a Tracker does,
// without duplicating the definition.
func WordCount(s string) int {
	return wordCount(s)
}
