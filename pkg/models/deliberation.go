package models

import "time"

// Timing captures the derived quantities the Token Tracker (C2) reports for
// a single model call.
type Timing struct {
	StartedAt         time.Time `json:"started_at"`
	FirstTokenAt      time.Time `json:"first_token_at,omitempty"`
	FirstContentAt    time.Time `json:"first_content_at,omitempty"`
	EndedAt           time.Time `json:"ended_at,omitempty"`
	ContentTokenCount int       `json:"content_token_count"`
}

// ThinkingSeconds is the time spent before the first content token arrived.
func (t Timing) ThinkingSeconds() float64 {
	if t.FirstContentAt.IsZero() || t.StartedAt.IsZero() {
		return 0
	}
	return t.FirstContentAt.Sub(t.StartedAt).Seconds()
}

// ElapsedSeconds is the total wall-clock time of the call.
func (t Timing) ElapsedSeconds() float64 {
	if t.EndedAt.IsZero() || t.StartedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt).Seconds()
}

// TokensPerSecond is content tokens divided by generation time, using
// the same whitespace-word-count proxy as the running UI badge so the
// two numbers never disagree.
func (t Timing) TokensPerSecond() float64 {
	const epsilon = 0.001
	denom := t.EndedAt.Sub(t.FirstContentAt).Seconds()
	if denom < epsilon {
		denom = epsilon
	}
	return float64(t.ContentTokenCount) / denom
}

// Draft is one council model's Stage-1 response.
type Draft struct {
	Model    string `json:"model"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
	Timing   Timing `json:"timing"`
	Error    string `json:"error,omitempty"`
	ErrKind  string `json:"err_kind,omitempty"`
}

// RankedLabel is one (label, score) pair parsed out of a ranking response.
// De-anonymization fills in Model with the real model id and keeps Label.
type RankedLabel struct {
	Label string   `json:"label"`
	Model string   `json:"model"`
	Score *float64 `json:"score,omitempty"`
}

// Ranking is one ranker model's Stage-2 output for a single round.
type Ranking struct {
	Model    string        `json:"model"`
	Raw      string        `json:"raw"`
	Ordered  []RankedLabel `json:"ordered"`
	Warnings []string      `json:"warnings,omitempty"`
	Timing   Timing        `json:"timing"`
	Error    string        `json:"error,omitempty"`
	ErrKind  string        `json:"err_kind,omitempty"`
}

// AggregateEntry is one model's position in the merged Stage-2 ranking
// merged across rankers for one round.
type AggregateEntry struct {
	Model         string   `json:"model"`
	MeanPosition  float64  `json:"mean_position"`
	MeanQuality   *float64 `json:"mean_quality,omitempty"`
	RankingsCount int      `json:"rankings_count"`
}

// Round is the full record of one Stage-2 round: rankings, the aggregate
// computed from them, and whether a refinement sub-round was triggered.
type Round struct {
	Number          int              `json:"number"`
	Rankings        []Ranking        `json:"rankings"`
	Aggregate       []AggregateEntry `json:"aggregate"`
	RefinementFired bool             `json:"refinement_fired"`
	Refined         []Draft          `json:"refined,omitempty"`
}

// Synthesis is the chairman's Stage-3 output.
type Synthesis struct {
	Model    string `json:"model"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
	Timing   Timing `json:"timing"`
	Error    string `json:"error,omitempty"`
	ErrKind  string `json:"err_kind,omitempty"`
}

// DeliberationRecord is the full trace of one council request, embedded on
// the assistant Message it produced.
type DeliberationRecord struct {
	RequestID string    `json:"request_id"`
	Drafts    []Draft   `json:"drafts"`
	Rounds    []Round   `json:"rounds"`
	Synthesis Synthesis `json:"synthesis"`
	Cancelled bool      `json:"cancelled"`
}
