// Package council runs the three-stage deliberation pipeline: parallel
// draft generation, anonymized peer ranking (with optional refinement
// sub-rounds), and chairman synthesis. Each stage is a join barrier built
// from a sync.WaitGroup over one goroutine per model.
package council

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dbillionaer/llm-council-local/pkg/anon"
	"github.com/Dbillionaer/llm-council-local/pkg/ckerrors"
	"github.com/Dbillionaer/llm-council-local/pkg/events"
	"github.com/Dbillionaer/llm-council-local/pkg/llmclient"
	"github.com/Dbillionaer/llm-council-local/pkg/logging"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
	"github.com/Dbillionaer/llm-council-local/pkg/tracker"
)

// EndpointResolver resolves a model id to a connection endpoint.
type EndpointResolver func(modelID string) models.ModelEndpoint

// Controller runs deliberation requests against a client and endpoint
// resolver shared across requests.
type Controller struct {
	Client   llmclient.Client
	Resolve  EndpointResolver
	NowFunc  func() time.Time
	SeedFunc func() int64

	// StageDeadline bounds a single Stage-1/Stage-2 model call (draft,
	// ranking, or refinement); ChairmanDeadline bounds the Stage-3
	// synthesis call, which reads every draft plus the ranking and so
	// runs longer than any individual council call.
	StageDeadline    time.Duration
	ChairmanDeadline time.Duration
}

// DefaultStageDeadline and DefaultChairmanDeadline are the per-call
// timeouts applied when a Controller doesn't override them.
const (
	DefaultStageDeadline    = 90 * time.Second
	DefaultChairmanDeadline = 180 * time.Second
)

// NewController builds a Controller with real wall-clock time and a
// request-counter based seed source.
func NewController(client llmclient.Client, resolve EndpointResolver) *Controller {
	var counter int64
	return &Controller{
		Client:  client,
		Resolve: resolve,
		NowFunc: time.Now,
		SeedFunc: func() int64 {
			counter++
			return counter ^ time.Now().UnixNano()
		},
		StageDeadline:    DefaultStageDeadline,
		ChairmanDeadline: DefaultChairmanDeadline,
	}
}

// Run executes the full pipeline for one user query and returns the
// completed record. It never returns a nil record: partial failures are
// recorded per-draft/per-ranking rather than aborting the request, per
// the insufficient-council policy below.
func (c *Controller) Run(ctx context.Context, requestID string, history []llmclient.ChatMessage, cfg models.DeliberationConfig, bus *events.Bus) (*models.DeliberationRecord, error) {
	record := &models.DeliberationRecord{RequestID: requestID}

	logging.Stage(requestID, "stage1", "drafting with %d council models", len(cfg.CouncilModels))
	bus.Emit(events.Event{Type: events.TypeStage1Started, RequestID: requestID, At: c.NowFunc()})
	drafts := c.runStage1(ctx, requestID, history, cfg.CouncilModels, bus)
	record.Drafts = drafts
	bus.Emit(events.Event{Type: events.TypeStage1Complete, RequestID: requestID, At: c.NowFunc()})

	live := livingModels(drafts)
	if len(live) < 2 {
		record.Cancelled = ctx.Err() != nil
		err := ckerrors.New(ckerrors.KindInsufficientCouncil, requestID, fmt.Sprintf("only %d of %d council models produced a draft", len(live), len(cfg.CouncilModels)))
		c.emitFatal(bus, requestID, err)
		return record, err
	}

	mapping := anon.New(c.SeedFunc(), live)

	round := 1
	for round <= cfg.Rounds {
		select {
		case <-ctx.Done():
			record.Cancelled = true
			err := ckerrors.New(ckerrors.KindCancelled, requestID, "context cancelled during stage 2")
			c.emitFatal(bus, requestID, err)
			return record, err
		default:
		}

		bus.Emit(events.Event{Type: events.TypeRoundStarted, RequestID: requestID, Round: round, At: c.NowFunc()})
		r, err := c.runRound(ctx, requestID, round, drafts, mapping, cfg, bus)
		if err != nil {
			record.Rounds = append(record.Rounds, r)
			c.emitFatal(bus, requestID, err)
			return record, err
		}

		refine := cfg.EnableCrossReview && round < cfg.Rounds && needsRefinement(r.Aggregate, cfg.QualityThreshold)
		r.RefinementFired = refine
		if refine {
			bus.Emit(events.Event{Type: events.TypeRefinementFired, RequestID: requestID, Round: round, At: c.NowFunc()})
			refined := c.runRefinement(ctx, requestID, round, drafts, r.Aggregate, r.Rankings, cfg.QualityThreshold, history, bus)
			r.Refined = refined
			drafts = mergeRefined(drafts, refined)
		}

		record.Rounds = append(record.Rounds, r)
		bus.Emit(events.Event{Type: events.TypeRoundComplete, RequestID: requestID, Round: round, Continued: refine, At: c.NowFunc()})
		round++
		if !refine {
			break
		}
	}
	record.Drafts = drafts
	logging.Stage(requestID, "stage2", "complete after %d round(s)", len(record.Rounds))
	bus.Emit(events.Event{Type: events.TypeStage2Complete, RequestID: requestID, At: c.NowFunc()})

	logging.Stage(requestID, "stage3", "synthesizing with chairman %s", cfg.Chairman)
	bus.Emit(events.Event{Type: events.TypeStage3Started, RequestID: requestID, At: c.NowFunc()})
	synthesis := c.runStage3(ctx, requestID, history, drafts, record.Rounds, cfg.Chairman, bus)
	record.Synthesis = synthesis
	bus.Emit(events.Event{Type: events.TypeStage3Complete, RequestID: requestID, At: c.NowFunc()})

	if synthesis.Error != "" {
		kind := ckerrors.Kind(synthesis.ErrKind)
		if kind == "" {
			kind = ckerrors.KindProtocolError
		}
		err := ckerrors.New(kind, requestID, "chairman synthesis failed: "+synthesis.Error)
		c.emitFatal(bus, requestID, err)
		return record, err
	}

	bus.Emit(events.Event{Type: events.TypeDone, RequestID: requestID, At: c.NowFunc()})
	return record, nil
}

// emitFatal pushes the single terminating error envelope for a request
// that cannot produce a DeliberationRecord. Callers still return record
// and err; the bus emission is what lets the HTTP handler distinguish a
// fatal stop from a clean TypeDone close.
func (c *Controller) emitFatal(bus *events.Bus, requestID string, err error) {
	bus.Emit(events.Event{Type: events.TypeError, RequestID: requestID, Error: err.Error(), At: c.NowFunc()})
}

func livingModels(drafts []models.Draft) []string {
	var out []string
	for _, d := range drafts {
		if d.Error == "" {
			out = append(out, d.Model)
		}
	}
	return out
}

func needsRefinement(agg []models.AggregateEntry, threshold float64) bool {
	if len(agg) == 0 {
		return false
	}
	worst := agg[len(agg)-1]
	if worst.MeanQuality == nil {
		return false
	}
	return *worst.MeanQuality < threshold
}

func mergeRefined(drafts []models.Draft, refined []models.Draft) []models.Draft {
	if len(refined) == 0 {
		return drafts
	}
	byModel := make(map[string]models.Draft, len(refined))
	for _, r := range refined {
		byModel[r.Model] = r
	}
	out := make([]models.Draft, len(drafts))
	for i, d := range drafts {
		if r, ok := byModel[d.Model]; ok {
			out[i] = r
		} else {
			out[i] = d
		}
	}
	return out
}

// runStage1 fans a query out to every council model concurrently and
// joins on a WaitGroup before the round can be scored.
func (c *Controller) runStage1(ctx context.Context, requestID string, history []llmclient.ChatMessage, councilModels []string, bus *events.Bus) []models.Draft {
	drafts := make([]models.Draft, len(councilModels))
	var wg sync.WaitGroup
	for i, modelID := range councilModels {
		wg.Add(1)
		go func(i int, modelID string) {
			defer wg.Done()
			drafts[i] = c.runOneCompletion(ctx, requestID, modelID, history, 0, bus)
		}(i, modelID)
	}
	wg.Wait()
	return drafts
}

// runOneCompletion streams a single completion, tracking timing and
// emitting draft-shaped events. round is 0 for stage 1 drafts and is
// carried through to distinguish refinement-round events.
func (c *Controller) runOneCompletion(ctx context.Context, requestID, modelID string, history []llmclient.ChatMessage, round int, bus *events.Bus) models.Draft {
	endpoint := c.Resolve(modelID)
	bus.Emit(events.Event{Type: events.TypeDraftStarted, RequestID: requestID, Model: modelID, Round: round, At: c.NowFunc()})

	callCtx, cancel := llmclient.WithTimeout(ctx, c.stageDeadline())
	defer cancel()

	t := tracker.New(c.NowFunc())
	chunks, err := c.Client.StreamChat(callCtx, endpoint, history)
	if err != nil {
		logging.Warn("model %s failed to start: %v", modelID, err)
		return models.Draft{Model: modelID, Error: err.Error(), ErrKind: string(kindOf(err)), Timing: t.Finish(c.NowFunc())}
	}

	var content, thinking string
	var callErr error
	for chunk := range chunks {
		now := c.NowFunc()
		switch chunk.Kind {
		case llmclient.ChunkThinking:
			t.ObserveThinking(now)
			thinking += chunk.Text
			bus.Emit(events.Event{Type: events.TypeDraftDelta, RequestID: requestID, Model: modelID, Round: round, Text: chunk.Text, Thinking: true, At: now})
		case llmclient.ChunkContent:
			t.ObserveContent(now, chunk.Text)
			content += chunk.Text
			bus.Emit(events.Event{Type: events.TypeDraftDelta, RequestID: requestID, Model: modelID, Round: round, Text: chunk.Text, At: now})
		case llmclient.ChunkError:
			callErr = chunk.Err
		case llmclient.ChunkDone:
		}
	}

	timing := t.Finish(c.NowFunc())
	draft := models.Draft{Model: modelID, Content: content, Thinking: thinking, Timing: timing}
	if callErr != nil {
		draft.Error = callErr.Error()
		draft.ErrKind = string(kindOf(callErr))
	}
	bus.Emit(events.Event{Type: events.TypeDraftDone, RequestID: requestID, Model: modelID, Round: round, At: c.NowFunc()})
	return draft
}

func (c *Controller) stageDeadline() time.Duration {
	if c.StageDeadline > 0 {
		return c.StageDeadline
	}
	return DefaultStageDeadline
}

func (c *Controller) chairmanDeadline() time.Duration {
	if c.ChairmanDeadline > 0 {
		return c.ChairmanDeadline
	}
	return DefaultChairmanDeadline
}

func kindOf(err error) ckerrors.Kind {
	if ce, ok := err.(*ckerrors.Error); ok {
		return ce.Kind
	}
	return ckerrors.KindProtocolError
}
