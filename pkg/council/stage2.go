package council

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Dbillionaer/llm-council-local/pkg/anon"
	"github.com/Dbillionaer/llm-council-local/pkg/ckerrors"
	"github.com/Dbillionaer/llm-council-local/pkg/events"
	"github.com/Dbillionaer/llm-council-local/pkg/llmclient"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
	"github.com/Dbillionaer/llm-council-local/pkg/ranking"
	"github.com/Dbillionaer/llm-council-local/pkg/tracker"
)

// minParseableRankings is the floor below which a Stage-2 round cannot
// produce a trustworthy aggregate: with fewer than 2 rankers agreeing on
// any ordering, the round is fatal rather than degraded.
const minParseableRankings = 2

// runRound runs one full Stage-2 round: every live model ranks every
// other model's draft, blind to authorship, and the per-ranker results
// are merged into a single aggregate ordering. It fails the round if
// fewer than minParseableRankings rankers produced a parseable ordering.
func (c *Controller) runRound(ctx context.Context, requestID string, roundNum int, drafts []models.Draft, mapping *anon.Mapping, cfg models.DeliberationConfig, bus *events.Bus) (models.Round, error) {
	live := livingModels(drafts)
	rankings := make([]models.Ranking, len(live))

	var wg sync.WaitGroup
	for i, rankerModel := range live {
		wg.Add(1)
		go func(i int, rankerModel string) {
			defer wg.Done()
			rankings[i] = c.runOneRanking(ctx, requestID, roundNum, rankerModel, drafts, mapping, bus)
		}(i, rankerModel)
	}
	wg.Wait()

	parseable := 0
	for _, r := range rankings {
		if r.Error == "" && len(r.Ordered) > 0 {
			parseable++
		}
	}
	if parseable < minParseableRankings {
		round := models.Round{Number: roundNum, Rankings: rankings}
		err := ckerrors.New(ckerrors.KindUnparseable, requestID, fmt.Sprintf("only %d of %d rankers produced a parseable ranking in round %d", parseable, len(rankings), roundNum))
		return round, err
	}

	agg := ranking.Aggregate(rankings)
	bus.Emit(events.Event{Type: events.TypeAggregateReady, RequestID: requestID, Round: roundNum, At: c.NowFunc()})

	return models.Round{Number: roundNum, Rankings: rankings, Aggregate: agg}, nil
}

func (c *Controller) runOneRanking(ctx context.Context, requestID string, roundNum int, rankerModel string, drafts []models.Draft, mapping *anon.Mapping, bus *events.Bus) models.Ranking {
	view := mapping.ViewFor(rankerModel, drafts)
	prompt := buildRankingPrompt(view)

	endpoint := c.Resolve(rankerModel)
	callCtx, cancel := llmclient.WithTimeout(ctx, c.stageDeadline())
	defer cancel()

	t := tracker.New(c.NowFunc())
	chunks, err := c.Client.StreamChat(callCtx, endpoint, []llmclient.ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return models.Ranking{Model: rankerModel, Error: err.Error(), ErrKind: string(kindOf(err)), Timing: t.Finish(c.NowFunc())}
	}

	var raw string
	var callErr error
	for chunk := range chunks {
		now := c.NowFunc()
		switch chunk.Kind {
		case llmclient.ChunkThinking:
			t.ObserveThinking(now)
		case llmclient.ChunkContent:
			t.ObserveContent(now, chunk.Text)
			raw += chunk.Text
			bus.Emit(events.Event{Type: events.TypeRankingDelta, RequestID: requestID, Model: rankerModel, Round: roundNum, Text: chunk.Text, At: now})
		case llmclient.ChunkError:
			callErr = chunk.Err
		}
	}

	r := models.Ranking{Model: rankerModel, Raw: raw, Timing: t.Finish(c.NowFunc())}
	if callErr != nil {
		r.Error = callErr.Error()
		r.ErrKind = string(kindOf(callErr))
		bus.Emit(events.Event{Type: events.TypeRankingDone, RequestID: requestID, Model: rankerModel, Round: roundNum, At: c.NowFunc()})
		return r
	}

	ordered, warnings := ranking.Parse(raw)
	for i := range ordered {
		ordered[i].Model = mapping.DeAnonymize(ordered[i].Label)
	}
	r.Ordered = ordered
	r.Warnings = warnings
	for _, w := range warnings {
		bus.Emit(events.Event{Type: events.TypeWarning, RequestID: requestID, Model: rankerModel, Round: roundNum, Warning: w, At: c.NowFunc()})
	}
	bus.Emit(events.Event{Type: events.TypeRankingDone, RequestID: requestID, Model: rankerModel, Round: roundNum, At: c.NowFunc()})
	return r
}

func buildRankingPrompt(view []anon.LabeledDraft) string {
	var b strings.Builder
	b.WriteString("Rank the following anonymized responses from best to worst. ")
	b.WriteString("Give each a quality score out of 5, then finish with a line reading FINAL RANKING followed by the ordered labels.\n\n")
	for _, ld := range view {
		fmt.Fprintf(&b, "Response %s:\n%s\n\n", ld.Label, ld.Draft.Content)
	}
	return b.String()
}

// runRefinement regenerates drafts for models whose mean quality fell
// below the round's threshold. Each refined model is sent its own prior
// draft plus the de-anonymized peer feedback directed at it, so the
// retry can address what rankers actually said rather than a generic
// prompt to "do better."
func (c *Controller) runRefinement(ctx context.Context, requestID string, roundNum int, drafts []models.Draft, agg []models.AggregateEntry, rankings []models.Ranking, threshold float64, history []llmclient.ChatMessage, bus *events.Bus) []models.Draft {
	toRefine := lowScoring(agg, threshold)
	if len(toRefine) == 0 {
		return nil
	}

	byModel := make(map[string]models.Draft, len(drafts))
	for _, d := range drafts {
		byModel[d.Model] = d
	}

	var originalQuestion string
	if len(history) > 0 {
		originalQuestion = history[len(history)-1].Content
	}

	refined := make([]models.Draft, len(toRefine))
	var wg sync.WaitGroup
	for i, modelID := range toRefine {
		wg.Add(1)
		go func(i int, modelID string) {
			defer wg.Done()
			prior := byModel[modelID]
			feedback := peerFeedback(modelID, rankings)
			refinePrompt := []llmclient.ChatMessage{{
				Role:    "user",
				Content: buildRefinementPrompt(originalQuestion, prior, feedback),
			}}
			refined[i] = c.runOneCompletion(ctx, requestID, modelID, refinePrompt, roundNum, bus)
		}(i, modelID)
	}
	wg.Wait()
	return refined
}

// buildRefinementPrompt gives a model back its own answer alongside what
// its peers said about it, so the revision responds to real feedback.
func buildRefinementPrompt(originalQuestion string, prior models.Draft, feedback string) string {
	var b strings.Builder
	if originalQuestion != "" {
		fmt.Fprintf(&b, "You previously answered this question:\n%s\n\n", originalQuestion)
	}
	fmt.Fprintf(&b, "Your previous answer:\n%s\n\n", prior.Content)
	b.WriteString("Peer review feedback on your answer:\n")
	b.WriteString(feedback)
	b.WriteString("\nRevise your answer to address this feedback and improve its quality.")
	return b.String()
}

// peerFeedback collects, across every ranker in the round, the position
// and score each ranking assigned to modelID's response. Rankings are
// already de-anonymized (Ordered[i].Model), so this reads directly off
// the round's Rankings without touching the anon.Mapping again.
func peerFeedback(modelID string, rankings []models.Ranking) string {
	var b strings.Builder
	found := false
	for _, r := range rankings {
		for pos, rl := range r.Ordered {
			if rl.Model != modelID {
				continue
			}
			found = true
			fmt.Fprintf(&b, "- ranked #%d of %d", pos+1, len(r.Ordered))
			if rl.Score != nil {
				fmt.Fprintf(&b, " (score %.1f/5)", *rl.Score)
			}
			b.WriteString("\n")
		}
	}
	if !found {
		b.WriteString("(no peer ranked your response this round)\n")
	}
	return b.String()
}

func lowScoring(agg []models.AggregateEntry, threshold float64) []string {
	if len(agg) == 0 {
		return nil
	}
	var out []string
	for _, e := range agg {
		if e.MeanQuality != nil && *e.MeanQuality < threshold {
			out = append(out, e.Model)
		}
	}
	return out
}
