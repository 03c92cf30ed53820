package council

import (
	"context"
	"fmt"
	"strings"

	"github.com/Dbillionaer/llm-council-local/pkg/events"
	"github.com/Dbillionaer/llm-council-local/pkg/llmclient"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
	"github.com/Dbillionaer/llm-council-local/pkg/tracker"
)

// runStage3 asks the chairman model to synthesize a single final answer
// from the surviving drafts and the last round's aggregate ranking.
func (c *Controller) runStage3(ctx context.Context, requestID string, history []llmclient.ChatMessage, drafts []models.Draft, rounds []models.Round, chairman string, bus *events.Bus) models.Synthesis {
	prompt := buildSynthesisPrompt(history, drafts, rounds)
	endpoint := c.Resolve(chairman)

	callCtx, cancel := llmclient.WithTimeout(ctx, c.chairmanDeadline())
	defer cancel()

	t := tracker.New(c.NowFunc())
	chunks, err := c.Client.StreamChat(callCtx, endpoint, []llmclient.ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return models.Synthesis{Model: chairman, Error: err.Error(), ErrKind: string(kindOf(err)), Timing: t.Finish(c.NowFunc())}
	}

	var content, thinking string
	var callErr error
	for chunk := range chunks {
		now := c.NowFunc()
		switch chunk.Kind {
		case llmclient.ChunkThinking:
			t.ObserveThinking(now)
			thinking += chunk.Text
			bus.Emit(events.Event{Type: events.TypeSynthesisDelta, RequestID: requestID, Model: chairman, Text: chunk.Text, Thinking: true, At: now})
		case llmclient.ChunkContent:
			t.ObserveContent(now, chunk.Text)
			content += chunk.Text
			bus.Emit(events.Event{Type: events.TypeSynthesisDelta, RequestID: requestID, Model: chairman, Text: chunk.Text, At: now})
		case llmclient.ChunkError:
			callErr = chunk.Err
		}
	}

	s := models.Synthesis{Model: chairman, Content: content, Thinking: thinking, Timing: t.Finish(c.NowFunc())}
	if callErr != nil {
		s.Error = callErr.Error()
		s.ErrKind = string(kindOf(callErr))
	}
	bus.Emit(events.Event{Type: events.TypeSynthesisDone, RequestID: requestID, Model: chairman, At: c.NowFunc()})
	return s
}

func buildSynthesisPrompt(history []llmclient.ChatMessage, drafts []models.Draft, rounds []models.Round) string {
	var b strings.Builder
	b.WriteString("You are chairing a council of models that each answered the same question. ")
	b.WriteString("Synthesize the single best final answer, drawing on their strongest points.\n\n")
	if len(history) > 0 {
		fmt.Fprintf(&b, "Original question:\n%s\n\n", history[len(history)-1].Content)
	}
	for _, d := range drafts {
		if d.Error != "" {
			continue
		}
		fmt.Fprintf(&b, "Council member %s answered:\n%s\n\n", d.Model, d.Content)
	}
	if len(rounds) > 0 {
		last := rounds[len(rounds)-1]
		b.WriteString("Peer ranking (best first):\n")
		for i, e := range last.Aggregate {
			fmt.Fprintf(&b, "%d. %s\n", i+1, e.Model)
		}
	}
	return b.String()
}
