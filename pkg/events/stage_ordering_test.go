package events_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Dbillionaer/llm-council-local/pkg/council"
	"github.com/Dbillionaer/llm-council-local/pkg/events"
	"github.com/Dbillionaer/llm-council-local/pkg/llmclient"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

// fixedClient answers every draft call with a canned body and every
// ranking call (detected by the prompt marker the ranking stage writes)
// with a fixed, parseable ranking, so a full Run can be driven end to end
// without a real backend.
type fixedClient struct{}

func (fixedClient) StreamChat(ctx context.Context, endpoint models.ModelEndpoint, messages []llmclient.ChatMessage) (<-chan llmclient.Chunk, error) {
	text := "an answer"
	if len(messages) > 0 && strings.Contains(messages[len(messages)-1].Content, "Rank the following anonymized responses") {
		text = "FINAL RANKING\n1. A (4/5)\n2. B (4/5)\n"
	}
	ch := make(chan llmclient.Chunk, 4)
	go func() {
		defer close(ch)
		ch <- llmclient.Chunk{Kind: llmclient.ChunkContent, Text: text}
		ch <- llmclient.Chunk{Kind: llmclient.ChunkDone}
	}()
	return ch, nil
}

func (fixedClient) ListModels(ctx context.Context, endpoint models.ModelEndpoint) ([]string, error) {
	return nil, nil
}

func drainInto(bus *events.Bus, out *[]events.Event, done chan<- struct{}) {
	go func() {
		for ev := range bus.Events() {
			*out = append(*out, ev)
		}
		close(done)
	}()
}

// TestStageOrderingP1 is P1: for any request, the event stream contains
// stage1_start < stage1_complete < stage2_round_start(1) <= ... <=
// stage2_complete < stage3_start < stage3_complete.
func TestStageOrderingP1(t *testing.T) {
	resolve := func(modelID string) models.ModelEndpoint { return models.ModelEndpoint{ModelID: modelID} }
	ctrl := council.NewController(fixedClient{}, resolve)

	bus := events.NewBus()
	var got []events.Event
	done := make(chan struct{})
	drainInto(bus, &got, done)

	cfg := models.DeliberationConfig{
		CouncilModels: []string{"alpha", "beta"},
		Chairman:      "chairman",
		Rounds:        1,
		MaxRounds:     1,
	}.WithDefaults()

	_, err := ctrl.Run(context.Background(), "req-p1", []llmclient.ChatMessage{{Role: "user", Content: "hello"}}, cfg, bus)
	bus.Close()
	<-done
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	indexOf := func(want events.Type) int {
		for i, ev := range got {
			if ev.Type == want {
				return i
			}
		}
		t.Fatalf("expected event %s in stream", want)
		return -1
	}

	stage1Start := indexOf(events.TypeStage1Started)
	stage1Complete := indexOf(events.TypeStage1Complete)
	roundStart := indexOf(events.TypeRoundStarted)
	stage2Complete := indexOf(events.TypeStage2Complete)
	stage3Start := indexOf(events.TypeStage3Started)
	stage3Complete := indexOf(events.TypeStage3Complete)

	order := []int{stage1Start, stage1Complete, roundStart, stage2Complete, stage3Start, stage3Complete}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Fatalf("expected strict stage ordering, got indices %v for stream %+v", order, got)
		}
	}
}

// TestStageOrderingP11 is P11: after cancellation, no further tokens for
// the request appear in the event stream, and the stream terminates
// within a bounded time.
func TestStageOrderingP11(t *testing.T) {
	resolve := func(modelID string) models.ModelEndpoint { return models.ModelEndpoint{ModelID: modelID} }
	ctrl := council.NewController(fixedClient{}, resolve)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	bus := events.NewBus()
	var got []events.Event
	done := make(chan struct{})
	drainInto(bus, &got, done)

	cfg := models.DeliberationConfig{
		CouncilModels: []string{"alpha", "beta"},
		Chairman:      "chairman",
		Rounds:        1,
		MaxRounds:     1,
	}.WithDefaults()

	_, err := ctrl.Run(ctx, "req-p11", []llmclient.ChatMessage{{Role: "user", Content: "hi"}}, cfg, bus)
	bus.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not terminate within the bounded time")
	}

	if err == nil {
		t.Fatal("expected a cancellation error")
	}

	var sawError bool
	for i, ev := range got {
		if ev.Type == events.TypeError {
			sawError = true
			if i != len(got)-1 {
				t.Fatalf("expected no events after the terminal error, got %+v", got[i+1:])
			}
		}
	}
	if !sawError {
		t.Fatalf("expected a terminal error event in the stream, got %+v", got)
	}
}
