package council

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dbillionaer/llm-council-local/pkg/ckerrors"
	"github.com/Dbillionaer/llm-council-local/pkg/events"
	"github.com/Dbillionaer/llm-council-local/pkg/llmclient"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

// scriptedClient returns a fixed response body per model id, streamed as
// a single content chunk followed by Done. Draft, ranking, and refinement
// calls all land on the same ModelID, so rankingResponses/refinementResponses
// let a test give a model a different canned body depending on which
// prompt shape it was sent, detected from the fixed marker text each
// prompt builder writes.
type scriptedClient struct {
	responses           map[string]string
	rankingResponses    map[string]string
	refinementResponses map[string]string
	failWith            map[string]error

	mu                   sync.Mutex
	lastMessages         map[string]string // last message content sent per model id
	lastRefinementPrompt map[string]string // last refinement-shaped prompt sent per model id
}

func (s *scriptedClient) StreamChat(ctx context.Context, endpoint models.ModelEndpoint, messages []llmclient.ChatMessage) (<-chan llmclient.Chunk, error) {
	if len(messages) > 0 {
		s.mu.Lock()
		if s.lastMessages == nil {
			s.lastMessages = make(map[string]string)
		}
		s.lastMessages[endpoint.ModelID] = messages[len(messages)-1].Content
		s.mu.Unlock()
	}

	if err := s.failWith[endpoint.ModelID]; err != nil {
		return nil, err
	}

	text := s.responses[endpoint.ModelID]
	if len(messages) > 0 {
		last := messages[len(messages)-1].Content
		switch {
		case strings.Contains(last, "Rank the following anonymized responses"):
			if v, ok := s.rankingResponses[endpoint.ModelID]; ok {
				text = v
			}
		case strings.Contains(last, "You previously answered this question"):
			if v, ok := s.refinementResponses[endpoint.ModelID]; ok {
				text = v
			}
			s.mu.Lock()
			if s.lastRefinementPrompt == nil {
				s.lastRefinementPrompt = make(map[string]string)
			}
			s.lastRefinementPrompt[endpoint.ModelID] = last
			s.mu.Unlock()
		}
	}

	ch := make(chan llmclient.Chunk, 4)
	go func() {
		defer close(ch)
		ch <- llmclient.Chunk{Kind: llmclient.ChunkContent, Text: text}
		ch <- llmclient.Chunk{Kind: llmclient.ChunkDone}
	}()
	return ch, nil
}

func (s *scriptedClient) ListModels(ctx context.Context, endpoint models.ModelEndpoint) ([]string, error) {
	return nil, nil
}

func (s *scriptedClient) lastMessageFor(modelID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessages[modelID]
}

func (s *scriptedClient) lastRefinementPromptFor(modelID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefinementPrompt[modelID]
}

func drain(bus *events.Bus) {
	go func() {
		for range bus.Events() {
		}
	}()
}

func TestControllerRunHappyPath(t *testing.T) {
	client := &scriptedClient{
		responses: map[string]string{
			"alpha":    "alpha's answer",
			"beta":     "beta's answer",
			"chairman": "final synthesis",
		},
		rankingResponses: map[string]string{
			"alpha": "FINAL RANKING\n1. A (4/5)\n2. B (3/5)\n",
			"beta":  "FINAL RANKING\n1. A (4/5)\n2. B (3/5)\n",
		},
	}
	resolve := func(modelID string) models.ModelEndpoint { return models.ModelEndpoint{ModelID: modelID} }
	ctrl := NewController(client, resolve)

	bus := events.NewBus()
	drain(bus)

	cfg := models.DeliberationConfig{
		CouncilModels: []string{"alpha", "beta"},
		Chairman:      "chairman",
		Rounds:        1,
		MaxRounds:     1,
	}.WithDefaults()

	record, err := ctrl.Run(context.Background(), "req-1", []llmclient.ChatMessage{{Role: "user", Content: "hello"}}, cfg, bus)
	bus.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(record.Drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(record.Drafts))
	}
	if record.Synthesis.Content != "final synthesis" {
		t.Fatalf("unexpected synthesis: %+v", record.Synthesis)
	}
}

func TestControllerInsufficientCouncil(t *testing.T) {
	client := &scriptedClient{
		responses: map[string]string{"alpha": "ok"},
		failWith:  map[string]error{"beta": fmt.Errorf("beta unreachable")},
	}
	resolve := func(modelID string) models.ModelEndpoint { return models.ModelEndpoint{ModelID: modelID} }
	ctrl := NewController(client, resolve)

	bus := events.NewBus()
	drain(bus)

	cfg := models.DeliberationConfig{CouncilModels: []string{"alpha", "beta"}, Chairman: "alpha"}.WithDefaults()
	_, err := ctrl.Run(context.Background(), "req-2", []llmclient.ChatMessage{{Role: "user", Content: "hi"}}, cfg, bus)
	bus.Close()
	if err == nil {
		t.Fatal("expected insufficient council error")
	}
}

func TestControllerRespectsTimeout(t *testing.T) {
	client := &scriptedClient{responses: map[string]string{"alpha": "a", "beta": "b", "chairman": "c"}}
	resolve := func(modelID string) models.ModelEndpoint { return models.ModelEndpoint{ModelID: modelID} }
	ctrl := NewController(client, resolve)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	bus := events.NewBus()
	drain(bus)
	cfg := models.DeliberationConfig{CouncilModels: []string{"alpha", "beta"}, Chairman: "chairman"}.WithDefaults()
	_, _ = ctrl.Run(ctx, "req-3", []llmclient.ChatMessage{{Role: "user", Content: "hi"}}, cfg, bus)
	bus.Close()
}

// TestControllerPartialStage1FailureContinues is S3: one of three council
// models fails Stage 1 with a typed timeout error; the other two are
// enough to proceed, and the failure is recorded with its Kind intact.
func TestControllerPartialStage1FailureContinues(t *testing.T) {
	client := &scriptedClient{
		responses: map[string]string{
			"alpha":    "alpha's answer",
			"beta":     "beta's answer",
			"chairman": "final synthesis",
		},
		rankingResponses: map[string]string{
			"alpha": "FINAL RANKING\n1. A (4/5)\n2. B (3/5)\n",
			"beta":  "FINAL RANKING\n1. A (4/5)\n2. B (3/5)\n",
		},
		failWith: map[string]error{
			"gamma": ckerrors.New(ckerrors.KindTimeout, "gamma", "deadline exceeded"),
		},
	}
	resolve := func(modelID string) models.ModelEndpoint { return models.ModelEndpoint{ModelID: modelID} }
	ctrl := NewController(client, resolve)

	bus := events.NewBus()
	drain(bus)

	cfg := models.DeliberationConfig{
		CouncilModels: []string{"alpha", "beta", "gamma"},
		Chairman:      "chairman",
		Rounds:        1,
		MaxRounds:     1,
	}.WithDefaults()

	record, err := ctrl.Run(context.Background(), "req-4", []llmclient.ChatMessage{{Role: "user", Content: "hello"}}, cfg, bus)
	bus.Close()
	if err != nil {
		t.Fatalf("expected the council to proceed with 2 live models, got: %v", err)
	}
	if len(record.Drafts) != 3 {
		t.Fatalf("expected 3 recorded drafts (including the failed one), got %d", len(record.Drafts))
	}

	var failed *models.Draft
	live := 0
	for i := range record.Drafts {
		d := &record.Drafts[i]
		if d.Model == "gamma" {
			failed = d
			continue
		}
		if d.Error == "" {
			live++
		}
	}
	if failed == nil || failed.Error == "" {
		t.Fatalf("expected gamma's draft to be recorded with an error, got %+v", failed)
	}
	if failed.ErrKind != string(ckerrors.KindTimeout) {
		t.Fatalf("expected ErrKind %q, got %q", ckerrors.KindTimeout, failed.ErrKind)
	}
	if live != 2 {
		t.Fatalf("expected 2 live models, got %d", live)
	}
	if record.Synthesis.Content != "final synthesis" {
		t.Fatalf("expected synthesis to still complete, got %+v", record.Synthesis)
	}
}

// TestControllerRefinementFiresBeforeLastRoundOnly is S2 and the P7
// boundary together: with Rounds=2, both council models score below
// threshold at every round, so refinement should fire after round 1
// (round < Rounds) but must not fire at round 2, the last requested
// round, even though quality is still low there.
func TestControllerRefinementFiresBeforeLastRoundOnly(t *testing.T) {
	lowRanking := "FINAL RANKING\n1. A (2/5)\n2. B (2/5)\n"
	client := &scriptedClient{
		responses: map[string]string{
			"alpha":    "alpha's answer",
			"beta":     "beta's answer",
			"chairman": "final synthesis",
		},
		rankingResponses: map[string]string{
			"alpha": lowRanking,
			"beta":  lowRanking,
		},
		refinementResponses: map[string]string{
			"alpha": "alpha's revised answer",
			"beta":  "beta's revised answer",
		},
	}
	resolve := func(modelID string) models.ModelEndpoint { return models.ModelEndpoint{ModelID: modelID} }
	ctrl := NewController(client, resolve)

	bus := events.NewBus()
	drain(bus)

	cfg := models.DeliberationConfig{
		CouncilModels:     []string{"alpha", "beta"},
		Chairman:          "chairman",
		Rounds:            2,
		MaxRounds:         3,
		EnableCrossReview: true,
		QualityThreshold:  4.0,
	}.WithDefaults()

	record, err := ctrl.Run(context.Background(), "req-5", []llmclient.ChatMessage{{Role: "user", Content: "hello"}}, cfg, bus)
	bus.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(record.Rounds) != 2 {
		t.Fatalf("expected exactly 2 rounds, got %d", len(record.Rounds))
	}
	if !record.Rounds[0].RefinementFired {
		t.Fatal("expected refinement to fire after round 1 (round < Rounds)")
	}
	if len(record.Rounds[0].Refined) != 2 {
		t.Fatalf("expected both low-scoring models refined, got %d", len(record.Rounds[0].Refined))
	}
	if record.Rounds[1].RefinementFired {
		t.Fatal("refinement must not fire at the last requested round (P7)")
	}

	for _, modelID := range []string{"alpha", "beta"} {
		msg := client.lastRefinementPromptFor(modelID)
		if !strings.Contains(msg, "'s answer") {
			t.Errorf("expected refinement prompt for %s to include its own prior draft, got: %s", modelID, msg)
		}
		if !strings.Contains(msg, "ranked #") {
			t.Errorf("expected refinement prompt for %s to include peer feedback, got: %s", modelID, msg)
		}
	}
}

// TestControllerFatalWhenRankingsUnparseable is the P-round floor: a round
// where fewer than 2 rankers produce a parseable ordering cannot yield a
// trustworthy aggregate and must fail the request rather than silently
// proceeding to synthesis with an empty aggregate.
func TestControllerFatalWhenRankingsUnparseable(t *testing.T) {
	client := &scriptedClient{
		responses: map[string]string{
			"alpha":    "alpha's answer",
			"beta":     "beta's answer",
			"chairman": "final synthesis",
		},
		rankingResponses: map[string]string{
			"alpha": "I refuse to rank these responses.",
			"beta":  "I refuse to rank these responses.",
		},
	}
	resolve := func(modelID string) models.ModelEndpoint { return models.ModelEndpoint{ModelID: modelID} }
	ctrl := NewController(client, resolve)

	bus := events.NewBus()
	drain(bus)

	cfg := models.DeliberationConfig{
		CouncilModels: []string{"alpha", "beta"},
		Chairman:      "chairman",
		Rounds:        1,
		MaxRounds:     1,
	}.WithDefaults()

	record, err := ctrl.Run(context.Background(), "req-6", []llmclient.ChatMessage{{Role: "user", Content: "hello"}}, cfg, bus)
	bus.Close()
	if err == nil {
		t.Fatal("expected a fatal error when fewer than 2 rankers produce a parseable ranking")
	}
	if !ckerrors.Is(err, ckerrors.KindUnparseable) {
		t.Fatalf("expected KindUnparseable, got: %v", err)
	}
	if record.Synthesis.Content != "" {
		t.Fatalf("expected synthesis to be skipped on a fatal ranking round, got %+v", record.Synthesis)
	}
}
