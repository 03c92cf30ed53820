package anon

import (
	"testing"

	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

func TestMappingIsDeterministicPerSeed(t *testing.T) {
	modelIDs := []string{"alpha", "beta", "gamma"}
	m1 := New(42, modelIDs)
	m2 := New(42, modelIDs)
	for _, model := range modelIDs {
		if m1.Label(model) != m2.Label(model) {
			t.Fatalf("expected same seed to produce same label for %s: %s vs %s", model, m1.Label(model), m2.Label(model))
		}
	}
}

func TestMappingRoundTrips(t *testing.T) {
	m := New(7, []string{"alpha", "beta", "gamma"})
	for _, model := range []string{"alpha", "beta", "gamma"} {
		label := m.Label(model)
		if got := m.Model(label); got != model {
			t.Fatalf("round trip failed: %s -> %s -> %s", model, label, got)
		}
	}
}

func TestViewForExcludesSelf(t *testing.T) {
	m := New(1, []string{"alpha", "beta", "gamma"})
	drafts := []models.Draft{
		{Model: "alpha", Content: "a"},
		{Model: "beta", Content: "b"},
		{Model: "gamma", Content: "c"},
	}
	view := m.ViewFor("beta", drafts)
	if len(view) != 2 {
		t.Fatalf("expected 2 drafts in view, got %d", len(view))
	}
	for _, ld := range view {
		if ld.Draft.Model == "beta" {
			t.Fatalf("self-exclusion failed: beta saw its own draft")
		}
	}
}

func TestDeAnonymizeUnknownLabel(t *testing.T) {
	m := New(1, []string{"alpha"})
	if got := m.DeAnonymize("Z"); got != "" {
		t.Fatalf("expected empty string for unknown label, got %q", got)
	}
}
