// Package anon assigns anonymous labels (A, B, C...) to council drafts
// before they are shown to rankers, using a per-request deterministic
// shuffle so the mapping cannot be guessed from label order across
// requests, and builds the self-excluded view each ranker receives.
package anon

import (
	"math/rand"
	"sort"

	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

// Labels are assigned in this fixed alphabet order after shuffling.
var alphabet = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ")

// Mapping is a request-scoped bijection between model ids and labels.
type Mapping struct {
	labelToModel map[string]string
	modelToLabel map[string]string
	order        []string // model ids in label order (A, B, C, ...)
}

// New builds a deterministic shuffle of modelIDs seeded from requestSeed,
// so the same request reproduces the same mapping (useful for retries and
// tests) while different requests get different label orders.
func New(requestSeed int64, modelIDs []string) *Mapping {
	shuffled := make([]string, len(modelIDs))
	copy(shuffled, modelIDs)
	sort.Strings(shuffled) // stable starting order before the seeded shuffle

	r := rand.New(rand.NewSource(requestSeed))
	r.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	m := &Mapping{
		labelToModel: make(map[string]string, len(shuffled)),
		modelToLabel: make(map[string]string, len(shuffled)),
		order:        shuffled,
	}
	for i, model := range shuffled {
		label := string(alphabet[i%len(alphabet)])
		m.labelToModel[label] = model
		m.modelToLabel[model] = label
	}
	return m
}

// Label returns the anonymous label for a model id.
func (m *Mapping) Label(modelID string) string { return m.modelToLabel[modelID] }

// Model returns the model id behind a label, or "" if unknown.
func (m *Mapping) Model(label string) string { return m.labelToModel[label] }

// LabeledDraft pairs a draft with its anonymous label for presentation.
type LabeledDraft struct {
	Label string
	Draft models.Draft
}

// ViewFor builds the anonymized, self-excluded list of drafts a given
// ranker model should see: every draft except the one authored by
// rankerModel, in label order.
func (m *Mapping) ViewFor(rankerModel string, drafts []models.Draft) []LabeledDraft {
	byModel := make(map[string]models.Draft, len(drafts))
	for _, d := range drafts {
		byModel[d.Model] = d
	}
	view := make([]LabeledDraft, 0, len(drafts))
	for _, modelID := range m.order {
		if modelID == rankerModel {
			continue
		}
		d, ok := byModel[modelID]
		if !ok {
			continue
		}
		view = append(view, LabeledDraft{Label: m.modelToLabel[modelID], Draft: d})
	}
	return view
}

// DeAnonymize replaces a label with its real model id, returning "" if the
// label is not part of this mapping.
func (m *Mapping) DeAnonymize(label string) string {
	return m.labelToModel[label]
}
