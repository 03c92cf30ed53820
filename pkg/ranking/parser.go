// Package ranking extracts an ordered list of labels (and optional
// quality scores) from a ranker model's free-form response, and merges
// per-ranker rankings into a single aggregate ordering. No NLP or parser
// library is used: the format rankers are prompted to produce is narrow
// enough that a couple of regular expressions cover it, matching the way
// the rest of this codebase reaches for regexp rather than a dependency
// whenever the grammar is this small.
package ranking

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

// finalMarker looks for a "FINAL RANKING" heading, after which the parser
// prefers lines to any ranking-like text earlier in the response (models
// often reason out loud before committing to an answer).
var finalMarker = regexp.MustCompile(`(?i)final\s+ranking`)

// rankLine matches "1. Response B" / "2) B" / "Response C" style lines,
// capturing the single uppercase letter label. The ordinal or "Response"
// token is required, not optional: a bare leading capital ("I refuse to
// rank these responses.") must never be read as a label.
var rankLine = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]\s*(?:Response\s+)?|Response\s+)([A-Z])\b`)

// scoreSuffix matches a trailing "(4/5)" or "4/5" quality score on the
// same line as a label.
var scoreSuffix = regexp.MustCompile(`\(?(\d(?:\.\d)?)\s*/\s*5\)?`)

// Parse extracts an ordered, de-duplicated label list (with optional
// scores) from a ranker's raw response text. It never returns an error:
// a response that yields no labels comes back as an empty Ordered slice
// with a warning. The Stage-2 round counts such a ranker as an abstention
// and fails only when fewer than two rankers produced a parseable ordering.
func Parse(raw string) (ordered []models.RankedLabel, warnings []string) {
	text := raw
	if loc := finalMarker.FindStringIndex(text); loc != nil {
		text = text[loc[1]:]
	}

	seen := make(map[string]bool)
	matches := rankLine.FindAllStringSubmatchIndex(text, -1)
	for _, m := range matches {
		label := text[m[2]:m[3]]
		if seen[label] {
			continue
		}
		seen[label] = true

		lineEnd := strings.IndexByte(text[m[1]:], '\n')
		var line string
		if lineEnd < 0 {
			line = text[m[1]:]
		} else {
			line = text[m[1] : m[1]+lineEnd]
		}

		entry := models.RankedLabel{Label: label}
		if sm := scoreSuffix.FindStringSubmatch(line); sm != nil {
			if v, err := strconv.ParseFloat(sm[1], 64); err == nil {
				entry.Score = &v
			}
		}
		ordered = append(ordered, entry)
	}

	if len(ordered) == 0 {
		warnings = append(warnings, "no ranking labels could be extracted from the response")
	}
	return ordered, warnings
}

// Aggregate merges per-ranker Rankings (already de-anonymized: Model set;
// Label is ignored) into a single ordering by mean rank position, breaking
// ties by mean quality score (higher is better) and finally by model id.
func Aggregate(rankings []models.Ranking) []models.AggregateEntry {
	type acc struct {
		positions []float64
		scores    []float64
	}
	byModel := make(map[string]*acc)

	for _, r := range rankings {
		for pos, rl := range r.Ordered {
			if rl.Model == "" {
				continue
			}
			a, ok := byModel[rl.Model]
			if !ok {
				a = &acc{}
				byModel[rl.Model] = a
			}
			a.positions = append(a.positions, float64(pos+1))
			if rl.Score != nil {
				a.scores = append(a.scores, *rl.Score)
			}
		}
	}

	entries := make([]models.AggregateEntry, 0, len(byModel))
	for model, a := range byModel {
		entry := models.AggregateEntry{
			Model:         model,
			MeanPosition:  mean(a.positions),
			RankingsCount: len(a.positions),
		}
		if len(a.scores) > 0 {
			q := mean(a.scores)
			entry.MeanQuality = &q
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].MeanPosition != entries[j].MeanPosition {
			return entries[i].MeanPosition < entries[j].MeanPosition
		}
		qi, qj := qualityOrZero(entries[i]), qualityOrZero(entries[j])
		if qi != qj {
			return qi > qj
		}
		return entries[i].Model < entries[j].Model
	})
	return entries
}

func qualityOrZero(e models.AggregateEntry) float64 {
	if e.MeanQuality == nil {
		return 0
	}
	return *e.MeanQuality
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
